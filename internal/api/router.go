package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eugenenazirov/canvas-calculator/internal/httpx"
)

// CalculatorPrefix is where the calculator router is mounted.
const CalculatorPrefix = "/calculate"

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the default request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit installs a per-client token bucket limiter. A zero rate or burst disables limiting.
func WithRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if ratePerSecond <= 0 || burst <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newClientLimiter(ratePerSecond, burst)
	}
}

// WithAllowedOrigins sets the origins granted cross-origin access.
func WithAllowedOrigins(origins ...string) RouterOption {
	return func(cfg *routerConfig) {
		if len(origins) > 0 {
			cfg.allowedOrigins = origins
		}
	}
}

// WithMetrics controls whether GET /metrics is served.
func WithMetrics(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableMetrics = enabled
	}
}

// WithDebug logs CORS decisions at debug level.
func WithDebug(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.debug = enabled
	}
}

type routerConfig struct {
	enableLogging  bool
	enableMetrics  bool
	debug          bool
	allowedOrigins []string
	logger         *zap.Logger
	rateLimiter    rateLimiter
}

// NewRouter creates the root HTTP router: the health check on "/", the
// calculator router under CalculatorPrefix, and the standard middleware.
func NewRouter(calculatorRoutes http.Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		enableLogging:  true,
		allowedOrigins: []string{DefaultAllowedOrigin},
		logger:         logger,
		rateLimiter:    newClientLimiter(25, 50),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", http.HandlerFunc(handleHealth))

	calculator := mountPrefix(CalculatorPrefix, calculatorRoutes)
	mux.Handle(CalculatorPrefix, calculator)
	mux.Handle(CalculatorPrefix+"/", calculator)

	if cfg.enableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// CORS sits outside the limiter so 429s stay readable cross-origin and
	// preflights are answered without spending tokens.
	var root http.Handler = mux
	root = recoveryMiddleware(cfg.logger, root)
	root = metricsMiddleware(root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, root)
	}
	root = rateLimitMiddleware(cfg.rateLimiter, root)
	root = newCORS(cfg.allowedOrigins, cfg.logger, cfg.debug).Handler(root)
	root = requestIDMiddleware(root)

	return root
}

// mountPrefix hands requests to h with prefix removed from the path. Unlike
// http.StripPrefix the bare prefix maps to "/" instead of "".
func mountPrefix(prefix string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		if rest == "" {
			rest = "/"
		}
		rawRest := strings.TrimPrefix(r.URL.RawPath, prefix)
		if r.URL.RawPath != "" && rawRest == "" {
			rawRest = "/"
		}

		r2 := new(http.Request)
		*r2 = *r
		r2.URL = new(url.URL)
		*r2.URL = *r.URL
		r2.URL.Path = rest
		r2.URL.RawPath = rawRest
		h.ServeHTTP(w, r2)
	})
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		requestID := httpx.RequestIDFromContext(r.Context())
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.String("request_id", requestID),
		)
	})
}

func recoveryMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", httpx.RequestIDFromContext(r.Context())),
				)
				httpx.WriteError(w, http.StatusInternalServerError, "Internal error", "unexpected server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := httpx.ContextWithRequestID(r.Context(), requestID)

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	return uuid.NewString()
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
