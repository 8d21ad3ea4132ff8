package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/canvas-calculator/internal/analyzer"
	"github.com/eugenenazirov/canvas-calculator/internal/api"
	"github.com/eugenenazirov/canvas-calculator/internal/calculator"
	"github.com/eugenenazirov/canvas-calculator/internal/config"
	"github.com/eugenenazirov/canvas-calculator/internal/storage"
)

const redisDialTimeout = 5 * time.Second

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage  storage.Storage
	analyzer calculator.Analyzer
	service  *calculator.Service
	handler  *calculator.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
	hooks    []func(context.Context) error
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := newStorage(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize result storage: %w", err)
	}

	an, err := newAnalyzer(cfg.Analyzer, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	svc := calculator.NewService(an, store, logger.Named("calculator"),
		calculator.WithAnalyzeTimeout(cfg.Analyzer.Timeout),
	)
	handler := calculator.NewHandler(svc, logger.Named("calculator"),
		calculator.WithMaxRequestBytes(cfg.MaxRequestBytes),
		calculator.WithMaxImageBytes(cfg.MaxImageBytes),
	)
	router := api.NewRouter(handler.Routes(), logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithAllowedOrigins(cfg.AllowedOrigins...),
		api.WithMetrics(cfg.EnableMetrics),
		api.WithDebug(cfg.IsDev()),
	)

	app := &App{
		storage:  store,
		analyzer: an,
		service:  svc,
		handler:  handler,
		router:   router,
		logger:   logger,
		server:   NewServer(cfg, router),
	}
	app.OnShutdown(func(context.Context) error {
		return store.Close()
	})
	return app, nil
}

func newStorage(cfg config.CacheConfig, logger *zap.Logger) (storage.Storage, error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory result cache", zap.Int("size", cfg.Size), zap.Duration("ttl", cfg.TTL))
		return storage.NewMemoryStorage(cfg.Size, cfg.TTL), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	store, err := storage.NewRedisStorage(ctx, storage.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("using redis result cache", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	return store, nil
}

func newAnalyzer(cfg config.AnalyzerConfig, logger *zap.Logger) (calculator.Analyzer, error) {
	if cfg.URL == "" {
		logger.Warn("no analyzer configured; /calculate will answer 503")
		return analyzer.Unavailable{}, nil
	}
	remote, err := analyzer.NewRemote(analyzer.RemoteOptions{
		URL:        cfg.URL,
		APIKey:     cfg.APIKey,
		MaxRetries: cfg.MaxRetries,
	}, logger.Named("analyzer"))
	if err != nil {
		return nil, err
	}
	return remote, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Start binds the listen address and serves HTTP in a goroutine. Bind
// failures are returned to the caller.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}

	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	go func() {
		a.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr reports the bound address once Start has succeeded.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return a.server.Addr
	}
	return a.listener.Addr().String()
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// OnShutdown registers fn to run after the HTTP server drains. Hooks run in
// reverse registration order.
func (a *App) OnShutdown(fn func(context.Context) error) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.hooks = append(a.hooks, fn)
	a.mu.Unlock()
}

// Shutdown stops accepting connections, waits for in-flight requests and then
// runs the shutdown hooks. Every hook runs even if draining fails.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.runHooks(ctx))
}

// Close drops open connections immediately and runs the shutdown hooks.
func (a *App) Close() error {
	err := a.server.Close()
	return errors.Join(err, a.runHooks(context.Background()))
}

func (a *App) runHooks(ctx context.Context) error {
	a.mu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			a.logger.Warn("shutdown hook failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
