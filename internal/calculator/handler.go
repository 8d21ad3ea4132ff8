package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eugenenazirov/canvas-calculator/internal/httpx"
)

const (
	defaultMaxRequestBytes = 10 << 20
	defaultMaxImageBytes   = 8 << 20

	imageSuggestion = `send the canvas as a data URL, e.g. canvas.toDataURL("image/png")`
)

// Handler serves the calculator routes. It is mounted by the root router
// under /calculate and sees paths with that prefix removed.
type Handler struct {
	service  *Service
	logger   *zap.Logger
	validate *validator.Validate

	maxRequestBytes int64
	maxImageBytes   int64
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithMaxRequestBytes caps the JSON body size.
func WithMaxRequestBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxRequestBytes = n
		}
	}
}

// WithMaxImageBytes caps the decoded image size.
func WithMaxImageBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxImageBytes = n
		}
	}
}

// NewHandler constructs a Handler backed by svc.
func NewHandler(svc *Service, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		service:         svc,
		logger:          logger,
		validate:        newValidator(),
		maxRequestBytes: defaultMaxRequestBytes,
		maxImageBytes:   defaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the calculator router.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /{$}", http.HandlerFunc(h.handleCalculate))
	return mux
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large",
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request", describeValidation(err))
		return
	}

	img, err := DecodeImage(req.Image, h.maxImageBytes)
	if err != nil {
		switch {
		case errors.Is(err, ErrImageTooLarge):
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "Image too large",
				fmt.Sprintf("decoded image exceeds %d bytes", h.maxImageBytes))
		default:
			httpx.WriteError(w, http.StatusBadRequest, "Invalid image", err.Error(), imageSuggestion)
		}
		return
	}

	start := time.Now()
	result, err := h.service.Calculate(r.Context(), img, req.DictOfVars)
	elapsed := time.Since(start)
	requestID := httpx.RequestIDFromContext(r.Context())

	if err != nil {
		h.logger.Warn("calculation failed",
			zap.String("request_id", requestID),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, context.Canceled):
			// client is gone; nothing useful to write
		case errors.Is(err, ErrAnalyzerUnavailable):
			httpx.WriteError(w, http.StatusServiceUnavailable, "Analyzer unavailable", err.Error(),
				"check that ANALYZER_URL points at a running analyzer service")
		case errors.Is(err, context.DeadlineExceeded):
			httpx.WriteError(w, http.StatusGatewayTimeout, "Analyzer timed out", "the analyzer did not answer in time")
		case errors.Is(err, ErrAnalysisFailed):
			httpx.WriteError(w, http.StatusBadGateway, "Analysis failed", err.Error())
		default:
			httpx.WriteInternalError(w, err)
		}
		return
	}

	h.logger.Info("image processed",
		zap.String("request_id", requestID),
		zap.Int("answers", len(result.Answers)),
		zap.Bool("cached", result.Cached),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Duration("duration", elapsed),
	)

	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	httpx.WriteJSON(w, http.StatusOK, Response{
		Message: "Image processed",
		Data:    result.Answers,
		Status:  "success",
	})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must have at most %s entries", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
