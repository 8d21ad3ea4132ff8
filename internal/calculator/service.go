package calculator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eugenenazirov/canvas-calculator/internal/metrics"
	"github.com/eugenenazirov/canvas-calculator/internal/storage"
)

const defaultAnalyzeTimeout = 30 * time.Second

// Result is the outcome of Service.Calculate.
type Result struct {
	Answers []Answer
	Cached  bool
}

// Service runs drawings through the analyzer, caching answers by content.
type Service struct {
	analyzer Analyzer
	store    storage.Storage
	logger   *zap.Logger
	timeout  time.Duration

	group singleflight.Group
}

// ServiceOption configures Service behaviour.
type ServiceOption func(*Service)

// WithAnalyzeTimeout bounds each analyzer invocation.
func WithAnalyzeTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService constructs a Service. A nil store disables caching.
func NewService(analyzer Analyzer, store storage.Storage, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		analyzer: analyzer,
		store:    store,
		logger:   logger,
		timeout:  defaultAnalyzeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculate returns the answers for img, evaluated against vars.
// Identical concurrent submissions share a single analyzer call.
func (s *Service) Calculate(ctx context.Context, img Image, vars map[string]any) (Result, error) {
	if s.analyzer == nil {
		return Result{}, ErrAnalyzerUnavailable
	}

	key, err := cacheKey(img, vars)
	if err != nil {
		return Result{}, err
	}

	if answers, ok := s.lookup(ctx, key); ok {
		return Result{Answers: answers, Cached: true}, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// Detached so one caller going away does not fail the others.
		analyzeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.analyze(analyzeCtx, key, img, vars)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		shared := res.Val.([]Answer)
		answers := make([]Answer, len(shared))
		copy(answers, shared)
		return Result{Answers: answers}, nil
	}
}

func (s *Service) analyze(ctx context.Context, key string, img Image, vars map[string]any) ([]Answer, error) {
	start := time.Now()
	answers, err := s.analyzer.Analyze(ctx, img, vars)
	metrics.AnalyzerDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	metrics.AnalyzerCalls.WithLabelValues("ok").Inc()

	if answers == nil {
		answers = []Answer{}
	}
	s.save(ctx, key, answers)
	return answers, nil
}

// lookup treats every storage failure as a miss.
func (s *Service) lookup(ctx context.Context, key string) ([]Answer, bool) {
	if s.store == nil {
		return nil, false
	}

	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("error").Inc()
			s.logger.Warn("result cache lookup failed", zap.Error(err))
		}
		return nil, false
	}

	var answers []Answer
	if err := msgpack.Unmarshal(raw, &answers); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if answers == nil {
		answers = []Answer{}
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return answers, true
}

func (s *Service) save(ctx context.Context, key string, answers []Answer) {
	if s.store == nil {
		return
	}
	raw, err := msgpack.Marshal(answers)
	if err != nil {
		s.logger.Warn("encode cache entry", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		s.logger.Warn("result cache store failed", zap.Error(err))
	}
}

// cacheKey digests the image bytes and the canonical JSON of vars.
// encoding/json sorts map keys, so equal maps yield equal keys.
func cacheKey(img Image, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	encodedVars, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}

	h := sha256.New()
	h.Write(img.Data)
	h.Write([]byte{0})
	h.Write(encodedVars)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAnalyzerUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
