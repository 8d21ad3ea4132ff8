package calculator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/canvas-calculator/internal/storage"
)

type countingAnalyzer struct {
	calls   atomic.Int32
	answers []Answer
	err     error
	delay   time.Duration
	release chan struct{}
}

func (a *countingAnalyzer) Analyze(ctx context.Context, _ Image, _ map[string]any) ([]Answer, error) {
	a.calls.Add(1)
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.answers, a.err
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("store down")
}

func (failingStore) Close() error { return nil }

func testImage(t *testing.T) Image {
	t.Helper()
	img, err := DecodeImage(pngDataURL(t, 4, 4), 0)
	require.NoError(t, err)
	return img
}

func TestServiceCachesAnswers(t *testing.T) {
	analyzer := &countingAnalyzer{answers: []Answer{{Expr: "2+2", Result: "4"}}}
	svc := NewService(analyzer, storage.NewMemoryStorage(8, time.Minute), zaptest.NewLogger(t))
	img := testImage(t)
	vars := map[string]any{"x": "5"}

	first, err := svc.Calculate(context.Background(), img, vars)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, analyzer.answers, first.Answers)

	second, err := svc.Calculate(context.Background(), img, map[string]any{"x": "5"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, analyzer.answers, second.Answers)
	assert.EqualValues(t, 1, analyzer.calls.Load())

	// different variables are a different question
	third, err := svc.Calculate(context.Background(), img, map[string]any{"x": "6"})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.EqualValues(t, 2, analyzer.calls.Load())
}

func TestServiceCollapsesConcurrentRequests(t *testing.T) {
	analyzer := &countingAnalyzer{
		answers: []Answer{{Expr: "y", Result: "3", Assign: true}},
		release: make(chan struct{}),
	}
	svc := NewService(analyzer, nil, zaptest.NewLogger(t))
	img := testImage(t)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Calculate(context.Background(), img, nil)
		}(i)
	}

	// let the callers pile up on the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(analyzer.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, analyzer.answers, results[i].Answers)
	}
	assert.EqualValues(t, 1, analyzer.calls.Load())
}

func TestServiceNilAnswersBecomeEmpty(t *testing.T) {
	svc := NewService(&countingAnalyzer{}, storage.NewMemoryStorage(1, time.Minute), zaptest.NewLogger(t))
	img := testImage(t)

	res, err := svc.Calculate(context.Background(), img, nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Answers)
	assert.Empty(t, res.Answers)

	res, err = svc.Calculate(context.Background(), img, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.NotNil(t, res.Answers)
}

func TestServicePropagatesAnalyzerErrors(t *testing.T) {
	analyzer := &countingAnalyzer{err: ErrAnalysisFailed}
	store := storage.NewMemoryStorage(4, time.Minute)
	svc := NewService(analyzer, store, zaptest.NewLogger(t))

	_, err := svc.Calculate(context.Background(), testImage(t), nil)
	require.ErrorIs(t, err, ErrAnalysisFailed)
	assert.Zero(t, store.Len(), "failures must not be cached")
}

func TestServiceWithoutAnalyzer(t *testing.T) {
	svc := NewService(nil, nil, nil)

	_, err := svc.Calculate(context.Background(), testImage(t), nil)
	require.ErrorIs(t, err, ErrAnalyzerUnavailable)
}

func TestServiceToleratesBrokenStore(t *testing.T) {
	analyzer := &countingAnalyzer{answers: []Answer{{Expr: "1+1", Result: "2"}}}
	svc := NewService(analyzer, failingStore{}, zaptest.NewLogger(t))

	res, err := svc.Calculate(context.Background(), testImage(t), nil)
	require.NoError(t, err)
	assert.Equal(t, analyzer.answers, res.Answers)
}

func TestServiceIgnoresCorruptCacheEntries(t *testing.T) {
	analyzer := &countingAnalyzer{answers: []Answer{{Expr: "1+1", Result: "2"}}}
	store := storage.NewMemoryStorage(4, time.Minute)
	svc := NewService(analyzer, store, zaptest.NewLogger(t))
	img := testImage(t)

	key, err := cacheKey(img, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), key, []byte{0xc1}))

	res, err := svc.Calculate(context.Background(), img, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 1, analyzer.calls.Load())
}

func TestServiceAnalyzeTimeout(t *testing.T) {
	analyzer := &countingAnalyzer{delay: time.Second}
	svc := NewService(analyzer, nil, zaptest.NewLogger(t), WithAnalyzeTimeout(20*time.Millisecond))

	_, err := svc.Calculate(context.Background(), testImage(t), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceCallerCancellation(t *testing.T) {
	analyzer := &countingAnalyzer{delay: time.Second}
	svc := NewService(analyzer, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Calculate(ctx, testImage(t), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCacheKeyIsCanonical(t *testing.T) {
	img := Image{Data: []byte("img")}

	a, err := cacheKey(img, map[string]any{"a": 1, "b": "2"})
	require.NoError(t, err)
	b, err := cacheKey(img, map[string]any{"b": "2", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := cacheKey(img, nil)
	require.NoError(t, err)
	emptyMap, err := cacheKey(img, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, empty, emptyMap)

	other, err := cacheKey(Image{Data: []byte("img2")}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, empty, other)
}
