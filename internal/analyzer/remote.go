package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/eugenenazirov/canvas-calculator/internal/calculator"
)

const (
	defaultInitialInterval = 250 * time.Millisecond
	maxResponseBytes       = 1 << 20
	maxErrorSnippet        = 512
)

// RemoteOptions configures Remote.
type RemoteOptions struct {
	URL        string
	APIKey     string
	MaxRetries int
	// InitialInterval is the first backoff delay; it grows exponentially.
	InitialInterval time.Duration
	HTTPClient      *http.Client
}

// Remote forwards drawings to an HTTP analyzer service.
//
// Request:  POST {"image": "<base64>", "mime_type": "image/png", "width": 0, "height": 0, "dict_of_vars": {}}
// Response: {"data": [{"expr": "...", "result": ..., "assign": false}]}
type Remote struct {
	endpoint        string
	apiKey          string
	maxRetries      int
	initialInterval time.Duration
	client          *http.Client
	logger          *zap.Logger
}

type remoteRequest struct {
	Image      string         `json:"image"`
	MIMEType   string         `json:"mime_type"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	DictOfVars map[string]any `json:"dict_of_vars"`
}

type remoteResponse struct {
	Data []calculator.Answer `json:"data"`
}

// NewRemote validates opts and returns a Remote analyzer.
func NewRemote(opts RemoteOptions, logger *zap.Logger) (*Remote, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("analyzer URL must be an absolute http(s) URL, got %q", opts.URL)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", opts.MaxRetries)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Remote{
		endpoint:        u.String(),
		apiKey:          opts.APIKey,
		maxRetries:      opts.MaxRetries,
		initialInterval: opts.InitialInterval,
		client:          opts.HTTPClient,
		logger:          logger,
	}
	if r.initialInterval <= 0 {
		r.initialInterval = defaultInitialInterval
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	return r, nil
}

// Analyze posts img to the analyzer, retrying transient failures until
// MaxRetries is exhausted or ctx is done.
func (r *Remote) Analyze(ctx context.Context, img calculator.Image, vars map[string]any) ([]calculator.Answer, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	body, err := json.Marshal(remoteRequest{
		Image:      base64.StdEncoding.EncodeToString(img.Data),
		MIMEType:   img.MIMEType,
		Width:      img.Width,
		Height:     img.Height,
		DictOfVars: vars,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyzer request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxElapsedTime = 0

	var answers []calculator.Answer
	attempt := 0
	operation := func() error {
		attempt++
		result, err := r.post(ctx, body)
		if err != nil {
			return err
		}
		answers = result
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("analyzer request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *Remote) post(ctx context.Context, body []byte) ([]calculator.Answer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build analyzer request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(ctxErr)
		}
		// retried; if it never connects the caller sees the analyzer as unavailable
		return nil, fmt.Errorf("%w: %v", calculator.ErrAnalyzerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		statusErr := fmt.Errorf("%w: analyzer responded %d: %s",
			calculator.ErrAnalysisFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if retryable(resp.StatusCode) {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	var decoded remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return nil, backoff.Permanent(fmt.Errorf("%w: decode analyzer response: %v", calculator.ErrAnalysisFailed, err))
	}
	return decoded.Data, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
