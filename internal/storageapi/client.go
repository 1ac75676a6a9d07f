package storageapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config configures the Storage API client.
type Config struct {
	// BaseURL is the storage service root, e.g. https://connection.example.com.
	BaseURL string

	// Token is sent as X-StorageApi-Token.
	Token string

	// Timeout for individual requests (default: 60s).
	Timeout time.Duration

	// MaxRetries for 429/5xx responses (default: 3).
	MaxRetries int

	// RateLimit requests per second (default: 10).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// PollInterval is the first delay between job status checks (default: 1s).
	PollInterval time.Duration

	// MaxPollInterval caps the doubling poll delay (default: 15s).
	MaxPollInterval time.Duration

	// UserAgent string (default: "UCL-Loader/1.0").
	UserAgent string

	// Transport allows injecting a custom HTTP transport.
	Transport http.RoundTripper

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10.0
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPollInterval == 0 {
		c.MaxPollInterval = 15 * time.Second
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	if c.UserAgent == "" {
		c.UserAgent = "UCL-Loader/1.0"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client is a rate-limited, retrying Storage API client.
type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a client. BaseURL and Token are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, wrapError(CodeInvalidConfig, false, 0, fmt.Errorf("base URL is required"))
	}
	if cfg.Token == "" {
		return nil, wrapError(CodeInvalidConfig, false, 0, fmt.Errorf("token is required"))
	}
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:      cfg.Logger.With(zap.String("component", "storageapi")),
	}, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// idempotent requests are retried on server and transport errors.
	// Others, such as job submissions, only on 429.
	idempotent bool
}

// do executes a request with rate limiting and retry and decodes the JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		body, err := c.doOnce(ctx, req, payload)
		if err == nil {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return wrapError(CodeBadResponse, false, 0, fmt.Errorf("decode %s %s: %w", req.method, req.path, err))
			}
			return nil
		}

		lastErr = err
		if !isRetryable(err) || (!req.idempotent && !isRateLimited(err)) {
			return err
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		c.logger.Debug("retrying storage request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, req request, payload []byte) ([]byte, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.path, "/")
	if len(req.query) > 0 {
		fullURL += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = strings.NewReader(string(payload))
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-StorageApi-Token", c.config.Token)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, wrapError(CodeUnreachable, true, 0, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(CodeUnreachable, true, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, query: query, idempotent: true}, out)
}

// post submits body once; a 5xx may still have created the resource.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body}, out)
}

// upsert is a POST whose effect is the same however often it is repeated.
func (c *Client) upsert(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body, idempotent: true}, out)
}

func (c *Client) delete(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, request{method: http.MethodDelete, path: path, query: query, idempotent: true}, out)
}
