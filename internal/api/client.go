package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the number of retries for transient failures.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base delay before the first retry.
	DefaultRetryDelay = time.Second
	// DefaultRateLimit is the sustained outbound request rate.
	DefaultRateLimit rate.Limit = 10
	// DefaultRateBurst is the outbound request burst size.
	DefaultRateBurst = 20
)

// TokenSource mints a bearer token for each outbound request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// RequestObserver is notified after every HTTP attempt. status is 0 when
// the request failed before a response arrived.
type RequestObserver func(route string, status int, elapsed time.Duration)

// Config holds explicit client configuration.
type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	RetryOn    []int
	RateLimit  rate.Limit
	RateBurst  int
	Logger     zerolog.Logger
	Observer   RequestObserver
}

// Client is the HTTP client for the mailbox API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	retry      *RetryConfig
	limiter    *rate.Limiter
	logger     zerolog.Logger
	observe    RequestObserver
}

// NewClient creates a client from cfg. Zero values take the defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.Tokens == nil {
		return nil, ErrMissingTokenSource
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		observe:    cfg.Observer,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryDelay == 0 {
		c.retryDelay = DefaultRetryDelay
	}

	c.retry = DefaultRetryConfig()
	c.retry.MaxRetries = c.maxRetries
	c.retry.BaseDelay = c.retryDelay
	if len(cfg.RetryOn) > 0 {
		c.retry.RetryableOn = RetryOnStatus(cfg.RetryOn...)
	}

	limit, burst := cfg.RateLimit, cfg.RateBurst
	if limit == 0 {
		limit = DefaultRateLimit
	}
	if burst == 0 {
		burst = DefaultRateBurst
	}
	c.limiter = rate.NewLimiter(limit, burst)

	return c, nil
}

// Option configures the API client.
type Option func(*Config)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithRetries sets the number of retries. Negative disables retrying.
func WithRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// WithRetryDelay sets the base retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithRetryOn sets the status codes that trigger a retry.
func WithRetryOn(codes ...int) Option {
	return func(c *Config) {
		c.RetryOn = codes
	}
}

// WithTimeout sets the HTTP timeout on the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if c.HTTPClient == nil {
			c.HTTPClient = &http.Client{}
		}
		c.HTTPClient.Timeout = timeout
	}
}

// WithRateLimit sets the outbound request rate and burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Config) {
		c.RateLimit = limit
		c.RateBurst = burst
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithObserver registers a per-attempt request observer.
func WithObserver(observer RequestObserver) Option {
	return func(c *Config) {
		c.Observer = observer
	}
}

// New creates a client with functional options.
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	cfg := Config{BaseURL: baseURL, Tokens: tokens, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs an authenticated JSON request.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	return c.do(ctx, method, path, body, result, true)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, authenticated bool) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	route := method + " " + routeOf(path)
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var bodyReader io.Reader
		if data != nil {
			bodyReader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authenticated {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return fmt.Errorf("failed to mint auth token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.notify(route, 0, start)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if attempt >= c.maxRetries {
				return &NetworkError{Err: err, URL: url, Attempt: attempt + 1}
			}
			c.logger.Debug().Str("route", route).Int("attempt", attempt+1).Err(err).Msg("retrying after network error")
			if err := c.retry.Wait(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		c.notify(route, resp.StatusCode, start)

		if c.retry.ShouldRetry(attempt, resp.StatusCode) {
			drain(resp)
			c.logger.Debug().Str("route", route).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("retrying request")
			if err := c.retry.Wait(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		return c.handleResponse(resp, route, result)
	}
}

func (c *Client) handleResponse(resp *http.Response, route string, result any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := parseErrorResponse(resp)
		apiErr.Route = route
		apiErr.Retryable = c.retry.RetryableOn(resp.StatusCode)
		return apiErr
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) notify(route string, status int, start time.Time) {
	if c.observe != nil {
		c.observe(route, status, time.Since(start))
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// routeOf collapses the path parameter of the address lookup so metrics
// labels stay bounded.
func routeOf(path string) string {
	if strings.HasPrefix(path, addressesPath) {
		return addressesPath + ":addresses"
	}
	return path
}

func parseErrorResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil {
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
		if msg != "" || errResp.RequestID != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    msg,
				RequestID:  errResp.RequestID,
			}
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
