package storyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lifestory/internal/config"
	"lifestory/internal/interview"
	"lifestory/internal/logging"
	"lifestory/internal/services"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
	maxErrorBody          = 4 << 10
)

// HTTPDoer describes the HTTP client used by the API client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config captures the connection settings.
type Config struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
	// UploadTimeoutSeconds bounds upload requests, which do not use
	// TimeoutSeconds. Zero means no limit beyond the caller's context.
	UploadTimeoutSeconds int
}

// Client talks to the admin REST API.
type Client struct {
	cfg    Config
	http   HTTPDoer
	upload HTTPDoer
	logger *slog.Logger

	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	mu       sync.Mutex
	sessions map[string]interview.Session
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client for every request, uploads included.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
			c.upload = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry overrides how idempotent requests are retried.
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// NewClient constructs a client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			BaseURL:              strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Token:                strings.TrimSpace(cfg.Token),
			TimeoutSeconds:       cfg.TimeoutSeconds,
			UploadTimeoutSeconds: cfg.UploadTimeoutSeconds,
		},
		http:           &http.Client{Timeout: timeout},
		upload:         &http.Client{},
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
		sessions:       make(map[string]interview.Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "storyapi")
	return c
}

// NewFromConfig builds a client from the [api] config section.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	return NewClient(Config{
		BaseURL:              cfg.API.BaseURL,
		Token:                cfg.API.Token,
		TimeoutSeconds:       cfg.API.TimeoutSeconds,
		UploadTimeoutSeconds: cfg.Upload.RequestTimeout,
	}, opts...)
}

// APIError is a non-2xx response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, msg)
}

// Unwrap maps the status onto the services error markers.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return services.ErrNotFound
	case e.Status == http.StatusConflict:
		return services.ErrConflict
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return services.ErrTransient
	case e.Status >= 500:
		return services.ErrTransient
	default:
		return services.ErrValidation
	}
}

// ServerMessage returns the server-supplied message in err, or err's text.
func ServerMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	raw         io.Reader
	contentType string
	// upload selects the upload doer, which has no client-level timeout.
	upload bool
}

// do sends req and returns the response body. GET requests are retried on
// transient failures.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	attempts := 1
	if req.method == http.MethodGet && c.retryAttempts > 1 {
		attempts = c.retryAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.doOnce(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil || !services.Retryable(err) {
			break
		}
		delay := c.backoff(attempt)
		c.logger.Debug("retrying request",
			logging.String("method", req.method),
			logging.String("path", req.path),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req request) ([]byte, error) {
	endpoint := c.cfg.BaseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	var body io.Reader
	contentType := req.contentType
	switch {
	case req.raw != nil:
		body = req.raw
	case req.body != nil:
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("storyapi: encode %s body: %w", req.path, err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("storyapi: new request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	doer := c.http
	if req.upload {
		doer = c.upload
	}
	resp, err := doer.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, "storyapi", req.method+" "+req.path, "request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "storyapi", req.method+" "+req.path, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{
			Method:  req.method,
			Path:    req.path,
			Status:  resp.StatusCode,
			Message: errorMessage(data),
		}
	}
	return data, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.retryMaxDelay > 0 && delay >= c.retryMaxDelay {
			return c.retryMaxDelay
		}
	}
	return delay
}

// errorMessage extracts {message} or {error} from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if len(payload.Error) > 0 {
			var text string
			if json.Unmarshal(payload.Error, &text) == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
				return strings.TrimSpace(nested.Message)
			}
		}
		return ""
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func escape(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
