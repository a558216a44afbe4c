// Package ragflow is a client for the RAGFlow REST API.
package ragflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

const (
	// DefaultBaseURL is the default RAGFlow server address.
	DefaultBaseURL = "http://localhost:9380"

	apiPrefix = "/api/v1"

	// HTTP client configuration.
	httpTimeout = 120 * time.Second // Completions can be slow

	// Rate limiting configuration (~3 requests/second).
	rateLimitInterval = 350 * time.Millisecond
)

// APIError is a RAGFlow error envelope (non-zero code).
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("ragflow: code %d: %s", e.Code, e.Message)
}

// envelope is the uniform RAGFlow response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is a RAGFlow API client with rate limiting.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(url string) ClientOption {
	return func(client *Client) {
		client.baseURL = url
	}
}

// NewClient creates a new RAGFlow API client.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, apperrors.ErrAPIKeyRequired
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: httpTimeout},
		apiKey:      apiKey,
		rateLimiter: rate.NewLimiter(rate.Every(rateLimitInterval), 1), // ~3 req/s
		baseURL:     DefaultBaseURL,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// do performs an HTTP request with rate limiting and retries.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	return c.doRaw(ctx, method, path, func() (io.Reader, string) {
		if jsonBody == nil {
			return nil, ""
		}
		return bytes.NewReader(jsonBody), "application/json"
	}, result)
}

// doRaw performs an HTTP request with a caller-supplied body factory so
// retries can rewind the body.
func (c *Client) doRaw(ctx context.Context, method, path string, makeBody func() (io.Reader, string), result any) error {
	// Wait for rate limiter
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	url := c.baseURL + apiPrefix + path

	c.logger.DebugContext(ctx, "API request", "method", method, "path", path)
	startTime := time.Now()

	// Retry with exponential backoff on rate limit
	maxRetries := 5
	backoff := time.Second

	for range maxRetries {
		bodyReader, contentType := makeBody()

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
		}
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.WarnContext(ctx, "rate limited, backing off", "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				continue
			}
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.NewHTTPError(resp.StatusCode, string(respBody))
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}

		if env.Code != 0 {
			return &APIError{Code: env.Code, Message: env.Message}
		}

		if result != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, result); err != nil {
				return fmt.Errorf("unmarshal data: %w", err)
			}
		}

		c.logger.DebugContext(ctx, "API response",
			"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(startTime))

		return nil
	}

	return apperrors.ErrMaxRetriesExceeded
}

// upload performs a multipart file upload.
func (c *Client) upload(ctx context.Context, path string, files map[string][]byte, result any) error {
	// Build the multipart body once; retries rebuild from the same map.
	makeBody := func() (io.Reader, string) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		for name, content := range files {
			part, err := w.CreateFormFile("file", filepath.Base(name))
			if err != nil {
				continue
			}
			_, _ = part.Write(content)
		}
		_ = w.Close()

		return &buf, w.FormDataContentType()
	}

	return c.doRaw(ctx, http.MethodPost, path, makeBody, result)
}

// Ping checks connectivity and credentials by listing datasets.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListDatasets(ctx)

	return err
}
