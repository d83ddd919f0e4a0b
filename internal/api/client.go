// Package api is a client for the trace.moe reverse image search API.
package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// DefaultBaseURL is the production trace.moe API endpoint.
const DefaultBaseURL = "https://trace.moe/api"

const defaultUserAgent = "tracemoe-go/1.0"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Client is an HTTP client for the trace.moe API.
// It is not modified after construction and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
	userAgent  string
	logger     *slog.Logger

	timeout    time.Duration
	hasTimeout bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithToken sets the API token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client. The client passed in
// is never modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the overall request timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		c.hasTimeout = true
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the production API with no token.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		userAgent:  defaultUserAgent,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.hasTimeout {
		hc := *client.httpClient
		hc.Timeout = client.timeout
		client.httpClient = &hc
	}

	return client
}

// NewClientWithToken creates a client that authenticates with token.
func NewClientWithToken(token string, logger *slog.Logger, opts ...Option) *Client {
	return NewClient(logger, append([]Option{WithToken(token)}, opts...)...)
}

// BaseURL returns the API base URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// SearchOption adjusts a single search request.
type SearchOption func(*SearchRequest)

// WithFilter restricts the search to one AniList ID.
func WithFilter(anilistID uint32) SearchOption {
	return func(r *SearchRequest) {
		r.Filter = &anilistID
	}
}

// Search looks up the scene an image was taken from.
//
// The server answers 400 for an empty image, 403 for an invalid token,
// 413 for an image over 1MB, 429 when the limit or quota is used up and
// 500 or 503 when something failed on its side.
func (c *Client) Search(ctx context.Context, image []byte, opts ...SearchOption) (*SearchResponse, error) {
	body := NewSearchRequest(image)
	for _, opt := range opts {
		opt(body)
	}

	sum := blake2b.Sum256(image)
	resp, err := c.do(ctx, http.MethodPost, "search", body,
		"image_bytes", len(image),
		"image_digest", hex.EncodeToString(sum[:8]),
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return nil, ErrImageEmpty
	case http.StatusForbidden:
		return nil, ErrInvalidToken
	case http.StatusRequestEntityTooLarge:
		return nil, ErrImageTooLarge
	case http.StatusTooManyRequests:
		msg, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResponseEmpty, err)
		}
		if len(msg) == 0 {
			return nil, ErrResponseEmpty
		}
		return nil, &RateLimitError{Message: string(msg)}
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return nil, ErrInternalServerError
	}

	var result SearchResponse
	if err := decodeBody(resp.Body, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("trace.moe search complete",
		"docs", len(result.Docs),
		"cache_hit", result.CacheHit,
		"limit", result.Limit.Limit,
		"quota", result.Quota.Quota,
	)

	return &result, nil
}

// Me returns the search quota and limit for the account, or for the
// caller's IP address when no token is configured.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	resp, err := c.do(ctx, http.MethodGet, "me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var me Me
	if err := decodeBody(resp.Body, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// endpoint builds {base}/{path}, adding the token query parameter if set.
func (c *Client) endpoint(path string) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + path)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// do sends one request. A nil body sends no payload.
func (c *Client) do(ctx context.Context, method, path string, body any, logAttrs ...any) (*http.Response, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, fmt.Errorf("%w: building url: %v", ErrRequestFailed, err)
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding body: %v", ErrRequestFailed, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrRequestFailed, err)
	}

	requestID := uuid.New().String()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	attrs := append([]any{
		"method", method,
		"url", c.baseURL + "/" + path,
		"token", redactToken(c.token),
		"request_id", requestID,
	}, logAttrs...)
	c.logger.Debug("sending trace.moe request", attrs...)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	c.logger.Debug("trace.moe response received",
		"request_id", requestID,
		"status", resp.StatusCode,
	)

	return resp, nil
}

// decodeBody reads the body (bounded to maxResponseBytes) and unmarshals it into v.
func decodeBody(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrRequestFailed, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrJSONFailed, err)
	}
	return nil
}

// redactToken masks the token for logging.
func redactToken(token string) string {
	if token == "" {
		return "(none)"
	}

	if len(token) < 8 {
		return "***...***"
	}

	return token[:4] + "***...***" + token[len(token)-3:]
}
