// Package api is the offline-aware facade in front of the Taskly REST API.
//
// Every remote call goes through Client.Request. When the connectivity
// monitor reports OFFLINE, or the transport fails before the server
// answers, the call is redirected to the Local Store instead:
//
//   - GET serves the cached response if it is younger than the cache TTL
//   - POST /tasks creates a local record with a temporary id
//   - PUT/PATCH writes the new fields over the local record
//   - DELETE leaves a tombstone
//
// Each offline write is appended to the sync queue for later replay. A
// response from the server, successful or not, is never reinterpreted as
// an offline condition.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/store"
)

// Connectivity reports whether the server should be tried at all.
type Connectivity interface {
	IsOnline() bool
}

// TokenSource supplies the bearer token; "" sends no Authorization header.
type TokenSource interface {
	Token() string
}

// Config holds configuration for the Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:5000/api".
	BaseURL string

	Store        *store.Store
	Connectivity Connectivity
	Tokens       TokenSource

	// CacheTTL is the validity window of cached GET responses.
	CacheTTL time.Duration

	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
}

// Client is the offline-aware API facade.
type Client struct {
	baseURL  string
	store    *store.Store
	conn     Connectivity
	tokens   TokenSource
	cacheTTL time.Duration
	http     *http.Client
	clock    clockwork.Clock
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		store:    cfg.Store,
		conn:     cfg.Connectivity,
		tokens:   cfg.Tokens,
		cacheTTL: cfg.CacheTTL,
		http:     cfg.HTTPClient,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = store.DefaultCacheTTL
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c, nil
}

// Store returns the Local Store behind the facade.
func (c *Client) Store() *store.Store {
	return c.store
}

// IsOnline reports the monitor's view; true when there is no monitor.
func (c *Client) IsOnline() bool {
	return c.conn == nil || c.conn.IsOnline()
}

// Request performs a call with offline fallback. On success of a GET the
// payload is cached under the endpoint before it is returned.
func (c *Client) Request(ctx context.Context, method, endpoint string, body schema.Record) (json.RawMessage, error) {
	data, _, err := c.request(ctx, method, endpoint, body)
	return data, err
}

// request is Request that also reports whether the payload is a fresh
// server response rather than an offline fallback.
func (c *Client) request(ctx context.Context, method, endpoint string, body schema.Record) (json.RawMessage, bool, error) {
	method = strings.ToUpper(method)

	if !c.IsOnline() {
		data, err := c.offline(ctx, method, endpoint, body, ErrOffline)
		return data, false, err
	}

	data, err := c.Do(ctx, method, endpoint, body)
	if err == nil {
		if method == http.MethodGet {
			if cacheErr := c.store.CacheResponse(ctx, endpoint, data); cacheErr != nil {
				c.logger.WithError(cacheErr).WithField("endpoint", endpoint).Warn("failed to cache response")
			}
		}
		return data, true, nil
	}

	if IsNetworkError(err) {
		data, err = c.offline(ctx, method, endpoint, body, err)
		return data, false, err
	}
	return nil, false, err
}

// Do performs a direct network call with no offline fallback and no
// caching. Non-2xx responses return *APIError.
func (c *Client) Do(ctx context.Context, method, endpoint string, body schema.Record) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s body: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveAPI(method, endpoint, 0, c.clock.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.metrics.ObserveAPI(method, endpoint, resp.StatusCode, c.clock.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w: %v", method, endpoint, ErrIncompleteResponse, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(data), nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
