// Package httpclient is a client for the ecal monitor API
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Response.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client provides HTTP client for the monitor API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new monitor API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// GetHealth returns the health status of the node. An unhealthy node is
// reported through the response, not as an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	if err != nil && StatusCode(err) != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// ListTopics returns every topic the node knows about
func (c *Client) ListTopics(ctx context.Context) (*TopicsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp TopicsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/topics", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return &resp, nil
}

// GetTopic returns the publishers and subscribers of one topic
func (c *Client) GetTopic(ctx context.Context, name string) (*TopicDetailResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp TopicDetailResponse
	path := "/api/v1/topics/" + name
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get topic %q: %w", name, err)
	}
	return &resp, nil
}

// AdminGetStats returns node statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request with optional authentication. GETs
// that fail in transport are retried up to MaxRetries times.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	attempts := 1
	if method == http.MethodGet && c.config.MaxRetries > 0 {
		attempts += c.config.MaxRetries
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			}
		}
		var retry bool
		retry, err = c.doOnce(ctx, method, path, reqBody, respBody, requireAuth)
		if !retry {
			return err
		}
	}
	return err
}

// doOnce performs one attempt and reports whether a failure may be retried
func (c *Client) doOnce(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) (bool, error) {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return false, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(bodyBytes, &apiErr.Response); jsonErr != nil {
			apiErr.Response.Message = string(bodyBytes)
		}
		// the health endpoint answers 503 with a regular body
		if respBody != nil && resp.StatusCode == http.StatusServiceUnavailable {
			if err := json.Unmarshal(bodyBytes, respBody); err != nil {
				return false, fmt.Errorf("failed to parse %d response: %w", resp.StatusCode, err)
			}
		}
		return false, apiErr
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return false, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return false, nil
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
