package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// Default backend paths, relative to the base URL.
const (
	DefaultRefreshPath = "/token/refresh/"
	DefaultObtainPath  = "/token/"
)

// maxErrorBody bounds how much of a failed response is kept for error messages.
const maxErrorBody = 512

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	// Refresh returns the renewed pair. Pair.Refresh is empty when the backend
	// did not rotate the refresh token.
	Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error)
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	httpClient  *http.Client
	refreshPath string
	obtainPath  string
}

// WithHTTPClient sets the HTTP client used for token requests.
// If not provided, a pooled client without retries and a 30s timeout is used.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// WithRefreshPath overrides DefaultRefreshPath.
func WithRefreshPath(p string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.refreshPath = p
	}
}

// WithObtainPath overrides DefaultObtainPath.
func WithObtainPath(p string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.obtainPath = p
	}
}

// Client talks to the backend's token endpoints.
type Client struct {
	httpClient *http.Client
	refreshURL string
	obtainURL  string
}

// Compile-time check to ensure Client implements Refresher
var _ Refresher = (*Client)(nil)

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme and host required", baseURL)
	}

	cfg := &clientConfig{
		refreshPath: DefaultRefreshPath,
		obtainPath:  DefaultObtainPath,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = cleanhttp.DefaultPooledClient()
		cfg.httpClient.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: cfg.httpClient,
		refreshURL: joinURL(base, cfg.refreshPath),
		obtainURL:  joinURL(base, cfg.obtainPath),
	}, nil
}

// joinURL appends p to the base path, keeping p's trailing slash.
func joinURL(base *url.URL, p string) string {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(p, "/")
	return u.String()
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Refresh posts the refresh token to the refresh endpoint. Any response other
// than 200 with a non-empty access token is a *RefreshError.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	var resp tokenResponse
	status, err := c.postJSON(ctx, c.refreshURL, refreshRequest{Refresh: refreshToken}, &resp)
	if err != nil {
		return tokenstore.Pair{}, &RefreshError{StatusCode: status, Err: err}
	}
	if resp.Access == "" {
		return tokenstore.Pair{}, &RefreshError{StatusCode: status, Err: fmt.Errorf("response carries no access token")}
	}
	return tokenstore.Pair{Access: resp.Access, Refresh: resp.Refresh}, nil
}

type obtainRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Obtain exchanges user credentials for a fresh pair.
// Returns ErrInvalidCredentials when the backend answers 400 or 401.
func (c *Client) Obtain(ctx context.Context, username, password string) (tokenstore.Pair, error) {
	var resp tokenResponse
	status, err := c.postJSON(ctx, c.obtainURL, obtainRequest{Username: username, Password: password}, &resp)
	if status == http.StatusUnauthorized || status == http.StatusBadRequest {
		return tokenstore.Pair{}, ErrInvalidCredentials
	}
	if err != nil {
		return tokenstore.Pair{}, fmt.Errorf("obtaining tokens: %w", err)
	}
	if resp.Access == "" || resp.Refresh == "" {
		return tokenstore.Pair{}, fmt.Errorf("obtaining tokens: incomplete token pair in response")
	}
	return tokenstore.Pair{Access: resp.Access, Refresh: resp.Refresh}, nil
}

// postJSON sends body as JSON and decodes a 200 response into out.
// The returned status is zero if no response was received.
func (c *Client) postJSON(ctx context.Context, target string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fmt.Errorf("unexpected response: %q", strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
