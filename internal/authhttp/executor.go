package authhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
)

// RequestIDHeader correlates the first attempt and its retry in backend logs.
const RequestIDHeader = "X-Request-Id"

// maxDrain bounds how much of a rejected response body is read to reuse the connection.
const maxDrain = 4 << 10

// ErrTokenRejected is the cause of session loss when the backend rejects a
// freshly renewed access token.
var ErrTokenRejected = errors.New("backend rejected renewed access token")

// Sessions is the part of session.Coordinator the executor depends on.
type Sessions interface {
	ValidAccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context, rejected string) (string, error)
	Invalidate(ctx context.Context, cause error) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient sets the client used for backend calls. The client must not
// retry on its own. Defaults to a pooled client that does not follow redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.client = c
	}
}

// WithLogger sets the logger for retries. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// Executor sends requests with the session's access token attached.
type Executor struct {
	sessions Sessions
	client   *http.Client
	logger   *slog.Logger
}

// New creates an Executor backed by sessions.
func New(sessions Sessions, opts ...Option) (*Executor, error) {
	if sessions == nil {
		return nil, fmt.Errorf("missing sessions")
	}

	e := &Executor{sessions: sessions, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = cleanhttp.DefaultPooledClient()
		// Responses are returned as-is, redirects included.
		e.client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return e, nil
}

// Send performs req with a bearer token. Any response other than 401 is
// returned unchanged. On 401 the token is renewed and the request retried
// once; a second 401 ends the session. Session loss is reported as a
// *session.SessionExpiredError.
func (e *Executor) Send(ctx context.Context, req Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.withHeader(RequestIDHeader, uuid.NewString())
	}

	token, err := e.sessions.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := e.attempt(ctx, req, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	e.logger.DebugContext(ctx, "access token rejected, renewing", "method", req.Method, "url", req.URL, "request_id", req.Header.Get(RequestIDHeader))

	token, err = e.sessions.Refresh(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err = e.attempt(ctx, req, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	return nil, e.sessions.Invalidate(ctx, ErrTokenRejected)
}

// attempt issues a single call with token attached.
func (e *Executor) attempt(ctx context.Context, req Request, token string) (*http.Response, error) {
	httpReq, err := req.withAuthorization(token).httpRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

// discard drains and closes a response that will not be returned.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()
}
