package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

const (
	// AuthPrefix is the login surface. Session loss noticed there never navigates.
	AuthPrefix = "/auth/"

	// LoginPath is where the dashboard sends the user after the session ended.
	LoginPath = AuthPrefix + "login"
)

// Sessions is the part of session.Coordinator the auth endpoints need.
type Sessions interface {
	State(ctx context.Context) session.State
	Token(ctx context.Context) (*oauth2.Token, error)
	Login(ctx context.Context, pair tokenstore.Pair) error
	Logout(ctx context.Context) error
}

// Obtainer exchanges user credentials for a token pair.
type Obtainer interface {
	Obtain(ctx context.Context, username, password string) (tokenstore.Pair, error)
}

// ExpiryFlag exposes the one-shot "session expired" marker.
type ExpiryFlag interface {
	ConsumeExpired() bool
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithObtainer enables username/password login on POST /auth/login.
func WithObtainer(o Obtainer) Option {
	return func(p *Proxy) {
		p.obtainer = o
	}
}

// WithExpiryFlag reports the one-shot expired marker on GET /auth/session.
func WithExpiryFlag(f ExpiryFlag) Option {
	return func(p *Proxy) {
		p.expiryFlag = f
	}
}

// WithLoginPath overrides the redirect target sent on session loss.
func WithLoginPath(path string) Option {
	return func(p *Proxy) {
		p.loginPath = path
	}
}

// Proxy is the local dashboard server: it forwards /api/ to the backend with
// the session's token attached and exposes the session endpoints under /auth/.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server

	sessions   Sessions
	obtainer   Obtainer
	expiryFlag ExpiryFlag
	loginPath  string
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a dashboard proxy forwarding to backendURL through transport.
// transport is expected to attach and renew the session token, typically an
// *authhttp.Transport.
func New(backendURL string, transport http.RoundTripper, sessions Sessions, opts ...Option) (*Proxy, error) {
	backend, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme and host required", backendURL)
	}
	if transport == nil {
		return nil, fmt.Errorf("missing transport")
	}
	if sessions == nil {
		return nil, fmt.Errorf("missing sessions")
	}

	p := &Proxy{
		sessions:  sessions,
		loginPath: LoginPath,
	}
	for _, opt := range opts {
		opt(p)
	}

	logger := slog.Default()
	forward := newForwarder(backend, transport, p.loginPath)

	mux := http.NewServeMux()

	// Feature pages talk to the backend through here
	mux.Handle("/api/", applyMiddlewares(forward,
		TraceContext,
		Logging(logger),
		Recovery,
		Route,
	))

	// Login surface: probes from here never trigger navigation
	mux.Handle("GET "+AuthPrefix+"session", applyMiddlewares(http.HandlerFunc(p.handleSession),
		TraceContext,
		Logging(logger),
		Recovery,
		Route,
	))
	mux.Handle("POST "+AuthPrefix+"login", applyMiddlewares(http.HandlerFunc(p.handleLogin),
		TraceContext,
		Logging(logger),
		Recovery,
		Route,
	))
	mux.Handle("POST "+AuthPrefix+"logout", applyMiddlewares(http.HandlerFunc(p.handleLogout),
		TraceContext,
		Logging(logger),
		Recovery,
		Route,
	))

	p.mux = mux
	return p, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // covers one refresh plus the retried backend call
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
