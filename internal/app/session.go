package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/florianilch/mediadeck/internal/authhttp"
	"github.com/florianilch/mediadeck/internal/expiry"
	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// Session bundles the components acting on the stored session. Both the
// dashboard server and the one-shot CLI commands are built on it.
type Session struct {
	Store       tokenstore.Store
	Client      *session.Client
	Navigator   *session.Navigator
	Coordinator *session.Coordinator
	Executor    *authhttp.Executor

	closeStore func() error
}

// NewSession wires store, refresh client, coordinator and executor from cfg.
// navigator receives session-invalid notifications. No token I/O happens here.
func NewSession(ctx context.Context, cfg *Config, navigator *session.Navigator) (*Session, error) {
	if navigator == nil {
		return nil, fmt.Errorf("missing navigator")
	}

	store, closeStore, err := cfg.Auth.NewTokenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	tokenHTTP := cleanhttp.DefaultPooledClient()
	tokenHTTP.Timeout = cfg.Backend.Timeout

	client, err := session.NewClient(cfg.Backend.BaseURL,
		session.WithHTTPClient(tokenHTTP),
		session.WithRefreshPath(cfg.Backend.RefreshPath),
		session.WithObtainPath(cfg.Backend.ObtainPath),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create token client: %w", err)
	}

	logger := slog.Default().With("component", "session")

	coordinator, err := session.NewCoordinator(store, client, navigator,
		session.WithLogger(logger),
		session.WithValidator(expiry.Validator{Leeway: cfg.Session.ExpiryLeeway}),
		session.WithRefreshTimeout(cfg.Session.RefreshTimeout),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create session coordinator: %w", err)
	}

	apiHTTP := cleanhttp.DefaultPooledClient()
	apiHTTP.Timeout = cfg.Backend.Timeout
	apiHTTP.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	executor, err := authhttp.New(coordinator,
		authhttp.WithHTTPClient(apiHTTP),
		authhttp.WithLogger(logger),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create request executor: %w", err)
	}

	return &Session{
		Store:       store,
		Client:      client,
		Navigator:   navigator,
		Coordinator: coordinator,
		Executor:    executor,
		closeStore:  closeStore,
	}, nil
}

// Close releases the store's connections.
func (s *Session) Close() error {
	return s.closeStore()
}
