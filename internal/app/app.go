package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/mediadeck/internal/authhttp"
	"github.com/florianilch/mediadeck/internal/proxy"
	"github.com/florianilch/mediadeck/internal/session"
)

// App orchestrates the lifecycle of the dashboard server and related services.
type App struct {
	cfg     *Config
	session *Session
	proxy   *proxy.Proxy
}

// New creates a new App instance.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Dashboard routes under the auth prefix are the login surface
	navigator := session.NewNavigator(session.OnRoutePrefix(proxy.AuthPrefix), proxy.Navigate)

	// I/O deferred to the first request
	sess, err := NewSession(ctx, cfg, navigator)
	if err != nil {
		return nil, err
	}

	proxyServer, err := proxy.New(cfg.Backend.BaseURL, &authhttp.Transport{Executor: sess.Executor}, sess.Coordinator,
		proxy.WithObtainer(sess.Client),
		proxy.WithExpiryFlag(sess.Navigator),
		proxy.WithLoginPath(cfg.Session.LoginPath),
	)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:     cfg,
		session: sess,
		proxy:   proxyServer,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	shutdownFuncs := []func(context.Context) error{
		func(context.Context) error { return a.session.Close() },
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting dashboard server", "address", address, "backend", a.cfg.Backend.BaseURL)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		_ = a.session.Close()
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "session", a.session.Coordinator.State(gCtx))

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
