package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/mediadeck/internal/expiry"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// DefaultRefreshTimeout bounds a single refresh request.
const DefaultRefreshTimeout = 30 * time.Second

// refreshKey is the single singleflight key: there is one session, so one flight.
const refreshKey = "refresh"

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithValidator replaces the wall-clock expiry validator, e.g. to add leeway or a fake clock.
func WithValidator(v expiry.Validator) CoordinatorOption {
	return func(c *Coordinator) {
		c.validator = v
	}
}

// WithRefreshTimeout bounds each refresh request. The timeout applies to the
// refresh itself, independent of how long any caller is willing to wait.
func WithRefreshTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.refreshTimeout = d
	}
}

// WithLogger sets the logger for session transitions. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// Coordinator owns the token pair and decides when it must be renewed.
//
// All reads and writes of the store go through the Coordinator; at most one
// refresh request is in flight at any time and every concurrent caller shares
// its outcome.
type Coordinator struct {
	store          tokenstore.Store
	refresher      Refresher
	notifier       Notifier
	validator      expiry.Validator
	refreshTimeout time.Duration
	logger         *slog.Logger

	group singleflight.Group

	// writeMu serializes store mutations: refresh, login, logout, invalidation.
	writeMu sync.Mutex

	mu       sync.Mutex
	inFlight bool
	failed   bool
}

// NewCoordinator creates a Coordinator. No I/O is performed until the first call.
// notifier may be nil.
func NewCoordinator(store tokenstore.Store, refresher Refresher, notifier Notifier, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if refresher == nil {
		return nil, fmt.Errorf("missing refresher")
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	c := &Coordinator{
		store:          store,
		refresher:      refresher,
		notifier:       notifier,
		validator:      expiry.Default,
		refreshTimeout: DefaultRefreshTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidAccessToken returns a usable access token, renewing it if the stored one
// has expired. Returns a *SessionExpiredError when no token can be produced.
func (c *Coordinator) ValidAccessToken(ctx context.Context) (string, error) {
	access, err := c.store.Access(ctx)
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		return "", fmt.Errorf("reading access token: %w", err)
	}

	// Hot path: no network, no lock
	if c.validator.IsValid(access) {
		c.resume(ctx)
		return access, nil
	}

	return c.refresh(ctx, access)
}

// Refresh forces a renewal after the backend rejected the token rejected.
// If the stored token already differs from rejected and is valid, someone else
// renewed it in the meantime and it is returned without a network call.
func (c *Coordinator) Refresh(ctx context.Context, rejected string) (string, error) {
	return c.refresh(ctx, rejected)
}

// refresh joins the in-flight refresh or starts one. The refresh itself runs
// to completion even if ctx is canceled; only the wait is abandoned.
//
// Session loss is reported to the notifier by every waiter with its own ctx,
// so the route of whoever started the flight does not decide on navigation.
func (c *Coordinator) refresh(ctx context.Context, stale string) (string, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.runRefresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var expired *SessionExpiredError
			if errors.As(res.Err, &expired) {
				c.notifier.OnSessionInvalid(ctx)
			}
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runRefresh performs one refresh. Only ever called inside the singleflight group.
func (c *Coordinator) runRefresh(ctx context.Context, stale string) (string, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.setInFlight(true)
	defer c.setInFlight(false)

	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	// A previous flight may have finished between the caller's read and now.
	if current, err := c.store.Access(ctx); err == nil && current != stale && c.validator.IsValid(current) {
		return current, nil
	}

	refreshToken, err := c.store.Refresh(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", c.expireLocked(ctx, ErrNoRefreshToken)
	}
	if err != nil {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}

	c.logger.DebugContext(ctx, "refreshing access token")
	start := time.Now()

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", c.expireLocked(ctx, err)
	}
	if pair.Refresh == "" {
		pair.Refresh = refreshToken
	}

	// A rotated refresh token that cannot be persisted is lost; the session cannot continue.
	if err := c.store.SetPair(ctx, pair); err != nil {
		return "", c.expireLocked(ctx, fmt.Errorf("persisting refreshed tokens: %w", err))
	}

	c.logger.InfoContext(ctx, "access token refreshed", "duration", time.Since(start))
	c.clearFailedLocked(ctx)
	return pair.Access, nil
}

// Invalidate ends the session after the backend rejected a freshly renewed
// token. Returns the *SessionExpiredError to surface to the caller.
func (c *Coordinator) Invalidate(ctx context.Context, cause error) error {
	c.writeMu.Lock()
	err := c.expireLocked(ctx, cause)
	c.writeMu.Unlock()

	c.notifier.OnSessionInvalid(ctx)
	return err
}

// expireLocked clears the pair and marks the refresh as failed. Notifying is
// left to the callers. Caller must hold writeMu.
func (c *Coordinator) expireLocked(ctx context.Context, cause error) error {
	// The refresh deadline may have passed; clearing must still happen.
	ctx = context.WithoutCancel(ctx)

	if err := c.store.Clear(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear tokens after session loss", "error", err)
	}

	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()

	c.logger.WarnContext(ctx, "session expired", "cause", cause)
	return &SessionExpiredError{Cause: cause}
}

// Login stores a freshly obtained pair and starts a new session.
func (c *Coordinator) Login(ctx context.Context, pair tokenstore.Pair) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.SetPair(ctx, pair); err != nil {
		return fmt.Errorf("storing tokens: %w", err)
	}

	c.mu.Lock()
	c.failed = false
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "session started")
	c.notifier.OnSessionStarted(ctx)
	return nil
}

// Logout clears the pair and notifies that the session ended.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}

	c.mu.Lock()
	c.failed = false
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "session ended")
	c.notifier.OnSessionInvalid(ctx)
	return nil
}

// State reports the current session state. Persisted tokens are the source of
// truth; the failed marker only applies while the store is empty, so a login
// through another process sharing the store is picked up here.
func (c *Coordinator) State(ctx context.Context) State {
	c.mu.Lock()
	inFlight := c.inFlight
	c.mu.Unlock()

	if inFlight {
		return RefreshInFlight
	}

	access, accessErr := c.store.Access(ctx)
	if accessErr == nil && c.validator.IsValid(access) {
		c.resume(ctx)
		return Valid
	}
	if _, err := c.store.Refresh(ctx); accessErr == nil || err == nil {
		c.resume(ctx)
		return Expired
	}
	if c.isFailed() {
		return RefreshFailed
	}
	return Unauthenticated
}

// resume ends a failure chain once tokens are back in the store without a
// Login on this Coordinator. Skipped while a mutation holds writeMu; the next
// read retries.
func (c *Coordinator) resume(ctx context.Context) {
	if !c.isFailed() || !c.writeMu.TryLock() {
		return
	}
	defer c.writeMu.Unlock()

	// Re-read under writeMu: an expiry may have cleared the store meanwhile.
	_, accessErr := c.store.Access(ctx)
	_, refreshErr := c.store.Refresh(ctx)
	if accessErr != nil && refreshErr != nil {
		return
	}

	c.logger.InfoContext(ctx, "session resumed from stored tokens")
	c.clearFailedLocked(ctx)
}

// clearFailedLocked resets the failed marker and re-arms the notifier if a
// failure chain was open. Caller must hold writeMu.
func (c *Coordinator) clearFailedLocked(ctx context.Context) {
	c.mu.Lock()
	wasFailed := c.failed
	c.failed = false
	c.mu.Unlock()

	if wasFailed {
		c.notifier.OnSessionStarted(ctx)
	}
}

func (c *Coordinator) isFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Token returns a valid access token as an oauth2.Token carrying its expiry.
// The refresh token is never exposed.
func (c *Coordinator) Token(ctx context.Context) (*oauth2.Token, error) {
	access, err := c.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
	}
	if exp, ok := c.validator.ExpiresAt(access); ok {
		token.Expiry = exp
	}
	return token, nil
}

// TokenSource adapts the Coordinator to oauth2.TokenSource for SDK clients.
// oauth2.TokenSource has no context parameter, so ctx is captured here.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &coordinatorTokenSource{ctx: ctx, c: c}
}

type coordinatorTokenSource struct {
	ctx context.Context
	c   *Coordinator
}

// Compile-time check to ensure coordinatorTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*coordinatorTokenSource)(nil)

func (ts *coordinatorTokenSource) Token() (*oauth2.Token, error) {
	return ts.c.Token(ts.ctx)
}

func (c *Coordinator) setInFlight(v bool) {
	c.mu.Lock()
	c.inFlight = v
	c.mu.Unlock()
}
