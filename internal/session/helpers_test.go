package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// mintToken returns an HS256 JWT expiring at exp. The signature is irrelevant client side.
func mintToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func liveToken(t *testing.T, subject string) string {
	return mintToken(t, subject, time.Now().Add(time.Hour))
}

func deadToken(t *testing.T, subject string) string {
	return mintToken(t, subject, time.Now().Add(-time.Hour))
}

// fakeRefresher counts calls and optionally blocks until release is closed.
type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	once    sync.Once

	mu       sync.Mutex
	received []string

	pair tokenstore.Pair
	err  error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.received = append(f.received, refreshToken)
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	return f.pair, f.err
}

// recordingNotifier counts notifications.
type recordingNotifier struct {
	invalid atomic.Int32
	started atomic.Int32
}

func (n *recordingNotifier) OnSessionInvalid(context.Context) { n.invalid.Add(1) }
func (n *recordingNotifier) OnSessionStarted(context.Context) { n.started.Add(1) }

// seededStore returns a MemoryStore holding the given pair.
func seededStore(t *testing.T, access, refresh string) *tokenstore.MemoryStore {
	t.Helper()
	store := tokenstore.NewMemoryStore()
	if access == "" && refresh == "" {
		return store
	}
	if err := store.SetPair(context.Background(), tokenstore.Pair{Access: access, Refresh: refresh}); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return store
}

func newCoordinator(t *testing.T, store tokenstore.Store, refresher session.Refresher, notifier session.Notifier) *session.Coordinator {
	t.Helper()
	c, err := session.NewCoordinator(store, refresher, notifier)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func assertEmpty(t *testing.T, store tokenstore.Store) {
	t.Helper()
	ctx := context.Background()
	if v, err := store.Access(ctx); err == nil {
		t.Errorf("store still holds access token %q", v)
	}
	if v, err := store.Refresh(ctx); err == nil {
		t.Errorf("store still holds refresh token %q", v)
	}
}
