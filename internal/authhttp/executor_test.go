package authhttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/florianilch/mediadeck/internal/authhttp"
	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

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

// seenRequest captures what the backend received for one API call.
type seenRequest struct {
	Authorization string
	RequestID     string
	Body          string
}

// fakeBackend serves the refresh endpoint and an API endpoint.
type fakeBackend struct {
	t *testing.T

	refreshHits   atomic.Int32
	refreshStatus int
	refreshGate   chan struct{}
	freshToken    string

	// apiStatus decides the status for the n-th API call (0-based).
	apiStatus func(n int, r *http.Request) int

	mu   sync.Mutex
	seen []seenRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t:             t,
		refreshStatus: http.StatusOK,
		freshToken:    mintToken(t, "fresh", time.Now().Add(time.Hour)),
		apiStatus:     func(int, *http.Request) int { return http.StatusOK },
	}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token/refresh/" {
		b.refreshHits.Add(1)
		if b.refreshGate != nil {
			<-b.refreshGate
		}
		if b.refreshStatus != http.StatusOK {
			http.Error(w, `{"detail":"invalid"}`, b.refreshStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access": b.freshToken})
		return
	}

	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	n := len(b.seen)
	b.seen = append(b.seen, seenRequest{
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get(authhttp.RequestIDHeader),
		Body:          string(body),
	})
	b.mu.Unlock()

	status := b.apiStatus(n, r)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"games":[]}`))
}

func (b *fakeBackend) requests() []seenRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]seenRequest(nil), b.seen...)
}

// harness wires a coordinator, navigator and executor against a fake backend.
type harness struct {
	backend   *fakeBackend
	server    *httptest.Server
	store     *tokenstore.MemoryStore
	coord     *session.Coordinator
	executor  *authhttp.Executor
	navigated atomic.Int32
}

func newHarness(t *testing.T, backend *fakeBackend, access, refresh string) *harness {
	t.Helper()
	h := &harness{backend: backend}
	h.server = httptest.NewServer(backend)
	t.Cleanup(h.server.Close)

	h.store = tokenstore.NewMemoryStore()
	if access != "" {
		if err := h.store.SetPair(context.Background(), tokenstore.Pair{Access: access, Refresh: refresh}); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}

	client, err := session.NewClient(h.server.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	navigator := session.NewNavigator(session.OnRoutePrefix("/auth/"), func(context.Context) { h.navigated.Add(1) })
	h.coord, err = session.NewCoordinator(h.store, client, navigator)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	h.executor, err = authhttp.New(h.coord)
	if err != nil {
		t.Fatalf("authhttp.New: %v", err)
	}
	return h
}

func (h *harness) url(path string) string {
	return h.server.URL + path
}

func TestSendAttachesToken(t *testing.T) {
	backend := newFakeBackend(t)
	access := mintToken(t, "current", time.Now().Add(time.Hour))
	h := newHarness(t, backend, access, "refresh-1")

	resp, err := h.executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/games/"), nil))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	seen := backend.requests()
	if len(seen) != 1 {
		t.Fatalf("backend saw %d API calls, want 1", len(seen))
	}
	if seen[0].Authorization != "Bearer "+access {
		t.Errorf("Authorization = %q, want bearer of stored token", seen[0].Authorization)
	}
	if seen[0].RequestID == "" {
		t.Error("request id header missing")
	}
	if n := backend.refreshHits.Load(); n != 0 {
		t.Errorf("refresh endpoint hit %d times, want 0", n)
	}
}

func TestSendReturnsNonUnauthorizedResponsesAsIs(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError, http.StatusFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			backend := newFakeBackend(t)
			backend.apiStatus = func(int, *http.Request) int { return status }
			h := newHarness(t, backend, mintToken(t, "current", time.Now().Add(time.Hour)), "refresh-1")

			resp, err := h.executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/games/"), nil))
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			_ = resp.Body.Close()

			if resp.StatusCode != status {
				t.Errorf("status = %d, want %d", resp.StatusCode, status)
			}
			if n := len(backend.requests()); n != 1 {
				t.Errorf("backend saw %d API calls, want 1", n)
			}
			if n := backend.refreshHits.Load(); n != 0 {
				t.Errorf("refresh endpoint hit %d times, want 0", n)
			}
		})
	}
}

func TestSendRetriesOnceAfterUnauthorized(t *testing.T) {
	backend := newFakeBackend(t)
	backend.apiStatus = func(n int, _ *http.Request) int {
		if n == 0 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}
	stale := mintToken(t, "revoked-server-side", time.Now().Add(time.Hour))
	h := newHarness(t, backend, stale, "refresh-1")

	req := authhttp.Request{
		Method: http.MethodPost,
		URL:    h.url("/movies/watched/"),
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"id":42}`),
	}
	resp, err := h.executor.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	seen := backend.requests()
	if len(seen) != 2 {
		t.Fatalf("backend saw %d API calls, want 2", len(seen))
	}
	if seen[0].Authorization != "Bearer "+stale {
		t.Errorf("first attempt Authorization = %q, want stale token", seen[0].Authorization)
	}
	if seen[1].Authorization != "Bearer "+backend.freshToken {
		t.Errorf("retry Authorization = %q, want refreshed token", seen[1].Authorization)
	}
	if seen[0].RequestID == "" || seen[0].RequestID != seen[1].RequestID {
		t.Errorf("request ids = %q, %q, want equal and non-empty", seen[0].RequestID, seen[1].RequestID)
	}
	if seen[1].Body != `{"id":42}` {
		t.Errorf("retry body = %q, want replayed body", seen[1].Body)
	}
	if n := backend.refreshHits.Load(); n != 1 {
		t.Errorf("refresh endpoint hit %d times, want 1", n)
	}
	if n := h.navigated.Load(); n != 0 {
		t.Errorf("navigated %d times, want 0", n)
	}

	// The caller's request is untouched.
	if req.Header.Get("Authorization") != "" || req.Header.Get(authhttp.RequestIDHeader) != "" {
		t.Errorf("original request headers mutated: %v", req.Header)
	}
}

func TestSendSecondUnauthorizedEndsSession(t *testing.T) {
	backend := newFakeBackend(t)
	backend.apiStatus = func(int, *http.Request) int { return http.StatusUnauthorized }
	h := newHarness(t, backend, mintToken(t, "current", time.Now().Add(time.Hour)), "refresh-1")

	resp, err := h.executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/games/"), nil))
	if resp != nil {
		_ = resp.Body.Close()
		t.Errorf("Send() returned a response alongside session loss")
	}
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("Send() error = %v, want ErrSessionExpired", err)
	}
	if !errors.Is(err, authhttp.ErrTokenRejected) {
		t.Errorf("Send() error = %v, want ErrTokenRejected cause", err)
	}

	if n := len(backend.requests()); n != 2 {
		t.Errorf("backend saw %d API calls, want exactly 2", n)
	}
	if n := backend.refreshHits.Load(); n != 1 {
		t.Errorf("refresh endpoint hit %d times, want 1", n)
	}
	if n := h.navigated.Load(); n != 1 {
		t.Errorf("navigated %d times, want 1", n)
	}
	if _, err := h.store.Access(context.Background()); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("store not cleared after session loss: %v", err)
	}
}

func TestSendRefreshFailureAfterUnauthorized(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshStatus = http.StatusUnauthorized
	backend.apiStatus = func(int, *http.Request) int { return http.StatusUnauthorized }
	h := newHarness(t, backend, mintToken(t, "current", time.Now().Add(time.Hour)), "refresh-1")

	_, err := h.executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/games/"), nil))
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("Send() error = %v, want ErrSessionExpired", err)
	}
	if n := len(backend.requests()); n != 1 {
		t.Errorf("backend saw %d API calls, want 1 (no retry without a token)", n)
	}
	if n := h.navigated.Load(); n != 1 {
		t.Errorf("navigated %d times, want 1", n)
	}
}

func TestSendWithoutSessionMakesNoCalls(t *testing.T) {
	backend := newFakeBackend(t)
	h := newHarness(t, backend, "", "")

	_, err := h.executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/games/"), nil))
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("Send() error = %v, want ErrSessionExpired", err)
	}
	if n := len(backend.requests()); n != 0 {
		t.Errorf("backend saw %d API calls, want 0", n)
	}
	if n := backend.refreshHits.Load(); n != 0 {
		t.Errorf("refresh endpoint hit %d times, want 0", n)
	}
}

func TestConcurrentSendsShareOneRefresh(t *testing.T) {
	const senders = 3

	backend := newFakeBackend(t)
	backend.refreshGate = make(chan struct{})
	h := newHarness(t, backend, mintToken(t, "expired", time.Now().Add(-time.Minute)), "refresh-1")

	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/music/recent/"), nil))
			if err != nil {
				errs <- err
				return
			}
			_ = resp.Body.Close()
		}()
	}

	// Let the senders pile up behind the first refresh before answering it.
	time.Sleep(50 * time.Millisecond)
	close(backend.refreshGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Send() error = %v", err)
	}
	if n := backend.refreshHits.Load(); n != 1 {
		t.Errorf("refresh endpoint hit %d times, want exactly 1", n)
	}
	seen := backend.requests()
	if len(seen) != senders {
		t.Fatalf("backend saw %d API calls, want %d", len(seen), senders)
	}
	for _, s := range seen {
		if s.Authorization != "Bearer "+backend.freshToken {
			t.Errorf("Authorization = %q, want refreshed token", s.Authorization)
		}
	}
}

func TestTransportReplaysBodyOnRetry(t *testing.T) {
	backend := newFakeBackend(t)
	backend.apiStatus = func(n int, _ *http.Request) int {
		if n == 0 {
			return http.StatusUnauthorized
		}
		return http.StatusCreated
	}
	h := newHarness(t, backend, mintToken(t, "current", time.Now().Add(time.Hour)), "refresh-1")

	client := &http.Client{Transport: &authhttp.Transport{Executor: h.executor}}
	resp, err := client.Post(h.url("/games/backlog/"), "application/json", bytes.NewBufferString(`{"title":"Outer Wilds"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	seen := backend.requests()
	if len(seen) != 2 {
		t.Fatalf("backend saw %d API calls, want 2", len(seen))
	}
	for i, s := range seen {
		if s.Body != `{"title":"Outer Wilds"}` {
			t.Errorf("attempt %d body = %q, want original body", i, s.Body)
		}
	}
}

func TestSendLogsRetryThroughConfiguredLogger(t *testing.T) {
	backend := newFakeBackend(t)
	backend.apiStatus = func(n int, _ *http.Request) int {
		if n == 0 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}
	h := newHarness(t, backend, mintToken(t, "current", time.Now().Add(time.Hour)), "refresh-1")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	executor, err := authhttp.New(h.coord, authhttp.WithLogger(logger))
	if err != nil {
		t.Fatalf("authhttp.New: %v", err)
	}

	resp, err := executor.Send(context.Background(), authhttp.NewRequest(http.MethodGet, h.url("/games/"), nil))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()

	if !strings.Contains(buf.String(), "access token rejected") {
		t.Errorf("log output = %q, want retry logged", buf.String())
	}
}

func TestNewRequiresSessions(t *testing.T) {
	if _, err := authhttp.New(nil); err == nil {
		t.Error("New(nil) error = nil, want error")
	}
}
