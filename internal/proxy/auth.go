package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// maxLoginBody bounds POST /auth/login payloads.
const maxLoginBody = 64 << 10

// SessionResponse describes the session to the dashboard.
type SessionResponse struct {
	State         session.State `json:"state"`
	Authenticated bool          `json:"authenticated"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`

	// SessionExpired is set once after the session ended, so the login page
	// can tell the user why they are there.
	SessionExpired bool `json:"session_expired"`
}

// LoginRequest carries either a token pair or user credentials.
type LoginRequest struct {
	Access   string `json:"access,omitempty"`
	Refresh  string `json:"refresh,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// handleSession reports the session state, renewing the access token if a
// refresh token is available.
func (p *Proxy) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := SessionResponse{}

	state := p.sessions.State(ctx)
	if state != session.Unauthenticated && state != session.RefreshFailed {
		token, err := p.sessions.Token(ctx)
		switch {
		case err == nil:
			resp.Authenticated = true
			if !token.Expiry.IsZero() {
				expiresAt := token.Expiry.UTC()
				resp.ExpiresAt = &expiresAt
			}
		case errors.Is(err, session.ErrSessionExpired):
			// Reported through the state below
		default:
			slog.ErrorContext(ctx, "failed to read session", "error", err)
			writeJSONError(ctx, w, "failed to read session", http.StatusInternalServerError)
			return
		}
		state = p.sessions.State(ctx)
	}

	resp.State = state
	if p.expiryFlag != nil {
		resp.SessionExpired = p.expiryFlag.ConsumeExpired()
	}
	writeJSON(ctx, w, resp, http.StatusOK)
}

// handleLogin starts a session from a token pair or, when an Obtainer is
// configured, from user credentials.
func (p *Proxy) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}

	pair := tokenstore.Pair{Access: req.Access, Refresh: req.Refresh}
	if req.Username != "" {
		if p.obtainer == nil {
			writeJSONError(ctx, w, "credential login not supported", http.StatusBadRequest)
			return
		}

		var err error
		pair, err = p.obtainer.Obtain(ctx, req.Username, req.Password)
		if errors.Is(err, session.ErrInvalidCredentials) {
			writeJSONError(ctx, w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "failed to obtain tokens", "error", err)
			writeJSONError(ctx, w, "backend unavailable", http.StatusBadGateway)
			return
		}
	}

	if err := p.sessions.Login(ctx, pair); err != nil {
		if errors.Is(err, tokenstore.ErrIncompletePair) {
			writeJSONError(ctx, w, "access and refresh tokens required", http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to store session", "error", err)
		writeJSONError(ctx, w, "failed to store session", http.StatusInternalServerError)
		return
	}

	writeJSON(ctx, w, SessionResponse{
		State:         p.sessions.State(ctx),
		Authenticated: true,
	}, http.StatusOK)
}

func (p *Proxy) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := p.sessions.Logout(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to end session", "error", err)
		writeJSONError(ctx, w, "failed to end session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
