package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// sessionExpiredMessage is the error text every session loss reports.
const sessionExpiredMessage = "session expired"

// ErrorResponse is the JSON body of every non-session error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionExpiredResponse is returned to the dashboard when the session ended.
// Redirect is set only on the response of the request that caused navigation.
type SessionExpiredResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// writeJSON writes data as the JSON body with the given status code.
// Encoding failures are logged; status and headers are already sent by then.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError writes an ErrorResponse, the JSON counterpart of http.Error.
func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, ErrorResponse{Error: message}, status)
}

// writeSessionExpired answers 401 for a lost session. The login redirect is
// included only if this request triggered the navigation.
func writeSessionExpired(ctx context.Context, w http.ResponseWriter, loginPath string) {
	resp := SessionExpiredResponse{Error: sessionExpiredMessage}
	if navigated(ctx) {
		resp.Redirect = loginPath
	}
	writeJSON(ctx, w, resp, http.StatusUnauthorized)
}
