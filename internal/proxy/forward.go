package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/florianilch/mediadeck/internal/authhttp"
	"github.com/florianilch/mediadeck/internal/session"
)

// apiPrefix is stripped before forwarding: /api/games/ → <backend>/games/.
const apiPrefix = "/api"

// allowedHeaders defines the inbound headers forwarded to the backend.
// Credentials never pass through; the session token is attached by the transport.
var allowedHeaders = map[string]bool{
	"Accept":            true,
	"Accept-Encoding":   true,
	"Accept-Language":   true,
	"Content-Type":      true,
	"Content-Length":    true,
	"If-Match":          true,
	"If-None-Match":     true,
	"If-Modified-Since": true,

	// Lets the dashboard correlate its own logs with the backend's
	authhttp.RequestIDHeader: true,

	// W3C Trace Context for distributed tracing correlation.
	"Traceparent": true,
	"Tracestate":  true,
}

type navigationKey struct{}

// withNavigationMarker attaches a marker Navigate sets when this request
// caused the redirect to the login surface.
func withNavigationMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, navigationKey{}, new(atomic.Bool))
}

func navigated(ctx context.Context) bool {
	marker, ok := ctx.Value(navigationKey{}).(*atomic.Bool)
	return ok && marker.Load()
}

// Navigate is the navigation callback for session.Navigator when the
// dashboard is served by this proxy. It tags the triggering request so its
// 401 carries the login redirect.
func Navigate(ctx context.Context) {
	if marker, ok := ctx.Value(navigationKey{}).(*atomic.Bool); ok {
		marker.Store(true)
	}
	slog.InfoContext(ctx, "session ended, redirecting to login", "route", session.RouteFrom(ctx))
}

func newForwarder(backend *url.URL, transport http.RoundTripper, loginPath string) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, apiPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(backend)

			filtered := make(http.Header, len(pr.Out.Header))
			for key, values := range pr.Out.Header {
				if allowedHeaders[key] {
					filtered[key] = values
				}
			}
			pr.Out.Header = filtered
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			switch {
			case errors.Is(err, session.ErrSessionExpired):
				writeSessionExpired(ctx, w, loginPath)
			case errors.Is(err, context.Canceled):
				// Client went away; nobody reads the response
				w.WriteHeader(http.StatusBadGateway)
			default:
				slog.ErrorContext(ctx, "backend request failed", "error", err)
				writeJSONError(ctx, w, "backend unavailable", http.StatusBadGateway)
			}
		},
	}
}
