package authhttp

import (
	"fmt"
	"io"
	"net/http"
)

// Transport is an http.RoundTripper that sends every request through an Executor.
// Request bodies are buffered so the single retry can replay them.
type Transport struct {
	Executor *Executor
}

// Compile-time check that Transport implements http.RoundTripper.
var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		// RoundTrip must close the body on all paths
		defer func() { _ = req.Body.Close() }()
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		body = b
	}

	return t.Executor.Send(req.Context(), Request{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
}
