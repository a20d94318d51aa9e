package authhttp

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// Request describes one backend call. It is never mutated; every attempt is
// built from a copy.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest creates a Request without headers.
func NewRequest(method, url string, body []byte) Request {
	return Request{Method: method, URL: url, Body: body}
}

// withAuthorization returns a copy carrying a bearer token.
func (r Request) withAuthorization(accessToken string) Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(&http.Request{Header: out.Header})
	return out
}

// withHeader returns a copy with key set to value.
func (r Request) withHeader(key, value string) Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set(key, value)
	return out
}

// httpRequest builds a fresh *http.Request. The body reader is new each time so
// an attempt can be replayed.
func (r Request) httpRequest(ctx context.Context) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return req, nil
}
