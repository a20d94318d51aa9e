// Package authhttp performs backend requests on behalf of feature code.
//
// Executor.Send attaches the current access token and, if the backend answers
// 401, renews the token and retries exactly once. A second 401 ends the
// session. Transport exposes the same protocol as an http.RoundTripper.
package authhttp
