// Package expiry decides whether a JWT-shaped token is still usable.
//
// Tokens are decoded without signature verification: the client only needs the
// exp claim to decide when to renew, the backend remains the authority on
// whether a token is accepted. Malformed input is never an error here, it is
// simply not valid.
package expiry
