package tokenstore

import (
	"context"
	"errors"
)

// Keys under which the pair is persisted.
const (
	KeyAccess  = "token"
	KeyRefresh = "refresh_token"
)

var (
	// ErrNotFound is returned when the requested token is not stored.
	ErrNotFound = errors.New("token not found")

	// ErrIncompletePair is returned by SetPair when either token is empty.
	ErrIncompletePair = errors.New("incomplete token pair")
)

// Pair is an access token together with the refresh token that renews it.
type Pair struct {
	Access  string `json:"token"`
	Refresh string `json:"refresh_token"`
}

// complete reports whether both tokens are present.
func (p Pair) complete() bool {
	return p.Access != "" && p.Refresh != ""
}

// Store reads and writes the token pair to persistent storage.
//
// A store holds either a complete pair or nothing.
type Store interface {
	// Access returns the stored access token, or ErrNotFound.
	Access(ctx context.Context) (string, error)

	// Refresh returns the stored refresh token, or ErrNotFound.
	Refresh(ctx context.Context) (string, error)

	// SetPair replaces both tokens in one write. Returns ErrIncompletePair
	// if either token is empty.
	SetPair(ctx context.Context, pair Pair) error

	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
