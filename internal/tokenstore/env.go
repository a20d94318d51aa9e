package tokenstore

import (
	"context"
	"fmt"
	"os"
)

// EnvSource provides read-only access to a token pair held in environment variables.
// It cannot serve as a Store: a failed refresh must be able to clear the pair.
type EnvSource struct {
	accessKey  string
	refreshKey string
	lookup     func(string) (string, bool)
}

// EnvSourceOption configures an EnvSource.
type EnvSourceOption func(*EnvSource)

// WithLookup replaces os.LookupEnv, e.g. to read from an environ snapshot.
func WithLookup(lookup func(string) (string, bool)) EnvSourceOption {
	return func(e *EnvSource) {
		e.lookup = lookup
	}
}

// NewEnvSource creates an EnvSource reading the given environment variables.
// Returns error if either variable name is empty.
func NewEnvSource(accessKey, refreshKey string, opts ...EnvSourceOption) (*EnvSource, error) {
	if accessKey == "" || refreshKey == "" {
		return nil, fmt.Errorf("environment keys cannot be empty")
	}

	e := &EnvSource{
		accessKey:  accessKey,
		refreshKey: refreshKey,
		lookup:     os.LookupEnv,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Load returns the pair from the environment. Returns error if either variable is unset or empty.
func (e *EnvSource) Load(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	access, ok := e.lookup(e.accessKey)
	if !ok || access == "" {
		return Pair{}, fmt.Errorf("environment variable %s not set", e.accessKey)
	}
	refresh, ok := e.lookup(e.refreshKey)
	if !ok || refresh == "" {
		return Pair{}, fmt.Errorf("environment variable %s not set", e.refreshKey)
	}

	return Pair{Access: access, Refresh: refresh}, nil
}
