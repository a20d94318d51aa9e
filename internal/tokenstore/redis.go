package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the pair as two keys in Redis, "<prefix>token" and "<prefix>refresh_token".
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore using client. The prefix namespaces the keys.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing redis client")
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

func (r *RedisStore) key(name string) string {
	return r.prefix + name
}

func (r *RedisStore) Access(ctx context.Context) (string, error) {
	return r.get(ctx, KeyAccess)
}

func (r *RedisStore) Refresh(ctx context.Context) (string, error) {
	return r.get(ctx, KeyRefresh)
}

func (r *RedisStore) get(ctx context.Context, name string) (string, error) {
	value, err := r.client.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return value, nil
}

// SetPair writes both keys inside MULTI/EXEC.
func (r *RedisStore) SetPair(ctx context.Context, pair Pair) error {
	if !pair.complete() {
		return ErrIncompletePair
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(KeyAccess), pair.Access, 0)
		pipe.Set(ctx, r.key(KeyRefresh), pair.Refresh, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing token pair: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key(KeyAccess), r.key(KeyRefresh)).Err(); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}
