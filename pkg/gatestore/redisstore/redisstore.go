// Package redisstore implements gatestore.KVStore on top of Redis, per
// spec.md §6's K/V layout ("token:<key>" and "oidc:<code_key>" entries, each
// carrying a TTL matching their expiration).
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokengateway/core/pkg/logger"
)

// Store is a gatestore.KVStore backed by a redis.Cmdable. Callers construct
// and own the underlying client (or, in tests, a miniredis-backed one) and
// pass it in, so this package has no opinion about connection pooling or
// addressing.
type Store struct {
	client redis.Cmdable
}

// New returns a Store using client for all operations.
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// Get returns the value stored under key, or (nil, false, nil) if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key with the given TTL. A zero TTL means no
// expiration, matching redis.Cmdable.Set's own convention.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return err
	}
	logger.Debugf("redisstore: stored key %s (ttl=%s)", key, ttl)
	return nil
}

// Delete removes key. Deleting an absent key is not an error, matching
// Redis's own DEL semantics.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
