// Package gatestore defines the storage interfaces the token gateway issues
// and caches data through: an opaque K/V store keyed by token/code key
// (spec.md §6, "K/V layout") and a relational store for the token and
// token-change-history tables (spec.md §6, "Relational layout"). Concrete
// backends live in the redisstore and sqlstore subpackages.
package gatestore

import (
	"context"
	"time"

	"github.com/tokengateway/core/pkg/gatetoken"
)

// KVStore is an opaque, TTL-bearing key/value store. Keys are either
// "token:<key>" (serialized TokenData) or "oidc:<code_key>" (an
// AEAD-encrypted authorization-code envelope); this package does not care
// which, it only moves bytes.
type KVStore interface {
	// Get returns the value stored under key, or (nil, false) if absent or
	// expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key with the given TTL. A zero TTL means no
	// expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// TokenRecord is one row of the conceptual `token` table (spec.md §6):
// enough to look up an existing child token by its lineage without needing
// to deserialize the K/V-stored TokenData.
type TokenRecord struct {
	Key       string
	Username  string
	TokenType gatetoken.TokenType
	ParentKey string
	Service   string
	Scopes    []string
	Expires   time.Time
	Created   time.Time
}

// RelationalStore is the backing store for the `token` and
// `token_change_history` tables described in spec.md §6.
type RelationalStore interface {
	// AddToken inserts a new token row. Called after the K/V entry has been
	// written, per spec.md §9's write ordering.
	AddToken(ctx context.Context, rec TokenRecord) error

	// FindNotebookTokenKey returns the key of an existing notebook token
	// descended from parentKey whose expiration is at least minExpires, or
	// ("", false) if none exists.
	FindNotebookTokenKey(ctx context.Context, parentKey string, minExpires time.Time) (string, bool, error)

	// FindInternalTokenKey returns the key of an existing internal token
	// descended from parentKey for the given service and scopes (scopes
	// compared as an exact set) whose expiration is at least minExpires, or
	// ("", false) if none exists.
	FindInternalTokenKey(ctx context.Context, parentKey, service string, scopes []string, minExpires time.Time) (string, bool, error)

	// AddHistory appends an entry to the append-only change history.
	AddHistory(ctx context.Context, entry gatetoken.TokenChangeHistoryEntry) error
}
