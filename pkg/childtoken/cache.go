package childtoken

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tokengateway/core/pkg/gatetoken"
)

// cacheKey identifies a slot in the in-memory notebook/internal token cache.
// Notebook tokens are keyed on the parent token and its expiration; internal
// tokens add the service name and the requested scopes (spec.md §9 /
// token_cache.py docstring): changing a parent's expiration may allow for a
// longer child token, so the parent's expiration is part of the key and a
// stale cache entry is never returned across such a change.
type cacheKey string

func notebookCacheKey(parentKey string, parentExpires time.Time) cacheKey {
	return cacheKey(parentKey + "|" + parentExpires.UTC().Format(time.RFC3339Nano))
}

func internalCacheKey(parentKey string, parentExpires time.Time, service string, scopes []string) cacheKey {
	return cacheKey(parentKey + "|" + parentExpires.UTC().Format(time.RFC3339Nano) + "|" + service + "|" + sortedScopeString(scopes))
}

func sortedScopeString(scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// memCache is a process-local cache from cacheKey to a minted Token. It is
// locked only for map access, not held across I/O (spec.md §9's per-user
// mutex covers the I/O path; this lock is purely to protect the map).
type memCache struct {
	mu      sync.Mutex
	entries map[cacheKey]gatetoken.Token
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[cacheKey]gatetoken.Token)}
}

func (c *memCache) get(key cacheKey) (gatetoken.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.entries[key]
	return tok, ok
}

func (c *memCache) store(key cacheKey, tok gatetoken.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = tok
}

func (c *memCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]gatetoken.Token)
}
