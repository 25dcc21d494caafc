// Package childtoken implements the child-token cache and issuer (spec.md
// §4.3-4.4, C5/C6): minting short-lived internal and notebook tokens from a
// parent token, reusing a cached or previously-issued child token whenever
// one is still valid.
package childtoken

import (
	"context"
	"time"

	"github.com/tokengateway/core/pkg/gateclock"
	"github.com/tokengateway/core/pkg/gatestore"
	"github.com/tokengateway/core/pkg/gatetoken"
	"github.com/tokengateway/core/pkg/logger"
)

const tokenKVPrefix = "token:"

// Config configures the child-token service.
type Config struct {
	// TokenLifetime is the nominal lifetime of a freshly-minted child
	// token, capped by the parent's own expiration.
	TokenLifetime time.Duration
}

// Service issues and caches internal and notebook child tokens.
type Service struct {
	cfg   Config
	kv    gatestore.KVStore
	rel   gatestore.RelationalStore
	clock gateclock.Clock
	rnd   gateclock.RandReader

	locks         *keyMutex
	internalCache *memCache
	notebookCache *memCache
}

// New returns a child-token Service.
func New(cfg Config, kv gatestore.KVStore, rel gatestore.RelationalStore, clock gateclock.Clock, rnd gateclock.RandReader) *Service {
	return &Service{
		cfg: cfg, kv: kv, rel: rel, clock: clock, rnd: rnd,
		locks:         newKeyMutex(),
		internalCache: newMemCache(),
		notebookCache: newMemCache(),
	}
}

// Clear invalidates the in-memory caches.
func (s *Service) Clear() {
	s.internalCache.clear()
	s.notebookCache.clear()
}

// GetInternalToken returns a cached, database-matched, or newly-minted
// internal token scoped to service and scopes, descended from parent
// (spec.md §4.3 get_internal_token).
func (s *Service) GetInternalToken(ctx context.Context, parent gatetoken.TokenData, service string, scopes []string, ipAddress string) (gatetoken.Token, error) {
	unlock := s.locks.Lock(parent.Username)
	defer unlock()

	key := internalCacheKey(parent.Token.Key, parent.Expires, service, scopes)
	if tok, ok := s.internalCache.get(key); ok && s.isTokenValid(ctx, tok, scopes) {
		return tok, nil
	}

	tok, err := s.createInternalToken(ctx, parent, service, scopes, ipAddress)
	if err != nil {
		return gatetoken.Token{}, err
	}
	s.internalCache.store(key, tok)
	return tok, nil
}

// GetNotebookToken returns a cached, database-matched, or newly-minted
// notebook token carrying parent's scopes (spec.md §4.3 get_notebook_token).
func (s *Service) GetNotebookToken(ctx context.Context, parent gatetoken.TokenData, ipAddress string) (gatetoken.Token, error) {
	unlock := s.locks.Lock(parent.Username)
	defer unlock()

	key := notebookCacheKey(parent.Token.Key, parent.Expires)
	if tok, ok := s.notebookCache.get(key); ok && s.isTokenValid(ctx, tok, nil) {
		return tok, nil
	}

	tok, err := s.createNotebookToken(ctx, parent, ipAddress)
	if err != nil {
		return gatetoken.Token{}, err
	}
	s.notebookCache.store(key, tok)
	return tok, nil
}

// isTokenValid reports whether tok is still usable from the cache: present
// in the K/V store, with scopes a subset of requiredScopes (when non-nil),
// and with more than half of its nominal lifetime remaining (spec.md §8
// "Capability half-life"). A K/V read failure is treated as a cache miss,
// not an error, per spec.md §7's retry-by-falling-through-to-issuance rule.
func (s *Service) isTokenValid(ctx context.Context, tok gatetoken.Token, requiredScopes []string) bool {
	raw, ok, err := s.kv.Get(ctx, tokenKVPrefix+tok.Key)
	if err != nil {
		logger.Debugf("childtoken: K/V lookup failed for %s, treating as cache miss: %v", tok.Key, err)
		return false
	}
	if !ok {
		return false
	}
	data, err := gatetoken.UnmarshalTokenData(raw)
	if err != nil {
		logger.Debugf("childtoken: corrupt K/V entry for %s, treating as cache miss: %v", tok.Key, err)
		return false
	}
	if requiredScopes != nil && !data.HasSubsetScopes(requiredScopes) {
		return false
	}
	if data.Expires.IsZero() {
		return true
	}
	lifetime := data.Expires.Sub(data.Created)
	remaining := data.Expires.Sub(s.clock.Now())
	return remaining > lifetime/2
}

// minExpires returns the minimum acceptable expiration for a new child
// token: halfway through a full token lifetime from now, capped at the
// parent's own expiration (spec.md §9's symmetric half-life policy).
func (s *Service) minExpires(parent gatetoken.TokenData) time.Time {
	min := s.clock.Now().Add(s.cfg.TokenLifetime / 2)
	if !parent.Expires.IsZero() && min.After(parent.Expires) {
		min = parent.Expires
	}
	return min
}

func (s *Service) createInternalToken(ctx context.Context, parent gatetoken.TokenData, service string, scopes []string, ipAddress string) (gatetoken.Token, error) {
	minExp := s.minExpires(parent)
	if key, found, err := s.rel.FindInternalTokenKey(ctx, parent.Token.Key, service, scopes, minExp); err != nil {
		return gatetoken.Token{}, err
	} else if found {
		if raw, ok, err := s.kv.Get(ctx, tokenKVPrefix+key); err == nil && ok {
			if data, err := gatetoken.UnmarshalTokenData(raw); err == nil {
				return data.Token, nil
			}
		}
		// K/V miss or corrupt entry for a DB-matched key: fall through to
		// minting a fresh token rather than aborting the request.
	}

	tok, err := gatetoken.NewToken(s.rnd)
	if err != nil {
		return gatetoken.Token{}, err
	}
	created := s.clock.Now()
	expires := created.Add(s.cfg.TokenLifetime)
	if !parent.Expires.IsZero() && parent.Expires.Before(expires) {
		expires = parent.Expires
	}

	data := gatetoken.TokenData{
		Token: tok, Username: parent.Username, TokenType: gatetoken.TypeInternal,
		Scopes: scopes, Created: created, Expires: expires, ParentKey: parent.Token.Key,
		Service: service, Name: parent.Name, Email: parent.Email, UID: parent.UID, Groups: parent.Groups,
	}
	if err := s.persist(ctx, data, service, ipAddress); err != nil {
		return gatetoken.Token{}, err
	}

	logger.Infof("childtoken: created new internal token key=%s service=%s", tok.Key, service)
	return tok, nil
}

func (s *Service) createNotebookToken(ctx context.Context, parent gatetoken.TokenData, ipAddress string) (gatetoken.Token, error) {
	minExp := s.minExpires(parent)
	if key, found, err := s.rel.FindNotebookTokenKey(ctx, parent.Token.Key, minExp); err != nil {
		return gatetoken.Token{}, err
	} else if found {
		if raw, ok, err := s.kv.Get(ctx, tokenKVPrefix+key); err == nil && ok {
			if data, err := gatetoken.UnmarshalTokenData(raw); err == nil {
				return data.Token, nil
			}
		}
	}

	tok, err := gatetoken.NewToken(s.rnd)
	if err != nil {
		return gatetoken.Token{}, err
	}
	created := s.clock.Now()
	expires := created.Add(s.cfg.TokenLifetime)
	if !parent.Expires.IsZero() && parent.Expires.Before(expires) {
		expires = parent.Expires
	}

	data := gatetoken.TokenData{
		Token: tok, Username: parent.Username, TokenType: gatetoken.TypeNotebook,
		Scopes: parent.Scopes, Created: created, Expires: expires, ParentKey: parent.Token.Key,
		Name: parent.Name, Email: parent.Email, UID: parent.UID, Groups: parent.Groups,
	}
	if err := s.persist(ctx, data, "", ipAddress); err != nil {
		return gatetoken.Token{}, err
	}

	logger.Infof("childtoken: created new notebook token key=%s", tok.Key)
	return tok, nil
}

// persist writes data in the order spec.md §9 mandates: K/V, then the
// relational token row, then the audit history entry. A history-write
// failure aborts issuance (spec.md §7: "no unaudited tokens").
func (s *Service) persist(ctx context.Context, data gatetoken.TokenData, service, ipAddress string) error {
	raw, err := gatetoken.MarshalTokenData(data)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !data.Expires.IsZero() {
		ttl = data.Expires.Sub(s.clock.Now())
	}
	if err := s.kv.Set(ctx, tokenKVPrefix+data.Token.Key, raw, ttl); err != nil {
		return err
	}

	if err := s.rel.AddToken(ctx, gatestore.TokenRecord{
		Key: data.Token.Key, Username: data.Username, TokenType: data.TokenType,
		ParentKey: data.ParentKey, Service: service, Scopes: data.Scopes,
		Expires: data.Expires, Created: data.Created,
	}); err != nil {
		return err
	}

	return s.rel.AddHistory(ctx, gatetoken.TokenChangeHistoryEntry{
		TokenKey: data.Token.Key, Username: data.Username, TokenType: data.TokenType,
		ParentKey: data.ParentKey, Scopes: data.Scopes, Service: service,
		Expires: data.Expires, Actor: data.Username, Action: gatetoken.ActionCreate,
		IPAddress: ipAddress, EventTime: data.Created,
	})
}
