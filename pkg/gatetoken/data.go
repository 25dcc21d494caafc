package gatetoken

import (
	"encoding/json"
	"time"
)

// TokenType enumerates the kinds of token the gateway issues.
type TokenType string

// Token types, per spec.md §3.
const (
	TypeSession  TokenType = "session"
	TypeUser     TokenType = "user"
	TypeNotebook TokenType = "notebook"
	TypeInternal TokenType = "internal"
	TypeService  TokenType = "service"
)

// TokenData is the metadata associated with a Token in the K/V store.
// It is created atomically with its Token, persisted under key
// "token:<key>", and never mutated after creation.
type TokenData struct {
	Token     Token
	Username  string
	TokenType TokenType
	Scopes    []string
	Created   time.Time
	Expires   time.Time

	// ParentKey is the key of the token this one was minted from, if any.
	// Forms a forest rooted at session tokens (spec.md §3 "Relationships").
	ParentKey string

	// Service names the downstream service an internal token is scoped to.
	// Empty for session/user/notebook tokens.
	Service string

	Name   string
	Email  string
	UID    string
	Groups []string
}

// MarshalTokenData serializes d for storage under its K/V key "token:<key>"
// (spec.md §6).
func MarshalTokenData(d TokenData) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalTokenData deserializes a K/V value previously produced by
// MarshalTokenData.
func UnmarshalTokenData(raw []byte) (TokenData, error) {
	var d TokenData
	if err := json.Unmarshal(raw, &d); err != nil {
		return TokenData{}, err
	}
	return d, nil
}

// HasSubsetScopes reports whether t's scopes are a subset of requested,
// i.e. t can be returned in place of a token that asked for requested.
func (t TokenData) HasSubsetScopes(requested []string) bool {
	want := make(map[string]struct{}, len(requested))
	for _, s := range requested {
		want[s] = struct{}{}
	}
	for _, s := range t.Scopes {
		if _, ok := want[s]; !ok {
			return false
		}
	}
	return true
}

// TokenChangeAction enumerates the kinds of audit action a
// TokenChangeHistoryEntry can record.
type TokenChangeAction string

// Token change actions. This fragment only ever appends "create" entries
// for child tokens; edit/revoke/expire are carried in the type so the
// history table's shape matches a complete system without a migration.
const (
	ActionCreate TokenChangeAction = "create"
	ActionEdit   TokenChangeAction = "edit"
	ActionRevoke TokenChangeAction = "revoke"
	ActionExpire TokenChangeAction = "expire"
)

// TokenChangeHistoryEntry is an append-only audit record, written in the
// same logical transaction as the token-store insert (spec.md §3).
type TokenChangeHistoryEntry struct {
	TokenKey  string
	Username  string
	TokenType TokenType
	ParentKey string
	Scopes    []string
	Service   string // empty unless TokenType == TypeInternal
	Expires   time.Time
	Actor     string
	Action    TokenChangeAction
	IPAddress string
	EventTime time.Time
}
