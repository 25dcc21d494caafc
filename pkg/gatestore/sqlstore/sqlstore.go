// Package sqlstore implements gatestore.RelationalStore on top of
// database/sql, using the pure-Go modernc.org/sqlite driver. It owns the
// `token` and `token_change_history` tables described in spec.md §6.
// Schema migration tooling is out of scope; the schema is created inline on
// Open.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/tokengateway/core/pkg/gatestore"
	"github.com/tokengateway/core/pkg/gatetoken"
)

const schema = `
CREATE TABLE IF NOT EXISTS token (
	key        TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	type       TEXT NOT NULL,
	parent_key TEXT NOT NULL,
	service    TEXT NOT NULL DEFAULT '',
	scopes     TEXT NOT NULL DEFAULT '',
	expires    INTEGER NOT NULL,
	created    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_parent ON token(parent_key, type);

CREATE TABLE IF NOT EXISTS token_change_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	token      TEXT NOT NULL,
	username   TEXT NOT NULL,
	type       TEXT NOT NULL,
	parent     TEXT NOT NULL DEFAULT '',
	scopes     TEXT NOT NULL DEFAULT '',
	service    TEXT NOT NULL DEFAULT '',
	expires    INTEGER NOT NULL,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	event_time INTEGER NOT NULL
);
`

// Store is a gatestore.RelationalStore backed by database/sql.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at dsn, applying
// the schema. dsn is passed straight to modernc.org/sqlite, e.g. a file path
// or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func scopeKey(scopes []string) string {
	sorted := append([]string(nil), scopes...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return strings.Join(sorted, ",")
}

// AddToken inserts a new token row.
func (s *Store) AddToken(ctx context.Context, rec gatestore.TokenRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token (key, username, type, parent_key, service, scopes, expires, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.Username, string(rec.TokenType), rec.ParentKey, rec.Service,
		scopeKey(rec.Scopes), rec.Expires.Unix(), rec.Created.Unix(),
	)
	return err
}

// FindNotebookTokenKey returns an existing notebook token's key descended
// from parentKey with expires >= minExpires, if any.
func (s *Store) FindNotebookTokenKey(ctx context.Context, parentKey string, minExpires time.Time) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key FROM token
		WHERE parent_key = ? AND type = ? AND expires >= ?
		ORDER BY expires DESC LIMIT 1`,
		parentKey, string(gatetoken.TypeNotebook), minExpires.Unix(),
	)
	var key string
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return key, true, nil
}

// FindInternalTokenKey returns an existing internal token's key descended
// from parentKey for the given service and scope set with expires >=
// minExpires, if any.
func (s *Store) FindInternalTokenKey(ctx context.Context, parentKey, service string, scopes []string, minExpires time.Time) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key FROM token
		WHERE parent_key = ? AND type = ? AND service = ? AND scopes = ? AND expires >= ?
		ORDER BY expires DESC LIMIT 1`,
		parentKey, string(gatetoken.TypeInternal), service, scopeKey(scopes), minExpires.Unix(),
	)
	var key string
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return key, true, nil
}

// AddHistory appends an entry to the append-only token_change_history table.
func (s *Store) AddHistory(ctx context.Context, entry gatetoken.TokenChangeHistoryEntry) error {
	scopesJSON, err := json.Marshal(entry.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_change_history
			(token, username, type, parent, scopes, service, expires, actor, action, ip_address, event_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TokenKey, entry.Username, string(entry.TokenType), entry.ParentKey, string(scopesJSON),
		entry.Service, entry.Expires.Unix(), entry.Actor, string(entry.Action), entry.IPAddress,
		entry.EventTime.Unix(),
	)
	return err
}
