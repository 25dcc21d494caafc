package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokengateway/core/pkg/gatestore"
	"github.com/tokengateway/core/pkg/gatetoken"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndFindNotebookToken(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.AddToken(ctx, gatestore.TokenRecord{
		Key: "notebook-1", Username: "alice", TokenType: gatetoken.TypeNotebook,
		ParentKey: "parent-1", Expires: now.Add(time.Hour), Created: now,
	}))

	key, ok, err := s.FindNotebookTokenKey(ctx, "parent-1", now.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "notebook-1", key)

	_, ok, err = s.FindNotebookTokenKey(ctx, "parent-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.FindNotebookTokenKey(ctx, "no-such-parent", now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddAndFindInternalToken(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.AddToken(ctx, gatestore.TokenRecord{
		Key: "internal-1", Username: "alice", TokenType: gatetoken.TypeInternal,
		ParentKey: "parent-1", Service: "svc-a", Scopes: []string{"read:all", "exec:admin"},
		Expires: now.Add(time.Hour), Created: now,
	}))

	key, ok, err := s.FindInternalTokenKey(ctx, "parent-1", "svc-a", []string{"exec:admin", "read:all"}, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "internal-1", key)

	_, ok, err = s.FindInternalTokenKey(ctx, "parent-1", "svc-b", []string{"read:all", "exec:admin"}, now)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.FindInternalTokenKey(ctx, "parent-1", "svc-a", []string{"read:all"}, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddHistory(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	err := s.AddHistory(ctx, gatetoken.TokenChangeHistoryEntry{
		TokenKey: "internal-1", Username: "alice", TokenType: gatetoken.TypeInternal,
		ParentKey: "parent-1", Scopes: []string{"read:all"}, Service: "svc-a",
		Expires: now.Add(time.Hour), Actor: "alice", Action: gatetoken.ActionCreate,
		IPAddress: "127.0.0.1", EventTime: now,
	})
	require.NoError(t, err)
}
