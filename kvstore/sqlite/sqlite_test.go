package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/kvstore/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_GetSetRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Set(ctx, "k1", []byte(`{"a":1}`)))
	value, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))

	// Upsert replaces.
	require.NoError(t, store.Set(ctx, "k1", []byte(`{"a":2}`)))
	value, _ = store.Get(ctx, "k1")
	assert.JSONEq(t, `{"a":2}`, string(value))

	require.NoError(t, store.Remove(ctx, "k1"))
	value, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSQLite_KeysByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ledger:safety:b", []byte(`1`)))
	require.NoError(t, store.Set(ctx, "ledger:safety:a", []byte(`1`)))
	require.NoError(t, store.Set(ctx, "ledger:app-data", []byte(`1`)))

	keys, err := store.Keys(ctx, "ledger:safety:")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger:safety:a", "ledger:safety:b"}, keys)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	value, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}
