package kvstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/kvstore"
)

func TestMemory_GetSetRemove(t *testing.T) {
	store := kvstore.NewMemory()
	ctx := context.Background()

	// Missing key is (nil, nil), matching the contract.
	value, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Set(ctx, "k1", []byte(`{"a":1}`)))
	value, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))

	// Overwrite wins.
	require.NoError(t, store.Set(ctx, "k1", []byte(`{"a":2}`)))
	value, _ = store.Get(ctx, "k1")
	assert.JSONEq(t, `{"a":2}`, string(value))

	require.NoError(t, store.Remove(ctx, "k1"))
	value, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemory_Keys(t *testing.T) {
	store := kvstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "snap:2", []byte(`2`)))
	require.NoError(t, store.Set(ctx, "snap:1", []byte(`1`)))
	require.NoError(t, store.Set(ctx, "other:1", []byte(`0`)))

	keys, err := store.Keys(ctx, "snap:")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap:1", "snap:2"}, keys)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	store := kvstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("abc")))
	value, _ := store.Get(ctx, "k")
	value[0] = 'z'

	fresh, _ := store.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), fresh)
}
