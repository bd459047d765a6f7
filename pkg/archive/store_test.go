package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTripsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash, err := store.Store(ctx, []byte("committed flow execution"))
	require.NoError(t, err)
	require.True(t, len(hash) > 7 && hash[:7] == "sha256:")

	again, err := store.Store(ctx, []byte("committed flow execution"))
	require.NoError(t, err)
	require.Equal(t, hash, again)

	ok, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, "committed flow execution", string(got))

	require.NoError(t, store.Delete(ctx, hash))
	ok, err = store.Exists(ctx, hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreGetUnknownHashFails(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "sha256:"+contentHash([]byte("never stored")))
	require.Error(t, err)
}

func TestFileStoreRejectsMalformedHash(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "not-a-hash")
	require.Error(t, err)
}
