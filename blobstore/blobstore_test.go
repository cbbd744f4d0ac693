package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]BlobStore {
	t.Helper()

	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return map[string]BlobStore{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestPutOpenRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "snapshots/img-1", []byte("payload")))

			blob, err := store.Open(ctx, "snapshots/img-1")
			require.NoError(t, err)
			defer blob.Close()

			assert.Equal(t, int64(7), blob.Size())

			data, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), data)
		})
	}
}

func TestOpenMissing(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Open(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateIsVisibleAfterClose(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			w, err := store.Create(ctx, "img")
			require.NoError(t, err)

			_, err = w.Write([]byte("part1-"))
			require.NoError(t, err)
			_, err = w.Write([]byte("part2"))
			require.NoError(t, err)

			_, err = store.Open(ctx, "img")
			assert.ErrorIs(t, err, ErrNotFound, "blob must not be visible before Close")

			require.NoError(t, w.Sync())
			require.NoError(t, w.Close())

			blob, err := store.Open(ctx, "img")
			require.NoError(t, err)
			defer blob.Close()

			data, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, []byte("part1-part2"), data)
		})
	}
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "a/1", []byte("x")))
			require.NoError(t, store.Put(ctx, "a/2", []byte("y")))
			require.NoError(t, store.Put(ctx, "b/1", []byte("z")))

			names, err := store.List(ctx, "a/")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a/1", "a/2"}, names)

			require.NoError(t, store.Delete(ctx, "a/1"))
			require.NoError(t, store.Delete(ctx, "a/1"), "double delete is a no-op")

			names, err = store.List(ctx, "a/")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/2"}, names)
		})
	}
}
