package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	return store
}

func TestContentID(t *testing.T) {
	id, digest := ContentID([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", digest)
	assert.Equal(t, "sha256:"+digest, id)

	got, err := parseContentID(id)
	require.NoError(t, err)
	assert.Equal(t, digest, got)
}

func TestParseContentID_Invalid(t *testing.T) {
	for _, id := range []string{"", "invalid-hash", "sha256:zz", "sha256:abcd", "md5:ba7816bf"} {
		_, err := parseContentID(id)
		assert.ErrorIs(t, err, ErrInvalidContentID, id)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	data := []byte("Hello, Livemint!")

	id, err := store.Put(ctx, data, "text/plain")
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_Idempotent(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	id1, err := store.Put(ctx, []byte("same bytes"), "")
	require.NoError(t, err)
	id2, err := store.Put(ctx, []byte("same bytes"), "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	entries, err := os.ReadDir(store.baseDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_GetNotFound(t *testing.T) {
	store := newFileStore(t)
	id, _ := ContentID([]byte("never stored"))

	_, err := store.Get(context.Background(), id)
	assert.True(t, errors.Is(err, ErrNotFound))

	ok, err := store.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_Delete(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, []byte("to delete"), "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, id), "deleting twice is not an error")

	ok, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_InvalidContentID(t *testing.T) {
	store := newFileStore(t)
	_, err := store.Get(context.Background(), "invalid-hash")
	assert.ErrorIs(t, err, ErrInvalidContentID)
}
