package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/blobs/")
	require.NoError(t, err)
	ctx := context.Background()

	id := uuid.New()
	key := Key("abc123", id, ExtensionFor("image/jpeg"))
	assert.Equal(t, "abc123/"+id.String()+".jpg", key)

	require.NoError(t, store.Put(ctx, key, []byte("jpeg bytes")))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)
	assert.Equal(t, "/blobs/"+key, store.URL(key))
}

func TestFileStoreMissingKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope/nothing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Put(context.Background(), "", []byte("x")), ErrInvalidKey)
}

func TestFileStoreKeepsKeysInsideRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, "")
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "../../escape.png", []byte("x")))
	data, err := store.Get(context.Background(), "escape.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}
