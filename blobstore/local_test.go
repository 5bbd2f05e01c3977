package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	name := "shard-7/archive.fcb"
	data := []byte("hello world, this is a bundled archive blob")

	w, err := store.Create(ctx, name)
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	// Not visible before Close.
	_, err = os.Stat(filepath.Join(tmpDir, "shard-7", "archive.fcb"))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, w.Close())
	_, err = os.Stat(filepath.Join(tmpDir, "shard-7", "archive.fcb"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	rc, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "this", string(got))

	require.NoError(t, store.Put(ctx, "shard-7/MANIFEST", []byte("m")))
	require.NoError(t, store.Put(ctx, "other", []byte("o")))

	names, err := store.List(ctx, "shard-7/")
	require.NoError(t, err)
	require.Equal(t, []string{"shard-7/MANIFEST", "shard-7/archive.fcb"}, names)

	require.NoError(t, store.Delete(ctx, name))
	require.NoError(t, store.Delete(ctx, name), "deleting a missing blob is not an error")

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"other", "shard-7/MANIFEST"}, names)

	_, err = store.Open(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ReadRangeBoundaries(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "boundary.bin", []byte("0123456789")))

	blob, err := store.Open(ctx, "boundary.bin")
	require.NoError(t, err)
	defer blob.Close()

	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	require.Equal(t, "0123456789", string(content))

	r, err = blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))

	_, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "a/blob")
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdef"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "a/blob")
	require.ErrorIs(t, err, ErrNotFound, "blob must not be visible before Close")
	require.NoError(t, w.Close())

	data := []byte("xyz")
	require.NoError(t, store.Put(ctx, "a/put", data))
	data[0] = 'X'

	got, err := ReadAll(ctx, store, "a/put")
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(got), "Put must copy its input")

	got, err = ReadAll(ctx, store, "a/blob")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/blob", "a/put"}, names)

	require.NoError(t, store.Delete(ctx, "a/blob"))
	_, err = ReadAll(ctx, store, "a/blob")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadAll_Empty(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "empty", nil))
			got, err := ReadAll(ctx, store, "empty")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestWritableBlob_Abort(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for name, store := range map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(dir),
	} {
		t.Run(name, func(t *testing.T) {
			w, err := store.Create(ctx, "releases/partial")
			require.NoError(t, err)
			_, err = w.Write([]byte("half"))
			require.NoError(t, err)

			require.NoError(t, w.Abort())
			require.NoError(t, w.Close(), "Close after Abort is a no-op")
			require.NoError(t, w.Abort())

			_, err = store.Open(ctx, "releases/partial")
			require.ErrorIs(t, err, ErrNotFound)
			names, err := store.List(ctx, "releases/")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}

	entries, err := os.ReadDir(filepath.Join(dir, "releases"))
	require.NoError(t, err)
	assert.Empty(t, entries, "aborted temp file must be removed")
}
