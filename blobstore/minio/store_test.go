package minio

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fcarchive/blobstore"
)

// integrationStore connects to MINIO_ENDPOINT with the default minioadmin
// credentials unless MINIO_ACCESS_KEY and MINIO_SECRET_KEY are set.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	access, secret := os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY")
	if access == "" {
		access, secret = "minioadmin", "minioadmin"
	}
	store, err := New(Config{Endpoint: endpoint, AccessKey: access, SecretKey: secret}, "fcarchive-it",
		fmt.Sprintf("run-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))
	return store
}

func TestIntegration_Store(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "r1/MANIFEST", []byte("manifest bytes")))

	w, err := store.Create(ctx, "r1/archive.fcb")
	require.NoError(t, err)
	for range 4 {
		_, err = w.Write([]byte("block."))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "r1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1/MANIFEST", "r1/archive.fcb"}, names)

	b, err := store.Open(ctx, "r1/archive.fcb")
	require.NoError(t, err)
	assert.Equal(t, int64(24), b.Size())

	buf := make([]byte, 10)
	n, err := b.ReadAt(ctx, buf, 18)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "block.", string(buf[:n]))

	rc, err := b.ReadRange(ctx, 6, 5)
	require.NoError(t, err)
	part, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "block", string(part))

	got, err := blobstore.ReadAll(ctx, store, "r1/MANIFEST")
	require.NoError(t, err)
	assert.Equal(t, "manifest bytes", string(got))

	aborted, err := store.Create(ctx, "r1/partial")
	require.NoError(t, err)
	_, err = aborted.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, aborted.Abort())
	_, err = store.Open(ctx, "r1/partial")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	for _, name := range names {
		require.NoError(t, store.Delete(ctx, name))
	}
	require.NoError(t, store.Delete(ctx, "r1/missing"), "deleting a missing blob is not an error")
	_, err = store.Open(ctx, "r1/MANIFEST")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_Keys(t *testing.T) {
	s := NewStore(nil, "b", "root/")
	assert.Equal(t, "root/a/b", s.objectKey("a/b"))
	assert.Equal(t, "root/", s.objectKey(""))
	assert.Equal(t, "root/dir/", s.objectKey("dir/"))
	assert.Equal(t, "a/b", s.blobName("root/a/b"))
	assert.Equal(t, "x", NewStore(nil, "b", "").objectKey("x"))
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, "b", "")
	assert.Error(t, err)
}
