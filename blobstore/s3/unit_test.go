package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fcarchive/blobstore"
)

// rangeServer answers ranged GETs from an in-memory string.
type rangeServer struct {
	*MockS3Client
	content string
	gets    int
}

func (r *rangeServer) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	r.gets++
	var lo, hi int
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &lo, &hi); err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(r.content[lo : hi+1]))}, nil
}

func TestStore_Open(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		headErr error
		size    int64
		wantErr error
	}{
		{name: "Found", size: 42},
		{name: "NotFound", headErr: &types.NotFound{}, wantErr: blobstore.ErrNotFound},
		{name: "NoSuchKey", headErr: &types.NoSuchKey{}, wantErr: blobstore.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockS3Client)
			store := NewStore(client, "archives", "team")
			var out *s3.HeadObjectOutput
			if tt.headErr == nil {
				out = &s3.HeadObjectOutput{ContentLength: aws.Int64(tt.size)}
			}
			client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
				return aws.ToString(in.Bucket) == "archives" && aws.ToString(in.Key) == "team/r1/MANIFEST"
			})).Return(out, tt.headErr).Once()

			b, err := store.Open(ctx, "r1/MANIFEST")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, b.Size())
			client.AssertExpectations(t)
		})
	}
}

func TestObject_Reads(t *testing.T) {
	ctx := context.Background()
	const content = "0123456789"

	newObject := func() (*object, *rangeServer) {
		srv := &rangeServer{MockS3Client: new(MockS3Client), content: content}
		return &object{client: srv, bucket: "b", key: "k", size: int64(len(content))}, srv
	}

	t.Run("ReadAt", func(t *testing.T) {
		o, srv := newObject()
		buf := make([]byte, 4)
		n, err := o.ReadAt(ctx, buf, 3)
		require.NoError(t, err)
		assert.Equal(t, "3456", string(buf[:n]))

		n, err = o.ReadAt(ctx, buf, 8)
		assert.ErrorIs(t, err, io.EOF, "short read at the end")
		assert.Equal(t, "89", string(buf[:n]))

		_, err = o.ReadAt(ctx, buf, 10)
		assert.ErrorIs(t, err, io.EOF)

		n, err = o.ReadAt(ctx, nil, 0)
		assert.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 2, srv.gets)
	})

	t.Run("ReadRange", func(t *testing.T) {
		o, _ := newObject()
		r, err := o.ReadRange(ctx, 6, 100)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		assert.Equal(t, "6789", string(data), "range clipped to the object size")

		_, err = o.ReadRange(ctx, 10, 1)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Canceled", func(t *testing.T) {
		o, srv := newObject()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := o.ReadAt(cctx, make([]byte, 2), 0)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, srv.gets)
	})
}

func TestStore_List(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "archives", "team/")

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "team/r1" && in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page-2"),
		Contents: []types.Object{
			{Key: aws.String("team/r1/archive.off.fcb")},
			{Key: aws.String("team/r1/MANIFEST")},
		},
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page-2"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("team/r1/archive.fcb")}},
	}, nil).Once()

	names, err := store.List(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1/MANIFEST", "r1/archive.fcb", "r1/archive.off.fcb"}, names)
	client.AssertExpectations(t)
}

func TestStore_Delete(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "archives", "")
	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "r1/archive.fcb"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()

	require.NoError(t, store.Delete(context.Background(), "r1/archive.fcb"))
	client.AssertExpectations(t)
}

func TestStore_Create(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "archives", "team")

	// Below one part the uploader sends a single PutObject.
	var uploaded []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "team/r1/archive.fcb" && in.ChecksumAlgorithm == types.ChecksumAlgorithmCrc32c
	})).Run(func(args mock.Arguments) {
		uploaded, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	w, err := store.Create(context.Background(), "r1/archive.fcb")
	require.NoError(t, err)
	for _, chunk := range []string{"FCB", "\x01\x02", "payload"} {
		_, err = w.Write([]byte(chunk))
		require.NoError(t, err)
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second Close is a no-op")
	require.NoError(t, w.Abort(), "Abort after Close is a no-op")

	assert.Equal(t, "FCB\x01\x02payload", string(uploaded))
	client.AssertExpectations(t)
}

func TestStore_CreateAbort(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "archives", "team")

	w, err := store.Create(context.Background(), "r1/archive.fcb")
	require.NoError(t, err)
	_, err = w.Write([]byte("half a file"))
	require.NoError(t, err)

	require.NoError(t, w.Abort())
	require.NoError(t, w.Close(), "Close after Abort is a no-op")
	client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "CreateMultipartUpload", mock.Anything, mock.Anything)
}

func TestStore_Put(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "archives", "")

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "r1/MANIFEST" &&
			aws.ToInt64(in.ContentLength) == 3 &&
			aws.ToString(in.ChecksumCRC32C) == computeCRC32C([]byte("abc"))
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(context.Background(), "r1/MANIFEST", []byte("abc")))
	client.AssertExpectations(t)
}

func TestStore_Key(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"", "a/b", "a/b"},
		{"", "", ""},
		{"root", "a", "root/a"},
		{"root/", "", "root/"},
		{"root", "dir/", "root/dir/"},
	}
	for _, tt := range tests {
		s := NewStore(new(MockS3Client), "b", tt.prefix)
		assert.Equal(t, tt.want, s.key(tt.name), "prefix=%q name=%q", tt.prefix, tt.name)
	}
}

func TestTrimRoot(t *testing.T) {
	assert.Equal(t, "r1/a", trimRoot("team/r1/a", "team/"))
	assert.Equal(t, "r1/a", trimRoot("team/r1/a", "team"))
	assert.Equal(t, "other/a", trimRoot("other/a", "team"))
	assert.Equal(t, "x", trimRoot("x", ""))
}

func TestComputeCRC32C(t *testing.T) {
	// CRC32C("123456789") = 0xE3069283
	assert.Equal(t, "4waSgw==", computeCRC32C([]byte("123456789")))
}
