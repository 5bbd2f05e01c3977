package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/fcarchive/blobstore"
)

// object is a read handle on one S3 object. Every read is a ranged GET; the
// size is taken from the HEAD request made by Open.
type object struct {
	client Client
	bucket string
	key    string
	size   int64
}

func headObject(ctx context.Context, client Client, bucket, key string) (*object, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: %s: %w", key, blobstore.ErrNotFound)
		}
		return nil, err
	}
	return &object{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(out.ContentLength),
	}, nil
}

// isNotFound reports whether err is one of the two shapes S3 uses for a
// missing key: NotFound from HEAD, NoSuchKey from GET.
func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

// get issues a GET for [off, off+n) clipped to the object size. It returns the
// body and the number of bytes it will yield.
func (o *object) get(ctx context.Context, off, n int64) (io.ReadCloser, int64, error) {
	if off < 0 {
		return nil, 0, fmt.Errorf("s3: negative offset %d", off)
	}
	if off >= o.size {
		return nil, 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	n = min(n, o.size-off)
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("s3: %s: %w", o.key, blobstore.ErrNotFound)
		}
		return nil, 0, err
	}
	return out.Body, n, nil
}

// ReadAt follows io.ReaderAt: a read cut short by the end of the object
// returns io.EOF with the bytes it got.
func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	body, want, err := o.get(ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	n, err := io.ReadFull(body, p[:want])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *object) ReadRange(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	body, _, err := o.get(ctx, off, n)
	return body, err
}

// listKeys pages through every key under prefix and returns them relative
// to root, sorted.
func listKeys(ctx context.Context, client Client, bucket, prefix, root string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, trimRoot(aws.ToString(obj.Key), root))
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func trimRoot(key, root string) string {
	rest, ok := strings.CutPrefix(key, root)
	if root == "" || !ok {
		return key
	}
	return strings.TrimPrefix(rest, "/")
}
