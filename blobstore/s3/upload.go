package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/fcarchive/internal/hash"
)

// UploadConfig tunes the multipart uploads used for archive files.
type UploadConfig struct {
	// PartSize is the size of each multipart part. Files smaller than one
	// part are sent with a single PutObject.
	PartSize int64
	// Concurrency is the number of parts in flight per file.
	Concurrency int
	// EnableChecksum asks S3 to verify a CRC32C of every part.
	EnableChecksum bool
}

// DefaultUploadConfig returns 8 MiB parts, five in flight, with checksums.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 << 20,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
		// Parts of a failed or aborted upload are always cleaned up.
		u.LeavePartsOnError = false
	})
}

// computeCRC32C returns the base64 big-endian CRC32C that S3 expects in
// checksum headers.
func computeCRC32C(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], hash.CRC32C(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

var errAborted = errors.New("s3: upload aborted")

// pipeUpload feeds writes to a multipart upload running in the background.
// The object exists once Close returns nil.
type pipeUpload struct {
	pw   *io.PipeWriter
	done chan error

	once sync.Once
	err  error
}

func startUpload(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *pipeUpload {
	pr, pw := io.Pipe()
	u := &pipeUpload{pw: pw, done: make(chan error, 1)}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := uploader.Upload(ctx, input)
		// Unblock writers if the upload stopped reading early.
		_ = pr.CloseWithError(err)
		u.done <- err
	}()

	return u
}

func (u *pipeUpload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

// Sync is a no-op: S3 has no partial objects to flush to.
func (u *pipeUpload) Sync() error {
	return nil
}

func (u *pipeUpload) Close() error {
	u.once.Do(func() {
		if err := u.pw.Close(); err != nil {
			u.err = err
			return
		}
		u.err = <-u.done
	})
	return u.err
}

func (u *pipeUpload) Abort() error {
	u.once.Do(func() {
		_ = u.pw.CloseWithError(errAborted)
		if err := <-u.done; err != nil && !errors.Is(err, errAborted) {
			u.err = err
		}
	})
	return nil
}

// putWithChecksum stores a small object, typically a manifest, in one request.
func putWithChecksum(ctx context.Context, client Client, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ChecksumCRC32C: aws.String(computeCRC32C(data)),
	})
	return err
}
