package minio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
)

// errAborted fails the pending PutObject so that no object is committed.
var errAborted = errors.New("minio: upload aborted")

// upload pipes writes into a PutObject running in the background.
type upload struct {
	pw   *io.PipeWriter
	done chan error

	once sync.Once
	err  error
}

func startUpload(ctx context.Context, client *minio.Client, bucket, key string) *upload {
	pr, pw := io.Pipe()
	u := &upload{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := client.PutObject(ctx, bucket, key, pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		u.done <- err
	}()
	return u
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

// Sync is a no-op; data is committed as a whole on Close.
func (u *upload) Sync() error { return nil }

func (u *upload) Close() error {
	u.once.Do(func() {
		if err := u.pw.Close(); err != nil {
			u.err = err
			return
		}
		u.err = <-u.done
	})
	return u.err
}

func (u *upload) Abort() error {
	u.once.Do(func() {
		_ = u.pw.CloseWithError(errAborted)
		if err := <-u.done; err != nil && !errors.Is(err, errAborted) {
			u.err = err
		}
	})
	return nil
}
