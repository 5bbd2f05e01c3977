package resource

import (
	"context"
	"io"
)

// RateLimitedReader charges the bytes returned by each Read against the
// controller's IO limit. A nil controller only observes ctx.
type RateLimitedReader struct {
	ctx context.Context
	src io.Reader
	rc  *Controller
}

func NewRateLimitedReader(ctx context.Context, src io.Reader, rc *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, src: src, rc: rc}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n == 0 {
		return 0, err
	}
	if werr := r.rc.AcquireIO(r.ctx, n); werr != nil {
		return n, werr
	}
	return n, err
}

// RateLimitedWriter waits for IO budget before passing each Write on.
type RateLimitedWriter struct {
	ctx context.Context
	dst io.Writer
	rc  *Controller
}

func NewRateLimitedWriter(ctx context.Context, dst io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, dst: dst, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.dst.Write(p)
}
