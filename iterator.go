package fcarchive

import (
	"context"
	"iter"
	"os"

	"github.com/hupe1980/fcarchive/record"
)

// Entry is one record produced by Iterate.
type Entry struct {
	Position int
	Record   record.Record
	// Size is the encoded size of the record in bytes.
	Size int
}

// Iterate streams the records present when iteration starts, in position
// order. It reads through its own file handle, so it may run concurrently
// with random access and appends. Iteration stops at the first error.
//
// Example:
//
//	for e, err := range a.Iterate(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    process(e.Position, e.Record)
//	}
func (a *Archive) Iterate(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if a.closed.Load() {
			yield(Entry{}, ErrClosed)
			return
		}
		t := a.tail.Load()
		if t.size == 0 {
			return
		}

		f, err := a.fsys.OpenFile(a.path, os.O_RDONLY, 0)
		if err != nil {
			yield(Entry{}, ioErr("open", a.path, err))
			return
		}
		defer f.Close()

		cr := newScanReader(ctx, f, t.end, a.rc)
		for pos := 0; pos < t.size; pos++ {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			off := cr.n
			rec, err := a.codec.DecodeFrom(cr)
			if err != nil {
				yield(Entry{}, a.scanErr(cr, pos, off, err))
				return
			}
			if !yield(Entry{Position: pos, Record: rec, Size: int(cr.n - off)}, nil) {
				return
			}
		}
	}
}

// All decodes every record into memory.
func (a *Archive) All(ctx context.Context) ([]record.Record, error) {
	out := make([]record.Record, 0, a.Size())
	for e, err := range a.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, e.Record)
	}
	return out, nil
}
