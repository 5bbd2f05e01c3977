package fcarchive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/fcarchive/internal/mmap"
	"github.com/hupe1980/fcarchive/similarity"
)

// interDistanceRows is the number of matrix rows computed per batch.
const interDistanceRows = 256

// WriteInterDistances writes the full distance matrix of all records to path
// as size*size big-endian float64 values in row-major order. The similarity
// is assumed symmetric: each pair is evaluated once and written to both
// triangles, so any row can be read back without the other triangle.
//
// Records are held in memory for the duration of the export. On failure the
// partially written file is left on disk.
func (a *Archive) WriteInterDistances(ctx context.Context, path string, sim similarity.Similarity) error {
	if sim == nil {
		return fmt.Errorf("%w: nil similarity", ErrInvalidArgument)
	}
	start := time.Now()

	objs := make([]Hit, 0, a.Size())
	var objBytes int64
	for e, err := range a.Iterate(ctx) {
		if err != nil {
			return err
		}
		objs = append(objs, Hit{Position: e.Position, ID: e.Record.ID(), Record: e.Record})
		objBytes += int64(e.Size)
	}
	if err := a.rc.AcquireMemory(ctx, objBytes); err != nil {
		return err
	}
	defer a.rc.ReleaseMemory(objBytes)

	n := len(objs)
	a.logger.InfoContext(ctx, "writing inter-distances",
		"records", n,
		"distances", int64(n)*int64(n),
		"bytes", int64(n)*int64(n)*8,
	)

	m, err := mmap.Create(path, int64(n)*int64(n)*8)
	if err != nil {
		return ioErr("create", path, err)
	}

	prog := newProgress(a.logger, "interdistances", n)
	for first := 0; first < n; first += interDistanceRows {
		rows := min(interDistanceRows, n-first)
		err := a.runBatch(ctx, objs, 0, rows, func(objs []Hit, lo, hi int) {
			for i := first + lo; i < first+hi; i++ {
				for j := i; j < n; j++ {
					d := sim.Distance(objs[i].Record, objs[j].Record)
					m.PutFloat64(i*n+j, d)
					m.PutFloat64(j*n+i, d)
				}
			}
		})
		if err != nil {
			_ = m.Close()
			return err
		}
		prog.tick(ctx, first+rows)
	}

	if err := m.Close(); err != nil {
		return ioErr("write", path, err)
	}
	a.logger.InfoContext(ctx, "inter-distances written", "records", n, "elapsed", time.Since(start))
	return nil
}

// DistanceMatrix reads a file written by WriteInterDistances.
type DistanceMatrix struct {
	m *mmap.Mapping
	n int
}

// OpenInterDistances maps the matrix at path read-only.
func OpenInterDistances(path string) (*DistanceMatrix, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	entries := m.Size() / 8
	n := int(math.Sqrt(float64(entries)))
	for n*n < entries {
		n++
	}
	if m.Size()%8 != 0 || n*n != entries {
		_ = m.Close()
		return nil, formatErr("%s: %d bytes is not a square matrix of float64", path, m.Size())
	}
	_ = m.Advise(mmap.AdviceRandom)
	return &DistanceMatrix{m: m, n: n}, nil
}

// Size returns the number of rows (and columns).
func (d *DistanceMatrix) Size() int { return d.n }

// At returns the distance between records i and j.
func (d *DistanceMatrix) At(i, j int) (float64, error) {
	if i < 0 || i >= d.n {
		return 0, &OutOfRangeError{Position: i, Size: d.n}
	}
	if j < 0 || j >= d.n {
		return 0, &OutOfRangeError{Position: j, Size: d.n}
	}
	if d.m.Bytes() == nil {
		return 0, ErrClosed
	}
	return d.m.Float64(i*d.n + j), nil
}

// Row appends the distances from record i to every record to dst.
func (d *DistanceMatrix) Row(i int, dst []float64) ([]float64, error) {
	if i < 0 || i >= d.n {
		return nil, &OutOfRangeError{Position: i, Size: d.n}
	}
	if d.m.Bytes() == nil {
		return nil, ErrClosed
	}
	for j := range d.n {
		dst = append(dst, d.m.Float64(i*d.n+j))
	}
	return dst, nil
}

// Close unmaps the matrix.
func (d *DistanceMatrix) Close() error {
	return d.m.Close()
}
