package mmap

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"sync/atomic"
)

var (
	// ErrClosed is returned by a Mapping after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for sizes that do not fit the address space.
	ErrInvalidSize = errors.New("mmap: invalid size")
)

// Advice is a paging hint passed to madvise(2).
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceSequential
	AdviceRandom
)

// Mapping is a shared mapping of a whole file.
type Mapping struct {
	data     []byte
	writable bool
	closed   atomic.Bool
}

// Open maps the file at path read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return mapFile(f, fi.Size(), false)
}

// Create sizes the file at path to exactly size bytes and maps it
// read-write. Writes reach the file on Flush or Close.
func Create(path string, size int64) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return nil, err
	}
	return mapFile(f, size, true)
}

func mapFile(f *os.File, size int64, writable bool) (*Mapping, error) {
	if size < 0 || int64(int(size)) != size {
		return nil, ErrInvalidSize
	}
	m := &Mapping{writable: writable}
	if size == 0 {
		// mmap(2) rejects empty ranges.
		return m, nil
	}
	data, err := osMap(f, int(size), writable)
	if err != nil {
		return nil, err
	}
	m.data = data
	return m, nil
}

// Bytes returns the mapped memory, or nil after Close. The slice must not be
// used once Close has been called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapped length in bytes.
func (m *Mapping) Size() int { return len(m.data) }

// Writable reports whether the mapping came from Create.
func (m *Mapping) Writable() bool { return m.writable }

// Float64 decodes the big-endian float64 stored in cell i (bytes 8i to 8i+8).
func (m *Mapping) Float64(i int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(m.data[i*8:]))
}

// PutFloat64 stores v big-endian in cell i. Goroutines may write disjoint
// cells concurrently.
func (m *Mapping) PutFloat64(i int, v float64) {
	binary.BigEndian.PutUint64(m.data[i*8:], math.Float64bits(v))
}

// Advise passes a paging hint for the whole mapping.
func (m *Mapping) Advise(a Advice) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return osAdvise(m.data, a)
}

// Flush writes dirty pages of a writable mapping back to the file.
func (m *Mapping) Flush() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable || len(m.data) == 0 {
		return nil
	}
	return osSync(m.data)
}

// Close flushes a writable mapping and unmaps it. Later calls return nil.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || len(m.data) == 0 {
		return nil
	}
	var err error
	if m.writable {
		err = osSync(m.data)
	}
	if uerr := osUnmap(m.data); err == nil {
		err = uerr
	}
	return err
}
