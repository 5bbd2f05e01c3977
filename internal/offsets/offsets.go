// Package offsets implements the offset index of an archive: the byte offset
// of every record in its container, persisted as a flat file of big-endian
// uint64 values.
//
// Two interchangeable backends implement Index. File reads entries lazily
// from disk; Memory keeps every entry in a slice and writes through to a File
// so the persisted index stays current.
package offsets

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/fcarchive/internal/fs"
)

// EntrySize is the encoded size of one offset.
const EntrySize = 8

// ErrOutOfRange is returned for positions outside the index.
var ErrOutOfRange = errors.New("offsets: position out of range")

// Index maps record positions to container offsets.
type Index interface {
	// Append adds the offset of the next record.
	Append(off uint64) error
	// At returns the offset of record i.
	At(i int) (uint64, error)
	// Len returns the number of entries.
	Len() int
	// Sync flushes persisted entries to stable storage.
	Sync() error
	Close() error
}

// File is an Index backed directly by the offset file. Lookups read from the
// file under a mutex.
type File struct {
	mu  sync.Mutex
	f   fs.File
	n   int
	buf [EntrySize]byte
}

var _ Index = (*File)(nil)

// OpenFile opens (or creates) the offset file at path. A trailing partial
// entry is ignored and overwritten by the next Append.
func OpenFile(fsys fs.FileSystem, path string) (*File, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{f: f, n: int(info.Size() / EntrySize)}, nil
}

// Append implements Index.
func (o *File) Append(off uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var b [EntrySize]byte
	binary.BigEndian.PutUint64(b[:], off)
	if _, err := o.f.WriteAt(b[:], int64(o.n)*EntrySize); err != nil {
		return err
	}
	o.n++
	return nil
}

// At implements Index.
func (o *File) At(i int) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if i < 0 || i >= o.n {
		return 0, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, o.n)
	}
	if _, err := o.f.ReadAt(o.buf[:], int64(i)*EntrySize); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(o.buf[:]), nil
}

// Len implements Index.
func (o *File) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

// Sync implements Index.
func (o *File) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Sync()
}

// Close implements Index.
func (o *File) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Close()
}

// Load reads every entry in order.
func (o *File) Load() ([]uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]uint64, o.n)
	r := bufio.NewReaderSize(io.NewSectionReader(o.f, 0, int64(o.n)*EntrySize), 1<<16)
	var b [EntrySize]byte
	for i := range out {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		out[i] = binary.BigEndian.Uint64(b[:])
	}
	return out, nil
}

// Memory is an Index held in memory. Appends are written through to the
// backing File.
type Memory struct {
	mu   sync.RWMutex
	file *File
	offs []uint64
}

var _ Index = (*Memory)(nil)

// NewMemory loads every entry of file into memory.
func NewMemory(file *File) (*Memory, error) {
	offs, err := file.Load()
	if err != nil {
		return nil, err
	}
	return &Memory{file: file, offs: offs}, nil
}

// Append implements Index.
func (m *Memory) Append(off uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.file.Append(off); err != nil {
		return err
	}
	m.offs = append(m.offs, off)
	return nil
}

// At implements Index.
func (m *Memory) At(i int) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i < 0 || i >= len(m.offs) {
		return 0, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(m.offs))
	}
	return m.offs[i], nil
}

// Len implements Index.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.offs)
}

// Sync implements Index.
func (m *Memory) Sync() error { return m.file.Sync() }

// Close implements Index.
func (m *Memory) Close() error { return m.file.Close() }

// Writer streams offsets to a fresh offset file. It is used while rebuilding
// an index from a container scan.
type Writer struct {
	f fs.File
	w *bufio.Writer
	n int
}

// Create truncates the offset file at path and returns a Writer for it.
func Create(fsys fs.FileSystem, path string) (*Writer, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 1<<16)}, nil
}

// Append writes the next offset.
func (w *Writer) Append(off uint64) error {
	var b [EntrySize]byte
	binary.BigEndian.PutUint64(b[:], off)
	if _, err := w.w.Write(b[:]); err != nil {
		return err
	}
	w.n++
	return nil
}

// Len returns the number of offsets written.
func (w *Writer) Len() int { return w.n }

// Close flushes, syncs and closes the file.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if err == nil {
		err = w.f.Sync()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Abort closes the file without flushing buffered entries.
func (w *Writer) Abort() error {
	return w.f.Close()
}
