// Package idindex implements the identifier index of an archive: identifiers
// in position order plus the reverse identifier to position map.
//
// The persisted form is the flat concatenation of identifier encodings. Saves
// are incremental: only identifiers added since the previous save are
// appended, unless nothing was saved yet.
package idindex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/fcarchive/internal/fs"
	"github.com/hupe1980/fcarchive/record"
)

// ErrDuplicate is returned when an identifier is already indexed.
var ErrDuplicate = errors.New("idindex: duplicate identifier")

// Index is an in-memory identifier index.
type Index struct {
	mu     sync.RWMutex
	idType record.IDType
	ids    []record.ID
	pos    map[record.ID]int
	// saved is the number of identifiers already persisted, or -1 when the
	// file has never been written by this index.
	saved int
}

// New returns an empty index that has never been saved.
func New(idType record.IDType) *Index {
	return &Index{
		idType: idType,
		pos:    make(map[record.ID]int),
		saved:  -1,
	}
}

// FromIDs builds an index from identifiers in position order.
func FromIDs(idType record.IDType, ids []record.ID) (*Index, error) {
	x := &Index{
		idType: idType,
		ids:    ids,
		pos:    make(map[record.ID]int, len(ids)),
		saved:  -1,
	}
	for i, id := range ids {
		if prev, dup := x.pos[id]; dup {
			return nil, fmt.Errorf("%w: %s at positions %d and %d", ErrDuplicate, id, prev, i)
		}
		x.pos[id] = i
	}
	return x, nil
}

// Load reads the identifier file at path. The loaded identifiers count as
// saved.
func Load(fsys fs.FileSystem, path string, idType record.IDType) (*Index, error) {
	ids, err := ReadAll(fsys, path, idType)
	if err != nil {
		return nil, err
	}
	x, err := FromIDs(idType, ids)
	if err != nil {
		return nil, err
	}
	x.saved = len(ids)
	return x, nil
}

// ReadAll decodes every identifier of the file at path.
func ReadAll(fsys fs.FileSystem, path string, idType record.IDType) ([]record.ID, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<16)
	var ids []record.ID
	for {
		id, err := record.ReadID(r, idType)
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("idindex: entry %d: %w", len(ids), err)
		}
		ids = append(ids, id)
	}
}

// IDType returns the identifier kind.
func (x *Index) IDType() record.IDType { return x.idType }

// Check returns ErrDuplicate if id is already indexed.
func (x *Index) Check(id record.ID) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if prev, dup := x.pos[id]; dup {
		return fmt.Errorf("%w: %s at position %d", ErrDuplicate, id, prev)
	}
	return nil
}

// Add indexes id at the next position.
func (x *Index) Add(id record.ID) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if prev, dup := x.pos[id]; dup {
		return fmt.Errorf("%w: %s at position %d", ErrDuplicate, id, prev)
	}
	x.pos[id] = len(x.ids)
	x.ids = append(x.ids, id)
	return nil
}

// Contains reports whether id is indexed.
func (x *Index) Contains(id record.ID) bool {
	_, ok := x.Position(id)
	return ok
}

// Position returns the position of id.
func (x *Index) Position(id record.ID) (int, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	p, ok := x.pos[id]
	return p, ok
}

// At returns the identifier at position i, or nil when out of range.
func (x *Index) At(i int) record.ID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if i < 0 || i >= len(x.ids) {
		return nil
	}
	return x.ids[i]
}

// Len returns the number of indexed identifiers.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// IDs returns a copy of the identifiers in position order.
func (x *Index) IDs() []record.ID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]record.ID, len(x.ids))
	copy(out, x.ids)
	return out
}

// Dirty reports whether identifiers were added since the last save.
func (x *Index) Dirty() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.saved != len(x.ids)
}

// Save persists the index to path. The file is rewritten when nothing was
// saved before; otherwise only the identifiers added since the last save are
// appended.
func (x *Index) Save(fsys fs.FileSystem, path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	flag := os.O_WRONLY | os.O_CREATE
	from := x.saved
	if from <= 0 {
		flag |= os.O_TRUNC
		from = 0
	} else {
		flag |= os.O_APPEND
	}

	f, err := fsys.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 1<<16)
	var buf []byte
	for _, id := range x.ids[from:] {
		buf = id.AppendBinary(buf[:0])
		if _, err := w.Write(buf); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	x.saved = len(x.ids)
	return nil
}
