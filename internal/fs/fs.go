package fs

import (
	"io"
	"os"
	"time"
)

// File is the subset of *os.File an archive needs for its container and
// index files.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Name() string
}

// FileSystem opens, inspects and removes archive files. Chtimes is used to
// mark index files as fresh relative to their container.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Stat(name string) (os.FileInfo, error)
	Chtimes(name string, atime, mtime time.Time) error
	Remove(name string) error
}

// LocalFS is the operating system's file system.
type LocalFS struct{}

var _ FileSystem = LocalFS{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		// Avoid returning a typed nil inside the interface.
		return nil, err
	}
	return f, nil
}

func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (LocalFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

func (LocalFS) Remove(name string) error { return os.Remove(name) }

// Default is used unless a test injects another FileSystem.
var Default FileSystem = LocalFS{}
