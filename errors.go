package fcarchive

import (
	"errors"
	"fmt"

	"github.com/hupe1980/fcarchive/record"
)

var (
	// ErrFormat is returned when a container header or record cannot be parsed.
	ErrFormat = errors.New("invalid archive format")

	// ErrUnsupportedVersion is matched by *UnsupportedVersionError.
	ErrUnsupportedVersion = errors.New("unsupported archive version")

	// ErrDuplicateID is matched by *DuplicateIDError.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrOutOfRange is matched by *OutOfRangeError.
	ErrOutOfRange = errors.New("position out of range")

	// ErrClassMismatch is returned when a record or identifier does not match
	// the kinds declared in the archive header.
	ErrClassMismatch = record.ErrClassMismatch

	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive is closed")

	// ErrWorkerFailed is returned when a search or export worker panics.
	ErrWorkerFailed = errors.New("worker failed")

	// ErrNoIDIndex is returned by identifier lookups on an archive opened
	// without its identifier index.
	ErrNoIDIndex = errors.New("identifier index not loaded")

	// ErrEmptyRecord is returned when appending a zero-length record.
	ErrEmptyRecord = errors.New("empty record")

	// ErrInvalidArgument is returned for malformed call parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// UnsupportedVersionError reports a container written by an unknown format version.
type UnsupportedVersionError struct {
	Version int32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported archive version %d (want %d)", e.Version, formatVersion)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// DuplicateIDError reports an append whose identifier is already stored.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type DuplicateIDError struct {
	ID    record.ID
	cause error
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate identifier %s", e.ID)
}

func (e *DuplicateIDError) Is(target error) bool { return target == ErrDuplicateID }

func (e *DuplicateIDError) Unwrap() error { return e.cause }

// OutOfRangeError reports a position outside [0, Size).
type OutOfRangeError struct {
	Position int
	Size     int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("position %d out of range [0, %d)", e.Position, e.Size)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// IOError wraps a filesystem failure with the operation and file involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ie *IOError
	if errors.As(err, &ie) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
