package record

import (
	"errors"
	"io"
)

var (
	// ErrClassMismatch is returned when a record or identifier does not match
	// the kind declared by an archive.
	ErrClassMismatch = errors.New("record: class mismatch")
	// ErrUnknownType is returned when no codec is registered for a Type.
	ErrUnknownType = errors.New("record: unknown codec type")
	// ErrUnknownIDType is returned for an unsupported identifier kind.
	ErrUnknownIDType = errors.New("record: unknown identifier type")
)

// Record is one stored unit.
type Record interface {
	// ID returns the record identifier, or nil when the record carries none.
	ID() ID
}

// Codec serializes records of a single kind.
//
// Records are written back to back without a length prefix, so DecodeFrom and
// ScanID must consume exactly the bytes written by Append.
type Codec interface {
	// Type returns the tag stored in archive headers.
	Type() Type
	// IDType returns the identifier kind this codec reads and writes.
	IDType() IDType
	// Append appends the encoding of rec to dst.
	Append(dst []byte, rec Record) ([]byte, error)
	// Decode decodes a record from a span of known length.
	Decode(data []byte) (Record, error)
	// DecodeFrom decodes the next record from a sequential reader.
	DecodeFrom(r io.Reader) (Record, error)
	// ScanID reads the identifier of the next record and skips the rest of it.
	ScanID(r io.Reader) (ID, error)
}

// GroupKind selects an embedded group of local features.
type GroupKind uint8

// Grouped is implemented by records that embed local feature groups.
type Grouped interface {
	Record
	// GroupLen returns the number of items in the group of the given kind.
	GroupLen(kind GroupKind) int
	// Project returns a record with the same identifier that holds only the
	// listed items of the group.
	Project(kind GroupKind, keep []int) Record
}

// FeatureKind selects one global feature of a record.
type FeatureKind uint8

// Selector is implemented by records that hold several global features.
type Selector interface {
	Record
	// Select returns a record with the same identifier that holds only the
	// feature of the given kind, and false when there is none.
	Select(kind FeatureKind) (Record, bool)
}

// KeyPointStripper is implemented by records able to drop key point geometry
// from their local features.
type KeyPointStripper interface {
	WithoutKeyPoints() Record
}
