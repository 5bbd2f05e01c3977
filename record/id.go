package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// IDType tags the identifier kind stored in an archive header.
type IDType int32

const (
	// IDTypeNone marks an archive without an identifier index.
	IDTypeNone IDType = 0
	// IDTypeString identifies StringID values.
	IDTypeString IDType = 1
	// IDTypeInt64 identifies Int64ID values.
	IDTypeInt64 IDType = 2
	// IDTypeUUID identifies UUID values.
	IDTypeUUID IDType = 3
)

func (t IDType) String() string {
	switch t {
	case IDTypeNone:
		return "none"
	case IDTypeString:
		return "string"
	case IDTypeInt64:
		return "int64"
	case IDTypeUUID:
		return "uuid"
	default:
		return fmt.Sprintf("IDType(%d)", int32(t))
	}
}

// Valid reports whether t is a known identifier kind.
func (t IDType) Valid() bool {
	return t >= IDTypeNone && t <= IDTypeUUID
}

// ParseIDType converts an identifier kind name as printed by IDType.String.
func ParseIDType(s string) (IDType, error) {
	for t := IDTypeNone; t <= IDTypeUUID; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("record: unknown identifier type %q", s)
}

// ID is a record identifier.
//
// Implementations must be comparable so that they can be used as map keys.
type ID interface {
	IDType() IDType
	// AppendBinary appends the self-delimiting encoding of the identifier.
	AppendBinary(dst []byte) []byte
	String() string
}

// StringID is a UTF-8 identifier encoded as a big-endian u16 length followed
// by its bytes.
type StringID string

// IDType implements ID.
func (StringID) IDType() IDType { return IDTypeString }

// AppendBinary implements ID. Strings longer than 65535 bytes are truncated.
func (s StringID) AppendBinary(dst []byte) []byte {
	n := len(s)
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	return append(dst, s[:n]...)
}

func (s StringID) String() string { return string(s) }

// Int64ID is a numeric identifier encoded as 8 big-endian bytes.
type Int64ID int64

// IDType implements ID.
func (Int64ID) IDType() IDType { return IDTypeInt64 }

// AppendBinary implements ID.
func (i Int64ID) AppendBinary(dst []byte) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(i))
}

func (i Int64ID) String() string { return strconv.FormatInt(int64(i), 10) }

// UUID is a 16 byte identifier.
type UUID uuid.UUID

// NewUUID returns a random (version 4) identifier.
func NewUUID() UUID { return UUID(uuid.New()) }

// ParseUUID parses the canonical textual form of a UUID.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID(u), nil
}

// IDType implements ID.
func (UUID) IDType() IDType { return IDTypeUUID }

// AppendBinary implements ID.
func (u UUID) AppendBinary(dst []byte) []byte { return append(dst, u[:]...) }

func (u UUID) String() string { return uuid.UUID(u).String() }

// ParseID converts the textual form of an identifier of kind t.
func ParseID(t IDType, s string) (ID, error) {
	switch t {
	case IDTypeString:
		return StringID(s), nil
	case IDTypeInt64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return Int64ID(v), nil
	case IDTypeUUID:
		return ParseUUID(s)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownIDType, t)
	}
}

// ReadID decodes one identifier of kind t from r.
func ReadID(r io.Reader, t IDType) (ID, error) {
	switch t {
	case IDTypeString:
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		buf := make([]byte, binary.BigEndian.Uint16(hdr[:]))
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, unexpected(err)
		}
		return StringID(buf), nil
	case IDTypeInt64:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return Int64ID(binary.BigEndian.Uint64(buf[:])), nil
	case IDTypeUUID:
		var u UUID
		if _, err := io.ReadFull(r, u[:]); err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownIDType, t)
	}
}

// CheckID verifies that id matches the declared identifier kind.
func CheckID(t IDType, id ID) error {
	if t == IDTypeNone {
		return nil
	}
	if id == nil {
		return fmt.Errorf("%w: record has no identifier, archive expects %s", ErrClassMismatch, t)
	}
	if id.IDType() != t {
		return fmt.Errorf("%w: identifier kind %s, archive expects %s", ErrClassMismatch, id.IDType(), t)
	}
	return nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
