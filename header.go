package fcarchive

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/hupe1980/fcarchive/record"
)

const (
	// magic opens every container.
	magic uint64 = 0x5a25287d3a
	// formatVersion is the only container version this package reads and writes.
	formatVersion int32 = 3
	// headerSize is the encoded size of header.
	headerSize = 8 + 4 + 4 + 4
)

// header is the fixed container prefix:
//
//	[u64 magic][i32 version][i32 codec type][i32 identifier type]
//
// All integers are big-endian. An identifier type of 0 means the archive has
// no identifier index.
type header struct {
	version   int32
	codecType record.Type
	idType    record.IDType
}

func (h header) appendBinary(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, magic)
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.version))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.codecType))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.idType))
	return dst
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return header{}, formatErr("short header")
		}
		return header{}, err
	}
	if m := binary.BigEndian.Uint64(buf[0:]); m != magic {
		return header{}, formatErr("bad magic %#x", m)
	}
	h := header{
		version:   int32(binary.BigEndian.Uint32(buf[8:])),
		codecType: record.Type(int32(binary.BigEndian.Uint32(buf[12:]))),
		idType:    record.IDType(int32(binary.BigEndian.Uint32(buf[16:]))),
	}
	if h.version != formatVersion {
		return header{}, &UnsupportedVersionError{Version: h.version}
	}
	if !h.idType.Valid() {
		return header{}, formatErr("unknown identifier type %d", h.idType)
	}
	return h, nil
}
