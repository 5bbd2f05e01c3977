package feature

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/fcarchive/record"
)

// CollectorType is the header tag of feature collector archives.
const CollectorType record.Type = 1

// maxItems bounds vector lengths and group sizes read from disk. Decode
// additionally checks them against the record size before allocating.
const maxItems = 1 << 26

// ErrCorrupt is returned when a record encoding cannot be decoded.
var ErrCorrupt = errors.New("feature: corrupt record")

func init() {
	record.Register(CollectorType, "feature-collector", func(idType record.IDType) (record.Codec, error) {
		return NewCodec(idType), nil
	})
}

// Codec encodes collectors as
//
//	[id][u8 n]{[u8 kind][payload]}
//
// using big-endian integers. Vector payloads are [i32 len][len x f32]; ORB
// payloads are [i32 len]{[u8 hasKeyPoint][4 x f32]?[4 x u64]}.
type Codec struct {
	idType record.IDType
}

var _ record.Codec = (*Codec)(nil)

// NewCodec returns a collector codec for the given identifier kind.
func NewCodec(idType record.IDType) *Codec {
	return &Codec{idType: idType}
}

// Type implements record.Codec.
func (c *Codec) Type() record.Type { return CollectorType }

// IDType implements record.Codec.
func (c *Codec) IDType() record.IDType { return c.idType }

// Append implements record.Codec.
func (c *Codec) Append(dst []byte, rec record.Record) ([]byte, error) {
	fc, ok := rec.(*Collector)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a feature collector", record.ErrClassMismatch, rec)
	}
	if c.idType != record.IDTypeNone {
		if err := record.CheckID(c.idType, fc.id); err != nil {
			return nil, err
		}
		dst = fc.id.AppendBinary(dst)
	}
	if len(fc.Features) > math.MaxUint8 {
		return nil, fmt.Errorf("feature: %d features exceed the per record limit", len(fc.Features))
	}

	dst = append(dst, uint8(len(fc.Features)))
	for _, f := range fc.Features {
		dst = append(dst, uint8(f.Kind()))
		switch v := f.(type) {
		case Floats:
			dst = appendFloats(dst, v)
		case VLAD:
			dst = appendFloats(dst, v)
		case ORBGroup:
			dst = binary.BigEndian.AppendUint32(dst, uint32(len(v)))
			for _, o := range v {
				if o.KeyPoint == nil {
					dst = append(dst, 0)
				} else {
					dst = append(dst, 1)
					dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(o.KeyPoint.X))
					dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(o.KeyPoint.Y))
					dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(o.KeyPoint.Orientation))
					dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(o.KeyPoint.Scale))
				}
				for _, w := range o.Data {
					dst = binary.BigEndian.AppendUint64(dst, w)
				}
			}
		default:
			return nil, fmt.Errorf("%w: unsupported feature %T", record.ErrClassMismatch, f)
		}
	}
	return dst, nil
}

func appendFloats(dst []byte, v []float32) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(v)))
	for _, x := range v {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(x))
	}
	return dst
}

// Decode implements record.Codec.
func (c *Codec) Decode(data []byte) (record.Record, error) {
	r := bytes.NewReader(data)
	rec, err := c.DecodeFrom(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return rec, nil
}

// DecodeFrom implements record.Codec.
func (c *Codec) DecodeFrom(r io.Reader) (record.Record, error) {
	id, err := c.readID(r)
	if err != nil {
		return nil, err
	}
	d := decoder{r: r}
	n := d.u8()
	fc := &Collector{id: id, Features: make([]Feature, 0, n)}
	for i := 0; i < int(n) && d.err == nil; i++ {
		switch kind := Kind(d.u8()); kind {
		case KindFloats:
			fc.Features = append(fc.Features, Floats(d.floats()))
		case KindVLAD:
			fc.Features = append(fc.Features, VLAD(d.floats()))
		case KindORB:
			fc.Features = append(fc.Features, d.orbGroup())
		default:
			if d.err == nil {
				d.err = fmt.Errorf("%w: unknown feature kind %d", ErrCorrupt, kind)
			}
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return fc, nil
}

// ScanID implements record.Codec.
func (c *Codec) ScanID(r io.Reader) (record.ID, error) {
	id, err := c.readID(r)
	if err != nil {
		return nil, err
	}
	d := decoder{r: r}
	n := d.u8()
	for i := 0; i < int(n) && d.err == nil; i++ {
		switch kind := Kind(d.u8()); kind {
		case KindFloats, KindVLAD:
			d.skip(int64(d.length()) * 4)
		case KindORB:
			cnt := d.length()
			for j := 0; j < cnt && d.err == nil; j++ {
				if d.u8() != 0 {
					d.skip(16)
				}
				d.skip(32)
			}
		default:
			if d.err == nil {
				d.err = fmt.Errorf("%w: unknown feature kind %d", ErrCorrupt, kind)
			}
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return id, nil
}

func (c *Codec) readID(r io.Reader) (record.ID, error) {
	if c.idType == record.IDTypeNone {
		return nil, nil
	}
	return record.ReadID(r, c.idType)
}

// decoder reads big-endian values and keeps the first error.
type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return nil
	}
	return d.buf[:n]
}

func (d *decoder) u8() uint8 {
	b := d.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }

func (d *decoder) length() int {
	n := int32(d.u32())
	if d.err == nil && (n < 0 || n > maxItems) {
		d.err = fmt.Errorf("%w: length %d out of range", ErrCorrupt, n)
		return 0
	}
	return int(n)
}

// orbMinSize is the encoded size of an ORB without key point.
const orbMinSize = 1 + 32

// readChunk is the number of floats read per call.
const readChunk = 1024

// fits rejects a declared count of n items of at least size bytes when the
// reader knows fewer bytes remain. Streams of unknown length always fit.
func (d *decoder) fits(n, size int) bool {
	if d.err != nil {
		return false
	}
	l, ok := d.r.(interface{ Len() int })
	if ok && n*size > l.Len() {
		d.err = fmt.Errorf("%w: %d items need %d bytes, %d left: %w", ErrCorrupt, n, n*size, l.Len(), io.ErrUnexpectedEOF)
		return false
	}
	return true
}

func (d *decoder) floats() []float32 {
	n := d.length()
	if !d.fits(n, 4) {
		return nil
	}
	out := make([]float32, 0, min(n, readChunk))
	raw := make([]byte, 4*min(n, readChunk))
	for len(out) < n {
		m := min(n-len(out), readChunk)
		if _, err := io.ReadFull(d.r, raw[:4*m]); err != nil {
			d.err = io.ErrUnexpectedEOF
			return nil
		}
		for i := range m {
			out = append(out, math.Float32frombits(binary.BigEndian.Uint32(raw[4*i:])))
		}
	}
	return out
}

func (d *decoder) orbGroup() ORBGroup {
	n := d.length()
	if !d.fits(n, orbMinSize) {
		return nil
	}
	g := make(ORBGroup, 0, min(n, readChunk))
	for i := 0; i < n && d.err == nil; i++ {
		var o ORB
		if d.u8() != 0 {
			o.KeyPoint = &KeyPoint{X: d.f32(), Y: d.f32(), Orientation: d.f32(), Scale: d.f32()}
		}
		for w := range o.Data {
			o.Data[w] = d.u64()
		}
		g = append(g, o)
	}
	return g
}

func (d *decoder) skip(n int64) {
	if d.err != nil || n == 0 {
		return
	}
	copied, err := io.CopyN(io.Discard, d.r, n)
	if copied < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
	}
}
