// Package bundle frames archive files for transfer to a blob store.
//
// A bundle starts with a 5-byte header ("FCB" magic, version, compression)
// followed by blocks. Each block is
//
//	[UncompressedSize uint32][StoredSize uint32][Data...]
//
// A StoredSize of 0 marks a block kept verbatim because compressing it did
// not pay off. Integers are little-endian.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression algorithm.
type Compression uint8

const (
	// None stores blocks verbatim.
	None Compression = 0
	// LZ4 favors speed.
	LZ4 Compression = 1
	// Zstd favors ratio.
	Zstd Compression = 2
)

// DefaultBlockSize is used when a writer is created with blockSize <= 0.
const DefaultBlockSize = 256 * 1024

const (
	headerSize      = 5
	blockHeaderSize = 8
	version         = 1
	// maxBlockSize bounds allocations when reading untrusted input.
	maxBlockSize = 64 << 20
)

var magic = [3]byte{'F', 'C', 'B'}

var (
	// ErrCorrupt is returned when a bundle cannot be decoded.
	ErrCorrupt = errors.New("bundle: corrupt data")
	// ErrUnknownCompression is returned for unsupported compression values.
	ErrUnknownCompression = errors.New("bundle: unknown compression")
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration value to a Compression.
// The empty string selects None.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compressBlock returns the stored form of data, or nil when the block
// should be kept verbatim.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case None:
		return nil, nil
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		return nil, ErrUnknownCompression
	}

	// If compression doesn't help (ratio > 0.9), store uncompressed
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		return nil, nil
	}
	return compressed, nil
}

func decompressBlock(stored []byte, size uint32, c Compression) ([]byte, error) {
	result := make([]byte, size)
	switch c {
	case LZ4:
		n, err := lz4.UncompressBlock(stored, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return result, nil
	case Zstd:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(stored, result[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block in %s bundle", ErrCorrupt, c)
	}
}

// Writer compresses a stream into bundle blocks.
type Writer struct {
	w           io.Writer
	compression Compression
	blockSize   int
	buf         []byte
	wroteHeader bool
	written     int64
	err         error
}

// NewWriter creates a bundle writer. Close must be called to flush the last block.
func NewWriter(w io.Writer, c Compression, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize > maxBlockSize {
		blockSize = maxBlockSize
	}
	return &Writer{
		w:           w,
		compression: c,
		blockSize:   blockSize,
		buf:         make([]byte, 0, blockSize),
	}
}

// Write buffers p, emitting full blocks as they fill up.
func (bw *Writer) Write(p []byte) (int, error) {
	if bw.err != nil {
		return 0, bw.err
	}
	total := 0
	for len(p) > 0 {
		space := bw.blockSize - len(bw.buf)
		if space == 0 {
			if err := bw.flushBlock(); err != nil {
				return total, err
			}
			space = bw.blockSize
		}
		n := min(space, len(p))
		bw.buf = append(bw.buf, p[:n]...)
		total += n
		p = p[n:]
	}
	return total, nil
}

// Close flushes the pending block. It does not close the underlying writer.
func (bw *Writer) Close() error {
	if bw.err != nil {
		return bw.err
	}
	if err := bw.writeHeader(); err != nil {
		return err
	}
	return bw.flushBlock()
}

// BytesWritten returns the number of framed bytes written so far.
func (bw *Writer) BytesWritten() int64 {
	return bw.written
}

func (bw *Writer) writeHeader() error {
	if bw.wroteHeader {
		return nil
	}
	if bw.compression > Zstd {
		bw.err = ErrUnknownCompression
		return bw.err
	}
	hdr := [headerSize]byte{magic[0], magic[1], magic[2], version, byte(bw.compression)}
	n, err := bw.w.Write(hdr[:])
	bw.written += int64(n)
	if err != nil {
		bw.err = err
		return err
	}
	bw.wroteHeader = true
	return nil
}

func (bw *Writer) flushBlock() error {
	if err := bw.writeHeader(); err != nil {
		return err
	}
	if len(bw.buf) == 0 {
		return nil
	}

	stored, err := compressBlock(bw.buf, bw.compression)
	if err != nil {
		bw.err = err
		return err
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(bw.buf)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(stored))) // 0 = uncompressed
	payload := stored
	if payload == nil {
		payload = bw.buf
	}

	for _, chunk := range [][]byte{hdr[:], payload} {
		n, err := bw.w.Write(chunk)
		bw.written += int64(n)
		if err != nil {
			bw.err = err
			return err
		}
	}
	bw.buf = bw.buf[:0]
	return nil
}

// Reader decodes a bundle stream.
type Reader struct {
	r           io.Reader
	compression Compression
	block       []byte
	pos         int
}

// NewReader reads the bundle header from r.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return nil, err
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if hdr[3] != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr[3])
	}
	c := Compression(hdr[4])
	if c > Zstd {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, hdr[4])
	}
	return &Reader{r: r, compression: c}, nil
}

// Compression returns the algorithm recorded in the header.
func (br *Reader) Compression() Compression {
	return br.compression
}

// Read implements io.Reader over the decompressed stream.
func (br *Reader) Read(p []byte) (int, error) {
	for br.pos == len(br.block) {
		if err := br.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, br.block[br.pos:])
	br.pos += n
	return n, nil
}

func (br *Reader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		return err // io.EOF at a block boundary ends the stream
	}
	size := binary.LittleEndian.Uint32(hdr[0:])
	stored := binary.LittleEndian.Uint32(hdr[4:])
	if size > maxBlockSize || stored > maxBlockSize {
		return fmt.Errorf("%w: block too large", ErrCorrupt)
	}

	n := size
	if stored != 0 {
		n = stored
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br.r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated block", ErrCorrupt)
		}
		return err
	}

	if stored != 0 {
		decoded, err := decompressBlock(data, size, br.compression)
		if err != nil {
			return err
		}
		data = decoded
	}
	br.block = data
	br.pos = 0
	return nil
}

// Encode copies src into dst as a bundle and returns the framed size.
func Encode(dst io.Writer, src io.Reader, c Compression) (int64, error) {
	bw := NewWriter(dst, c, DefaultBlockSize)
	if _, err := io.Copy(bw, src); err != nil {
		return bw.BytesWritten(), err
	}
	err := bw.Close()
	return bw.BytesWritten(), err
}

// Decode copies the decoded contents of the bundle in src to dst.
func Decode(dst io.Writer, src io.Reader) (int64, error) {
	br, err := NewReader(src)
	if err != nil {
		return 0, err
	}
	return io.Copy(dst, br)
}
