package fcarchive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/fcarchive/internal/fs"
	"github.com/hupe1980/fcarchive/internal/idindex"
	"github.com/hupe1980/fcarchive/internal/offsets"
	"github.com/hupe1980/fcarchive/record"
	"github.com/hupe1980/fcarchive/resource"
)

const (
	// OffsetsSuffix names the offset index file next to a container.
	OffsetsSuffix = ".off"
	// IDsSuffix names the identifier index file next to a container.
	IDsSuffix = ".id"

	scanBufferSize = 1 << 20
)

// tail is the published end of the archive. Readers load it once so that the
// record count and the end of the last record always agree.
type tail struct {
	size int
	end  int64
}

// Archive is a persistent, append-only sequence of records stored in one
// container file with an offset index and an optional identifier index.
//
// Appends are serialized. Reads may run concurrently with each other and
// with a single appender.
type Archive struct {
	path    string
	fsys    fs.FileSystem
	codec   record.Codec
	hdr     header
	opts    options
	logger  *Logger
	metrics MetricsCollector
	rc      *resource.Controller

	// dataMu guards the container handle.
	dataMu sync.Mutex
	data   fs.File

	// writeMu serializes Add, AppendRaw and Close.
	writeMu sync.Mutex
	end     int64 // container size, owned by the writer
	changed bool

	offs offsets.Index
	ids  *idindex.Index // nil without an identifier index

	tail    atomic.Pointer[tail]
	closed  atomic.Bool
	rebuilt bool
}

// Create truncates or creates the container at path, writes its header and
// returns an empty archive. idType may be record.IDTypeNone for archives
// without identifiers.
func Create(path string, codecType record.Type, idType record.IDType, optFns ...Option) (*Archive, error) {
	return create(path, codecType, idType, applyOptions(optFns))
}

func create(path string, codecType record.Type, idType record.IDType, o options) (*Archive, error) {
	codec, err := record.Lookup(codecType, idType)
	if err != nil {
		return nil, err
	}

	a := newArchive(path, codec, header{version: formatVersion, codecType: codecType, idType: idType}, o)

	f, err := a.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ioErr("create", path, err)
	}
	a.data = f

	if err := a.initEmpty(); err != nil {
		_ = f.Close()
		return nil, err
	}

	a.logger.InfoContext(context.Background(), "archive created",
		"codec", codecType.String(),
		"id_type", idType.String(),
	)
	return a, nil
}

func (a *Archive) initEmpty() error {
	hdr := a.hdr.appendBinary(nil)
	if _, err := a.data.WriteAt(hdr, 0); err != nil {
		return ioErr("write", a.path, err)
	}
	if err := a.data.Sync(); err != nil {
		return ioErr("sync", a.path, err)
	}
	a.end = headerSize

	// Index files are written after the container so that they are not stale.
	w, err := offsets.Create(a.fsys, a.offPath())
	if err != nil {
		return ioErr("create", a.offPath(), err)
	}
	if err := w.Close(); err != nil {
		return ioErr("write", a.offPath(), err)
	}
	if err := a.openOffsets(); err != nil {
		return err
	}

	if a.hdr.idType != record.IDTypeNone {
		a.ids = idindex.New(a.hdr.idType)
		if err := a.ids.Save(a.fsys, a.idPath()); err != nil {
			_ = a.offs.Close()
			return ioErr("write", a.idPath(), err)
		}
	}

	a.tail.Store(&tail{size: 0, end: a.end})
	return nil
}

// Open opens an existing container. The offset and identifier index files
// are trusted when they are at least as recent as the container; otherwise
// they are rebuilt by a full sequential scan before Open returns.
func Open(path string, optFns ...Option) (*Archive, error) {
	o := applyOptions(optFns)
	ctx := context.Background()
	logger := o.logger.WithPath(path)

	a, err := open(ctx, path, o)
	if err != nil {
		logger.LogOpen(ctx, 0, false, err)
		return nil, err
	}
	logger.LogOpen(ctx, a.Size(), a.rebuilt, nil)
	return a, nil
}

func open(ctx context.Context, path string, o options) (*Archive, error) {
	f, err := o.fsys.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ioErr("open", path, err)
	}

	a, err := openFile(ctx, path, f, o)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return a, nil
}

func openFile(ctx context.Context, path string, f fs.File, o options) (*Archive, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, ioErr("stat", path, err)
	}
	hdr, err := readHeader(io.NewSectionReader(f, 0, headerSize))
	if err != nil {
		if errors.Is(err, ErrFormat) || errors.Is(err, ErrUnsupportedVersion) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return nil, ioErr("read", path, err)
	}
	codec, err := record.Lookup(hdr.codecType, hdr.idType)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	a := newArchive(path, codec, hdr, o)
	a.data = f
	a.end = info.Size()

	loadIDs := o.loadIDs && hdr.idType != record.IDTypeNone
	if !a.trustIndexes(ctx, info.ModTime(), loadIDs) {
		if err := a.rebuild(ctx, loadIDs); err != nil {
			return nil, err
		}
		a.rebuilt = true
	}
	return a, nil
}

func newArchive(path string, codec record.Codec, hdr header, o options) *Archive {
	return &Archive{
		path:    path,
		fsys:    o.fsys,
		codec:   codec,
		hdr:     hdr,
		opts:    o,
		logger:  o.logger.WithPath(path),
		metrics: o.metricsCollector,
		rc:      o.resources,
	}
}

func (a *Archive) offPath() string { return a.path + OffsetsSuffix }
func (a *Archive) idPath() string  { return a.path + IDsSuffix }

// fresh reports whether the index file at path exists and is not older than
// the container.
func (a *Archive) fresh(path string, containerMod time.Time) bool {
	info, err := a.fsys.Stat(path)
	if err != nil {
		return false
	}
	return !containerMod.After(info.ModTime())
}

// trustIndexes opens the persisted indexes if they are fresh and consistent
// with the container. It returns false when a rebuild is required.
func (a *Archive) trustIndexes(ctx context.Context, containerMod time.Time, loadIDs bool) bool {
	if !a.fresh(a.offPath(), containerMod) {
		return false
	}
	if loadIDs && !a.fresh(a.idPath(), containerMod) {
		return false
	}

	if err := a.openOffsets(); err != nil {
		a.logger.WarnContext(ctx, "offset index unreadable", "error", err)
		return false
	}
	n := a.offs.Len()
	if !a.offsetsConsistent(n) {
		a.logger.WarnContext(ctx, "offset index inconsistent with container", "entries", n)
		_ = a.offs.Close()
		return false
	}

	if loadIDs {
		ids, err := idindex.Load(a.fsys, a.idPath(), a.hdr.idType)
		if err != nil || ids.Len() != n {
			a.logger.WarnContext(ctx, "identifier index unusable", "error", err)
			_ = a.offs.Close()
			return false
		}
		a.ids = ids
	}

	a.tail.Store(&tail{size: n, end: a.end})
	return true
}

func (a *Archive) offsetsConsistent(n int) bool {
	if n == 0 {
		return a.end == headerSize
	}
	first, err := a.offs.At(0)
	if err != nil || first != headerSize {
		return false
	}
	last, err := a.offs.At(n - 1)
	if err != nil || int64(last) >= a.end {
		return false
	}
	// The last indexed record must end exactly at the end of the container.
	buf := make([]byte, a.end-int64(last))
	if _, err := a.data.ReadAt(buf, int64(last)); err != nil {
		return false
	}
	r := bytes.NewReader(buf)
	if _, err := a.codec.DecodeFrom(r); err != nil {
		return false
	}
	return r.Len() == 0
}

func (a *Archive) openOffsets() error {
	file, err := offsets.OpenFile(a.fsys, a.offPath())
	if err != nil {
		return ioErr("open", a.offPath(), err)
	}
	if !a.opts.inMemoryOffsets {
		a.offs = file
		return nil
	}
	mem, err := offsets.NewMemory(file)
	if err != nil {
		_ = file.Close()
		return ioErr("read", a.offPath(), err)
	}
	a.offs = mem
	return nil
}

// rebuild scans the container, streaming every record offset to a fresh
// offset file and, when loadIDs is set, persisting the identifier index.
func (a *Archive) rebuild(ctx context.Context, loadIDs bool) error {
	start := time.Now()
	a.logger.InfoContext(ctx, "rebuilding indexes", "bytes", a.end)

	w, err := offsets.Create(a.fsys, a.offPath())
	if err != nil {
		return ioErr("create", a.offPath(), err)
	}

	var ids []record.ID
	n, err := a.scanIDs(ctx, a.end, func(pos int, off int64, id record.ID) error {
		if err := w.Append(uint64(off)); err != nil {
			return ioErr("write", a.offPath(), err)
		}
		if loadIDs {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		_ = w.Abort()
		a.logger.LogRebuild(ctx, n, time.Since(start), err)
		return err
	}
	if err := w.Close(); err != nil {
		return ioErr("write", a.offPath(), err)
	}

	if loadIDs {
		x, err := idindex.FromIDs(a.hdr.idType, ids)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if err := x.Save(a.fsys, a.idPath()); err != nil {
			return ioErr("write", a.idPath(), err)
		}
		a.ids = x
	}

	if err := a.openOffsets(); err != nil {
		return err
	}
	a.tail.Store(&tail{size: n, end: a.end})

	a.metrics.RecordRebuild(n, time.Since(start))
	a.logger.LogRebuild(ctx, n, time.Since(start), nil)
	return nil
}

// scanIDs reads the container sequentially up to end, calling fn with the
// position, offset and identifier of every record. It returns the number of
// records visited.
func (a *Archive) scanIDs(ctx context.Context, end int64, fn func(pos int, off int64, id record.ID) error) (int, error) {
	f, err := a.fsys.OpenFile(a.path, os.O_RDONLY, 0)
	if err != nil {
		return 0, ioErr("open", a.path, err)
	}
	defer f.Close()

	cr := newScanReader(ctx, f, end, a.rc)
	prog := newProgress(a.logger, "scan", 0)

	pos := 0
	for cr.n < end {
		if err := ctx.Err(); err != nil {
			return pos, err
		}
		off := cr.n
		id, err := a.codec.ScanID(cr)
		if err != nil {
			return pos, a.scanErr(cr, pos, off, err)
		}
		if cr.n == off {
			return pos, formatErr("record %d at offset %d is empty", pos, off)
		}
		if err := fn(pos, off, id); err != nil {
			return pos, err
		}
		pos++
		prog.tick(ctx, pos)
	}
	return pos, nil
}

// scanReader counts the bytes consumed by a sequential scan and remembers the
// first read failure, which distinguishes IO errors from corrupt records.
type scanReader struct {
	r   io.Reader
	n   int64
	err error
}

// newScanReader reads records of f from the end of the header to end,
// charging the bytes to the IO budget of rc.
func newScanReader(ctx context.Context, f io.ReaderAt, end int64, rc *resource.Controller) *scanReader {
	section := io.NewSectionReader(f, headerSize, end-headerSize)
	limited := resource.NewRateLimitedReader(ctx, section, rc)
	return &scanReader{r: bufio.NewReaderSize(limited, scanBufferSize), n: headerSize}
}

func (s *scanReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

func (a *Archive) scanErr(cr *scanReader, pos int, off int64, err error) error {
	if cr.err != nil {
		if errors.Is(cr.err, context.Canceled) || errors.Is(cr.err, context.DeadlineExceeded) {
			return cr.err
		}
		return ioErr("read", a.path, cr.err)
	}
	return fmt.Errorf("%w: record %d at offset %d: %w", ErrFormat, pos, off, err)
}

// Add encodes rec and appends it.
func (a *Archive) Add(rec record.Record) error {
	start := time.Now()
	data, err := a.codec.Append(nil, rec)
	if err != nil {
		a.metrics.RecordAppend(0, time.Since(start), err)
		return err
	}
	var id record.ID
	if a.hdr.idType != record.IDTypeNone {
		id = rec.ID()
	}
	err = a.appendRaw(data, id)
	a.metrics.RecordAppend(len(data), time.Since(start), err)
	return err
}

// AppendRaw appends an already encoded record. id must be the identifier
// encoded in data, or nil for archives without identifiers.
func (a *Archive) AppendRaw(data []byte, id record.ID) error {
	start := time.Now()
	err := a.appendRaw(data, id)
	a.metrics.RecordAppend(len(data), time.Since(start), err)
	return err
}

func (a *Archive) appendRaw(data []byte, id record.ID) error {
	if len(data) == 0 {
		return ErrEmptyRecord
	}
	if err := record.CheckID(a.hdr.idType, id); err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.closed.Load() {
		return ErrClosed
	}
	if a.ids != nil {
		if err := a.ids.Check(id); err != nil {
			return &DuplicateIDError{ID: id, cause: err}
		}
	}

	off := a.end
	a.dataMu.Lock()
	_, err := a.data.WriteAt(data, off)
	a.dataMu.Unlock()
	if err != nil {
		a.truncateTail(off)
		return ioErr("write", a.path, err)
	}
	if err := a.offs.Append(uint64(off)); err != nil {
		a.truncateTail(off)
		return ioErr("write", a.offPath(), err)
	}
	a.end = off + int64(len(data))

	t := a.tail.Load()
	a.tail.Store(&tail{size: t.size + 1, end: a.end})
	if a.ids != nil {
		// Checked above under writeMu.
		_ = a.ids.Add(id)
	}
	a.changed = true
	return nil
}

// truncateTail drops bytes of a failed append so the container ends at the
// last complete record.
func (a *Archive) truncateTail(off int64) {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	if err := a.data.Truncate(off); err != nil {
		a.logger.WarnContext(context.Background(), "truncating failed append", "offset", off, "error", err)
	}
}

// Size returns the number of records.
func (a *Archive) Size() int {
	if t := a.tail.Load(); t != nil {
		return t.size
	}
	return 0
}

// Path returns the container path.
func (a *Archive) Path() string { return a.path }

// CodecType returns the codec tag stored in the header.
func (a *Archive) CodecType() record.Type { return a.hdr.codecType }

// IDType returns the identifier kind stored in the header.
func (a *Archive) IDType() record.IDType { return a.hdr.idType }

// Codec returns the codec resolved for this archive.
func (a *Archive) Codec() record.Codec { return a.codec }

// Offset returns the container offset of the record at pos.
func (a *Archive) Offset(pos int) (int64, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	t := a.tail.Load()
	if pos < 0 || pos >= t.size {
		return 0, &OutOfRangeError{Position: pos, Size: t.size}
	}
	off, err := a.offs.At(pos)
	if err != nil {
		return 0, ioErr("read", a.offPath(), err)
	}
	return int64(off), nil
}

// ReadRaw returns the encoded bytes of the record at pos.
func (a *Archive) ReadRaw(pos int) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	t := a.tail.Load()
	if pos < 0 || pos >= t.size {
		return nil, &OutOfRangeError{Position: pos, Size: t.size}
	}
	start, err := a.offs.At(pos)
	if err != nil {
		return nil, ioErr("read", a.offPath(), err)
	}
	end := t.end
	if pos+1 < t.size {
		next, err := a.offs.At(pos + 1)
		if err != nil {
			return nil, ioErr("read", a.offPath(), err)
		}
		end = int64(next)
	}
	if end <= int64(start) {
		return nil, formatErr("record %d has non-increasing offsets %d and %d", pos, start, end)
	}

	buf := make([]byte, end-int64(start))
	a.dataMu.Lock()
	_, err = a.data.ReadAt(buf, int64(start))
	a.dataMu.Unlock()
	if err != nil {
		return nil, ioErr("read", a.path, err)
	}
	return buf, nil
}

// Get decodes the record at pos.
func (a *Archive) Get(pos int) (record.Record, error) {
	start := time.Now()
	rec, err := a.get(pos)
	a.metrics.RecordGet(time.Since(start), err)
	return rec, err
}

func (a *Archive) get(pos int) (record.Record, error) {
	data, err := a.ReadRaw(pos)
	if err != nil {
		return nil, err
	}
	rec, err := a.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %w", ErrFormat, pos, err)
	}
	return rec, nil
}

// Random returns a uniformly chosen record.
func (a *Archive) Random(rng *rand.Rand) (record.Record, error) {
	n := a.Size()
	if n == 0 {
		return nil, &OutOfRangeError{Position: 0, Size: 0}
	}
	if rng == nil {
		return a.Get(rand.IntN(n))
	}
	return a.Get(rng.IntN(n))
}

func (a *Archive) idIndex() (*idindex.Index, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if a.ids == nil {
		return nil, ErrNoIDIndex
	}
	return a.ids, nil
}

// GetByID returns the record with the given identifier. A missing identifier
// is reported as (nil, false, nil).
func (a *Archive) GetByID(id record.ID) (record.Record, bool, error) {
	ids, err := a.idIndex()
	if err != nil {
		return nil, false, err
	}
	pos, ok := ids.Position(id)
	if !ok {
		return nil, false, nil
	}
	rec, err := a.Get(pos)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// GetMany returns the records of ids in order, with nil for missing ones.
func (a *Archive) GetMany(ids []record.ID) ([]record.Record, error) {
	out := make([]record.Record, len(ids))
	for i, id := range ids {
		rec, _, err := a.GetByID(id)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Contains reports whether id is stored. It is false when the identifier
// index is not loaded.
func (a *Archive) Contains(id record.ID) bool {
	_, ok := a.PositionOf(id)
	return ok
}

// PositionOf returns the position of id.
func (a *Archive) PositionOf(id record.ID) (int, bool) {
	ids, err := a.idIndex()
	if err != nil {
		return 0, false
	}
	return ids.Position(id)
}

// IDAt returns the identifier of the record at pos, decoding it from the
// container when the identifier index is not loaded.
func (a *Archive) IDAt(pos int) (record.ID, error) {
	if a.hdr.idType == record.IDTypeNone {
		return nil, ErrNoIDIndex
	}
	if ids, err := a.idIndex(); err == nil {
		if pos < 0 || pos >= a.Size() {
			return nil, &OutOfRangeError{Position: pos, Size: a.Size()}
		}
		return ids.At(pos), nil
	}
	data, err := a.ReadRaw(pos)
	if err != nil {
		return nil, err
	}
	id, err := a.codec.ScanID(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %w", ErrFormat, pos, err)
	}
	return id, nil
}

// IDs returns every identifier in position order. Without a loaded index
// they are read from the identifier file when it is current, or collected
// by scanning the container.
func (a *Archive) IDs(ctx context.Context) ([]record.ID, error) {
	if a.hdr.idType == record.IDTypeNone {
		return nil, ErrNoIDIndex
	}
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if a.ids != nil {
		return a.ids.IDs(), nil
	}

	t := a.tail.Load()
	if info, err := a.data.Stat(); err == nil && a.fresh(a.idPath(), info.ModTime()) {
		ids, err := idindex.ReadAll(a.fsys, a.idPath(), a.hdr.idType)
		if err == nil && len(ids) == t.size {
			return ids, nil
		}
	}

	ids := make([]record.ID, 0, t.size)
	_, err := a.scanIDs(ctx, t.end, func(_ int, _ int64, id record.ID) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Info describes an archive.
type Info struct {
	Path            string
	Size            int
	Bytes           int64
	CodecType       record.Type
	IDType          record.IDType
	IDsLoaded       bool
	InMemoryOffsets bool
	Rebuilt         bool
}

func (i Info) String() string {
	return fmt.Sprintf("archive %s\n--> contains %d records (%d bytes)\n--> codec: %s\n--> identifier: %s\n",
		i.Path, i.Size, i.Bytes, i.CodecType, i.IDType)
}

// Info returns a summary of the archive.
func (a *Archive) Info() Info {
	t := a.tail.Load()
	return Info{
		Path:            a.path,
		Size:            t.size,
		Bytes:           t.end,
		CodecType:       a.hdr.codecType,
		IDType:          a.hdr.idType,
		IDsLoaded:       a.ids != nil,
		InMemoryOffsets: a.opts.inMemoryOffsets,
		Rebuilt:         a.rebuilt,
	}
}

// SameType creates an empty archive at path with the codec and identifier
// kinds of a and the options a was opened with.
func (a *Archive) SameType(path string) (*Archive, error) {
	return create(path, a.hdr.codecType, a.hdr.idType, a.opts)
}

// Close persists identifiers appended since the last save and releases the
// file handles. It is idempotent.
func (a *Archive) Close() error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.closed.Swap(true) {
		return nil
	}

	var errs []error
	if a.changed && a.ids != nil {
		if err := a.ids.Save(a.fsys, a.idPath()); err != nil {
			errs = append(errs, ioErr("write", a.idPath(), err))
		}
	}
	if err := a.offs.Sync(); err != nil {
		errs = append(errs, ioErr("sync", a.offPath(), err))
	}
	if err := a.offs.Close(); err != nil {
		errs = append(errs, ioErr("close", a.offPath(), err))
	}

	a.dataMu.Lock()
	if a.changed {
		if err := a.data.Sync(); err != nil {
			errs = append(errs, ioErr("sync", a.path, err))
		}
	}
	if err := a.data.Close(); err != nil {
		errs = append(errs, ioErr("close", a.path, err))
	}
	a.dataMu.Unlock()

	err := errors.Join(errs...)
	a.logger.LogClose(context.Background(), a.Size(), err)
	return err
}
