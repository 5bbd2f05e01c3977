package fcarchive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/fcarchive/blobstore"
	"github.com/hupe1980/fcarchive/internal/bundle"
	"github.com/hupe1980/fcarchive/internal/hash"
	"github.com/hupe1980/fcarchive/internal/offsets"
	"github.com/hupe1980/fcarchive/record"
	"github.com/hupe1980/fcarchive/resource"
)

const (
	manifestVersion = 1
	manifestBlob    = "MANIFEST"
)

// File roles inside a published archive.
const (
	RoleContainer = "container"
	RoleOffsets   = "offsets"
	RoleIDs       = "ids"
)

var roleBlobs = map[string]string{
	RoleContainer: "archive.fcb",
	RoleOffsets:   "archive.off.fcb",
	RoleIDs:       "archive.id.fcb",
}

// Manifest describes a published archive. It is stored msgpack encoded next
// to the file bundles.
type Manifest struct {
	Version     int            `msgpack:"version"`
	PublishID   string         `msgpack:"publish_id"`
	Name        string         `msgpack:"name"`
	Records     int            `msgpack:"records"`
	CodecType   int32          `msgpack:"codec_type"`
	IDType      int32          `msgpack:"id_type"`
	Compression string         `msgpack:"compression"`
	CreatedAt   time.Time      `msgpack:"created_at"`
	Files       []ManifestFile `msgpack:"files"`
}

// ManifestFile describes one published file.
type ManifestFile struct {
	Role   string `msgpack:"role"`
	Blob   string `msgpack:"blob"`
	Size   int64  `msgpack:"size"`
	Stored int64  `msgpack:"stored"`
	CRC32C uint32 `msgpack:"crc32c"`
}

// File returns the entry for role.
func (m *Manifest) File(role string) (ManifestFile, bool) {
	for _, f := range m.Files {
		if f.Role == role {
			return f, true
		}
	}
	return ManifestFile{}, false
}

// Publish uploads the container and its index files to store under name,
// each framed as a compressed bundle, followed by the manifest. Appends are
// blocked for the duration of the upload.
//
// The identifier file is only published when the identifier index is
// loaded; otherwise Fetch leaves it to be rebuilt on Open.
func (a *Archive) Publish(ctx context.Context, store blobstore.Store, name string, optFns ...PublishOption) (*Manifest, error) {
	o := applyPublishOptions(optFns)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.closed.Load() {
		return nil, ErrClosed
	}

	if err := a.persist(); err != nil {
		return nil, err
	}

	t := a.tail.Load()
	m := &Manifest{
		Version:     manifestVersion,
		PublishID:   uuid.NewString(),
		Name:        name,
		Records:     t.size,
		CodecType:   int32(a.hdr.codecType),
		IDType:      int32(a.hdr.idType),
		Compression: o.compression.String(),
		CreatedAt:   time.Now().UTC(),
	}

	files := []struct {
		role string
		path string
		size int64
	}{
		{RoleContainer, a.path, t.end},
		{RoleOffsets, a.offPath(), int64(t.size) * offsets.EntrySize},
	}
	if a.ids != nil {
		info, err := a.fsys.Stat(a.idPath())
		if err != nil {
			return nil, ioErr("stat", a.idPath(), err)
		}
		files = append(files, struct {
			role string
			path string
			size int64
		}{RoleIDs, a.idPath(), info.Size()})
	}

	for _, f := range files {
		mf, err := a.upload(ctx, store, name, f.role, f.path, f.size, o.compression)
		if err != nil {
			return nil, err
		}
		m.Files = append(m.Files, mf)
	}

	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, path.Join(name, manifestBlob), data); err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}

	a.logger.InfoContext(ctx, "archive published",
		"name", name,
		"publish_id", m.PublishID,
		"records", m.Records,
		"compression", m.Compression,
	)
	return m, nil
}

// persist flushes pending identifiers and syncs the files. The caller holds
// writeMu.
func (a *Archive) persist() error {
	if a.changed && a.ids != nil {
		if err := a.ids.Save(a.fsys, a.idPath()); err != nil {
			return ioErr("write", a.idPath(), err)
		}
	}
	if err := a.offs.Sync(); err != nil {
		return ioErr("sync", a.offPath(), err)
	}
	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	if err := a.data.Sync(); err != nil {
		return ioErr("sync", a.path, err)
	}
	return nil
}

func (a *Archive) upload(ctx context.Context, store blobstore.Store, name, role, src string, size int64, c Compression) (ManifestFile, error) {
	f, err := a.fsys.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return ManifestFile{}, ioErr("open", src, err)
	}
	defer f.Close()

	blobName := path.Join(name, roleBlobs[role])
	w, err := store.Create(ctx, blobName)
	if err != nil {
		return ManifestFile{}, fmt.Errorf("publish %s: %w", blobName, err)
	}

	hr := hash.NewReader(resource.NewRateLimitedReader(ctx, io.NewSectionReader(f, 0, size), a.rc))
	stored, err := bundle.Encode(w, hr, c)
	if err != nil {
		_ = w.Abort()
		return ManifestFile{}, fmt.Errorf("publish %s: %w", blobName, err)
	}
	if err := w.Close(); err != nil {
		return ManifestFile{}, fmt.Errorf("publish %s: %w", blobName, err)
	}
	if hr.N() != size {
		return ManifestFile{}, fmt.Errorf("publish %s: read %d of %d bytes: %w", blobName, hr.N(), size, io.ErrUnexpectedEOF)
	}

	a.logger.DebugContext(ctx, "file published", "role", role, "bytes", size, "stored", stored)
	return ManifestFile{Role: role, Blob: blobName, Size: size, Stored: stored, CRC32C: hr.Sum32()}, nil
}

// ReadManifest loads the manifest of the archive published under name.
func ReadManifest(ctx context.Context, store blobstore.Store, name string) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, store, path.Join(name, manifestBlob))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, formatErr("manifest %s: %v", name, err)
	}
	if m.Version != manifestVersion {
		return nil, formatErr("manifest %s: version %d", name, m.Version)
	}
	if _, ok := m.File(RoleContainer); !ok {
		return nil, formatErr("manifest %s: no container", name)
	}
	if _, ok := m.File(RoleOffsets); !ok {
		return nil, formatErr("manifest %s: no offset index", name)
	}
	return &m, nil
}

// Fetch downloads the archive published under name to dstPath and its
// sibling index files, verifying sizes and checksums. The index files are
// stamped with the container's modification time so that Open trusts them.
// Fetch does not open the archive.
func Fetch(ctx context.Context, store blobstore.Store, name, dstPath string, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)
	logger := o.logger.WithPath(dstPath)

	m, err := ReadManifest(ctx, store, name)
	if err != nil {
		return nil, err
	}
	if _, err := record.Lookup(record.Type(m.CodecType), record.IDType(m.IDType)); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}

	targets := map[string]string{
		RoleContainer: dstPath,
		RoleOffsets:   dstPath + OffsetsSuffix,
		RoleIDs:       dstPath + IDsSuffix,
	}
	// The container is written first so that it is never newer than its indexes.
	for _, role := range []string{RoleContainer, RoleOffsets, RoleIDs} {
		mf, ok := m.File(role)
		if !ok {
			if err := o.fsys.Remove(targets[role]); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, ioErr("remove", targets[role], err)
			}
			continue
		}
		if err := download(ctx, store, mf, targets[role], o); err != nil {
			return nil, err
		}
	}

	info, err := o.fsys.Stat(dstPath)
	if err != nil {
		return nil, ioErr("stat", dstPath, err)
	}
	for _, role := range []string{RoleOffsets, RoleIDs} {
		if _, ok := m.File(role); !ok {
			continue
		}
		if err := o.fsys.Chtimes(targets[role], info.ModTime(), info.ModTime()); err != nil {
			return nil, ioErr("chtimes", targets[role], err)
		}
	}

	logger.InfoContext(ctx, "archive fetched", "name", name, "publish_id", m.PublishID, "records", m.Records)
	return m, nil
}

func download(ctx context.Context, store blobstore.Store, mf ManifestFile, dst string, o options) error {
	b, err := store.Open(ctx, mf.Blob)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", mf.Blob, err)
	}
	defer b.Close()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return fmt.Errorf("fetch %s: %w", mf.Blob, err)
	}
	defer rc.Close()

	f, err := o.fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ioErr("create", dst, err)
	}

	h := hash.NewCRC32C()
	w := resource.NewRateLimitedWriter(ctx, io.MultiWriter(f, h), o.resources)
	n, err := bundle.Decode(w, rc)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, bundle.ErrCorrupt) || errors.Is(err, bundle.ErrUnknownCompression) {
			return formatErr("%s: %v", mf.Blob, err)
		}
		return fmt.Errorf("fetch %s: %w", mf.Blob, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return ioErr("sync", dst, err)
	}
	if err := f.Close(); err != nil {
		return ioErr("close", dst, err)
	}

	if n != mf.Size || h.Sum32() != mf.CRC32C {
		return formatErr("%s: got %d bytes crc %08x, manifest has %d bytes crc %08x", mf.Blob, n, h.Sum32(), mf.Size, mf.CRC32C)
	}
	return nil
}
