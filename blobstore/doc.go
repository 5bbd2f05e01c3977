// Package blobstore stores published archives as named, immutable blobs.
//
// A published archive under name "r1" occupies the blobs "r1/MANIFEST",
// "r1/archive.fcb", "r1/archive.off.fcb" and, when identifiers were loaded,
// "r1/archive.id.fcb". Names always use '/' as separator.
//
// Backends:
//
//   - LocalStore: a directory tree; reads are memory mapped and writes go
//     through a temporary file renamed into place
//   - MemoryStore: a map, for tests
//   - s3.Store: Amazon S3 (package blobstore/s3)
//   - minio.Store: MinIO and other S3-compatible servers (package blobstore/minio)
//
// Writers obtained from Create commit on Close and discard on Abort, so a
// failed publish never leaves a blob that looks complete:
//
//	w, err := store.Create(ctx, "r1/archive.fcb")
//	if err != nil {
//		return err
//	}
//	if _, err := io.Copy(w, src); err != nil {
//		_ = w.Abort()
//		return err
//	}
//	return w.Close()
package blobstore
