// Package hash provides the CRC32-Castagnoli checksums used to verify
// published archive files and S3 uploads.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	io.Copy(h, r)
//	checksum := h.Sum32()
package hash
