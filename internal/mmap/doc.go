// Package mmap maps files into memory for the inter-distance matrix.
//
// Open maps an existing file read-only. Create sizes a file and maps it
// read-write so that workers can fill disjoint ranges concurrently:
//
//	m, err := mmap.Create("dist.bin", int64(n*n*8))
//	if err != nil { ... }
//	defer m.Close()
//	m.PutFloat64(i*n+j, d)
//	err = m.Flush()
//
// # Platform Support
//
// Mapping relies on mmap(2), msync(2) and madvise(2) and is available on Unix
// systems. Elsewhere Open and Create return errors.ErrUnsupported.
//
// # Thread Safety
//
// Close is idempotent. Callers must ensure no goroutine touches Bytes() after
// Close returns.
package mmap
