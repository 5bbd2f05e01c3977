// Package fs provides the filesystem seam used by archives, so that tests can
// inject IO failures.
//
//   - [LocalFS]: production implementation over the os package
//   - [FaultyFS]: wraps another FileSystem and fails writes, reads, syncs,
//     closes or opens of files whose name matches a rule
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//
// Tests inject a FaultyFS:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".off", fs.Fault{FailAfterBytes: 16})
//
// There are no context.Context parameters: local file operations are not
// interruptible at the syscall level.
package fs
