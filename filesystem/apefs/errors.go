package apefs

import "errors"

// Sentinel errors identifying the failure kinds from spec section 7. Every
// fallible operation wraps one of these with fmt.Errorf("...: %w", ...) so
// callers can still test the kind with errors.Is.
var (
	// ErrNotFound is returned when a path does not resolve to any inode.
	ErrNotFound = errors.New("apefs: no such file or directory")
	// ErrExists is returned when a directory entry with that name already exists.
	ErrExists = errors.New("apefs: entry already exists")
	// ErrNotDirectory is returned when an operation expecting a directory finds a file.
	ErrNotDirectory = errors.New("apefs: not a directory")
	// ErrNotFile is returned when an operation expecting a file finds a directory.
	ErrNotFile = errors.New("apefs: not a file")
	// ErrNotEmpty is returned by DirectoryDelete when the directory still has entries.
	ErrNotEmpty = errors.New("apefs: directory not empty")
	// ErrBitmapExhausted is returned when no free inode or block slot remains.
	ErrBitmapExhausted = errors.New("apefs: no free inode or block available")
	// ErrInvalidPath is returned for malformed paths (bad segments, empty names, '/' in a name).
	ErrInvalidPath = errors.New("apefs: invalid path")
	// ErrSeekOutOfRange is returned by File.Seek when the target position falls outside the file.
	ErrSeekOutOfRange = errors.New("apefs: seek out of range")
	// ErrClosed is returned by File operations on a handle that is not open.
	ErrClosed = errors.New("apefs: file handle is closed")
	// ErrCorrupt is returned when on-disk structures fail a basic sanity check (e.g. bad magic).
	ErrCorrupt = errors.New("apefs: corrupt image")
)
