// Package apefs implements ApeFS, a UNIX-style hierarchical filesystem
// packed into a single host file for use as a portable backup container.
//
// An image is a fixed region layout written in order starting at offset 0:
// a superblock, an inode bitmap, a block bitmap, an inode table, and a data
// region of fixed-size blocks. Files and directories are addressed by
// POSIX-like paths and are backed by inodes with direct, single-indirect,
// and double-indirect block pointers, the same three-tier scheme ext2/ext3
// used before extents.
//
// The package is not safe for concurrent use: a FileSystem owns the backing
// storage and two in-memory bitmaps mutated in place, with no locking
// between operations.
package apefs
