// Package apefs creates and opens ApeFS images: a UNIX-style hierarchical
// filesystem packed into a single host file.
//
// This does not mount anything locally or via a VM; it manipulates the
// bytes of the image file directly. Typical usage:
//
//	f, err := file.CreateTrunc("/tmp/disk.apefs", 16*1024*1024)
//	img, err := apefs.Create(f, 16*1024*1024)
//	img.DirectoryCreate("/photos")
//	handle, err := img.FileOpen("/photos/one.jpg", apefs.OpenCreate)
//	handle.Write(data)
//	handle.Close()
//	img.Close()
package apefs

import (
	"github.com/apefs/go-apefs/backend"
	"github.com/apefs/go-apefs/filesystem/apefs"
)

// FileSystem is an open ApeFS image.
type FileSystem = apefs.FileSystem

// File is an open handle onto a regular file within an image.
type File = apefs.File

// DirectoryEntry is one entry returned by FileSystem.DirectoryEnum.
type DirectoryEntry = apefs.DirectoryEntry

// Open mode constants for FileSystem.FileOpen.
const (
	OpenExisting = apefs.OpenExisting
	OpenAppend   = apefs.OpenAppend
	OpenCreate   = apefs.OpenCreate
)

// Create formats storage as a fresh ApeFS image of size bytes and returns
// it opened, with the root directory ready to use.
func Create(storage backend.Storage, size int64) (*FileSystem, error) {
	return apefs.Create(storage, size)
}

// Open reads an existing ApeFS image from storage.
func Open(storage backend.Storage) (*FileSystem, error) {
	return apefs.Open(storage)
}
