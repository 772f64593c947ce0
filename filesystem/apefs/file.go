package apefs

import (
	"fmt"
	"io"
)

// OpenMode selects how FileSystem.FileOpen resolves path.
type OpenMode int

const (
	// OpenExisting opens an existing file for reading/writing, positioned
	// at its start.
	OpenExisting OpenMode = iota
	// OpenAppend opens an existing file positioned at its end.
	OpenAppend
	// OpenCreate creates a new file (and its directory entry), failing if
	// one already exists at path.
	OpenCreate
)

// File is an open handle onto a regular file's inode plus a read/write
// cursor. The zero value is closed; use FileSystem.FileOpen to get one.
type File struct {
	fs       *FileSystem
	inodeNum uint32
	position uint32
	open     bool
}

// Good reports whether the handle refers to an open file.
func (f *File) Good() bool {
	return f.open
}

// FileOpen opens the file at path according to mode.
func (fs *FileSystem) FileOpen(path string, mode OpenMode) (*File, error) {
	switch mode {
	case OpenExisting, OpenAppend:
		in, err := fs.resolveInode(path)
		if err != nil {
			return nil, err
		}
		if !in.IsFile() {
			return nil, fmt.Errorf("%w: %q", ErrNotFile, path)
		}
		pos := uint32(0)
		if mode == OpenAppend {
			pos = in.Size
		}
		return &File{fs: fs, inodeNum: in.Num, position: pos, open: true}, nil

	case OpenCreate:
		name := ExtractFilename(path)
		if name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		parent, err := fs.resolveDirectory(ExtractDirectory(path))
		if err != nil {
			return nil, err
		}

		in, err := fs.allocInode()
		if err != nil {
			return nil, err
		}
		in.Flags = flagFile
		if err := fs.writeInode(in); err != nil {
			_ = fs.freeInode(in.Num)
			return nil, err
		}

		entry, err := newDirectoryEntry(name, in.Num, flagFile)
		if err != nil {
			_ = fs.freeInode(in.Num)
			return nil, err
		}
		if err := fs.directoryAdd(parent, entry); err != nil {
			_ = fs.freeInode(in.Num)
			return nil, err
		}
		return &File{fs: fs, inodeNum: in.Num, position: 0, open: true}, nil
	}

	return nil, fmt.Errorf("apefs: unknown open mode %d", mode)
}

// Read reads into p starting at the current cursor, advancing it. It
// follows io.Reader semantics, returning io.EOF once the cursor reaches the
// file's size.
func (f *File) Read(p []byte) (int, error) {
	if !f.open {
		return 0, ErrClosed
	}
	in, err := f.fs.readInode(f.inodeNum)
	if err != nil {
		return 0, err
	}

	read := 0
	for read < len(p) && f.position < in.Size {
		blockOff := f.position % BlockSize
		n := BlockSize - blockOff
		if remain := in.Size - f.position; n > remain {
			n = remain
		}
		if want := uint32(len(p) - read); n > want {
			n = want
		}

		blk, err := f.fs.readBlockViaInode(in, f.position/BlockSize)
		if err != nil {
			return read, err
		}
		copy(p[read:read+int(n)], blk.Data[blockOff:blockOff+n])
		f.position += n
		read += int(n)
	}
	if read == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return read, nil
}

// Write writes p at the current cursor, growing the file (allocating new
// blocks as needed) when the cursor runs past the end of its existing data.
func (f *File) Write(p []byte) (int, error) {
	if !f.open {
		return 0, ErrClosed
	}
	in, err := f.fs.readInode(f.inodeNum)
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(p) {
		logicalIndex := f.position / BlockSize
		var blk *Block
		if logicalIndex >= uint32(in.BlocksCount) {
			blk, err = f.fs.allocBlockViaInode(in)
		} else {
			blk, err = f.fs.readBlockViaInode(in, logicalIndex)
		}
		if err != nil {
			return written, err
		}

		blockOff := f.position % BlockSize
		n := uint32(BlockSize - blockOff)
		if want := uint32(len(p) - written); n > want {
			n = want
		}
		copy(blk.Data[blockOff:blockOff+n], p[written:written+int(n)])
		if err := f.fs.writeBlock(blk); err != nil {
			return written, err
		}

		f.position += n
		written += int(n)
		if f.position > in.Size {
			in.Size = f.position
			if err := f.fs.writeInode(in); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Seek repositions the cursor per io.Seeker semantics (io.SeekStart,
// io.SeekCurrent, io.SeekEnd). With io.SeekEnd the resulting position must
// land within [0, size]; with io.SeekStart and io.SeekCurrent it must land
// within [0, size). Any other target is rejected with ErrSeekOutOfRange.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if !f.open {
		return 0, ErrClosed
	}
	in, err := f.fs.readInode(f.inodeNum)
	if err != nil {
		return 0, err
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(f.position) + offset
	case io.SeekEnd:
		target = int64(in.Size) + offset
	default:
		return 0, fmt.Errorf("apefs: unknown seek whence %d", whence)
	}

	// SEEK_END may land exactly at size (that's how EOF is found); SEEK_SET
	// and SEEK_CUR must land strictly before it, matching fileseek.
	if whence == io.SeekEnd {
		if target < 0 || target > int64(in.Size) {
			return 0, fmt.Errorf("%w: target %d, size %d", ErrSeekOutOfRange, target, in.Size)
		}
	} else if target < 0 || target >= int64(in.Size) {
		return 0, fmt.Errorf("%w: target %d, size %d", ErrSeekOutOfRange, target, in.Size)
	}
	f.position = uint32(target)
	return target, nil
}

// Tell returns the current cursor position.
func (f *File) Tell() uint32 {
	return f.position
}

// Size returns the file's current size in bytes.
func (f *File) Size() (uint32, error) {
	in, err := f.fs.readInode(f.inodeNum)
	if err != nil {
		return 0, err
	}
	return in.Size, nil
}

// Close marks the handle closed. The underlying inode is untouched.
func (f *File) Close() error {
	f.open = false
	f.position = 0
	return nil
}
