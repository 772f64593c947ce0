package apefs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// directoryEntryHeaderSize is the packed size of a directory entry's fixed
// header: inode number(4) + flags(1) + entrysize(2) + namelen(1).
const directoryEntryHeaderSize = 4 + 1 + 2 + 1

// DirectoryEntry is one entry in a directory's entry list: the packed
// header plus the variable-length name it is followed by on disk.
type DirectoryEntry struct {
	InodeNum  uint32
	Flags     uint8
	EntrySize uint16
	NameLen   uint8
	Name      string
}

// IsDirectory reports whether the entry refers to a directory.
func (e *DirectoryEntry) IsDirectory() bool {
	return e.Flags&flagDirectory != 0
}

// IsFile reports whether the entry refers to a regular file.
func (e *DirectoryEntry) IsFile() bool {
	return e.Flags&flagFile != 0
}

// realSize is the minimum stride this entry needs: header plus name plus
// the trailing NUL.
func (e *DirectoryEntry) realSize() uint16 {
	return directoryEntryHeaderSize + uint16(e.NameLen) + 1
}

// freeSize is the slack this entry's stride absorbs beyond its real size.
func (e *DirectoryEntry) freeSize() uint16 {
	return e.EntrySize - e.realSize()
}

func (e *DirectoryEntry) encode() []byte {
	buf := make([]byte, e.realSize())
	binary.LittleEndian.PutUint32(buf[0:4], e.InodeNum)
	buf[4] = e.Flags
	binary.LittleEndian.PutUint16(buf[5:7], e.EntrySize)
	buf[7] = e.NameLen
	copy(buf[8:8+e.NameLen], e.Name)
	buf[8+e.NameLen] = 0
	return buf
}

// decodeDirectoryEntry decodes the entry whose header begins at buf[0].
// buf must extend at least to the end of the entry's stored name.
func decodeDirectoryEntry(buf []byte) *DirectoryEntry {
	e := &DirectoryEntry{
		InodeNum:  binary.LittleEndian.Uint32(buf[0:4]),
		Flags:     buf[4],
		EntrySize: binary.LittleEndian.Uint16(buf[5:7]),
		NameLen:   buf[7],
	}
	e.Name = string(buf[8 : 8+int(e.NameLen)])
	return e
}

// newDirectoryEntry builds an entry for name/inodeNum/flags with EntrySize
// set to its exact realSize; directoryAdd grows EntrySize if it finds slack
// to absorb.
func newDirectoryEntry(name string, inodeNum uint32, flags uint8) (*DirectoryEntry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: name %q contains '/'", ErrInvalidPath, name)
	}
	if len(name) > 255 {
		return nil, fmt.Errorf("%w: name %q too long", ErrInvalidPath, name)
	}
	e := &DirectoryEntry{
		InodeNum: inodeNum,
		Flags:    flags,
		NameLen:  uint8(len(name)),
		Name:     name,
	}
	e.EntrySize = e.realSize()
	return e, nil
}

// directoryFind scans every data block of dir for an entry named name.
func (fs *FileSystem) directoryFind(dir *Inode, name string) (*DirectoryEntry, error) {
	for n := uint32(0); n < uint32(dir.BlocksCount); n++ {
		blk, err := fs.readBlockViaInode(dir, n)
		if err != nil {
			return nil, err
		}
		i := 0
		for i < BlockSize {
			entrySize := binary.LittleEndian.Uint16(blk.Data[i+5 : i+7])
			if entrySize == 0 {
				break
			}
			nameLen := int(blk.Data[i+7])
			if nameLen == len(name) {
				e := decodeDirectoryEntry(blk.Data[i:])
				if e.Name == name {
					return e, nil
				}
			}
			i += int(entrySize)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// directoryEnum lists every live entry across all of dir's data blocks, in
// on-disk block/stride order.
func (fs *FileSystem) directoryEnum(dir *Inode) ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	for n := uint32(0); n < uint32(dir.BlocksCount); n++ {
		blk, err := fs.readBlockViaInode(dir, n)
		if err != nil {
			return nil, err
		}
		i := 0
		for i < BlockSize {
			entrySize := binary.LittleEndian.Uint16(blk.Data[i+5 : i+7])
			if entrySize == 0 {
				break
			}
			entries = append(entries, *decodeDirectoryEntry(blk.Data[i:]))
			i += int(entrySize)
		}
	}
	return entries, nil
}

// directoryAdd inserts entry into dir, rejecting duplicate names. It tries,
// in order: splitting an existing entry's absorbed free space, extending
// into an existing block's true free tail, and finally allocating a new
// block.
func (fs *FileSystem) directoryAdd(dir *Inode, entry *DirectoryEntry) error {
	if _, err := fs.directoryFind(dir, entry.Name); err == nil {
		return fmt.Errorf("%w: %q", ErrExists, entry.Name)
	}

	for n := uint32(0); n < uint32(dir.BlocksCount); n++ {
		blk, err := fs.readBlockViaInode(dir, n)
		if err != nil {
			return err
		}

		i := 0
		for i < BlockSize {
			entrySize := binary.LittleEndian.Uint16(blk.Data[i+5 : i+7])
			if entrySize == 0 {
				break
			}
			cur := decodeDirectoryEntry(blk.Data[i:])
			if cur.freeSize() >= entry.EntrySize {
				// split: shrink the occupying entry down to its real size
				// and hand the new entry all of the recovered slack, so it
				// in turn absorbs that free space.
				recovered := cur.freeSize()
				cur.EntrySize = cur.realSize()
				binary.LittleEndian.PutUint16(blk.Data[i+5:i+7], cur.EntrySize)
				entry.EntrySize = recovered
				copy(blk.Data[i+int(cur.EntrySize):], entry.encode())
				return fs.writeBlock(blk)
			}
			i += int(entrySize)
		}

		// i now sits at the block's genuine free tail (entrysize==0 or the
		// block boundary); place the entry there if there is room.
		freeTail := BlockSize - i
		if freeTail >= int(entry.EntrySize) {
			dir.Size += uint32(entry.EntrySize)
			copy(blk.Data[i:], entry.encode())
			if err := fs.writeInode(dir); err != nil {
				return err
			}
			return fs.writeBlock(blk)
		}
	}

	// no existing block accepted the entry: grow the directory.
	blk, err := fs.allocBlockViaInode(dir)
	if err != nil {
		return err
	}
	for i := range blk.Data {
		blk.Data[i] = 0
	}
	copy(blk.Data[0:], entry.encode())
	dir.Size += uint32(entry.EntrySize)
	if err := fs.writeInode(dir); err != nil {
		return err
	}
	return fs.writeBlock(blk)
}

// directoryRemove removes the entry named name from dir.
func (fs *FileSystem) directoryRemove(dir *Inode, name string) error {
	for n := uint32(0); n < uint32(dir.BlocksCount); n++ {
		blk, err := fs.readBlockViaInode(dir, n)
		if err != nil {
			return err
		}

		i := 0
		prevOffset := -1
		for i < BlockSize {
			entrySize := binary.LittleEndian.Uint16(blk.Data[i+5 : i+7])
			if entrySize == 0 {
				break
			}
			nameLen := int(blk.Data[i+7])
			if nameLen == len(name) && bytes.Equal(blk.Data[i+8:i+8+nameLen], []byte(name)) {
				if prevOffset >= 0 {
					prevSize := binary.LittleEndian.Uint16(blk.Data[prevOffset+5 : prevOffset+7])
					binary.LittleEndian.PutUint16(blk.Data[prevOffset+5:prevOffset+7], prevSize+entrySize)
					return fs.writeBlock(blk)
				}

				nextOffset := i + int(entrySize)
				nextSize := binary.LittleEndian.Uint16(blk.Data[nextOffset+5 : nextOffset+7])
				if nextSize != 0 {
					next := decodeDirectoryEntry(blk.Data[nextOffset:])
					next.EntrySize += entrySize
					copy(blk.Data[i:], next.encode())
					binary.LittleEndian.PutUint16(blk.Data[i+5:i+7], next.EntrySize)
				} else {
					dir.Size -= uint32(entrySize)
					binary.LittleEndian.PutUint16(blk.Data[i+5:i+7], 0)
					if err := fs.writeInode(dir); err != nil {
						return err
					}
				}
				return fs.writeBlock(blk)
			}
			prevOffset = i
			i += int(entrySize)
		}
	}
	return fmt.Errorf("%w: %q", ErrNotFound, name)
}
