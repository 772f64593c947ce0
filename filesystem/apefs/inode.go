package apefs

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apefs/go-apefs/util/bitmap"
)

// inodeRecordSize is the packed, padding-free on-disk size of an inode
// record: num(4) + flags(1) + size(4) + blocksCount(2) + 10 block
// pointers(4 each).
const inodeRecordSize = 4 + 1 + 4 + 2 + 10*4

// Inode is the in-memory representation of one file or directory's metadata.
// It mirrors the fixed-size on-disk record exactly; there is no variable
// part (that lives in directory entries, see directory.go).
type Inode struct {
	Num         uint32
	Flags       uint8
	Size        uint32
	BlocksCount uint16
	Blocks      [10]uint32
}

// IsDirectory reports whether the inode is a directory.
func (i *Inode) IsDirectory() bool {
	return i.Flags&flagDirectory != 0
}

// IsFile reports whether the inode is a regular file.
func (i *Inode) IsFile() bool {
	return i.Flags&flagFile != 0
}

func (i *Inode) encode() []byte {
	buf := make([]byte, inodeRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], i.Num)
	buf[4] = i.Flags
	binary.LittleEndian.PutUint32(buf[5:9], i.Size)
	binary.LittleEndian.PutUint16(buf[9:11], i.BlocksCount)
	for idx, b := range i.Blocks {
		off := 11 + idx*4
		binary.LittleEndian.PutUint32(buf[off:off+4], b)
	}
	return buf
}

func decodeInode(buf []byte) (*Inode, error) {
	if len(buf) < inodeRecordSize {
		return nil, fmt.Errorf("apefs: inode record buffer too short: %d bytes", len(buf))
	}
	in := &Inode{}
	in.Num = binary.LittleEndian.Uint32(buf[0:4])
	in.Flags = buf[4]
	in.Size = binary.LittleEndian.Uint32(buf[5:9])
	in.BlocksCount = binary.LittleEndian.Uint16(buf[9:11])
	for idx := range in.Blocks {
		off := 11 + idx*4
		in.Blocks[idx] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return in, nil
}

// allocInode finds a free inode slot, marks it used, persists the inode
// bitmap, and returns a zeroed inode (all block pointers InvalidBlock) with
// that number. The caller must set Flags and call writeInode to commit the
// slot: an inode with Flags == 0 is considered uninitialized.
func (fs *FileSystem) allocInode() (*Inode, error) {
	loc, ok := fs.inodeBitmap.FindFirstZero()
	if !ok {
		return nil, ErrBitmapExhausted
	}
	if err := fs.inodeBitmap.Set(loc); err != nil {
		return nil, fmt.Errorf("apefs: mark inode %d used: %w", loc, err)
	}
	if err := fs.writeInodeBitmap(); err != nil {
		_ = fs.inodeBitmap.Clear(loc)
		return nil, err
	}

	in := &Inode{Num: uint32(loc)}
	for idx := range in.Blocks {
		in.Blocks[idx] = InvalidBlock
	}
	logrus.WithFields(logrus.Fields{"inode": loc}).Debug("apefs: allocated inode")
	return in, nil
}

// freeInode clears the inode's bitmap bit and persists the bitmap.
func (fs *FileSystem) freeInode(num uint32) error {
	if err := fs.inodeBitmap.Clear(int(num)); err != nil {
		return fmt.Errorf("apefs: free inode %d: %w", num, err)
	}
	if err := fs.writeInodeBitmap(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"inode": num}).Debug("apefs: freed inode")
	return nil
}

func (fs *FileSystem) readInode(num uint32) (*Inode, error) {
	if num >= maxInodes {
		return nil, fmt.Errorf("%w: inode %d out of range", ErrNotFound, num)
	}
	buf := make([]byte, inodeRecordSize)
	off := fs.layout.inodeTableOffset + int64(num)*inodeRecordSize
	if _, err := fs.storage.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("apefs: read inode %d: %w", num, err)
	}
	return decodeInode(buf)
}

func (fs *FileSystem) writeInode(in *Inode) error {
	if in.Flags == 0 {
		panic("apefs: writeInode called on an uninitialized inode")
	}
	w, err := fs.writable()
	if err != nil {
		return err
	}
	off := fs.layout.inodeTableOffset + int64(in.Num)*inodeRecordSize
	if _, err := w.WriteAt(in.encode(), off); err != nil {
		return fmt.Errorf("apefs: write inode %d: %w", in.Num, err)
	}
	return nil
}

func (fs *FileSystem) writeInodeBitmap() error {
	w, err := fs.writable()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(fs.inodeBitmap.Store(), fs.layout.inodeBitmapOffset); err != nil {
		return fmt.Errorf("apefs: write inode bitmap: %w", err)
	}
	return nil
}

func loadInodeBitmap(fs *FileSystem) (*bitmap.Bitmap, error) {
	buf := make([]byte, int(fs.superblock.inodeMaps)*BlockSize)
	if _, err := fs.storage.ReadAt(buf, fs.layout.inodeBitmapOffset); err != nil {
		return nil, fmt.Errorf("apefs: read inode bitmap: %w", err)
	}
	return bitmap.Load(buf), nil
}
