package apefs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apefs/go-apefs/util/bitmap"
)

// Block is one 4 KiB unit of storage; its identity is its position in the
// data region.
type Block struct {
	Num  uint32
	Data [BlockSize]byte
}

func newBlock(num uint32) *Block {
	return &Block{Num: num}
}

// fillInvalid marks every 4-byte slot of the block as InvalidBlock, the way
// a freshly allocated index block must start out.
func (b *Block) fillInvalid() {
	for i := range b.Data {
		b.Data[i] = 0xFF
	}
}

func (b *Block) pointerAt(i int) uint32 {
	off := i * 4
	return uint32(b.Data[off]) | uint32(b.Data[off+1])<<8 | uint32(b.Data[off+2])<<16 | uint32(b.Data[off+3])<<24
}

func (b *Block) setPointerAt(i int, v uint32) {
	off := i * 4
	b.Data[off] = byte(v)
	b.Data[off+1] = byte(v >> 8)
	b.Data[off+2] = byte(v >> 16)
	b.Data[off+3] = byte(v >> 24)
}

func (fs *FileSystem) readBlock(num uint32) (*Block, error) {
	blk := newBlock(num)
	off := fs.layout.dataOffset + int64(num)*BlockSize
	if _, err := fs.storage.ReadAt(blk.Data[:], off); err != nil {
		return nil, fmt.Errorf("apefs: read block %d: %w", num, err)
	}
	return blk, nil
}

func (fs *FileSystem) writeBlock(blk *Block) error {
	w, err := fs.writable()
	if err != nil {
		return err
	}
	off := fs.layout.dataOffset + int64(blk.Num)*BlockSize
	if _, err := w.WriteAt(blk.Data[:], off); err != nil {
		return fmt.Errorf("apefs: write block %d: %w", blk.Num, err)
	}
	return nil
}

// allocBlock finds the first clear bit in the block bitmap, marks it used,
// persists the bitmap, and returns the new block. Its data bytes are
// undefined until a subsequent write.
func (fs *FileSystem) allocBlock() (*Block, error) {
	loc, ok := fs.blockBitmap.FindFirstZero()
	if !ok {
		return nil, ErrBitmapExhausted
	}
	if err := fs.blockBitmap.Set(loc); err != nil {
		return nil, fmt.Errorf("apefs: mark block %d used: %w", loc, err)
	}
	if err := fs.writeBlockBitmap(); err != nil {
		_ = fs.blockBitmap.Clear(loc)
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"block": loc}).Debug("apefs: allocated block")
	return newBlock(uint32(loc)), nil
}

func (fs *FileSystem) freeBlock(num uint32) error {
	if err := fs.blockBitmap.Clear(int(num)); err != nil {
		return fmt.Errorf("apefs: free block %d: %w", num, err)
	}
	if err := fs.writeBlockBitmap(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"block": num}).Debug("apefs: freed block")
	return nil
}

func (fs *FileSystem) writeBlockBitmap() error {
	w, err := fs.writable()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(fs.blockBitmap.Store(), fs.layout.blockBitmapOffset); err != nil {
		return fmt.Errorf("apefs: write block bitmap: %w", err)
	}
	return nil
}

func loadBlockBitmap(fs *FileSystem) (*bitmap.Bitmap, error) {
	buf := make([]byte, int64(fs.superblock.blockMaps)*BlockSize)
	if _, err := fs.storage.ReadAt(buf, fs.layout.blockBitmapOffset); err != nil {
		return nil, fmt.Errorf("apefs: read block bitmap: %w", err)
	}
	return bitmap.Load(buf), nil
}

// readBlockViaInode resolves logicalIndex through the inode's
// direct/single-indirect/double-indirect pointer tiers and reads the
// resulting data block.
func (fs *FileSystem) readBlockViaInode(in *Inode, logicalIndex uint32) (*Block, error) {
	num, err := fs.resolveBlockNum(in, logicalIndex)
	if err != nil {
		return nil, err
	}
	return fs.readBlock(num)
}

func (fs *FileSystem) resolveBlockNum(in *Inode, logicalIndex uint32) (uint32, error) {
	if logicalIndex >= uint32(in.BlocksCount) {
		return 0, fmt.Errorf("apefs: logical block %d out of range (have %d)", logicalIndex, in.BlocksCount)
	}

	if logicalIndex < direct {
		return in.Blocks[logicalIndex], nil
	}

	r := logicalIndex - direct
	if r < indirectFanout {
		iblk, err := fs.readBlock(in.Blocks[8])
		if err != nil {
			return 0, err
		}
		return iblk.pointerAt(int(r)), nil
	}

	r -= indirectFanout
	diblk, err := fs.readBlock(in.Blocks[9])
	if err != nil {
		return 0, err
	}
	iblk, err := fs.readBlock(diblk.pointerAt(int(r / indirectFanout)))
	if err != nil {
		return 0, err
	}
	return iblk.pointerAt(int(r % indirectFanout)), nil
}

// allocBlockViaInode allocates a new data block and attaches it at logical
// position in.BlocksCount, creating intermediate index blocks on demand.
// Any newly allocated index block is filled with InvalidBlock markers
// before being linked in. On failure, BlocksCount is left unchanged, but an
// index block that was linked into in.Blocks[8] or in.Blocks[9] during the
// call stays linked, and the data block allocated for the call stays
// marked used in the block bitmap.
func (fs *FileSystem) allocBlockViaInode(in *Inode) (*Block, error) {
	blk, err := fs.allocBlock()
	if err != nil {
		return nil, err
	}

	if in.BlocksCount < direct {
		in.Blocks[in.BlocksCount] = blk.Num
		in.BlocksCount++
		if err := fs.writeInode(in); err != nil {
			in.BlocksCount--
			in.Blocks[in.BlocksCount] = InvalidBlock
			return nil, err
		}
		return blk, nil
	}

	blockPos := uint32(in.BlocksCount) - direct

	if blockPos < indirectFanout {
		iblk, err := fs.indexBlockFor(in, 8)
		if err != nil {
			return nil, err
		}
		iblk.setPointerAt(int(blockPos), blk.Num)
		if err := fs.writeBlock(iblk); err != nil {
			return nil, err
		}
	} else {
		pos := blockPos - indirectFanout
		diblk, err := fs.indexBlockFor(in, 9)
		if err != nil {
			return nil, err
		}

		outer := int(pos / indirectFanout)
		iblkNum := diblk.pointerAt(outer)
		var iblk *Block
		if iblkNum == InvalidBlock {
			iblk, err = fs.allocBlock()
			if err != nil {
				return nil, err
			}
			iblk.fillInvalid()
			diblk.setPointerAt(outer, iblk.Num)
			if err := fs.writeBlock(diblk); err != nil {
				return nil, err
			}
		} else {
			iblk, err = fs.readBlock(iblkNum)
			if err != nil {
				return nil, err
			}
		}

		iblk.setPointerAt(int(pos%indirectFanout), blk.Num)
		if err := fs.writeBlock(iblk); err != nil {
			return nil, err
		}
	}

	in.BlocksCount++
	if err := fs.writeInode(in); err != nil {
		in.BlocksCount--
		return nil, err
	}
	return blk, nil
}

// indexBlockFor returns the index block stored at in.Blocks[slot], creating
// and linking a fresh, InvalidBlock-filled one (and persisting the inode)
// the first time this slot is used.
func (fs *FileSystem) indexBlockFor(in *Inode, slot int) (*Block, error) {
	if in.Blocks[slot] != InvalidBlock {
		return fs.readBlock(in.Blocks[slot])
	}

	iblk, err := fs.allocBlock()
	if err != nil {
		return nil, err
	}
	iblk.fillInvalid()
	in.Blocks[slot] = iblk.Num
	if err := fs.writeInode(in); err != nil {
		in.Blocks[slot] = InvalidBlock
		return nil, err
	}
	if err := fs.writeBlock(iblk); err != nil {
		return nil, err
	}
	return iblk, nil
}

// freeAllBlocks releases every data block reachable from in, plus any
// single- and double-indirect index blocks, back to the block bitmap. It is
// used when destroying an inode: DirectoryDelete and FileDelete both need
// their data fully reclaimed, not just their directory entry removed.
func (fs *FileSystem) freeAllBlocks(in *Inode) error {
	total := uint32(in.BlocksCount)

	directCount := total
	if directCount > direct {
		directCount = direct
	}
	for i := uint32(0); i < directCount; i++ {
		if err := fs.freeBlock(in.Blocks[i]); err != nil {
			return err
		}
	}
	if total <= direct {
		return nil
	}

	singleCount := total - direct
	if singleCount > indirectFanout {
		singleCount = indirectFanout
	}
	iblk, err := fs.readBlock(in.Blocks[8])
	if err != nil {
		return err
	}
	for i := uint32(0); i < singleCount; i++ {
		if err := fs.freeBlock(iblk.pointerAt(int(i))); err != nil {
			return err
		}
	}
	if err := fs.freeBlock(in.Blocks[8]); err != nil {
		return err
	}
	if total <= direct+indirectFanout {
		return nil
	}

	remaining := total - direct - indirectFanout
	diblk, err := fs.readBlock(in.Blocks[9])
	if err != nil {
		return err
	}
	for outer := 0; remaining > 0; outer++ {
		iblkNum := diblk.pointerAt(outer)
		iblk, err := fs.readBlock(iblkNum)
		if err != nil {
			return err
		}
		n := remaining
		if n > indirectFanout {
			n = indirectFanout
		}
		for i := uint32(0); i < n; i++ {
			if err := fs.freeBlock(iblk.pointerAt(int(i))); err != nil {
				return err
			}
		}
		if err := fs.freeBlock(iblkNum); err != nil {
			return err
		}
		remaining -= n
	}
	return fs.freeBlock(in.Blocks[9])
}
