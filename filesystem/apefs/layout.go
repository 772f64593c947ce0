package apefs

import (
	"encoding/binary"
	"fmt"
)

const (
	// BlockSize is the fixed size in bytes of a data block, an index block,
	// and a bitmap chunk.
	BlockSize = 4096

	// InvalidBlock marks an unused block pointer.
	InvalidBlock uint32 = 0xFFFFFFFF
	// InvalidInode marks an unused inode number / parent reference.
	InvalidInode uint32 = 0xFFFFFFFF

	// direct is the number of direct block pointers in an inode.
	direct = 8
	// indirectFanout is the number of block pointers held by one index block.
	indirectFanout = BlockSize / 4 // 1024

	// maxInodes is the number of inode slots the 3-block inode bitmap can
	// address: 3 bitmap blocks * BlockSize bytes/block * 8 bits/byte.
	maxInodes = 3 * BlockSize * 8

	// rootInode is the inode number of the filesystem root directory.
	rootInode uint32 = 0

	flagFile      uint8 = 1
	flagDirectory uint8 = 2

	magicValue = "apefs"
	version1   = 1
)

// superblock is the fixed on-disk header at image offset 0.
type superblock struct {
	magic          [5]byte
	version        uint8
	filesystemSize uint32
	blockMaps      uint32
	inodeMaps      uint8
	inodeBlocks    uint32
}

// superblockSize is the packed, padding-free byte size of superblock as
// written by encode/decode below: 5 + 1 + 4 + 4 + 1 + 4.
const superblockSize = 19

// SuperblockSize is superblockSize exported for tools that want to read the
// raw header bytes without decoding them (cmd/apefsctl's inspect command).
const SuperblockSize = superblockSize

func (s *superblock) encode() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:5], s.magic[:])
	buf[5] = s.version
	binary.LittleEndian.PutUint32(buf[6:10], s.filesystemSize)
	binary.LittleEndian.PutUint32(buf[10:14], s.blockMaps)
	buf[14] = s.inodeMaps
	binary.LittleEndian.PutUint32(buf[15:19], s.inodeBlocks)
	return buf
}

func decodeSuperblock(buf []byte) (*superblock, error) {
	if len(buf) < superblockSize {
		return nil, fmt.Errorf("apefs: superblock buffer too short: %d bytes", len(buf))
	}
	sb := &superblock{}
	copy(sb.magic[:], buf[0:5])
	sb.version = buf[5]
	sb.filesystemSize = binary.LittleEndian.Uint32(buf[6:10])
	sb.blockMaps = binary.LittleEndian.Uint32(buf[10:14])
	sb.inodeMaps = buf[14]
	sb.inodeBlocks = binary.LittleEndian.Uint32(buf[15:19])
	return sb, nil
}

func (s *superblock) valid() bool {
	return string(s.magic[:]) == magicValue
}

// layout holds the absolute byte offsets of each on-disk region, derived
// from the superblock per spec section 3: superblock, inode bitmap, block
// bitmap, inode table, data blocks, in that order.
type layout struct {
	inodeBitmapOffset int64
	blockBitmapOffset int64
	inodeTableOffset  int64
	dataOffset        int64
}

func computeLayout(sb *superblock) layout {
	var l layout
	l.inodeBitmapOffset = superblockSize
	l.blockBitmapOffset = l.inodeBitmapOffset + int64(sb.inodeMaps)*BlockSize
	l.inodeTableOffset = l.blockBitmapOffset + int64(sb.blockMaps)*BlockSize
	l.dataOffset = l.inodeTableOffset + int64(sb.inodeBlocks)*BlockSize
	return l
}

// ceilDiv computes ceil(a/b) for positive integers.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// inodeMapBlocks is the fixed number of blocks the inode bitmap occupies:
// enough to address maxInodes bits.
func inodeMapBlocks() uint8 {
	return uint8(ceilDiv(maxInodes, BlockSize*8))
}

// inodeTableBlocks is the number of blocks needed to hold maxInodes
// fixed-size inode records packed with no padding between them. This
// corrects the original's "ceil(BLOCKSIZE + sizeof(record))" formula,
// which was a transcription error (see DESIGN.md); the intent is
// ceil(maxInodes * recordSize / BlockSize).
func inodeTableBlocks() uint32 {
	return uint32(ceilDiv(int64(maxInodes)*int64(inodeRecordSize), BlockSize))
}

// computeSuperblockForSize sizes every region for a freshly created image of
// totalSize bytes: the inode bitmap and inode table are fixed (they address
// the fixed maxInodes universe); the block bitmap's own size depends on how
// many data blocks fit once every other region (including the bitmap
// itself) has been carved out, so it is computed by one round of
// fixed-point refinement rather than solved in closed form.
func computeSuperblockForSize(totalSize int64) (*superblock, error) {
	fixedHeader := int64(superblockSize) + int64(inodeMapBlocks())*BlockSize + int64(inodeTableBlocks())*BlockSize
	avail := totalSize - fixedHeader
	if avail < BlockSize {
		return nil, fmt.Errorf("apefs: image size %d too small for fixed header of %d bytes", totalSize, fixedHeader)
	}

	approxDataBlocks := avail / BlockSize
	blockMaps := uint32(ceilDiv(approxDataBlocks, BlockSize*8))

	avail -= int64(blockMaps) * BlockSize
	if avail < BlockSize {
		return nil, fmt.Errorf("apefs: image size %d too small to hold any data blocks", totalSize)
	}
	dataBlocks := avail / BlockSize

	sb := &superblock{
		version:     version1,
		blockMaps:   blockMaps,
		inodeMaps:   inodeMapBlocks(),
		inodeBlocks: inodeTableBlocks(),
	}
	copy(sb.magic[:], magicValue)
	sb.filesystemSize = uint32(fixedHeader + int64(blockMaps)*BlockSize + dataBlocks*BlockSize)
	return sb, nil
}
