package apefs

import "testing"

func TestBlockPointerEncodeDecode(t *testing.T) {
	blk := newBlock(0)
	blk.fillInvalid()
	for i := 0; i < indirectFanout; i++ {
		if blk.pointerAt(i) != InvalidBlock {
			t.Fatalf("pointerAt(%d) = %d after fillInvalid, want InvalidBlock", i, blk.pointerAt(i))
		}
	}

	blk.setPointerAt(3, 99)
	if got := blk.pointerAt(3); got != 99 {
		t.Fatalf("pointerAt(3) = %d, want 99", got)
	}
	if blk.pointerAt(2) != InvalidBlock {
		t.Fatalf("setPointerAt must not disturb neighboring slots")
	}
}

func TestAllocBlockWriteReadRoundTrip(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)

	blk, err := fs.allocBlock()
	if err != nil {
		t.Fatalf("allocBlock: %v", err)
	}
	copy(blk.Data[:], "hello block")
	if err := fs.writeBlock(blk); err != nil {
		t.Fatalf("writeBlock: %v", err)
	}

	reread, err := fs.readBlock(blk.Num)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	if string(reread.Data[:11]) != "hello block" {
		t.Fatalf("readBlock content mismatch: got %q", reread.Data[:11])
	}
}

func TestFreeBlockAllowsReuse(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)

	blk, err := fs.allocBlock()
	if err != nil {
		t.Fatalf("allocBlock: %v", err)
	}
	if err := fs.freeBlock(blk.Num); err != nil {
		t.Fatalf("freeBlock: %v", err)
	}

	again, err := fs.allocBlock()
	if err != nil {
		t.Fatalf("allocBlock after free: %v", err)
	}
	if again.Num != blk.Num {
		t.Fatalf("expected freed block %d to be reused, got %d", blk.Num, again.Num)
	}
}

func TestAllocBlockExhaustion(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)

	fs.blockBitmap.SetAll()
	if _, err := fs.allocBlock(); err == nil {
		t.Fatalf("expected ErrBitmapExhausted once every block is used")
	}
}

// newTestInode returns a zeroed, unpersisted inode usable directly with the
// block-via-inode helpers; it stands in for an inode that has already been
// allocated and written.
func newTestInode(num uint32) *Inode {
	in := &Inode{Num: num, Flags: flagFile}
	for i := range in.Blocks {
		in.Blocks[i] = InvalidBlock
	}
	return in
}

func TestAllocBlockViaInodeDirectTier(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)
	in := newTestInode(1)
	if err := fs.writeInode(in); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	for i := 0; i < direct; i++ {
		blk, err := fs.allocBlockViaInode(in)
		if err != nil {
			t.Fatalf("allocBlockViaInode #%d: %v", i, err)
		}
		if in.Blocks[i] != blk.Num {
			t.Fatalf("direct pointer %d not linked to new block %d", i, blk.Num)
		}
	}
	if in.BlocksCount != direct {
		t.Fatalf("BlocksCount = %d, want %d", in.BlocksCount, direct)
	}

	for i := 0; i < direct; i++ {
		num, err := fs.resolveBlockNum(in, uint32(i))
		if err != nil {
			t.Fatalf("resolveBlockNum(%d): %v", i, err)
		}
		if num != in.Blocks[i] {
			t.Fatalf("resolveBlockNum(%d) = %d, want %d", i, num, in.Blocks[i])
		}
	}
}

func TestAllocBlockViaInodeSingleIndirectTier(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)
	in := newTestInode(1)
	if err := fs.writeInode(in); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	// fill the direct tier, then allocate a few blocks into the
	// single-indirect tier.
	for i := 0; i < direct; i++ {
		if _, err := fs.allocBlockViaInode(in); err != nil {
			t.Fatalf("allocBlockViaInode (direct #%d): %v", i, err)
		}
	}
	const extra = 5
	var indirectBlocks [extra]uint32
	for i := 0; i < extra; i++ {
		blk, err := fs.allocBlockViaInode(in)
		if err != nil {
			t.Fatalf("allocBlockViaInode (indirect #%d): %v", i, err)
		}
		indirectBlocks[i] = blk.Num
	}

	if in.Blocks[8] == InvalidBlock {
		t.Fatalf("single-indirect index block pointer was never linked")
	}
	for i := 0; i < extra; i++ {
		num, err := fs.resolveBlockNum(in, uint32(direct+i))
		if err != nil {
			t.Fatalf("resolveBlockNum(%d): %v", direct+i, err)
		}
		if num != indirectBlocks[i] {
			t.Fatalf("resolveBlockNum(%d) = %d, want %d", direct+i, num, indirectBlocks[i])
		}
	}
}

func TestFreeAllBlocksReclaimsDirectAndIndirectTiers(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)
	in := newTestInode(1)
	if err := fs.writeInode(in); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	total := direct + 10
	for i := 0; i < total; i++ {
		if _, err := fs.allocBlockViaInode(in); err != nil {
			t.Fatalf("allocBlockViaInode #%d: %v", i, err)
		}
	}

	used := make([]int, 0, total+1)
	for i := 0; i < direct; i++ {
		used = append(used, int(in.Blocks[i]))
	}
	used = append(used, int(in.Blocks[8]))
	iblk, err := fs.readBlock(in.Blocks[8])
	if err != nil {
		t.Fatalf("readBlock(index): %v", err)
	}
	for i := 0; i < total-direct; i++ {
		used = append(used, int(iblk.pointerAt(i)))
	}

	if err := fs.freeAllBlocks(in); err != nil {
		t.Fatalf("freeAllBlocks: %v", err)
	}

	for _, loc := range used {
		set, err := fs.blockBitmap.Test(loc)
		if err != nil {
			t.Fatalf("Test(%d): %v", loc, err)
		}
		if set {
			t.Fatalf("block %d still marked used after freeAllBlocks", loc)
		}
	}
}
