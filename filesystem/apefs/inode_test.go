package apefs

import (
	"testing"

	"github.com/go-test/deep"
)

func TestInodeEncodeDecodeRoundTrip(t *testing.T) {
	in := &Inode{
		Num:         42,
		Flags:       flagFile,
		Size:        12345,
		BlocksCount: 3,
	}
	for i := range in.Blocks {
		in.Blocks[i] = InvalidBlock
	}
	in.Blocks[0] = 7
	in.Blocks[1] = 8
	in.Blocks[2] = 9

	buf := in.encode()
	if len(buf) != inodeRecordSize {
		t.Fatalf("encode() length = %d, want %d", len(buf), inodeRecordSize)
	}

	got, err := decodeInode(buf)
	if err != nil {
		t.Fatalf("decodeInode: %v", err)
	}
	deep.CompareUnexportedFields = true
	if diff := deep.Equal(*in, *got); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}

func TestInodeDecodeTooShort(t *testing.T) {
	if _, err := decodeInode(make([]byte, inodeRecordSize-1)); err == nil {
		t.Fatalf("expected error decoding a truncated buffer")
	}
}

func TestInodeIsDirectoryIsFile(t *testing.T) {
	dir := &Inode{Flags: flagDirectory}
	if !dir.IsDirectory() || dir.IsFile() {
		t.Fatalf("directory inode misclassified")
	}
	file := &Inode{Flags: flagFile}
	if !file.IsFile() || file.IsDirectory() {
		t.Fatalf("file inode misclassified")
	}
}

func TestAllocInodeThenFreeInodeRoundTrip(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)

	in, err := fs.allocInode()
	if err != nil {
		t.Fatalf("allocInode: %v", err)
	}
	if in.Num == rootInode {
		t.Fatalf("allocInode should not hand out the already-used root slot")
	}
	for i, b := range in.Blocks {
		if b != InvalidBlock {
			t.Fatalf("Blocks[%d] = %d, want InvalidBlock on a fresh inode", i, b)
		}
	}

	in.Flags = flagFile
	if err := fs.writeInode(in); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	reread, err := fs.readInode(in.Num)
	if err != nil {
		t.Fatalf("readInode: %v", err)
	}
	if reread.Num != in.Num || reread.Flags != flagFile {
		t.Fatalf("readInode mismatch: got %+v", reread)
	}

	if err := fs.freeInode(in.Num); err != nil {
		t.Fatalf("freeInode: %v", err)
	}

	again, err := fs.allocInode()
	if err != nil {
		t.Fatalf("allocInode after free: %v", err)
	}
	if again.Num != in.Num {
		t.Fatalf("expected freed inode slot %d to be reused, got %d", in.Num, again.Num)
	}
}

func TestAllocInodeExhaustion(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)

	fs.inodeBitmap.SetAll()
	if _, err := fs.allocInode(); err == nil {
		t.Fatalf("expected ErrBitmapExhausted once every inode slot is used")
	}
}

func TestWriteInodeUninitializedPanics(t *testing.T) {
	fs := mustTestFS(t, 8*1024*1024)
	defer func() {
		if recover() == nil {
			t.Fatalf("writeInode on an uninitialized inode should panic")
		}
	}()
	_ = fs.writeInode(&Inode{Num: 1})
}
