package apefs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apefs/go-apefs/backend"
	"github.com/apefs/go-apefs/util/bitmap"
)

// FileSystem is an open ApeFS image: the superblock, the two allocation
// bitmaps held in memory, and the backing storage they are persisted to.
// A FileSystem is not safe for concurrent use.
type FileSystem struct {
	storage     backend.Storage
	superblock  *superblock
	layout      layout
	inodeBitmap *bitmap.Bitmap
	blockBitmap *bitmap.Bitmap
}

func (fs *FileSystem) writable() (backend.WritableFile, error) {
	return fs.storage.Writable()
}

// Create formats storage as a fresh ApeFS image of size bytes (rounded down
// to the nearest whole data block once fixed regions are accounted for) and
// returns it opened. The root directory, inode 0, is allocated and written
// as part of formatting.
func Create(storage backend.Storage, size int64) (*FileSystem, error) {
	sb, err := computeSuperblockForSize(size)
	if err != nil {
		return nil, err
	}

	w, err := storage.Writable()
	if err != nil {
		return nil, err
	}
	if _, err := w.WriteAt(sb.encode(), 0); err != nil {
		return nil, fmt.Errorf("apefs: write superblock: %w", err)
	}

	l := computeLayout(sb)
	blank := make([]byte, BlockSize)
	totalBlanks := int64(sb.inodeMaps) + int64(sb.blockMaps) + int64(sb.inodeBlocks)
	for i := int64(0); i < totalBlanks; i++ {
		if _, err := w.WriteAt(blank, l.inodeBitmapOffset+i*BlockSize); err != nil {
			return nil, fmt.Errorf("apefs: zero header region: %w", err)
		}
	}

	fs := &FileSystem{
		storage:     storage,
		superblock:  sb,
		layout:      l,
		inodeBitmap: bitmap.New(maxInodes),
		blockBitmap: bitmap.New(int(sb.blockMaps) * BlockSize * 8),
	}

	root, err := fs.allocInode()
	if err != nil {
		return nil, err
	}
	if root.Num != rootInode {
		return nil, fmt.Errorf("apefs: root inode allocated as %d, want %d", root.Num, rootInode)
	}
	root.Flags = flagDirectory
	if err := fs.writeInode(root); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"size":       sb.filesystemSize,
		"inodeMaps":  sb.inodeMaps,
		"blockMaps":  sb.blockMaps,
	}).Debug("apefs: created filesystem")
	return fs, nil
}

// Open reads an existing ApeFS image's superblock and bitmaps from storage.
func Open(storage backend.Storage) (*FileSystem, error) {
	buf := make([]byte, superblockSize)
	if _, err := storage.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("apefs: read superblock: %w", err)
	}
	sb, err := decodeSuperblock(buf)
	if err != nil {
		return nil, err
	}
	if !sb.valid() {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	fs := &FileSystem{
		storage:    storage,
		superblock: sb,
		layout:     computeLayout(sb),
	}
	fs.inodeBitmap, err = loadInodeBitmap(fs)
	if err != nil {
		return nil, err
	}
	fs.blockBitmap, err = loadBlockBitmap(fs)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// Close closes the backing storage.
func (fs *FileSystem) Close() error {
	return fs.storage.Close()
}

// Size returns the total size in bytes of the filesystem image.
func (fs *FileSystem) Size() uint32 {
	return fs.superblock.filesystemSize
}

// Root returns the root directory's inode number (always 0) and its entry
// list, letting a tree walk (see sync.Restore/Verify) start from the root
// without re-deriving "/" through path resolution on every call.
func (fs *FileSystem) Root() (uint32, []DirectoryEntry, error) {
	root, err := fs.readInode(rootInode)
	if err != nil {
		return 0, nil, err
	}
	entries, err := fs.directoryEnum(root)
	if err != nil {
		return 0, nil, err
	}
	return root.Num, entries, nil
}

// DirectoryCreate creates an empty directory at path. The parent must
// already exist and be a directory, and path's final component must not
// already exist there.
func (fs *FileSystem) DirectoryCreate(path string) error {
	name := ExtractFilename(path)
	if name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	parent, err := fs.resolveDirectory(ExtractDirectory(path))
	if err != nil {
		return err
	}

	in, err := fs.allocInode()
	if err != nil {
		return err
	}
	in.Flags = flagDirectory
	if err := fs.writeInode(in); err != nil {
		_ = fs.freeInode(in.Num)
		return err
	}

	entry, err := newDirectoryEntry(name, in.Num, flagDirectory)
	if err != nil {
		_ = fs.freeInode(in.Num)
		return err
	}
	if err := fs.directoryAdd(parent, entry); err != nil {
		// compensating action: the inode slot was already committed to
		// the bitmap and table above, so free it rather than leak it.
		_ = fs.freeInode(in.Num)
		return err
	}
	return nil
}

// DirectoryDelete removes the empty directory at path, freeing its inode.
// It fails with ErrNotEmpty if the directory still has entries.
func (fs *FileSystem) DirectoryDelete(path string) error {
	in, err := fs.resolveDirectory(path)
	if err != nil {
		return err
	}
	if in.Size != 0 {
		return fmt.Errorf("%w: %q", ErrNotEmpty, path)
	}

	parent, err := fs.resolveDirectory(ExtractDirectory(path))
	if err != nil {
		return err
	}
	if err := fs.directoryRemove(parent, ExtractFilename(path)); err != nil {
		return err
	}
	if err := fs.freeAllBlocks(in); err != nil {
		return err
	}
	return fs.freeInode(in.Num)
}

// DirectoryExists reports whether path resolves to a directory.
func (fs *FileSystem) DirectoryExists(path string) bool {
	_, err := fs.resolveDirectory(path)
	return err == nil
}

// DirectoryEnum lists the entries of the directory at path, in on-disk order.
func (fs *FileSystem) DirectoryEnum(path string) ([]DirectoryEntry, error) {
	in, err := fs.resolveDirectory(path)
	if err != nil {
		return nil, err
	}
	return fs.directoryEnum(in)
}

// FileExists reports whether path resolves to a regular file.
func (fs *FileSystem) FileExists(path string) bool {
	in, err := fs.resolveInode(path)
	return err == nil && in.IsFile()
}

// FileDelete removes the file at path, freeing its inode and data blocks.
func (fs *FileSystem) FileDelete(path string) error {
	in, err := fs.resolveInode(path)
	if err != nil {
		return err
	}
	if !in.IsFile() {
		return fmt.Errorf("%w: %q", ErrNotFile, path)
	}

	parent, err := fs.resolveDirectory(ExtractDirectory(path))
	if err != nil {
		return err
	}
	if err := fs.directoryRemove(parent, ExtractFilename(path)); err != nil {
		return err
	}
	if err := fs.freeAllBlocks(in); err != nil {
		return err
	}
	return fs.freeInode(in.Num)
}
