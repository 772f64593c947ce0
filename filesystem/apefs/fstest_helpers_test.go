package apefs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/apefs/go-apefs/backend"
)

// memStorage is a fixed-size, in-memory backend.Storage used by the tests in
// this package so they exercise real ReadAt/WriteAt paths without touching
// the host filesystem.
type memStorage struct {
	data []byte
	pos  int64
}

func newMemStorage(size int64) *memStorage {
	return &memStorage{data: make([]byte, size)}
}

var _ backend.Storage = (*memStorage)(nil)

func (m *memStorage) Stat() (fs.FileInfo, error) {
	return memFileInfo{size: int64(len(m.data))}, nil
}

func (m *memStorage) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (m *memStorage) Writable() (backend.WritableFile, error) {
	return m, nil
}

func (m *memStorage) Read(b []byte) (int, error) {
	n, err := m.ReadAt(b, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *memStorage) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.data)) + offset
	}
	m.pos = newPos
	return newPos, nil
}

func (m *memStorage) Close() error {
	return nil
}

func (m *memStorage) ReadAt(b []byte, offset int64) (int, error) {
	if offset >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(b, m.data[offset:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memStorage) WriteAt(b []byte, offset int64) (int, error) {
	end := offset + int64(len(b))
	if end > int64(len(m.data)) {
		return 0, fmt.Errorf("memStorage: write past end of image (%d > %d)", end, len(m.data))
	}
	return copy(m.data[offset:], b), nil
}

type memFileInfo struct {
	size int64
}

func (m memFileInfo) Name() string       { return "memstorage" }
func (m memFileInfo) Size() int64        { return m.size }
func (m memFileInfo) Mode() fs.FileMode  { return 0o600 }
func (m memFileInfo) ModTime() time.Time { return time.Time{} }
func (m memFileInfo) IsDir() bool        { return false }
func (m memFileInfo) Sys() any           { return nil }

func newTestFS(size int64) (*FileSystem, error) {
	storage := newMemStorage(size)
	return Create(storage, size)
}

func mustTestFS(t interface{ Fatalf(string, ...any) }, size int64) *FileSystem {
	fs, err := newTestFS(size)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return fs
}
