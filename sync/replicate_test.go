package sync

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/apefs/go-apefs/backend/file"
	"github.com/apefs/go-apefs/filesystem/apefs"
)

func newTestImage(t *testing.T, size int64) *apefs.FileSystem {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "apefs-sync-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		t.Fatalf("Close temp file: %v", err)
	}

	storage, err := file.CreateTrunc(path, size)
	if err != nil {
		t.Fatalf("CreateTrunc: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	fs, err := apefs.Create(storage, size)
	if err != nil {
		t.Fatalf("apefs.Create: %v", err)
	}
	return fs
}

func sampleHostTree() fstest.MapFS {
	return fstest.MapFS{
		"docs/readme.txt":    &fstest.MapFile{Data: []byte("hello world")},
		"docs/notes/a.txt":   &fstest.MapFile{Data: []byte("note a")},
		"docs/notes/b.txt":   &fstest.MapFile{Data: []byte("note b")},
		"photos/one.jpg":     &fstest.MapFile{Data: []byte{0xFF, 0xD8, 0xFF, 0x00}},
		".DS_Store":          &fstest.MapFile{Data: []byte("ignored")},
	}
}

func TestBackupThenVerify(t *testing.T) {
	host := sampleHostTree()
	img := newTestImage(t, 16*1024*1024)

	if err := Backup(host, img); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if !img.DirectoryExists("/docs") || !img.DirectoryExists("/docs/notes") || !img.DirectoryExists("/photos") {
		t.Fatalf("expected directories were not created")
	}
	if !img.FileExists("/docs/readme.txt") || !img.FileExists("/photos/one.jpg") {
		t.Fatalf("expected files were not created")
	}
	if img.FileExists("/.DS_Store") {
		t.Fatalf(".DS_Store should have been excluded from backup")
	}

	if err := Verify(host, img); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyDetectsMissingFile(t *testing.T) {
	host := sampleHostTree()
	img := newTestImage(t, 16*1024*1024)

	if err := Backup(host, img); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := img.FileDelete("/docs/readme.txt"); err != nil {
		t.Fatalf("FileDelete: %v", err)
	}

	if err := Verify(host, img); err == nil {
		t.Fatalf("expected Verify to fail once a backed-up file is removed from the image")
	}
}

func TestVerifyDetectsExtraFile(t *testing.T) {
	host := sampleHostTree()
	img := newTestImage(t, 16*1024*1024)

	if err := Backup(host, img); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	f, err := img.FileOpen("/photos/extra.jpg", apefs.OpenCreate)
	if err != nil {
		t.Fatalf("FileOpen(create): %v", err)
	}
	if _, err := f.Write([]byte("surprise")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := Verify(host, img); err == nil {
		t.Fatalf("expected Verify to fail once the image holds a file absent from the host tree")
	}
}

func TestBackupThenRestoreRoundTrip(t *testing.T) {
	host := sampleHostTree()
	img := newTestImage(t, 16*1024*1024)

	if err := Backup(host, img); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	dstDir := t.TempDir()
	if err := Restore(img, dstDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(dstDir + "/docs/notes/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "note a" {
		t.Fatalf("restored content = %q, want %q", got, "note a")
	}

	if _, err := os.Stat(dstDir + "/.DS_Store"); err == nil {
		t.Fatalf(".DS_Store should not have been backed up, so it should not be restored either")
	}
}
