// Package sync copies a host directory tree into an ApeFS image and back,
// and verifies that a round trip preserved every file byte for byte. It is
// the layer cmd/apefsctl drives; the image format itself knows nothing
// about host paths.
package sync

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/apefs/go-apefs/filesystem/apefs"
)

// excludedNames are skipped on both backup and restore.
var excludedNames = map[string]bool{
	"lost+found":                true,
	".DS_Store":                 true,
	"System Volume Information": true,
}

const maxCopyAllSize = 64 * 1024 * 1024

// Backup walks src and replays every directory and regular file into dst,
// rooted at "/". Symlinks and other non-regular entries are skipped: ApeFS
// has no concept of either (see the package's non-goals).
func Backup(src fs.FS, dst *apefs.FileSystem) error {
	return backupDir(src, dst, ".", "/")
}

func backupDir(src fs.FS, dst *apefs.FileSystem, srcDir, dstDir string) error {
	entries, err := fs.ReadDir(src, srcDir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", srcDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if excludedNames[name] {
			continue
		}

		srcPath := name
		if srcDir != "." {
			srcPath = path.Join(srcDir, name)
		}
		dstPath := apefs.JoinPath(dstDir, name)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", srcPath, err)
		}

		if entry.IsDir() {
			if err := dst.DirectoryCreate(dstPath); err != nil {
				return fmt.Errorf("create dir %s: %w", dstPath, err)
			}
			if err := backupDir(src, dst, srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() {
			// symlinks, devices, etc: ApeFS carries regular files only.
			continue
		}

		if err := backupFile(src, dst, srcPath, dstPath, info); err != nil {
			return fmt.Errorf("copy file %s: %w", srcPath, err)
		}
	}
	return nil
}

func backupFile(src fs.FS, dst *apefs.FileSystem, srcPath, dstPath string, info fs.FileInfo) error {
	in, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := dst.FileOpen(dstPath, apefs.OpenCreate)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if info.Size() <= maxCopyAllSize {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		n, err := out.Write(data)
		if err != nil {
			return err
		}
		if n != len(data) {
			return io.ErrShortWrite
		}
		return nil
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// Restore walks src (an open ApeFS image) from its root and recreates its
// tree under dstDir on the host filesystem.
func Restore(src *apefs.FileSystem, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dstDir, err)
	}
	_, entries, err := src.Root()
	if err != nil {
		return fmt.Errorf("read root: %w", err)
	}
	return restoreEntries(src, "/", entries, dstDir)
}

func restoreDir(src *apefs.FileSystem, srcPath, dstDir string) error {
	entries, err := src.DirectoryEnum(srcPath)
	if err != nil {
		return fmt.Errorf("enum dir %s: %w", srcPath, err)
	}
	return restoreEntries(src, srcPath, entries, dstDir)
}

func restoreEntries(src *apefs.FileSystem, srcPath string, entries []apefs.DirectoryEntry, dstDir string) error {
	for _, entry := range entries {
		if excludedNames[entry.Name] {
			continue
		}
		childSrc := apefs.JoinPath(srcPath, entry.Name)
		childDst := path.Join(dstDir, entry.Name)

		if entry.IsDirectory() {
			if err := os.MkdirAll(childDst, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", childDst, err)
			}
			if err := restoreDir(src, childSrc, childDst); err != nil {
				return err
			}
			continue
		}

		if err := restoreFile(src, childSrc, childDst); err != nil {
			return fmt.Errorf("restore file %s: %w", childSrc, err)
		}
	}
	return nil
}

func restoreFile(src *apefs.FileSystem, srcPath, dstPath string) error {
	in, err := src.FileOpen(srcPath, apefs.OpenExisting)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}

// Verify compares src (a host tree) against dst (an open ApeFS image)
// rooted at "/", confirming every directory and file in src is present in
// dst with identical content, and that dst holds nothing extra.
func Verify(src fs.FS, dst *apefs.FileSystem) error {
	seen := make(map[string]bool)

	walkErr := fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if excludedNames[d.Name()] {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		dstPath := "/" + p
		seen[dstPath] = true

		if d.IsDir() {
			if !dst.DirectoryExists(dstPath) {
				return fmt.Errorf("%q missing in image", dstPath)
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if !dst.FileExists(dstPath) {
			return fmt.Errorf("%q missing in image", dstPath)
		}
		return compareFileContents(src, p, dst, dstPath)
	})
	if walkErr != nil {
		return walkErr
	}

	_, entries, err := dst.Root()
	if err != nil {
		return fmt.Errorf("read root: %w", err)
	}
	return verifyEntries(dst, "/", entries, seen)
}

func compareFileContents(src fs.FS, srcPath string, dst *apefs.FileSystem, dstPath string) error {
	a, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	b, err := dst.FileOpen(dstPath, apefs.OpenExisting)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, ea := a.Read(bufA)
		nb, eb := b.Read(bufB)
		if na != nb || string(bufA[:na]) != string(bufB[:nb]) {
			return fmt.Errorf("content mismatch at %q", dstPath)
		}
		if ea == io.EOF && eb == io.EOF {
			return nil
		}
		if ea != nil && ea != io.EOF {
			return ea
		}
		if eb != nil && eb != io.EOF {
			return eb
		}
	}
}

func verifyNoExtras(dst *apefs.FileSystem, dir string, seen map[string]bool) error {
	entries, err := dst.DirectoryEnum(dir)
	if err != nil {
		return fmt.Errorf("enum dir %s: %w", dir, err)
	}
	return verifyEntries(dst, dir, entries, seen)
}

func verifyEntries(dst *apefs.FileSystem, dir string, entries []apefs.DirectoryEntry, seen map[string]bool) error {
	for _, entry := range entries {
		p := apefs.JoinPath(dir, entry.Name)
		if !seen[p] {
			return fmt.Errorf("extra path %q in image", p)
		}
		if entry.IsDirectory() {
			if err := verifyNoExtras(dst, p, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
