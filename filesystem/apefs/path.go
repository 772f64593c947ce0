package apefs

import (
	"fmt"
	"strings"
)

// ParsePath splits an absolute path like "/a/b/c" into its non-empty
// segments ["a", "b", "c"]. A trailing slash is tolerated ("/a/b/" parses
// the same as "/a/b"), but an interior empty segment ("/a//b") is rejected,
// and so is a path with no segments at all ("/" must be handled by the
// caller before calling ParsePath).
func ParsePath(path string) ([]string, error) {
	var segments []string
	sep := strings.IndexByte(path, '/')
	for sep != -1 {
		nextSep := strings.IndexByte(path[sep+1:], '/')
		var piece string
		if nextSep == -1 {
			piece = path[sep+1:]
		} else {
			nextSep += sep + 1
			piece = path[sep+1 : nextSep]
		}
		if piece != "" {
			segments = append(segments, piece)
		} else if sep != len(path)-1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		sep = nextSep
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return segments, nil
}

// JoinPath joins a directory path and a name, inserting a "/" unless dir
// already ends with one.
func JoinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// ExtractDirectory returns everything up to and including the last "/" in
// path, or "" if path has no "/".
func ExtractDirectory(path string) string {
	sep := strings.LastIndexByte(path, '/')
	if sep == -1 {
		return ""
	}
	return path[:sep+1]
}

// ExtractFilename returns everything after the last "/" in path, or "" if
// path has no "/".
func ExtractFilename(path string) string {
	sep := strings.LastIndexByte(path, '/')
	if sep == -1 {
		return ""
	}
	return path[sep+1:]
}

// resolveInode walks path from the root inode, following one directory
// entry per segment. Every segment but the last must name a directory.
func (fs *FileSystem) resolveInode(path string) (*Inode, error) {
	root, err := fs.readInode(rootInode)
	if err != nil {
		return nil, err
	}
	if path == "/" {
		return root, nil
	}

	segments, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	cur := root
	for i, name := range segments {
		entry, err := fs.directoryFind(cur, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		if i+1 < len(segments) && !entry.IsDirectory() {
			return nil, fmt.Errorf("%w: %q", ErrNotDirectory, path)
		}
		cur, err = fs.readInode(entry.InodeNum)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// resolveDirectory resolves path and requires the result to be a directory.
func (fs *FileSystem) resolveDirectory(path string) (*Inode, error) {
	in, err := fs.resolveInode(path)
	if err != nil {
		return nil, err
	}
	if !in.IsDirectory() {
		return nil, fmt.Errorf("%w: %q", ErrNotDirectory, path)
	}
	return in, nil
}
