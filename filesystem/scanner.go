package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Scanner enumerates filesystem entries beneath a root. It records symlinks
// as symlinks unless configured to follow them.
type Scanner struct {
	// recursive indicates whether or not to descend into directories.
	recursive bool
	// followSymlinks indicates whether or not symlinks should be resolved to
	// their targets' metadata.
	followSymlinks bool
}

// NewScanner creates a scanner with the specified behavior.
func NewScanner(recursive, followSymlinks bool) *Scanner {
	return &Scanner{
		recursive:      recursive,
		followSymlinks: followSymlinks,
	}
}

// Scan enumerates the entries at or beneath root. Scanning a file yields a
// single entry. Scanning a directory yields its contents (the root directory
// itself is not included) in lexical order. Non-recursive scans list only the
// immediate children of root.
func (s *Scanner) Scan(root string) ([]Entry, error) {
	// Probe the root.
	info, err := s.stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to probe scan root")
	}

	// A file root is its own listing.
	if !info.IsDir() {
		return []Entry{NewEntry(root, info)}, nil
	}

	// Enumerate directory contents.
	if !s.recursive {
		return s.scanShallow(root)
	}
	return s.scanRecursive(root)
}

// scanShallow lists the immediate children of a directory.
func (s *Scanner) scanShallow(root string) ([]Entry, error) {
	contents, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read directory")
	}
	var entries []Entry
	for _, c := range contents {
		path := filepath.Join(root, c.Name())
		info, err := s.stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to probe %s", path)
		}
		entries = append(entries, NewEntry(path, info))
	}
	return entries, nil
}

// scanRecursive walks the tree beneath a directory.
func (s *Scanner) scanRecursive(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "unable to visit %s", path)
		}
		// Skip the root itself - callers deal in tree contents.
		if path == root {
			return nil
		}
		info, err := s.statEntry(path, d)
		if err != nil {
			return errors.Wrapf(err, "unable to probe %s", path)
		}
		entries = append(entries, NewEntry(path, info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// stat probes a path according to the scanner's symlink policy.
func (s *Scanner) stat(path string) (fs.FileInfo, error) {
	if s.followSymlinks {
		return os.Stat(path)
	}
	return os.Lstat(path)
}

// statEntry resolves metadata for a walked directory entry.
func (s *Scanner) statEntry(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if s.followSymlinks {
		return os.Stat(path)
	}
	return d.Info()
}
