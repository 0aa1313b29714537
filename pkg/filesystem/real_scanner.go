package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/kr/fs"
)

// realFileScanner implements FileScanner using a kr/fs walker.
// It walks lazily, one entry per call to Next.
type realFileScanner struct {
	root   string
	walker *fs.Walker
	err    error
}

// newRealFileScanner creates a new scanner for the given directory.
func newRealFileScanner(root string) *realFileScanner {
	return &realFileScanner{
		root:   root,
		walker: fs.Walk(root),
	}
}

// Next advances to the next entry and returns its info.
func (s *realFileScanner) Next() (FileInfo, bool) {
	for s.walker.Step() {
		if err := s.walker.Err(); err != nil {
			if s.err == nil {
				s.err = fmt.Errorf("failed to scan %s: %w", s.walker.Path(), err)
			}

			continue
		}

		relPath, err := filepath.Rel(s.root, s.walker.Path())
		if err != nil {
			if s.err == nil {
				s.err = fmt.Errorf("failed to relativize %s: %w", s.walker.Path(), err)
			}

			continue
		}

		// Skip the root directory itself
		if relPath == "." {
			continue
		}

		info := s.walker.Stat()

		return FileInfo{
			RelativePath: filepath.ToSlash(relPath),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			IsDir:        info.IsDir(),
		}, true
	}

	return FileInfo{}, false
}

// Err returns the first error met during scanning.
func (s *realFileScanner) Err() error {
	return s.err
}
