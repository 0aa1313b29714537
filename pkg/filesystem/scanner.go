package filesystem

import (
	"time"
)

// FileScanner is an iterator over files in a directory.
// It provides a simple Next pattern for traversing directory contents.
type FileScanner interface {
	// Next advances to the next entry and returns its info.
	// Returns (FileInfo{}, false) when done.
	Next() (FileInfo, bool)

	// Err returns the first error met while scanning. Unreadable
	// directories do not stop the scan; they are recorded here and skipped.
	Err() error
}

// FileInfo contains metadata about a file.
type FileInfo struct {
	// RelativePath is the slash-separated path relative to the scan root
	RelativePath string

	// Size is the file size in bytes
	Size int64

	// ModTime is the modification time
	ModTime time.Time

	// IsDir indicates if this is a directory
	IsDir bool
}
