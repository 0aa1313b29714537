// Package fileops provides file operation utilities for hashing, comparing, copying and moving files.
package fileops

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"syscall"

	"github.com/cespare/xxhash/v2"

	"github.com/joe/modmerge/pkg/filesystem"
)

// Exported constants.
const (
	// BufferSize is the size of the buffer used for file copy and hash operations (32KB)
	BufferSize = 32 * 1024
	// DefaultDirPermissions is the default permission mode for created directories
	DefaultDirPermissions = 0o750
)

// Exported variables.
var (
	ErrNotRegular = errors.New("not a regular file")
)

// ProgressCallback is called during copies to report progress.
type ProgressCallback func(bytesTransferred int64, totalBytes int64, currentFile string)

// FileOps provides file operations over an injected filesystem.
type FileOps struct {
	FS filesystem.FileSystem
}

// NewFileOps creates a new FileOps instance with the given filesystem.
func NewFileOps(fs filesystem.FileSystem) *FileOps {
	return &FileOps{FS: fs}
}

// NewRealFileOps creates a new FileOps instance using the real filesystem.
func NewRealFileOps() *FileOps {
	return &FileOps{FS: filesystem.NewRealFileSystem()}
}

// ComputeFileHash computes the 64-bit xxHash of a file's contents.
// It is an equality oracle, not a cryptographic digest.
func (fo *FileOps) ComputeFileHash(filePath string) (uint64, error) {
	file, err := fo.FS.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	digest := xxhash.New()

	_, err = io.CopyBuffer(digest, file, make([]byte, BufferSize))
	if err != nil {
		return 0, fmt.Errorf("failed to read file %s for hashing: %w", filePath, err)
	}

	return digest.Sum64(), nil
}

// SameContent reports whether two files hold the same bytes.
// Sizes are compared first; equal sizes fall through to comparing content hashes.
func (fo *FileOps) SameContent(path1, path2 string) (bool, error) {
	info1, err := fo.FS.Stat(path1)
	if err != nil {
		return false, fmt.Errorf("failed to stat file %s: %w", path1, err)
	}

	info2, err := fo.FS.Stat(path2)
	if err != nil {
		return false, fmt.Errorf("failed to stat file %s: %w", path2, err)
	}

	// Quick size check
	if info1.Size() != info2.Size() {
		return false, nil
	}

	hash1, err := fo.ComputeFileHash(path1)
	if err != nil {
		return false, err
	}

	hash2, err := fo.ComputeFileHash(path2)
	if err != nil {
		return false, err
	}

	return hash1 == hash2, nil
}

// CopyFile copies a file from src to dst, creating parent directories and
// preserving the modification time. progress may be nil.
func (fo *FileOps) CopyFile(src, dst string, progress ProgressCallback) (int64, error) {
	sourceFile, err := fo.FS.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", src, err)
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	if !sourceInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s", ErrNotRegular, src)
	}

	dstDir := filepath.Dir(dst)

	err = fo.FS.MkdirAll(dstDir, DefaultDirPermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination directory %s: %w", dstDir, err)
	}

	destFile, err := fo.FS.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}

	written, err := copyLoop(sourceFile, destFile, sourceInfo.Size(), src, progress)

	closeErr := destFile.Close()
	if err != nil {
		return written, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	if closeErr != nil {
		return written, fmt.Errorf("failed to close destination file %s: %w", dst, closeErr)
	}

	// Preserve modification time
	err = fo.FS.Chtimes(dst, sourceInfo.ModTime(), sourceInfo.ModTime())
	if err != nil {
		return written, fmt.Errorf("failed to preserve modification time for %s: %w", dst, err)
	}

	return written, nil
}

// MoveFile moves src to dst, creating dst's parent directories and replacing
// any existing file. Moves across devices fall back to copy then remove.
func (fo *FileOps) MoveFile(src, dst string) error {
	dstDir := filepath.Dir(dst)

	err := fo.FS.MkdirAll(dstDir, DefaultDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", dstDir, err)
	}

	err = fo.FS.Rename(src, dst)
	if err == nil {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}

	_, err = fo.CopyFile(src, dst, nil)
	if err != nil {
		return err
	}

	err = fo.FS.Remove(src)
	if err != nil {
		return fmt.Errorf("failed to remove moved source %s: %w", src, err)
	}

	return nil
}

// copyLoop performs a basic buffered copy with progress tracking.
func copyLoop(sourceFile io.Reader, destFile io.Writer, sourceSize int64, srcPath string, progress ProgressCallback) (int64, error) {
	var written int64

	buf := make([]byte, BufferSize)

	for {
		nr, err := sourceFile.Read(buf) //nolint:varnamelen // nr is idiomatic for bytes read
		if nr > 0 {
			nw, werr := destFile.Write(buf[0:nr]) //nolint:varnamelen // nw is idiomatic for bytes written
			if werr != nil {
				return written, fmt.Errorf("failed to write to destination: %w", werr)
			}

			if nr != nw {
				return written, fmt.Errorf("short write: %w", io.ErrShortWrite)
			}

			written += int64(nw)

			if progress != nil {
				progress(written, sourceSize, srcPath)
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return written, fmt.Errorf("failed to read from source: %w", err)
		}
	}

	return written, nil
}
