// Package arctool runs the external archive tool that unpacks an archive into a
// sibling folder and repacks a folder into a sibling archive. The tool is invoked as
// "tool item" and decides what to do from the item type.
package arctool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joe/modmerge/pkg/filesystem"
)

// Exported constants.
const (
	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout = 3 * time.Minute
)

// Exported variables.
var (
	ErrNoOutput    = errors.New("archive tool produced no output")
	ErrToolMissing = errors.New("archive tool not found")
	ErrToolTimeout = errors.New("archive tool timed out")
)

// Tool runs the archive tool on one item.
type Tool interface {
	Run(ctx context.Context, item string) error
	Exists() bool
}

// External runs an executable on disk.
type External struct {
	Path    string
	Timeout time.Duration

	log zerolog.Logger
}

// NewExternal creates a runner for the executable at path. A non-positive timeout
// falls back to DefaultTimeout.
func NewExternal(path string, timeout time.Duration, logger zerolog.Logger) *External {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &External{
		Path:    path,
		Timeout: timeout,
		log:     logger.With().Str("component", "arctool").Logger(),
	}
}

// Exists reports whether the tool path names a regular file.
func (e *External) Exists() bool {
	if e.Path == "" {
		return false
	}

	info, err := os.Stat(e.Path)

	return err == nil && info.Mode().IsRegular()
}

// Run invokes the tool on item and waits for it, killing it once the timeout passes.
// The exit status is logged but not treated as a failure; callers check for the
// expected output instead.
func (e *External) Run(ctx context.Context, item string) error {
	tool, err := filepath.Abs(e.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve tool path %s: %w", e.Path, err)
	}

	target, err := filepath.Abs(item)
	if err != nil {
		return fmt.Errorf("failed to resolve item path %s: %w", item, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var output bytes.Buffer

	// #nosec G204 - the tool path is operator configuration
	cmd := exec.CommandContext(runCtx, tool, target)
	cmd.Dir = filepath.Dir(target)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w after %s: %s", ErrToolTimeout, e.Timeout, item)
	case ctx.Err() != nil:
		return fmt.Errorf("archive tool interrupted on %s: %w", item, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.log.Debug().Int("exit_code", exitErr.ExitCode()).Str("item", item).Msg("archive tool exited non-zero")
	} else if err != nil {
		return fmt.Errorf("failed to launch archive tool %s: %w", tool, err)
	}

	e.log.Trace().
		Str("item", item).
		Dur("elapsed", elapsed).
		Str("output", strings.TrimSpace(output.String())).
		Msg("archive tool finished")

	return nil
}

// UnpackedDir returns the folder the tool unpacks archive into: the archive path
// without its extension.
func UnpackedDir(archive string) string {
	return strings.TrimSuffix(archive, filepath.Ext(archive))
}

// PackedPath returns the archive the tool packs dir into.
func PackedPath(dir, extension string) string {
	return filepath.Clean(dir) + extension
}

// Unpack runs the tool on archive and returns the unpacked folder, checked through fsys.
func Unpack(ctx context.Context, tool Tool, fsys filesystem.FileSystem, archive string) (string, error) {
	err := tool.Run(ctx, archive)
	if err != nil {
		return "", err
	}

	dir := UnpackedDir(archive)

	info, err := fsys.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: expected folder %s", ErrNoOutput, dir)
	}

	return dir, nil
}

// Repack removes any stale archive at the packed path, runs the tool on dir and
// returns the packed archive.
func Repack(ctx context.Context, tool Tool, fsys filesystem.FileSystem, dir, extension string) (string, error) {
	archive := PackedPath(dir, extension)

	err := fsys.Remove(archive)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to remove stale archive %s: %w", archive, err)
	}

	err = tool.Run(ctx, dir)
	if err != nil {
		return "", err
	}

	info, err := fsys.Stat(archive)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: expected archive %s", ErrNoOutput, archive)
	}

	return archive, nil
}
