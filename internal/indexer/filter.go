package indexer

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which files the walk records and which directories it skips.
// Matching is case-insensitive.
type Filter struct {
	include  string
	excludes []string
}

// NewFilter builds a filter for files with the given extension ("arc", ".arc" or "*.arc").
// An empty extension matches every file. Exclude patterns are doublestar globs relative
// to the walk root; a directory matching one is not descended into.
func NewFilter(extension string, excludes []string) (*Filter, error) {
	include := NormalizeExtension(extension)
	if include != "" {
		include = "*" + include
	}

	if !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, extension)
	}

	normalized := make([]string, 0, len(excludes))

	for _, pattern := range excludes {
		if pattern == "" {
			continue
		}

		lower := strings.ToLower(strings.TrimSuffix(pattern, "/"))
		if !doublestar.ValidatePattern(lower) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
		}

		normalized = append(normalized, lower)
	}

	return &Filter{include: strings.ToLower(include), excludes: normalized}, nil
}

// NormalizeExtension returns ext as ".ext", or "" for an empty extension.
func NormalizeExtension(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), "*")
	if ext == "" || ext == "." {
		return ""
	}

	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return ext
}

// MatchFile reports whether the file at the slash-separated relative path is recorded.
func (f *Filter) MatchFile(relativePath string) bool {
	lower := strings.ToLower(relativePath)

	if f.excluded(lower) {
		return false
	}

	if f.include == "" {
		return true
	}

	matched, err := doublestar.Match(f.include, path.Base(lower))

	return err == nil && matched
}

// SkipDir reports whether the directory at the slash-separated relative path is pruned.
func (f *Filter) SkipDir(relativePath string) bool {
	return f.excluded(strings.ToLower(relativePath))
}

// excluded reports whether lower or any of its parent directories matches an exclude pattern.
func (f *Filter) excluded(lower string) bool {
	if len(f.excludes) == 0 {
		return false
	}

	for candidate := lower; candidate != "." && candidate != "/" && candidate != ""; candidate = path.Dir(candidate) {
		for _, pattern := range f.excludes {
			if matched, err := doublestar.Match(pattern, candidate); err == nil && matched {
				return true
			}
		}
	}

	return false
}
