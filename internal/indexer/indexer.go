// Package indexer builds a DirectoryTree, a map from file stem to path, by walking a
// folder in parallel on the primary scheduler pool.
//
// Each directory is one primary-pool job. A job lists its directory, records matching
// files in a local map, spawns one job per subdirectory and pushes its local map onto a
// lock-free queue before retiring from the fan-out tracker. The top-level call walks the
// root inline, waits for the tracker to settle, then drains the queue.
package indexer

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/joe/modmerge/pkg/fanout"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/lfqueue"
	"github.com/joe/modmerge/pkg/scheduler"
)

// Exported variables.
var (
	ErrCacheMissing    = errors.New("tree cache not found")
	ErrInvalidPattern  = errors.New("invalid glob pattern")
	ErrNotDirectory    = errors.New("root is not a directory")
	ErrRootNotFound    = errors.New("root not found")
	ErrTopLevelMissing = errors.New("root does not contain the top-level folder")
)

// DirectoryTree maps a file stem to one slash-separated absolute path.
type DirectoryTree map[string]string

// Claim records path under stem. When the stem is already taken the lexicographically
// smallest path wins, so the result does not depend on walk order.
func (t DirectoryTree) Claim(stem, path string) {
	if existing, ok := t[stem]; ok && existing <= path {
		return
	}

	t[stem] = path
}

// Merge claims every entry of other.
func (t DirectoryTree) Merge(other DirectoryTree) {
	for stem, path := range other {
		t.Claim(stem, path)
	}
}

// Stem returns the file name without its extension.
func Stem(name string) string {
	base := path.Base(filepath.ToSlash(name))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithExcludes skips files and directories matching any of the globs.
func WithExcludes(globs ...string) Option {
	return func(ix *Indexer) {
		ix.excludes = append(ix.excludes, globs...)
	}
}

// WithTopLevel requires cached search roots to contain the named folder segment.
func WithTopLevel(folder string) Option {
	return func(ix *Indexer) {
		ix.topLevel = folder
	}
}

// Indexer walks folders using the pools of a scheduler.Set.
type Indexer struct {
	set      *scheduler.Set
	fs       filesystem.FileSystem
	log      zerolog.Logger
	excludes []string
	topLevel string
	walks    atomic.Int64
}

// New creates an Indexer.
func New(set *scheduler.Set, fs filesystem.FileSystem, logger zerolog.Logger, opts ...Option) *Indexer {
	ix := &Indexer{
		set: set,
		fs:  fs,
		log: logger.With().Str("component", "indexer").Logger(),
	}

	for _, opt := range opts {
		opt(ix)
	}

	return ix
}

// Walks returns how many walks this indexer has started. Cache hits do not count.
func (ix *Indexer) Walks() int64 {
	return ix.walks.Load()
}

// Index walks root and returns every file matching extension, keyed by stem.
// Directories that cannot be listed are logged and skipped.
// Index blocks, so it must not be called from a primary-pool job.
func (ix *Indexer) Index(root, extension string) (DirectoryTree, error) {
	filter, err := NewFilter(extension, ix.excludes)
	if err != nil {
		return nil, err
	}

	absRoot, err := ix.validateRoot(root)
	if err != nil {
		return nil, err
	}

	ix.walks.Add(1)

	search := &search{
		root:    absRoot,
		filter:  filter,
		tracker: fanout.Begin(),
		results: lfqueue.New[DirectoryTree](),
	}

	// The root is visited inline; its deferred Done releases the tracker's initial unit.
	ix.visit(search, absRoot)
	search.tracker.Wait()

	tree := DirectoryTree{}
	parts := search.results.Drain(tree.Merge)

	ix.log.Debug().
		Str("root", absRoot).
		Str("extension", extension).
		Int("partials", parts).
		Int("files", len(tree)).
		Msg("index complete")

	return tree, nil
}

// IndexAsync runs Index as a secondary-pool job.
func (ix *Indexer) IndexAsync(root, extension string) *scheduler.Handle[DirectoryTree] {
	return scheduler.Submit(ix.set.Secondary, "index "+root, func() (DirectoryTree, error) {
		return ix.Index(root, extension)
	})
}

// IndexCached returns the cached tree when the cache holds a non-empty one.
// Otherwise it validates root, walks it and writes the result to the cache.
// A cache that cannot be read or written is logged and bypassed.
func (ix *Indexer) IndexCached(root, extension string, cache *Cache) (DirectoryTree, error) {
	tree, err := cache.Load()

	switch {
	case err == nil && len(tree) > 0:
		ix.log.Info().Str("cache", cache.Path).Int("files", len(tree)).Msg("using cached directory tree")
		return tree, nil
	case err != nil && !errors.Is(err, ErrCacheMissing):
		ix.log.Warn().Err(err).Msg("ignoring unreadable directory tree cache")
	}

	err = ix.ValidateSearchRoot(root)
	if err != nil {
		return nil, err
	}

	tree, err = ix.Index(root, extension)
	if err != nil {
		return nil, err
	}

	err = cache.Save(tree)
	if err != nil {
		ix.log.Warn().Err(err).Msg("failed to write directory tree cache")
	} else {
		ix.log.Info().Str("cache", cache.Path).Int("files", len(tree)).Msg("directory tree cached")
	}

	return tree, nil
}

// IndexSerial builds the same tree as Index with a single-threaded scan.
// It is used to cross-check the parallel walk.
func (ix *Indexer) IndexSerial(root, extension string) (DirectoryTree, error) {
	filter, err := NewFilter(extension, ix.excludes)
	if err != nil {
		return nil, err
	}

	absRoot, err := ix.validateRoot(root)
	if err != nil {
		return nil, err
	}

	ix.walks.Add(1)

	tree := DirectoryTree{}
	scanner := ix.fs.Scan(absRoot)

	for {
		info, ok := scanner.Next()
		if !ok {
			break
		}

		if info.IsDir || !filter.MatchFile(info.RelativePath) {
			continue
		}

		tree.Claim(Stem(info.RelativePath), path.Join(filepath.ToSlash(absRoot), info.RelativePath))
	}

	if err := scanner.Err(); err != nil {
		ix.log.Warn().Err(err).Msg("serial index skipped unreadable entries")
	}

	return tree, nil
}

// ValidateSearchRoot checks that root exists, is a directory, and contains the
// configured top-level folder as one of its path segments.
func (ix *Indexer) ValidateSearchRoot(root string) error {
	absRoot, err := ix.validateRoot(root)
	if err != nil {
		return err
	}

	if ix.topLevel == "" {
		return nil
	}

	for _, segment := range strings.Split(filepath.ToSlash(absRoot), "/") {
		if strings.EqualFold(segment, ix.topLevel) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s has no %q segment", ErrTopLevelMissing, root, ix.topLevel)
}

func (ix *Indexer) validateRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	info, err := ix.fs.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRootNotFound, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, absRoot)
	}

	return absRoot, nil
}

// search is the state shared by the jobs of one Index call.
type search struct {
	root    string
	filter  *Filter
	tracker *fanout.Tracker
	results *lfqueue.Queue[DirectoryTree]
}

// visit lists one directory. It retires one tracker unit on every exit path.
func (ix *Indexer) visit(s *search, dir string) {
	defer s.tracker.Done()

	entries, err := ix.fs.ReadDir(dir)
	if err != nil {
		ix.log.Warn().Err(err).Str("dir", dir).Msg("skipping unreadable directory")
		return
	}

	local := DirectoryTree{}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			continue
		}

		rel = filepath.ToSlash(rel)

		switch {
		case entry.IsDir():
			if s.filter.SkipDir(rel) {
				continue
			}

			ix.spawn(s, full)
		case entry.Type().IsRegular():
			if s.filter.MatchFile(rel) {
				local.Claim(Stem(entry.Name()), filepath.ToSlash(full))
			}
		}
	}

	if len(local) > 0 {
		s.results.Push(local)
	}
}

// spawn registers a child with the tracker before submitting it.
func (ix *Indexer) spawn(s *search, dir string) {
	s.tracker.Add()

	err := ix.set.Primary.SubmitDetached("index "+dir, func() error {
		ix.visit(s, dir)
		return nil
	})
	if err != nil {
		// The pool is gone; walk inline so the tracker still settles.
		ix.visit(s, dir)
	}
}
