// Package differ compares an unpacked candidate tree against an unpacked baseline
// tree and lists the candidate files that are new or changed.
package differ

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/joe/modmerge/pkg/fanout"
	"github.com/joe/modmerge/pkg/fileops"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/lfqueue"
	"github.com/joe/modmerge/pkg/scheduler"
)

// Exported variables.
var (
	ErrTreeNotFound = errors.New("tree not found")
)

// Result lists slash-separated paths relative to the candidate root, sorted and unique.
type Result struct {
	// Files are the candidate files to relocate: changed ones plus those missing from the baseline.
	Files []string
	// Missing are the candidate files with no baseline counterpart. They are also in Files.
	Missing []string
	// Skipped counts unreadable directories and files.
	Skipped int
}

// Differ runs tree comparisons on the pools of a scheduler.Set.
type Differ struct {
	set *scheduler.Set
	ops *fileops.FileOps
	fs  filesystem.FileSystem
	log zerolog.Logger
}

// New creates a Differ.
func New(set *scheduler.Set, ops *fileops.FileOps, fs filesystem.FileSystem, logger zerolog.Logger) *Differ {
	return &Differ{
		set: set,
		ops: ops,
		fs:  fs,
		log: logger.With().Str("component", "differ").Logger(),
	}
}

// Diff walks candidateRoot in parallel and compares every regular file with the file at
// the same relative path under baselineRoot. Diff blocks, so it must not be called from a
// primary-pool job.
func (d *Differ) Diff(baselineRoot, candidateRoot string) (*Result, error) {
	for _, root := range []string{baselineRoot, candidateRoot} {
		info, err := d.fs.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTreeNotFound, err)
		}

		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrTreeNotFound, root)
		}
	}

	cmp := &compare{
		baseline:  baselineRoot,
		candidate: candidateRoot,
		tracker:   fanout.Begin(),
		missing:   lfqueue.New[string](),
	}

	d.visit(cmp, candidateRoot)
	cmp.tracker.Wait()

	result := &Result{
		Files:   unique(cmp.relocate),
		Skipped: int(cmp.skipped.Load()),
	}

	cmp.missing.Drain(func(rel string) {
		result.Missing = append(result.Missing, rel)
	})
	result.Missing = unique(result.Missing)

	d.log.Debug().
		Str("baseline", baselineRoot).
		Str("candidate", candidateRoot).
		Int("changed", len(result.Files)).
		Int("missing", len(result.Missing)).
		Int("skipped", result.Skipped).
		Msg("diff complete")

	return result, nil
}

// DiffAsync runs Diff as a secondary-pool job.
func (d *Differ) DiffAsync(baselineRoot, candidateRoot string) *scheduler.Handle[*Result] {
	return scheduler.Submit(d.set.Secondary, "diff "+candidateRoot, func() (*Result, error) {
		return d.Diff(baselineRoot, candidateRoot)
	})
}

// compare is the state shared by the jobs of one Diff call.
type compare struct {
	baseline  string
	candidate string
	tracker   *fanout.Tracker
	missing   *lfqueue.Queue[string]
	skipped   atomic.Int64

	mu       sync.Mutex
	relocate []string
}

func (c *compare) add(rel string) {
	c.mu.Lock()
	c.relocate = append(c.relocate, rel)
	c.mu.Unlock()
}

// visit compares the files of one candidate directory. It retires one tracker unit on
// every exit path.
func (d *Differ) visit(c *compare, dir string) {
	defer c.tracker.Done()

	entries, err := d.fs.ReadDir(dir)
	if err != nil {
		c.skipped.Add(1)
		d.log.Warn().Err(err).Str("dir", dir).Msg("skipping unreadable directory")

		return
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			d.spawn(c, full)
			continue
		}

		if !entry.Type().IsRegular() {
			continue
		}

		rel, err := filepath.Rel(c.candidate, full)
		if err != nil {
			continue
		}

		d.compareFile(c, filepath.ToSlash(rel), full)
	}
}

func (d *Differ) compareFile(c *compare, rel, candidatePath string) {
	baselinePath := filepath.Join(c.baseline, filepath.FromSlash(rel))

	_, err := d.fs.Stat(baselinePath)
	if err != nil {
		c.missing.Push(rel)
		c.add(rel)

		return
	}

	same, err := d.ops.SameContent(baselinePath, candidatePath)
	if err != nil {
		c.skipped.Add(1)
		d.log.Warn().Err(err).Str("file", rel).Msg("skipping unreadable file")

		return
	}

	if !same {
		c.add(rel)
	}
}

// spawn registers a child with the tracker before submitting it.
func (d *Differ) spawn(c *compare, dir string) {
	c.tracker.Add()

	err := d.set.Primary.SubmitDetached("diff "+dir, func() error {
		d.visit(c, dir)
		return nil
	})
	if err != nil {
		d.visit(c, dir)
	}
}

func unique(paths []string) []string {
	if len(paths) == 0 {
		return []string{}
	}

	sorted := slices.Clone(paths)
	slices.Sort(sorted)

	return slices.Compact(sorted)
}
