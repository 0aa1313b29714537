// Package merger merges the loose-file changes of several contributor archives into
// their baseline archive.
//
// For every target with more than one contributor, the baseline and each contributor
// are copied into a working folder and unpacked on the primary pool. Once every unpack
// has arrived at the barrier, each contributor tree is diffed against the baseline
// tree on the secondary pool. The changed files are unioned with later contributors
// taking priority, moved into the baseline tree, repacked and installed under the
// output root.
//
// Targets run on goroutines owned by the run, at most as many as the secondary pool
// has workers. They wait on pool jobs but never occupy a pool worker while waiting.
package merger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joe/modmerge/internal/arctool"
	"github.com/joe/modmerge/internal/differ"
	"github.com/joe/modmerge/internal/indexer"
	"github.com/joe/modmerge/internal/overwrite"
	pkgerrors "github.com/joe/modmerge/pkg/errors"
	"github.com/joe/modmerge/pkg/fileops"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/scheduler"
)

// Exported variables.
var (
	ErrBaselineMissing = errors.New("target has no baseline in the directory tree")
	ErrMergeInFlight   = errors.New("a merge is already running")
	ErrMissingSetting  = errors.New("missing required setting")
	ErrNothingToMerge  = errors.New("no target has more than one contributor")
	ErrToolMissing     = arctool.ErrToolMissing
)

// unexported variables.
var (
	errUnpackAborted = errors.New("unpack aborted")
)

// Settings are the paths and names a merge run needs.
type Settings struct {
	// OutputRoot receives the merged archives and holds the temp working folders.
	OutputRoot string
	// SearchRoot is the indexed baseline tree.
	SearchRoot string
	// TopLevel is the folder segment installed paths start from, e.g. "nativePC".
	TopLevel string
	// Extension is the archive extension the targets were indexed with.
	Extension string
}

// Merger runs merges. At most one run is active per Merger.
type Merger struct {
	settings Settings
	set      *scheduler.Set
	tool     arctool.Tool
	differ   *differ.Differ
	fs       filesystem.FileSystem
	ops      *fileops.FileOps
	log      zerolog.Logger
	enricher pkgerrors.Enricher

	running atomic.Bool

	emitMu  sync.Mutex
	emitter EventEmitter
}

// New creates a Merger.
func New(
	settings Settings,
	set *scheduler.Set,
	tool arctool.Tool,
	d *differ.Differ,
	fs filesystem.FileSystem,
	ops *fileops.FileOps,
	logger zerolog.Logger,
) *Merger {
	return &Merger{
		settings: settings,
		set:      set,
		tool:     tool,
		differ:   d,
		fs:       fs,
		ops:      ops,
		log:      logger.With().Str("component", "merger").Logger(),
		enricher: pkgerrors.NewEnricher(),
	}
}

// SetEventEmitter sets the event emitter. The emitter is optional; if nil, no events
// are emitted.
func (m *Merger) SetEventEmitter(emitter EventEmitter) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.emitter = emitter
}

// IsReadyToMerge reports whether no run is in flight.
func (m *Merger) IsReadyToMerge() bool {
	return !m.running.Load()
}

// ToolExists reports whether the archive tool is present.
func (m *Merger) ToolExists() bool {
	return m.tool.Exists()
}

// Merge runs a merge and blocks until every target has finished.
// Precondition failures return an error and start no work. Target failures are
// reported in the Result; see Result.Err.
func (m *Merger) Merge(ctx context.Context, tree indexer.DirectoryTree, order overwrite.Order) (*Result, error) {
	err := m.begin(order)
	if err != nil {
		return nil, err
	}

	defer m.running.Store(false)

	return m.run(ctx, tree, order), nil
}

// MergeAsync checks the preconditions, then runs the merge on its own goroutine.
// IsReadyToMerge turns true again once the handle resolves.
func (m *Merger) MergeAsync(
	ctx context.Context,
	tree indexer.DirectoryTree,
	order overwrite.Order,
) (*scheduler.Handle[*Result], error) {
	err := m.begin(order)
	if err != nil {
		return nil, err
	}

	return scheduler.Go("merge", func() (*Result, error) {
		defer m.running.Store(false)

		return m.run(ctx, tree, order), nil
	}), nil
}

// begin checks the preconditions and claims the in-flight flag.
func (m *Merger) begin(order overwrite.Order) error {
	required := []struct{ name, value string }{
		{"output folder", m.settings.OutputRoot},
		{"search root", m.settings.SearchRoot},
		{"extension", m.settings.Extension},
	}

	for _, setting := range required {
		if setting.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, setting.name)
		}
	}

	if !m.tool.Exists() {
		return ErrToolMissing
	}

	if len(order.Mergeable()) == 0 {
		return ErrNothingToMerge
	}

	if !m.running.CompareAndSwap(false, true) {
		return ErrMergeInFlight
	}

	return nil
}

func (m *Merger) run(ctx context.Context, tree indexer.DirectoryTree, order overwrite.Order) *Result {
	start := time.Now()
	stems := order.Mergeable()
	results := make([]TargetResult, len(stems))

	m.log.Info().Int("targets", len(stems)).Str("extension", m.settings.Extension).Msg("merge started")
	m.emit(MergeStarted{Targets: len(stems)})

	var group errgroup.Group

	group.SetLimit(m.set.Secondary.Size())

	for i, stem := range stems {
		contributors := slices.Clone(order[stem])
		baseline, found := tree[stem]

		group.Go(func() error {
			results[i] = m.mergeTarget(ctx, stem, baseline, found, contributors)
			return nil
		})
	}

	_ = group.Wait()

	m.removeIfEmpty(filepath.Join(m.settings.OutputRoot, TempDirName))

	result := &Result{Targets: results, Elapsed: time.Since(start)}

	m.log.Info().
		Int("installed", result.Installed()).
		Int("failed", result.Failed()).
		Dur("elapsed", result.Elapsed).
		Msg("merge complete")
	m.emit(MergeComplete{Result: result})

	return result
}

func (m *Merger) mergeTarget(
	ctx context.Context,
	stem, baseline string,
	found bool,
	contributors []string,
) TargetResult {
	start := time.Now()
	result := TargetResult{Stem: stem, Baseline: baseline, Contributors: contributors}
	log := m.log.With().Str("target", stem).Logger()

	fail := func(err error, skipped bool) TargetResult {
		result.Err = err
		result.Skipped = skipped
		result.Elapsed = time.Since(start)

		log.Error().Err(err).Msg("target failed")

		if suggestions := pkgerrors.FormatSuggestions(err); suggestions != "" {
			log.Info().Msg("Try these solutions:\n" + suggestions)
		}

		m.emit(TargetFailed{Stem: stem, Err: err})

		return result
	}

	switch {
	case ctx.Err() != nil:
		return fail(fmt.Errorf("not started: %w", ctx.Err()), true)
	case !found:
		return fail(ErrBaselineMissing, true)
	}

	m.emit(TargetStarted{Stem: stem, Contributors: len(contributors)})

	paths := newLayout(m.settings.OutputRoot, stem, baseline, contributors)

	defer func() {
		err := m.fs.RemoveAll(paths.work)
		if err != nil {
			log.Warn().Err(err).Msg("failed to remove working folder")
		}
	}()

	err := m.prepareWorkFolder(paths.work)
	if err != nil {
		return fail(m.enricher.Enrich(err, paths.work), false)
	}

	result.Copied, err = m.unpackAll(ctx, baseline, contributors, paths)
	if err != nil {
		return fail(err, false)
	}

	m.emit(TargetUnpacked{Stem: stem, Bytes: result.Copied})

	winners, overridden, err := m.diffAll(paths, len(contributors))
	if err != nil {
		return fail(err, false)
	}

	result.Overridden = overridden

	m.emit(TargetDiffed{Stem: stem, Files: len(winners)})

	result.Relocated, result.RelocateFailures = m.relocate(paths, winners, log)

	packed, err := arctool.Repack(ctx, m.tool, m.fs, paths.baselineDir(), filepath.Ext(paths.baseline))
	if err != nil {
		return fail(m.enricher.Enrich(fmt.Errorf("repack: %w", err), paths.baselineDir()), false)
	}

	output := InstallPath(m.settings, baseline)

	err = m.ops.MoveFile(packed, output)
	if err != nil {
		return fail(m.enricher.Enrich(fmt.Errorf("install: %w", err), output), false)
	}

	result.Output = output
	result.Elapsed = time.Since(start)

	log.Info().
		Str("output", output).
		Int("relocated", result.Relocated).
		Int("relocate_failures", result.RelocateFailures).
		Dur("elapsed", result.Elapsed).
		Msg("target installed")
	m.emit(TargetInstalled{Stem: stem, Output: output})

	return result
}

// prepareWorkFolder clears anything left by an earlier interrupted run.
func (m *Merger) prepareWorkFolder(work string) error {
	err := m.fs.RemoveAll(work)
	if err != nil {
		return err
	}

	return m.fs.MkdirAll(work, fileops.DefaultDirPermissions)
}

// unpackAll copies and unpacks the baseline and every contributor on the primary pool
// and returns the bytes copied into the work folder.
// The caller blocks at the barrier until all of them have arrived.
func (m *Merger) unpackAll(ctx context.Context, baseline string, contributors []string, paths layout) (int64, error) {
	sources := append([]string{filepath.FromSlash(baseline)}, fromSlash(contributors)...)
	targets := append([]string{paths.baseline}, paths.contributors...)
	errs := make([]error, len(sources))

	var (
		barrier sync.WaitGroup
		copied  atomic.Int64
	)

	barrier.Add(len(sources))

	for i := range sources {
		unpack := func() error {
			defer barrier.Done()

			// Stays set if unpackOne panics.
			errs[i] = errUnpackAborted
			errs[i] = m.unpackOne(ctx, sources[i], targets[i], &copied)

			return nil
		}

		err := m.set.Primary.SubmitDetached("unpack "+targets[i], unpack)
		if err != nil {
			_ = unpack()
		}
	}

	barrier.Wait()

	for i, err := range errs {
		if err != nil {
			return copied.Load(), m.enricher.Enrich(fmt.Errorf("unpack %s: %w", sources[i], err), sources[i])
		}
	}

	return copied.Load(), nil
}

func (m *Merger) unpackOne(ctx context.Context, source, target string, copied *atomic.Int64) error {
	var last int64

	_, err := m.ops.CopyFile(source, target, func(transferred, _ int64, _ string) {
		copied.Add(transferred - last)
		last = transferred
	})
	if err != nil {
		return err
	}

	_, err = arctool.Unpack(ctx, m.tool, m.fs, target)

	return err
}

// diffAll diffs every contributor against the baseline in parallel and unions the
// results keyed by relative path. A later contributor replaces an earlier one.
func (m *Merger) diffAll(paths layout, contributors int) (map[string]int, []string, error) {
	handles := make([]*scheduler.Handle[*differ.Result], contributors)

	for i := range contributors {
		handles[i] = m.differ.DiffAsync(paths.baselineDir(), paths.contributorDir(i))
	}

	diffs := make([]*differ.Result, contributors)

	var firstErr error

	for i, handle := range handles {
		diff, err := handle.Wait()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diff contributor %d: %w", i, err)
		}

		diffs[i] = diff
	}

	if firstErr != nil {
		return nil, nil, firstErr
	}

	winners := map[string]int{}
	overridden := map[string]bool{}

	for i, diff := range diffs {
		for _, rel := range diff.Files {
			if _, taken := winners[rel]; taken {
				overridden[rel] = true
			}

			winners[rel] = i
		}
	}

	names := make([]string, 0, len(overridden))
	for rel := range overridden {
		names = append(names, rel)
	}

	slices.Sort(names)

	return winners, names, nil
}

// relocate moves each winning file into the baseline tree. Failures are logged and
// counted; the target carries on.
func (m *Merger) relocate(paths layout, winners map[string]int, log zerolog.Logger) (moved, failed int) {
	rels := make([]string, 0, len(winners))
	for rel := range winners {
		rels = append(rels, rel)
	}

	slices.Sort(rels)

	for _, rel := range rels {
		src := filepath.Join(paths.contributorDir(winners[rel]), filepath.FromSlash(rel))
		dst := filepath.Join(paths.baselineDir(), filepath.FromSlash(rel))

		err := m.ops.MoveFile(src, dst)
		if err != nil {
			failed++

			log.Warn().Err(m.enricher.Enrich(err, src)).Str("file", rel).Msg("failed to relocate file")

			continue
		}

		moved++
	}

	return moved, failed
}

func (m *Merger) removeIfEmpty(dir string) {
	entries, err := m.fs.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}

	err = m.fs.Remove(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Debug().Err(err).Str("dir", dir).Msg("failed to remove temp folder")
	}
}

func (m *Merger) emit(event Event) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	if m.emitter != nil {
		m.emitter.Emit(event)
	}
}

func fromSlash(paths []string) []string {
	out := make([]string, len(paths))

	for i, path := range paths {
		out[i] = filepath.FromSlash(path)
	}

	return out
}
