package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/joe/modmerge/internal/arctool"
	"github.com/joe/modmerge/internal/config"
	"github.com/joe/modmerge/internal/differ"
	"github.com/joe/modmerge/internal/indexer"
	"github.com/joe/modmerge/internal/logging"
	"github.com/joe/modmerge/internal/merger"
	"github.com/joe/modmerge/internal/overwrite"
	"github.com/joe/modmerge/internal/report"
	"github.com/joe/modmerge/pkg/fileops"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/scheduler"
)

// Exported variables.
var (
	ErrIndexMismatch = errors.New("parallel and serial index disagree")
)

// app owns the shared pools and collaborators for one command.
type app struct {
	cfg     *config.Config
	out     io.Writer
	log     zerolog.Logger
	set     *scheduler.Set
	fs      filesystem.FileSystem
	ops     *fileops.FileOps
	indexer *indexer.Indexer
	cache   *indexer.Cache
}

func newApp(cfg *config.Config, out io.Writer, logger zerolog.Logger) *app {
	primary, secondary := scheduler.DefaultSizes()
	if cfg.Workers > 0 {
		primary = cfg.Workers
	}

	if cfg.SecondaryWorkers > 0 {
		secondary = cfg.SecondaryWorkers
	}

	set := scheduler.NewSet(primary, secondary, logger)
	fsys := filesystem.NewRealFileSystem()

	return &app{
		cfg: cfg,
		out: out,
		log: logger,
		set: set,
		fs:  fsys,
		ops: fileops.NewFileOps(fsys),
		indexer: indexer.New(set, fsys, logger,
			indexer.WithTopLevel(cfg.TopLevel),
			indexer.WithExcludes(cfg.Excludes...)),
		cache: indexer.NewCache(cfg.OutputRoot),
	}
}

func (a *app) close() {
	a.set.Close()
}

func (a *app) run(ctx context.Context) error {
	defer logging.LogOperationStart(a.log, a.cfg.Command())()

	switch a.cfg.Command() {
	case "index":
		return a.index()
	case "order":
		return a.order(ctx)
	case "merge":
		return a.merge(ctx)
	default:
		return config.ErrNoCommand
	}
}

func (a *app) index() error {
	start := time.Now()

	tree, err := a.tree(a.cfg.Index.Refresh)
	if err != nil {
		return err
	}

	if a.cfg.Index.Verify {
		serial, err := a.indexer.IndexSerial(a.cfg.SearchRoot, a.cfg.Extension)
		if err != nil {
			return err
		}

		if !maps.Equal(tree, serial) {
			return fmt.Errorf("%w: %d vs %d archives", ErrIndexMismatch, len(tree), len(serial))
		}
	}

	fmt.Fprintln(a.out, report.Index(tree, a.cfg.SearchRoot, time.Since(start)))

	return nil
}

func (a *app) order(ctx context.Context) error {
	order, err := a.buildOrder(ctx, a.cfg.Order.Reset)
	if err != nil {
		return err
	}

	for _, move := range a.cfg.Order.Up {
		err = order.MoveUp(move.Stem, move.Index)
		if err != nil {
			return err
		}
	}

	for _, move := range a.cfg.Order.Down {
		err = order.MoveDown(move.Stem, move.Index)
		if err != nil {
			return err
		}
	}

	err = order.Save(a.cfg.OrderFile)
	if err != nil {
		return err
	}

	fmt.Fprint(a.out, report.Plan(order, a.modsRoot()))

	return nil
}

func (a *app) merge(ctx context.Context) error {
	tree, err := a.tree(a.cfg.Merge.Refresh)
	if err != nil {
		return err
	}

	order, err := a.buildOrder(ctx, false)
	if err != nil {
		return err
	}

	fmt.Fprint(a.out, report.Plan(order, a.modsRoot()))

	if a.cfg.Merge.DryRun {
		return nil
	}

	err = order.Save(a.cfg.OrderFile)
	if err != nil {
		return err
	}

	tool := arctool.NewExternal(a.cfg.Tool, a.cfg.ToolTimeout(), a.log)
	m := merger.New(merger.Settings{
		OutputRoot: a.cfg.OutputRoot,
		SearchRoot: a.cfg.SearchRoot,
		TopLevel:   a.cfg.TopLevel,
		Extension:  a.cfg.Extension,
	}, a.set, tool, differ.New(a.set, a.ops, a.fs, a.log), a.fs, a.ops, a.log)
	m.SetEventEmitter(report.NewProgress(a.out))

	result, err := m.Merge(ctx, tree, order)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, report.Summary(result))

	if failures := result.Err(); failures != nil {
		a.log.Warn().Err(failures).Int("failed", result.Failed()).Msg("some targets were not merged")
	}

	return nil
}

// tree returns the baseline directory tree, re-indexing when refresh is set.
func (a *app) tree(refresh bool) (indexer.DirectoryTree, error) {
	if refresh {
		err := a.cache.Invalidate()
		if err != nil {
			return nil, err
		}
	}

	return a.indexer.IndexCached(a.cfg.SearchRoot, a.cfg.Extension, a.cache)
}

// buildOrder indexes the mods folder and applies the saved order unless reset is set.
func (a *app) buildOrder(ctx context.Context, reset bool) (overwrite.Order, error) {
	builder := &overwrite.Builder{
		Indexer: a.indexer,
		FS:      a.fs,
		Limit:   overwrite.DefaultLimit(a.set),
		Log:     a.log,
	}

	order, err := builder.Build(ctx, a.modsRoot(), a.cfg.Extension)
	if err != nil {
		return nil, err
	}

	if reset {
		return order, nil
	}

	saved, err := overwrite.Load(a.cfg.OrderFile)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return order, nil
	case err != nil:
		a.log.Warn().Err(err).Msg("ignoring unreadable order file")
		return order, nil
	}

	return order.Prefer(saved), nil
}

func (a *app) modsRoot() string {
	abs, err := filepath.Abs(a.cfg.ModsRoot)
	if err != nil {
		return a.cfg.ModsRoot
	}

	return abs
}
