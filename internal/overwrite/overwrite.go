// Package overwrite builds and edits the overwrite order: for every target stem, the
// contributor archives that replace it, in merge priority order (later wins).
package overwrite

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/joe/modmerge/internal/indexer"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/scheduler"
)

// Exported variables.
var (
	ErrOutOfRange    = errors.New("contributor index out of range")
	ErrUnknownTarget = errors.New("unknown target")
)

// Order maps a target stem to its contributor paths. Later entries take priority.
type Order map[string][]string

// Group is the set of targets sharing a contributor count.
type Group struct {
	Contributors int
	Stems        []string
}

// Builder indexes every contributor folder under a mods root.
type Builder struct {
	Indexer *indexer.Indexer
	FS      filesystem.FileSystem
	// Limit caps how many contributor folders are indexed at once.
	Limit int

	Log zerolog.Logger
}

// DefaultLimit returns half the secondary pool size, at least one.
func DefaultLimit(set *scheduler.Set) int {
	return max(set.Secondary.Size()/2, 1)
}

// Build indexes each folder directly under modsRoot and collects the results in folder
// name order. A contributor folder that fails to index is logged and left out.
func (b *Builder) Build(ctx context.Context, modsRoot, extension string) (Order, error) {
	entries, err := b.FS.ReadDir(modsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list mods folder %s: %w", modsRoot, err)
	}

	mods := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			mods = append(mods, filepath.Join(modsRoot, entry.Name()))
		}
	}

	slices.Sort(mods)

	sem := semaphore.NewWeighted(int64(max(b.Limit, 1)))
	handles := make([]*scheduler.Handle[indexer.DirectoryTree], 0, len(mods))

	var acquireErr error

	for _, mod := range mods {
		acquireErr = sem.Acquire(ctx, 1)
		if acquireErr != nil {
			break
		}

		handle := b.Indexer.IndexAsync(mod, extension)

		go func() {
			<-handle.Done()
			sem.Release(1)
		}()

		handles = append(handles, handle)
	}

	order := Order{}

	for i, handle := range handles {
		tree, err := handle.Wait()
		if err != nil {
			b.Log.Warn().Err(err).Str("mod", mods[i]).Msg("skipping contributor folder")
			continue
		}

		for stem, file := range tree {
			order[stem] = append(order[stem], file)
		}
	}

	if acquireErr != nil {
		return nil, fmt.Errorf("building overwrite order interrupted: %w", acquireErr)
	}

	b.Log.Info().Int("mods", len(mods)).Int("targets", len(order)).Int("mergeable", len(order.Mergeable())).
		Msg("overwrite order built")

	return order, nil
}

// Mergeable returns the sorted stems that have more than one contributor.
func (o Order) Mergeable() []string {
	stems := make([]string, 0, len(o))

	for stem, contributors := range o {
		if len(contributors) > 1 {
			stems = append(stems, stem)
		}
	}

	slices.Sort(stems)

	return stems
}

// Groups buckets targets by contributor count, highest count first.
func (o Order) Groups() []Group {
	byCount := map[int][]string{}

	for stem, contributors := range o {
		byCount[len(contributors)] = append(byCount[len(contributors)], stem)
	}

	groups := make([]Group, 0, len(byCount))

	for count, stems := range byCount {
		slices.Sort(stems)
		groups = append(groups, Group{Contributors: count, Stems: stems})
	}

	slices.SortFunc(groups, func(a, b Group) int {
		return cmp.Compare(b.Contributors, a.Contributors)
	})

	return groups
}

// MoveUp swaps the contributor at index with the one before it, lowering its priority.
func (o Order) MoveUp(stem string, index int) error {
	return o.swap(stem, index, index-1)
}

// MoveDown swaps the contributor at index with the one after it, raising its priority.
func (o Order) MoveDown(stem string, index int) error {
	return o.swap(stem, index, index+1)
}

func (o Order) swap(stem string, from, to int) error {
	contributors, ok := o[stem]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, stem)
	}

	if from < 0 || from >= len(contributors) || to < 0 || to >= len(contributors) {
		return fmt.Errorf("%w: %s has %d contributors, cannot move %d to %d",
			ErrOutOfRange, stem, len(contributors), from, to)
	}

	contributors[from], contributors[to] = contributors[to], contributors[from]

	return nil
}

// Prefer reorders o using a previously saved order. For each target, contributors
// known to saved keep saved's relative order, and new ones follow in o's order.
// Contributors that no longer exist are dropped.
func (o Order) Prefer(saved Order) Order {
	result := make(Order, len(o))

	for stem, contributors := range o {
		previous := saved[stem]
		rank := make(map[string]int, len(previous))

		for i, file := range previous {
			rank[file] = i
		}

		sorted := slices.Clone(contributors)
		slices.SortStableFunc(sorted, func(a, b string) int {
			ra, okA := rank[a]
			rb, okB := rank[b]

			switch {
			case okA && okB:
				return cmp.Compare(ra, rb)
			case okA:
				return -1
			case okB:
				return 1
			default:
				return 0
			}
		})

		result[stem] = sorted
	}

	return result
}

// ModName returns the contributor folder name of a contributor path, the first
// path segment below modsRoot.
func ModName(modsRoot, file string) string {
	rel, err := filepath.Rel(modsRoot, filepath.FromSlash(file))
	if err != nil || strings.HasPrefix(rel, "..") {
		return path.Base(filepath.ToSlash(file))
	}

	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")

	return first
}
