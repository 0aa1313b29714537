//nolint:varnamelen // Test files use idiomatic short variable names (t, g, ix, etc.)
package indexer_test

import (
	"fmt"
	iofs "io/fs"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/kr/fs"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/rs/zerolog"

	"github.com/joe/modmerge/internal/indexer"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/scheduler"
)

// deniedFS refuses to list directories with a given base name.
type deniedFS struct {
	*filesystem.RealFileSystem

	denied string
}

func (d deniedFS) ReadDir(dir string) ([]os.DirEntry, error) {
	if filepath.Base(dir) == d.denied {
		return nil, fmt.Errorf("failed to read directory %s: %w",
			dir, &iofs.PathError{Op: "open", Path: dir, Err: iofs.ErrPermission})
	}

	return d.RealFileSystem.ReadDir(dir)
}

func newSet(t *testing.T, primary, secondary int) *scheduler.Set {
	t.Helper()

	set := scheduler.NewSet(primary, secondary, zerolog.Nop())
	t.Cleanup(set.Close)

	return set
}

func newIndexer(t *testing.T, primary int, opts ...indexer.Option) *indexer.Indexer {
	t.Helper()

	return indexer.New(newSet(t, primary, 1), filesystem.NewRealFileSystem(), zerolog.Nop(), opts...)
}

func writeFile(t *testing.T, file, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// buildTree lays out a nested tree with unique stems and a mix of extensions.
func buildTree(t *testing.T, seed int64) string {
	t.Helper()

	root := t.TempDir()
	src := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	exts := []string{".arc", ".ARC", ".txt", ".dat"}

	var grow func(dir string, depth, next int) int
	grow = func(dir string, depth, next int) int {
		for range src.Intn(5) {
			writeFile(t, filepath.Join(dir, fmt.Sprintf("f%04d%s", next, exts[src.Intn(len(exts))])), "x")
			next++
		}

		if depth == 0 {
			return next
		}

		for i := range 1 + src.Intn(3) {
			next = grow(filepath.Join(dir, fmt.Sprintf("d%d", i)), depth-1, next)
		}

		return next
	}

	grow(filepath.Join(root, "nativePC"), 4, 0)

	return root
}

// serialExpectation walks root with kr/fs, independent of the code under test.
func serialExpectation(t *testing.T, root string) indexer.DirectoryTree {
	t.Helper()

	expected := indexer.DirectoryTree{}

	walker := fs.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			t.Fatalf("walk: %v", err)
		}

		if !walker.Stat().Mode().IsRegular() {
			continue
		}

		name := walker.Stat().Name()
		if strings.EqualFold(path.Ext(name), ".arc") {
			expected.Claim(strings.TrimSuffix(name, path.Ext(name)), filepath.ToSlash(walker.Path()))
		}
	}

	return expected
}

func TestIndex_MatchesSerialWalkForEveryPoolSize(t *testing.T) {
	t.Parallel()

	root := buildTree(t, 7)
	expected := serialExpectation(t, root)

	maxWorkers := min(runtime.NumCPU(), 8)

	for workers := 1; workers <= maxWorkers; workers++ {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			tree, err := newIndexer(t, workers).Index(root, "arc")

			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(expected).NotTo(BeEmpty())
			g.Expect(tree).To(Equal(expected))
		})
	}
}

func TestIndexSerial_AgreesWithIndex(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := buildTree(t, 11)
	ix := newIndexer(t, 4)

	parallel, err := ix.Index(root, ".arc")
	g.Expect(err).ShouldNot(HaveOccurred())

	serial, err := ix.IndexSerial(root, ".arc")
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(serial).To(Equal(parallel))
	g.Expect(ix.Walks()).To(Equal(int64(2)))
}

func TestIndexAsync(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := buildTree(t, 3)

	tree, err := newIndexer(t, 2).IndexAsync(root, "arc").Wait()

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(tree).To(Equal(serialExpectation(t, root)))
}

func TestIndex_SharedStemSmallestPathWins(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "z", "em001.arc"), "z")
	writeFile(t, filepath.Join(root, "a", "deep", "em001.arc"), "a")
	writeFile(t, filepath.Join(root, "m", "em001.ARC"), "m")

	ix := newIndexer(t, 4)

	for range 10 {
		tree, err := ix.Index(root, "arc")
		g.Expect(err).ShouldNot(HaveOccurred())
		g.Expect(tree).To(HaveLen(1))
		g.Expect(tree["em001"]).To(Equal(filepath.ToSlash(filepath.Join(root, "a", "deep", "em001.arc"))))
	}
}

func TestIndex_SkipsUnreadableDirectories(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok", "a.arc"), "a")
	writeFile(t, filepath.Join(root, "locked", "b.arc"), "b")
	writeFile(t, filepath.Join(root, "locked", "inner", "c.arc"), "c")

	ix := indexer.New(newSet(t, 2, 1), deniedFS{filesystem.NewRealFileSystem(), "locked"}, zerolog.Nop())

	tree, err := ix.Index(root, "arc")

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(tree).To(Equal(indexer.DirectoryTree{
		"a": filepath.ToSlash(filepath.Join(root, "ok", "a.arc")),
	}))
}

func TestIndex_Excludes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "nativePC", "a.arc"), "a")
	writeFile(t, filepath.Join(root, "nativePC", "backup", "b.arc"), "b")

	tree, err := newIndexer(t, 2, indexer.WithExcludes("**/backup")).Index(root, "arc")

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(tree).To(HaveLen(1))
	g.Expect(tree).To(HaveKey("a"))
}

func TestIndex_EmptyRoot(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tree, err := newIndexer(t, 1).Index(t.TempDir(), "arc")

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(tree).To(BeEmpty())
}

func TestIndex_RootErrors(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "file.arc")
	writeFile(t, file, "x")

	ix := newIndexer(t, 1)

	_, err := ix.Index(filepath.Join(dir, "missing"), "arc")
	g.Expect(err).To(MatchError(indexer.ErrRootNotFound))
	g.Expect(err).To(MatchError(os.ErrNotExist))

	_, err = ix.Index(file, "arc")
	g.Expect(err).To(MatchError(indexer.ErrNotDirectory))

	_, err = ix.Index(dir, "[")
	g.Expect(err).To(MatchError(indexer.ErrInvalidPattern))
}

func TestValidateSearchRoot(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	game := filepath.Join(root, "game", "nativePC")
	g.Expect(os.MkdirAll(game, 0o750)).To(Succeed())

	ix := newIndexer(t, 1, indexer.WithTopLevel("nativepc"))

	g.Expect(ix.ValidateSearchRoot(game)).To(Succeed())
	g.Expect(ix.ValidateSearchRoot(filepath.Join(root, "game"))).To(MatchError(indexer.ErrTopLevelMissing))
	g.Expect(newIndexer(t, 1).ValidateSearchRoot(filepath.Join(root, "game"))).To(Succeed())
}

func TestIndexCached_DoesNotWalkWhenCacheIsPopulated(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := buildTree(t, 5)
	out := t.TempDir()
	cache := indexer.NewCache(out)
	ix := newIndexer(t, 4)

	first, err := ix.IndexCached(root, "arc", cache)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(ix.Walks()).To(Equal(int64(1)))
	g.Expect(filepath.Join(out, "cache", "dirTree.json")).To(BeARegularFile())

	second, err := ix.IndexCached(root, "arc", cache)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(ix.Walks()).To(Equal(int64(1)))
	g.Expect(second).To(Equal(first))

	g.Expect(cache.Invalidate()).To(Succeed())
	g.Expect(cache.Invalidate()).To(Succeed())

	_, err = ix.IndexCached(root, "arc", cache)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(ix.Walks()).To(Equal(int64(2)))
}

func TestIndexCached_EmptyOrCorruptCacheWalks(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.arc"), "a")

	out := t.TempDir()
	cache := indexer.NewCache(out)
	ix := newIndexer(t, 1)

	writeFile(t, cache.Path, "{}")

	tree, err := ix.IndexCached(root, "arc", cache)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(tree).To(HaveKey("a"))
	g.Expect(ix.Walks()).To(Equal(int64(1)))

	writeFile(t, cache.Path, "not json")

	_, err = ix.IndexCached(root, "arc", cache)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(ix.Walks()).To(Equal(int64(2)))

	loaded, err := cache.Load()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(loaded).To(Equal(tree))
}

func TestCache_LoadMissing(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, err := indexer.NewCache(t.TempDir()).Load()

	g.Expect(err).To(MatchError(indexer.ErrCacheMissing))
}

func TestStem(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(indexer.Stem("a/b/em001.arc")).To(Equal("em001"))
	g.Expect(indexer.Stem("em001.tar.arc")).To(Equal("em001.tar"))
	g.Expect(indexer.Stem("noext")).To(Equal("noext"))
}
