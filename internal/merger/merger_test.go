package merger_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // Dot import is idiomatic for Ginkgo
	. "github.com/onsi/gomega"    //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/rs/zerolog"

	"github.com/joe/modmerge/internal/differ"
	"github.com/joe/modmerge/internal/indexer"
	"github.com/joe/modmerge/internal/merger"
	"github.com/joe/modmerge/internal/overwrite"
	"github.com/joe/modmerge/pkg/fileops"
	"github.com/joe/modmerge/pkg/filesystem"
	"github.com/joe/modmerge/pkg/scheduler"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []merger.Event
}

func (r *recordingEmitter) Emit(event merger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recordingEmitter) snapshot() []merger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]merger.Event(nil), r.events...)
}

// archiveBytes sums the on-disk sizes of the given archives.
func archiveBytes(paths ...string) int64 {
	var total int64

	for _, path := range paths {
		info, err := os.Stat(filepath.FromSlash(path))
		Expect(err).ShouldNot(HaveOccurred())

		total += info.Size()
	}

	return total
}

func archive(path string, files map[string]string) string {
	Expect(writeArchive(path, files)).To(Succeed())
	return filepath.ToSlash(path)
}

var _ = Describe("Merger", func() {
	var (
		root     string
		settings merger.Settings
		tool     *jsonTool
		set      *scheduler.Set
		tree     indexer.DirectoryTree
		order    overwrite.Order
		m        *merger.Merger
	)

	build := func(primary, secondary int) {
		set = scheduler.NewSet(primary, secondary, zerolog.Nop())
		DeferCleanup(set.Close)

		fs := filesystem.NewRealFileSystem()
		ops := fileops.NewFileOps(fs)
		m = merger.New(settings, set, tool, differ.New(set, ops, fs, zerolog.Nop()), fs, ops, zerolog.Nop())
	}

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		settings = merger.Settings{
			OutputRoot: filepath.Join(root, "out"),
			SearchRoot: filepath.Join(root, "game"),
			TopLevel:   "nativePC",
			Extension:  ".arc",
		}
		tool = &jsonTool{}

		base := archive(filepath.Join(root, "game", "nativePC", "em", "em001.arc"), map[string]string{
			"file1.dat": "base1",
			"file2.dat": "base2",
			"keep.dat":  "keep",
		})
		modA := archive(filepath.Join(root, "mods", "modA", "nativePC", "em", "em001.arc"), map[string]string{
			"file1.dat": "A1",
			"file2.dat": "A2",
			"keep.dat":  "keep",
		})
		modB := archive(filepath.Join(root, "mods", "modB", "nativePC", "em", "em001.arc"), map[string]string{
			"file1.dat":     "B1",
			"file2.dat":     "base2",
			"keep.dat":      "keep",
			"extra/new.dat": "B-new",
		})

		tree = indexer.DirectoryTree{"em001": base}
		order = overwrite.Order{"em001": {modA, modB}}
	})

	Describe("precedence", func() {
		DescribeTable("later contributors win per file",
			func(primary, secondary int) {
				build(primary, secondary)

				result, err := m.Merge(context.Background(), tree, order)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(result.Err()).ShouldNot(HaveOccurred())
				Expect(result.Installed()).To(Equal(1))

				target := result.Targets[0]
				Expect(target.Output).To(Equal(filepath.Join(root, "out", "nativePC", "em", "em001.arc")))
				Expect(target.Relocated).To(Equal(3))
				Expect(target.RelocateFailures).To(BeZero())
				Expect(target.Overridden).To(Equal([]string{"file1.dat"}))

				merged, err := readArchive(target.Output)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(merged).To(Equal(map[string]string{
					"file1.dat":     "B1",
					"file2.dat":     "A2",
					"keep.dat":      "keep",
					"extra/new.dat": "B-new",
				}))
			},
			Entry("single worker pools", 1, 1),
			Entry("wider pools", 4, 2),
		)

		It("swapping the order swaps the winner", func() {
			build(2, 1)

			Expect(order.MoveUp("em001", 1)).To(Succeed())

			result, err := m.Merge(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())

			merged, err := readArchive(result.Targets[0].Output)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(merged["file1.dat"]).To(Equal("A1"))
			Expect(merged["file2.dat"]).To(Equal("A2"))
		})

		It("cleans up the working folders", func() {
			build(2, 1)

			_, err := m.Merge(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(filepath.Join(root, "out", merger.TempDirName)).NotTo(BeAnExistingFile())
			Expect(filepath.Join(root, "game", "nativePC", "em", "em001.arc")).To(BeARegularFile())
		})
	})

	Describe("preconditions", func() {
		It("rejects an order where nothing has two contributors", func() {
			build(1, 1)

			_, err := m.Merge(context.Background(), tree, overwrite.Order{"em001": order["em001"][:1]})
			Expect(err).To(MatchError(merger.ErrNothingToMerge))
			Expect(tool.runs.Load()).To(BeZero())
		})

		It("rejects a missing tool", func() {
			tool.missing = true
			build(1, 1)

			Expect(m.ToolExists()).To(BeFalse())

			_, err := m.Merge(context.Background(), tree, order)
			Expect(err).To(MatchError(merger.ErrToolMissing))
		})

		It("rejects missing settings", func() {
			settings.OutputRoot = ""
			build(1, 1)

			_, err := m.Merge(context.Background(), tree, order)
			Expect(err).To(MatchError(merger.ErrMissingSetting))
			Expect(err.Error()).To(ContainSubstring("output folder"))
			Expect(m.IsReadyToMerge()).To(BeTrue())
		})

		It("rejects a second run while one is in flight", func() {
			build(2, 1)
			tool.hold()
			DeferCleanup(tool.release)

			Expect(m.IsReadyToMerge()).To(BeTrue())

			handle, err := m.MergeAsync(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(m.IsReadyToMerge()).To(BeFalse())

			_, err = m.Merge(context.Background(), tree, order)
			Expect(err).To(MatchError(merger.ErrMergeInFlight))

			_, err = m.MergeAsync(context.Background(), tree, order)
			Expect(err).To(MatchError(merger.ErrMergeInFlight))

			tool.release()

			Eventually(handle.Done()).Should(BeClosed())
			Expect(m.IsReadyToMerge()).To(BeTrue())

			result, err := handle.Wait()
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Installed()).To(Equal(1))

			_, err = m.Merge(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())
		})
	})

	Describe("target failures", func() {
		var second string

		BeforeEach(func() {
			base := archive(filepath.Join(root, "game", "nativePC", "pl", "pl000.arc"), map[string]string{"a": "1"})
			modA := archive(filepath.Join(root, "mods", "modA", "nativePC", "pl", "pl000.arc"), map[string]string{"a": "2"})
			modB := archive(filepath.Join(root, "mods", "modB", "nativePC", "pl", "pl000.arc"), map[string]string{"a": "3"})

			tree["pl000"] = base
			order["pl000"] = []string{modA, modB}
			second = filepath.Join(root, "out", "nativePC", "pl", "pl000.arc")
		})

		It("abandons only the target whose unpack failed", func() {
			tool.fail = "pl000.arc"
			build(2, 2)

			result, err := m.Merge(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Installed()).To(Equal(1))
			Expect(result.Failed()).To(Equal(1))
			Expect(result.Err()).To(MatchError(errToolCrashed))

			Expect(result.Targets[0].Stem).To(Equal("em001"))
			Expect(result.Targets[0].Installed()).To(BeTrue())
			Expect(result.Targets[1].Stem).To(Equal("pl000"))
			Expect(result.Targets[1].Skipped).To(BeFalse())
			Expect(second).NotTo(BeAnExistingFile())
			Expect(filepath.Join(root, "out", merger.TempDirName)).NotTo(BeAnExistingFile())
		})

		It("skips targets with no baseline", func() {
			delete(tree, "pl000")
			build(2, 2)

			result, err := m.Merge(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Targets[1].Skipped).To(BeTrue())
			Expect(result.Targets[1].Err).To(MatchError(merger.ErrBaselineMissing))
			Expect(result.Err()).To(MatchError(merger.ErrBaselineMissing))
		})

		It("skips every target once the context is cancelled", func() {
			build(2, 2)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			result, err := m.Merge(ctx, tree, order)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Installed()).To(BeZero())

			for _, target := range result.Targets {
				Expect(target.Skipped).To(BeTrue())
				Expect(target.Err).To(MatchError(context.Canceled))
			}

			Expect(tool.runs.Load()).To(BeZero())
		})
	})

	Describe("events", func() {
		It("reports progress from start to completion", func() {
			build(2, 1)

			emitter := &recordingEmitter{}
			m.SetEventEmitter(emitter)

			result, err := m.Merge(context.Background(), tree, order)
			Expect(err).ShouldNot(HaveOccurred())

			events := emitter.snapshot()
			Expect(events).To(HaveLen(6))
			Expect(events[0]).To(Equal(merger.MergeStarted{Targets: 1}))
			Expect(events[1]).To(Equal(merger.TargetStarted{Stem: "em001", Contributors: 2}))
			Expect(events[2]).To(Equal(merger.TargetUnpacked{Stem: "em001", Bytes: archiveBytes(tree["em001"], order["em001"]...)}))
			Expect(result.Targets[0].Copied).To(Equal(archiveBytes(tree["em001"], order["em001"]...)))
			Expect(events[3]).To(Equal(merger.TargetDiffed{Stem: "em001", Files: 3}))
			Expect(events[4]).To(Equal(merger.TargetInstalled{Stem: "em001", Output: result.Targets[0].Output}))
			Expect(events[5]).To(Equal(merger.MergeComplete{Result: result}))
		})
	})
})
