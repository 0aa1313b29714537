package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/rs/zerolog"

	"github.com/joe/modmerge/internal/config"
	"github.com/joe/modmerge/internal/overwrite"
)

func TestApp_Index(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	out, err := ws.run("index", "--verify")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(out).To(ContainSubstring("2 archives under"))
	g.Expect(filepath.Join(ws.output, "cache", "dirTree.json")).To(BeARegularFile())
}

func TestApp_OrderAppliesMovesAndPersists(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	out, err := ws.run("order", "--down", "em001:0")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(out).To(ContainSubstring("0. modB"))
	g.Expect(out).To(ContainSubstring("1. modA"))

	saved, err := overwrite.Load(filepath.Join(ws.output, config.OrderFileName))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(saved["em001"]).To(HaveLen(2))
	g.Expect(overwrite.ModName(ws.mods, saved["em001"][1])).To(Equal("modA"))

	// A later run keeps the saved order.
	out, err = ws.run("order")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(out).To(ContainSubstring("1. modA"))

	out, err = ws.run("order", "--reset")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(out).To(ContainSubstring("1. modB"))
}

func TestApp_OrderRejectsBadMove(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	_, err := ws.run("order", "--up", "em001:0")
	g.Expect(err).To(MatchError(overwrite.ErrOutOfRange))

	_, err = ws.run("order", "--up", "nope:1")
	g.Expect(err).To(MatchError(overwrite.ErrUnknownTarget))
}

func TestApp_MergeDryRun(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	out, err := ws.run("--tool", filepath.Join(ws.root, "missing-tool"), "merge", "--dry-run")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(out).To(ContainSubstring("2 contributor(s): 1 target(s)"))
	g.Expect(filepath.Join(ws.output, config.OrderFileName)).ToNot(BeAnExistingFile())
}

func TestApp_MergeWithoutToolFails(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	_, err := ws.run("--tool", filepath.Join(ws.root, "missing-tool"), "merge")
	g.Expect(err).To(HaveOccurred())
}

type workspace struct {
	t      *testing.T
	root   string
	search string
	mods   string
	output string
	conf   string
}

// newWorkspace lays out a game folder with em001 and st101, and two mods that both
// replace em001.
func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	root := t.TempDir()
	ws := &workspace{
		t:      t,
		root:   root,
		search: filepath.Join(root, "game", "nativePC"),
		mods:   filepath.Join(root, "mods"),
		output: filepath.Join(root, "out"),
		conf:   filepath.Join(root, "modmerge.toml"),
	}

	for _, file := range []string{
		filepath.Join(ws.search, "em", "em001.arc"),
		filepath.Join(ws.search, "st", "st101.arc"),
		filepath.Join(ws.mods, "modA", "nativePC", "em", "em001.arc"),
		filepath.Join(ws.mods, "modB", "nativePC", "em", "em001.arc"),
	} {
		writeFile(t, file)
	}

	writeFile(t, ws.conf)

	return ws
}

func (ws *workspace) run(args ...string) (string, error) {
	ws.t.Helper()

	full := append([]string{
		"--config", ws.conf,
		"--search-root", ws.search,
		"--mods", ws.mods,
		"--output", ws.output,
		"--workers", "2",
		"--secondary-workers", "2",
	}, args...)

	cfg, _, err := config.ParseArgs(full)
	if err != nil {
		ws.t.Fatalf("ParseArgs(%v): %v", full, err)
	}

	var out bytes.Buffer

	a := newApp(cfg, &out, zerolog.Nop())
	defer a.close()

	err = a.run(context.Background())

	return out.String(), err
}

func writeFile(t *testing.T, path string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte("{}"), 0o600)
	if err != nil {
		t.Fatal(err)
	}
}
