package merger_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/joe/modmerge/internal/arctool"
)

var errToolCrashed = errors.New("tool crashed")

// jsonTool stands in for the archive tool. An archive is a JSON object mapping
// slash-separated paths to file contents.
type jsonTool struct {
	missing bool
	fail    string

	gateOnce sync.Once
	gate     chan struct{}
	runs     atomic.Int32
}

// hold makes every Run block until release is called.
func (j *jsonTool) hold() {
	j.gate = make(chan struct{})
}

func (j *jsonTool) release() {
	j.gateOnce.Do(func() { close(j.gate) })
}

func (j *jsonTool) Exists() bool {
	return !j.missing
}

func (j *jsonTool) Run(ctx context.Context, item string) error {
	j.runs.Add(1)

	if j.gate != nil {
		select {
		case <-j.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if j.fail != "" && filepath.Base(item) == j.fail {
		return errToolCrashed
	}

	info, err := os.Stat(item)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return pack(item)
	}

	return unpack(item)
}

func pack(dir string) error {
	files := map[string]string{}

	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		data, err := os.ReadFile(path) //nolint:gosec // test path
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		files[filepath.ToSlash(rel)] = string(data)

		return nil
	})
	if err != nil {
		return err
	}

	return writeArchive(arctool.PackedPath(dir, ".arc"), files)
}

func unpack(archive string) error {
	files, err := readArchive(archive)
	if err != nil {
		return err
	}

	dir := arctool.UnpackedDir(archive)

	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}

		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return err
		}
	}

	return os.MkdirAll(dir, 0o750)
}

func writeArchive(path string, files map[string]string) error {
	data, err := json.Marshal(files)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func readArchive(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test path
	if err != nil {
		return nil, err
	}

	files := map[string]string{}

	return files, json.Unmarshal(data, &files)
}
