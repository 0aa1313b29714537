package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Exported constants.
const (
	// CacheDirName and CacheFileName place the tree cache at <output>/cache/dirTree.json.
	CacheDirName  = "cache"
	CacheFileName = "dirTree.json"
)

// Cache persists a DirectoryTree as a JSON object mapping stem to path.
type Cache struct {
	Path string
}

// NewCache returns the cache kept under the given output root.
func NewCache(outputRoot string) *Cache {
	return &Cache{Path: filepath.Join(outputRoot, CacheDirName, CacheFileName)}
}

// Load reads the cached tree. A missing file yields ErrCacheMissing.
func (c *Cache) Load() (DirectoryTree, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMissing, c.Path)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read cache %s: %w", c.Path, err)
	}

	var tree DirectoryTree

	err = json.Unmarshal(data, &tree)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache %s: %w", c.Path, err)
	}

	return tree, nil
}

// Save writes the tree as indented JSON, creating the cache directory.
func (c *Cache) Save(tree DirectoryTree) error {
	err := os.MkdirAll(filepath.Dir(c.Path), cacheDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create cache directory for %s: %w", c.Path, err)
	}

	data, err := json.MarshalIndent(tree, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode cache %s: %w", c.Path, err)
	}

	err = os.WriteFile(c.Path, data, cacheFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write cache %s: %w", c.Path, err)
	}

	return nil
}

// Invalidate removes the cache file so the next cached index walks again.
func (c *Cache) Invalidate() error {
	err := os.Remove(c.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache %s: %w", c.Path, err)
	}

	return nil
}

// unexported constants.
const (
	cacheDirPermissions  = 0o750
	cacheFilePermissions = 0o600
)
