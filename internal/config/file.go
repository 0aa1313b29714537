package config

import (
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

// Exported constants.
const (
	// DefaultConfigFile is looked up under the XDG config directories when --config is not given.
	DefaultConfigFile = "modmerge/config.toml"
)

// loadFile fills every unset value from the config file. An explicit --config must
// exist; the default XDG file is optional.
func (cfg *Config) loadFile() error {
	path := cfg.ConfigFile

	if path == "" {
		found, err := xdg.SearchConfigFile(DefaultConfigFile)
		if err != nil {
			return nil //nolint:nilerr // the default config file is optional
		}

		path = found
	}

	data, err := os.ReadFile(path) // #nosec G304 - config path is operator input
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file Config

	err = toml.Unmarshal(data, &file)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ConfigFile = path
	cfg.fillFrom(&file)

	return nil
}

// fillFrom copies each value of file that cfg leaves unset.
func (cfg *Config) fillFrom(file *Config) {
	fillString(&cfg.SearchRoot, file.SearchRoot)
	fillString(&cfg.ModsRoot, file.ModsRoot)
	fillString(&cfg.OutputRoot, file.OutputRoot)
	fillString(&cfg.Tool, file.Tool)
	fillString(&cfg.Extension, file.Extension)
	fillString(&cfg.TopLevel, file.TopLevel)
	fillString(&cfg.OrderFile, file.OrderFile)

	if len(cfg.Excludes) == 0 {
		cfg.Excludes = file.Excludes
	}

	if cfg.Workers == 0 {
		cfg.Workers = file.Workers
	}

	if cfg.SecondaryWorkers == 0 {
		cfg.SecondaryWorkers = file.SecondaryWorkers
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = file.Timeout
	}

	if cfg.Verbosity == 0 {
		cfg.Verbosity = file.Verbosity
	}
}

func fillString(target *string, value string) {
	if *target == "" {
		*target = value
	}
}
