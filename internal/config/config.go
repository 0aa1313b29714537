// Package config handles application configuration and command-line argument parsing.
//
// Values come from, in increasing priority: built-in defaults, a TOML config file,
// MODMERGE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/joe/modmerge/internal/arctool"
	"github.com/joe/modmerge/internal/indexer"
)

// Exported constants.
const (
	DefaultExtension = ".arc"
	DefaultTopLevel  = "nativePC"
	OrderFileName    = "order.yaml"
)

// Exported variables.
var (
	ErrInvalidMove  = errors.New("invalid move, expected stem:index")
	ErrMissingValue = errors.New("missing required value")
	ErrNoCommand    = errors.New("no command given (index, order or merge)")
	ErrNotDirectory = errors.New("path is not a directory")
)

// Duration is a time.Duration parsed from strings like "90s" or "3m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for go-arg and TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Move names one contributor of one target, as "stem:index".
type Move struct {
	Stem  string
	Index int
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg.
func (m *Move) UnmarshalText(text []byte) error {
	stem, index, ok := strings.Cut(string(text), ":")
	if !ok || stem == "" {
		return fmt.Errorf("%w: %q", ErrInvalidMove, text)
	}

	parsed, err := strconv.Atoi(index)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMove, text)
	}

	m.Stem = stem
	m.Index = parsed

	return nil
}

// String returns the "stem:index" form.
func (m Move) String() string {
	return m.Stem + ":" + strconv.Itoa(m.Index)
}

// IndexCmd indexes the search root into the directory tree cache.
type IndexCmd struct {
	Refresh bool `arg:"--refresh" help:"ignore and rewrite the directory tree cache"`
	Verify  bool `arg:"--verify" help:"cross-check the parallel walk against a serial scan"`
}

// OrderCmd builds, edits and prints the overwrite order.
type OrderCmd struct {
	Up    []Move `arg:"--up,separate" help:"lower a contributor's priority, as stem:index (repeatable)"`
	Down  []Move `arg:"--down,separate" help:"raise a contributor's priority, as stem:index (repeatable)"`
	Reset bool   `arg:"--reset" help:"discard the saved order and rebuild it from folder order"`
}

// MergeCmd merges every target with more than one contributor.
type MergeCmd struct {
	Refresh bool `arg:"--refresh" help:"re-index the search root before merging"`
	DryRun  bool `arg:"--dry-run" help:"print the merge plan without merging"`
}

// Config holds the application configuration.
type Config struct {
	Index *IndexCmd `arg:"subcommand:index" help:"index the search root" toml:"-"`
	Order *OrderCmd `arg:"subcommand:order" help:"show or edit the overwrite order" toml:"-"`
	Merge *MergeCmd `arg:"subcommand:merge" help:"merge contributor archives" toml:"-"`

	ConfigFile string `arg:"-c,--config,env:MODMERGE_CONFIG" help:"TOML config file" toml:"-"`

	SearchRoot string   `arg:"-s,--search-root,env:MODMERGE_SEARCH_ROOT" help:"game folder holding the baseline archives" toml:"search_root"`
	ModsRoot   string   `arg:"-m,--mods,env:MODMERGE_MODS" help:"folder with one subfolder per mod" toml:"mods_root"`
	OutputRoot string   `arg:"-o,--output,env:MODMERGE_OUTPUT" help:"output folder for merged archives, cache and temp files" toml:"output_root"`
	Tool       string   `arg:"-t,--tool,env:MODMERGE_TOOL" help:"archive tool executable" toml:"tool"`
	Extension  string   `arg:"-e,--extension,env:MODMERGE_EXTENSION" help:"archive extension [default: .arc]" toml:"extension"`
	TopLevel   string   `arg:"--top-level,env:MODMERGE_TOP_LEVEL" help:"folder installed paths start from [default: nativePC]" toml:"top_level"`
	OrderFile  string   `arg:"--order-file,env:MODMERGE_ORDER_FILE" help:"overwrite order file [default: <output>/order.yaml]" toml:"order_file"`
	Excludes   []string `arg:"-x,--exclude,separate" help:"glob of files or folders to skip (repeatable)" toml:"excludes"`

	Workers          int      `arg:"-w,--workers,env:MODMERGE_WORKERS" help:"primary pool workers (0 = CPU count)" toml:"workers"`
	SecondaryWorkers int      `arg:"--secondary-workers,env:MODMERGE_SECONDARY_WORKERS" help:"secondary pool workers (0 = half the CPU count)" toml:"secondary_workers"`
	Timeout          Duration `arg:"--timeout,env:MODMERGE_TIMEOUT" help:"archive tool timeout [default: 3m]" toml:"timeout"`
	Verbosity        int      `arg:"-v,--verbosity,env:MODMERGE_VERBOSITY" help:"log verbosity 0-3" toml:"verbosity"`
}

// Description returns the program description for go-arg.
func (Config) Description() string {
	return "Merges the loose-file changes of several mods that replace the same game archive"
}

// Version returns the version string for go-arg.
func (Config) Version() string {
	return "modmerge 1.0.0"
}

// ParseArgs parses args without exiting. Help and version requests return
// arg.ErrHelp and arg.ErrVersion.
func ParseArgs(args []string) (*Config, *arg.Parser, error) {
	cfg := &Config{}

	parser, err := arg.NewParser(arg.Config{Program: "modmerge"}, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build argument parser: %w", err)
	}

	err = parser.Parse(args)
	if err != nil {
		return nil, parser, err //nolint:wrapcheck // callers match arg.ErrHelp and arg.ErrVersion
	}

	cfg, err = PostProcessConfig(cfg)

	return cfg, parser, err
}

// PostProcessConfig merges the config file, fills defaults and validates the paths
// the chosen command needs.
func PostProcessConfig(cfg *Config) (*Config, error) {
	err := cfg.loadFile()
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Command returns the chosen subcommand name, or "" when none was given.
func (cfg *Config) Command() string {
	switch {
	case cfg.Index != nil:
		return "index"
	case cfg.Order != nil:
		return "order"
	case cfg.Merge != nil:
		return "merge"
	default:
		return ""
	}
}

// ToolTimeout returns the archive tool timeout.
func (cfg *Config) ToolTimeout() time.Duration {
	return time.Duration(cfg.Timeout)
}

func (cfg *Config) applyDefaults() {
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}

	cfg.Extension = indexer.NormalizeExtension(cfg.Extension)

	if cfg.TopLevel == "" {
		cfg.TopLevel = DefaultTopLevel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = Duration(arctool.DefaultTimeout)
	}

	if cfg.OrderFile == "" && cfg.OutputRoot != "" {
		cfg.OrderFile = filepath.Join(cfg.OutputRoot, OrderFileName)
	}

	cfg.Verbosity = min(max(cfg.Verbosity, 0), 3) //nolint:mnd // trace is the highest level
}

// Validate checks the values the chosen command needs.
func (cfg *Config) Validate() error {
	var (
		required []namedValue
		dirs     []namedValue
	)

	search := namedValue{"--search-root", cfg.SearchRoot}
	mods := namedValue{"--mods", cfg.ModsRoot}
	output := namedValue{"--output", cfg.OutputRoot}
	tool := namedValue{"--tool", cfg.Tool}

	switch cfg.Command() {
	case "index":
		required = []namedValue{search, output}
		dirs = []namedValue{search}
	case "order":
		required = []namedValue{mods, output}
		dirs = []namedValue{mods}
	case "merge":
		required = []namedValue{search, mods, output, tool}
		dirs = []namedValue{search, mods}
	default:
		return ErrNoCommand
	}

	for _, value := range required {
		if value.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingValue, value.name)
		}
	}

	for _, value := range dirs {
		err := validateDir(value)
		if err != nil {
			return err
		}
	}

	return nil
}

type namedValue struct {
	name  string
	value string
}

func validateDir(dir namedValue) error {
	info, err := os.Stat(dir.value)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s path does not exist: %s: %w", dir.name, dir.value, err)
	}

	if err != nil {
		return fmt.Errorf("cannot access %s path: %w", dir.name, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s %s", ErrNotDirectory, dir.name, dir.value)
	}

	return nil
}
