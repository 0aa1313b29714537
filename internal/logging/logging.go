// Package logging configures the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Exported constants.
const (
	// LogFile is the log path relative to the XDG state directory.
	LogFile = "modmerge/modmerge.log"
)

const (
	logDirPermissions  = 0o750
	logFilePermissions = 0o600
	callerVerbosity    = 2
)

// Level maps a 0-3 verbosity to a zerolog level.
func Level(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == callerVerbosity:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// NewLogger builds a logger writing human-readable lines to console and JSON lines
// to file. Either writer may be nil.
func NewLogger(verbosity int, console, file io.Writer) zerolog.Logger {
	var writers []io.Writer

	if console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(console),
		})
	}

	if file != nil {
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		return zerolog.Nop()
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(Level(verbosity)).With().Timestamp()
	if verbosity >= callerVerbosity {
		ctx = ctx.Caller()
	}

	return ctx.Logger()
}

// SetupLogger installs the global logger, writing to stderr and the XDG state log
// file. The returned func closes the log file.
func SetupLogger(verbosity int) func() {
	path, err := LogFilePath()

	var file *os.File
	if err == nil {
		file, err = openLogFile(path)
	}

	var fileWriter io.Writer
	if file != nil {
		fileWriter = file
	}

	log.Logger = NewLogger(verbosity, os.Stderr, fileWriter)

	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open log file, logging to console only")
	}

	log.Debug().Int("verbosity", verbosity).Str("logFile", path).Msg("logger initialized")

	return func() {
		if file != nil {
			_ = file.Close()
		}
	}
}

// GetLogger returns the global logger tagged with an application name.
func GetLogger(app string) zerolog.Logger {
	return Named(log.Logger, app)
}

// Named tags logger with an application name under the "app" key. Packages add
// their own "component" key.
func Named(logger zerolog.Logger, app string) zerolog.Logger {
	return logger.With().Str("app", app).Logger()
}

// LogFilePath returns the log file path under the XDG state directory, creating
// its parent directory.
func LogFilePath() (string, error) {
	path, err := xdg.StateFile(LogFile)
	if err != nil {
		return filepath.Join(os.TempDir(), LogFile), fmt.Errorf("failed to resolve log file path: %w", err)
	}

	return path, nil
}

// LogOperationStart logs the start of an operation and returns a func logging its completion.
func LogOperationStart(logger zerolog.Logger, operation string) func() {
	start := time.Now()

	logger.Debug().Str("operation", operation).Msg("operation started")

	return func() {
		logger.Debug().
			Str("operation", operation).
			Dur("duration", time.Since(start)).
			Msg("operation completed")
	}
}

func openLogFile(path string) (*os.File, error) {
	err := os.MkdirAll(filepath.Dir(path), logDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermissions) // #nosec G304 - path is derived from XDG state dir
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}
