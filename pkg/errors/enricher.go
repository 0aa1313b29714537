package errors

import (
	"errors"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
)

// Enricher enriches standard errors with actionable suggestions.
type Enricher interface {
	Enrich(err error, affectedPath string) error
}

// PatternMatcher maps an error to a category.
type PatternMatcher interface {
	Match(err error) ErrorCategory
}

// NewEnricher creates a new Enricher with default pattern matcher and suggestion generator.
func NewEnricher() Enricher {
	return &enricher{
		matcher:   NewPatternMatcher(),
		generator: NewSuggestionGenerator(),
	}
}

// NewPatternMatcher creates a PatternMatcher that checks error chains first
// and falls back to message patterns.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		rules: []categoryRule{
			{
				category: CategoryPermission,
				targets:  []error{fs.ErrPermission},
				patterns: []string{"permission denied", "access denied", "operation not permitted"},
			},
			{
				category: CategoryDiskSpace,
				targets:  []error{syscall.ENOSPC},
				patterns: []string{"no space left on device", "disk full", "quota exceeded"},
			},
			{
				category: CategoryTool,
				targets:  []error{exec.ErrNotFound},
				patterns: []string{"executable file not found", "exec format error", "timed out", "signal: killed"},
			},
			{
				category: CategoryPath,
				targets:  []error{fs.ErrNotExist},
				patterns: []string{"no such file or directory", "file not found", "cannot find the path"},
			},
		},
	}
}

// unexported variables.
var (
	//nolint:gochecknoglobals // Compiled regexes shared across all enricher instances
	pathExtractionPatterns = []*regexp.Regexp{
		// Unix paths (absolute and relative)
		regexp.MustCompile(`\b\w+\s+([./][^\s:]+):`),
		// Windows paths with backslashes
		regexp.MustCompile(`\b\w+\s+([A-Za-z]:\\[^\s:]+):`),
		// Windows paths with forward slashes
		regexp.MustCompile(`\b\w+\s+([A-Za-z]:/[^\s:]+):`),
	}
)

// enricher is the concrete implementation of Enricher.
type enricher struct {
	matcher   PatternMatcher
	generator SuggestionGenerator
}

// Enrich wraps err with a category and suggestions.
// An error that is already actionable is returned unchanged.
// If affectedPath is empty, a path is extracted from the error message when possible.
func (e *enricher) Enrich(err error, affectedPath string) error {
	if err == nil {
		return nil
	}

	var actionableErr ActionableError
	if errors.As(err, &actionableErr) {
		return err
	}

	if affectedPath == "" {
		affectedPath = extractPath(err.Error())
	}

	category := e.matcher.Match(err)

	return NewActionableError(err, category, e.generator.Generate(category, affectedPath), affectedPath)
}

type categoryRule struct {
	category ErrorCategory
	targets  []error
	patterns []string
}

// patternMatcher is the concrete implementation of PatternMatcher.
// Rules are checked in order so overlapping messages resolve deterministically.
type patternMatcher struct {
	rules []categoryRule
}

// Match returns the error category of err.
func (m *patternMatcher) Match(err error) ErrorCategory {
	for _, rule := range m.rules {
		for _, target := range rule.targets {
			if errors.Is(err, target) {
				return rule.category
			}
		}
	}

	lowerMsg := strings.ToLower(err.Error())

	for _, rule := range m.rules {
		for _, pattern := range rule.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return rule.category
			}
		}
	}

	return CategoryUnknown
}

// extractPath pulls a path out of messages shaped like "open /path/to/file: reason".
// Returns empty string if no path is found.
func extractPath(errorMsg string) string {
	for _, pattern := range pathExtractionPatterns {
		if matches := pattern.FindStringSubmatch(errorMsg); len(matches) > 1 {
			path := strings.TrimSpace(matches[1])
			if path != "" {
				return path
			}
		}
	}

	return ""
}
