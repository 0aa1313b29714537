// Package errors turns filesystem and tool failures into categorized errors carrying
// actionable suggestions for the operator.
//
// Basic Usage:
//
//	enricher := errors.NewEnricher()
//	if err := tool.Run(ctx, archive); err != nil {
//	    enriched := enricher.Enrich(err, archive)
//	    fmt.Println(enriched.Error())
//	    fmt.Println(errors.FormatSuggestions(enriched))
//	}
//
// Enriched errors keep the original error in their chain, so errors.Is and
// errors.As still see sentinels such as os.ErrPermission.
package errors

import (
	"errors"
	"strings"
)

// Exported constants.
const (
	CategoryDiskSpace  ErrorCategory = "disk_space"
	CategoryPath       ErrorCategory = "path"
	CategoryPermission ErrorCategory = "permission"
	CategoryTool       ErrorCategory = "tool"
	CategoryUnknown    ErrorCategory = "unknown"
)

// ErrorCategory represents the type of error that occurred.
type ErrorCategory string

// ActionableError represents an error with actionable suggestions for the user.
type ActionableError interface {
	error
	Unwrap() error
	Category() ErrorCategory
	Suggestions() []string
	AffectedPath() string
}

// NewActionableError creates a new ActionableError wrapping cause.
func NewActionableError(
	cause error,
	category ErrorCategory,
	suggestions []string,
	affectedPath string,
) ActionableError {
	return &actionableError{
		cause:        cause,
		category:     category,
		suggestions:  suggestions,
		affectedPath: affectedPath,
	}
}

// CategoryOf returns the category of err, or CategoryUnknown when it was never enriched.
func CategoryOf(err error) ErrorCategory {
	var actionable ActionableError
	if errors.As(err, &actionable) {
		return actionable.Category()
	}

	return CategoryUnknown
}

// FormatSuggestions formats the suggestions from an ActionableError as a bulleted list.
// Returns empty string if the error is nil or has no suggestions.
func FormatSuggestions(err error) string {
	if err == nil {
		return ""
	}

	var actionable ActionableError
	if !errors.As(err, &actionable) {
		return ""
	}

	suggestions := actionable.Suggestions()
	if len(suggestions) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, suggestion := range suggestions {
		if i > 0 {
			builder.WriteString("\n")
		}

		builder.WriteString("  • ")
		builder.WriteString(suggestion)
	}

	return builder.String()
}

// actionableError is the concrete implementation of ActionableError.
type actionableError struct {
	cause        error
	category     ErrorCategory
	suggestions  []string
	affectedPath string
}

// AffectedPath returns the file path affected by this error.
func (e *actionableError) AffectedPath() string {
	return e.affectedPath
}

// Category returns the error category.
func (e *actionableError) Category() ErrorCategory {
	return e.category
}

// Error implements the error interface.
func (e *actionableError) Error() string {
	return e.cause.Error()
}

// Suggestions returns the list of actionable suggestions.
func (e *actionableError) Suggestions() []string {
	return e.suggestions
}

// Unwrap exposes the original error.
func (e *actionableError) Unwrap() error {
	return e.cause
}
