package merger

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// TargetResult describes what happened to one target.
type TargetResult struct {
	Stem         string
	Baseline     string
	Contributors []string

	// Copied counts archive bytes copied into the working folder before unpacking.
	Copied int64
	// Output is the installed archive, empty unless the target succeeded.
	Output string
	// Relocated counts loose files moved into the baseline tree.
	Relocated int
	// RelocateFailures counts loose files that could not be moved.
	RelocateFailures int
	// Overridden lists loose files changed by more than one contributor, where the
	// later contributor won.
	Overridden []string

	// Skipped is set when the target was never attempted.
	Skipped bool
	Err     error

	Elapsed time.Duration
}

// Installed reports whether the merged archive was written.
func (t TargetResult) Installed() bool {
	return t.Err == nil && !t.Skipped
}

// Result is the outcome of a merge run. Target failures never fail the run itself.
type Result struct {
	Targets []TargetResult
	Elapsed time.Duration
}

// Installed counts targets whose merged archive was written.
func (r *Result) Installed() int {
	count := 0

	for _, target := range r.Targets {
		if target.Installed() {
			count++
		}
	}

	return count
}

// Failed counts targets that were skipped or abandoned.
func (r *Result) Failed() int {
	return len(r.Targets) - r.Installed()
}

// Err aggregates the errors of every failed target, or nil.
func (r *Result) Err() error {
	var merr *multierror.Error

	for _, target := range r.Targets {
		if target.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", target.Stem, target.Err))
		}
	}

	return merr.ErrorOrNil()
}
