package scheduler

import (
	"runtime"

	"github.com/rs/zerolog"
)

// Set holds the two long-lived pools of a process.
//
// Primary runs leaf and recursive work; its jobs never wait on other jobs.
// Secondary hosts jobs that block on primary-pool results.
// Nothing submitted to Secondary may wait on another Secondary job.
type Set struct {
	Primary   *Pool
	Secondary *Pool
}

// DefaultSizes returns hardware concurrency for the primary pool and half of it
// (at least one) for the secondary pool.
func DefaultSizes() (primary, secondary int) {
	n := runtime.NumCPU()
	return n, max(n/2, 1)
}

// NewSet creates both pools. Non-positive sizes fall back to DefaultSizes.
func NewSet(primary, secondary int, logger zerolog.Logger) *Set {
	defPrimary, defSecondary := DefaultSizes()

	if primary <= 0 {
		primary = defPrimary
	}

	if secondary <= 0 {
		secondary = defSecondary
	}

	return &Set{
		Primary:   New("primary", primary, logger),
		Secondary: New("secondary", secondary, logger),
	}
}

// Close shuts the secondary pool first, since its jobs may still wait on primary work.
func (s *Set) Close() {
	s.Secondary.Close()
	s.Primary.Close()
}
