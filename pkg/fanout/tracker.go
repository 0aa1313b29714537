// Package fanout tracks completion of recursive work whose total size is unknown up front.
//
// A Tracker starts with one unit of in-flight work representing the initiating call.
// Every spawn must be preceded by Add, and every spawned task must call Done exactly
// once on every exit path. Wait returns once the counter reaches zero, which can only
// happen after every transitively spawned task has finished.
package fanout

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Tracker is an in-flight counter with a wait condition.
type Tracker struct {
	inflight atomic.Int64
	mu       sync.Mutex
	cond     *sync.Cond
}

// Begin returns a tracker whose counter is 1, the unit owned by the root call.
func Begin() *Tracker {
	t := &Tracker{}
	t.cond = sync.NewCond(&t.mu)
	t.inflight.Store(1)

	return t
}

// Add registers one more task. Call it before submitting the task, never after.
// Panics if the tracker has already completed: a spawn raced past completion.
func (t *Tracker) Add() {
	if n := t.inflight.Add(1); n <= 1 {
		panic(fmt.Sprintf("fanout: Add after completion (counter %d)", n))
	}
}

// Done marks one task finished and wakes waiters.
// Panics if called more times than the tracker was incremented.
func (t *Tracker) Done() {
	n := t.inflight.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("fanout: Done called with no work in flight (counter %d)", n))
	}

	// Taking the lock orders this broadcast after a waiter's check-then-sleep.
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Wait blocks until every registered unit of work has called Done.
func (t *Tracker) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.inflight.Load() != 0 {
		t.cond.Wait()
	}
}

// Pending returns the current in-flight count.
func (t *Tracker) Pending() int64 {
	return t.inflight.Load()
}
