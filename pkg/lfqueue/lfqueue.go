// Package lfqueue provides a lock-free multi-producer, single-consumer FIFO collector.
//
// Producers call Push concurrently from any goroutine without blocking each other.
// A single consumer drains the queue once the producers have quiesced. The queue
// always holds one sentinel node at its head, so Push and Pop never touch the same
// node: producers only ever write to the tail, the consumer only ever advances the head.
package lfqueue

import "sync/atomic"

// node is one link in the queue. The value of the current head node is never read.
type node[T any] struct {
	next  atomic.Pointer[node[T]]
	value T
}

// Queue is a linked FIFO with a permanent sentinel head.
// The zero value is not usable; construct with New.
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	_    [56]byte // keep head and tail on separate cache lines
	tail atomic.Pointer[node[T]]
}

// New returns an empty queue holding only its sentinel node.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Push appends value at the tail. Safe for concurrent use by any number of producers.
func (q *Queue[T]) Push(value T) {
	n := &node[T]{value: value}

	for {
		oldTail := q.tail.Load()
		if q.tail.CompareAndSwap(oldTail, n) {
			// Only the winner of the swap may link its predecessor.
			oldTail.next.Store(n)
			return
		}
	}
}

// Empty reports whether head and tail refer to the same node.
func (q *Queue[T]) Empty() bool {
	return q.head.Load() == q.tail.Load()
}

// Front returns the oldest value without removing it.
// Returns false when no linked value is reachable from the head.
func (q *Queue[T]) Front() (T, bool) {
	next := q.head.Load().next.Load()
	if next == nil {
		var zero T
		return zero, false
	}

	return next.value, true
}

// Pop discards the oldest value. It is a no-op on an empty queue.
func (q *Queue[T]) Pop() {
	_, _ = q.PopFront()
}

// PopFront removes and returns the oldest value.
// Single consumer only; the popped node becomes the new sentinel.
func (q *Queue[T]) PopFront() (T, bool) {
	var zero T

	head := q.head.Load()

	next := head.next.Load()
	if next == nil {
		return zero, false
	}

	value := next.value
	next.value = zero
	q.head.Store(next)
	head.next.Store(nil)

	return value, true
}

// Drain pops every reachable value in FIFO order and hands it to fn.
// It returns the number of values drained.
func (q *Queue[T]) Drain(fn func(T)) int {
	count := 0

	for {
		value, ok := q.PopFront()
		if !ok {
			return count
		}

		fn(value)
		count++
	}
}

// Reset drops every queued value. Nodes are unlinked one at a time so a long
// chain is released iteratively.
func (q *Queue[T]) Reset() {
	for {
		if _, ok := q.PopFront(); !ok {
			return
		}
	}
}
