package scheduler

import "fmt"

// Handle is the result of an awaitable job.
type Handle[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newHandle[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

// Done returns a channel closed once the job has finished.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Ready reports whether the job has finished without blocking.
func (h *Handle[T]) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job finishes and returns its value and error.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	return h.value, h.err
}

func (h *Handle[T]) resolve(value T, err error) {
	h.value = value
	h.err = err
	close(h.done)
}

// Go runs fn on its own goroutine, outside any pool, and returns a handle for it.
// It hosts orchestration that blocks on secondary-pool jobs, which must never occupy
// a secondary worker itself. A panic in fn resolves the handle with ErrJobPanicked.
func Go[T any](name string, fn func() (T, error)) *Handle[T] {
	h := newHandle[T]()

	go func() {
		var (
			value T
			err   error
		)

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, name, r)
			}

			h.resolve(value, err)
		}()

		value, err = fn()
	}()

	return h
}
