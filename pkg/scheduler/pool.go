// Package scheduler provides fixed-size worker pools with awaitable and
// fire-and-forget job submission.
//
// Two pools are expected at runtime (see Set): a primary pool for leaf and
// recursive walk work that never blocks on other jobs, and a secondary pool for
// the few operations that must block waiting on primary-pool results. Keeping
// blocking waiters off the primary pool means a bounded pool can never fill up
// with workers that all wait on jobs queued behind them.
package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Exported variables.
var (
	ErrJobPanicked = errors.New("job panicked")
	ErrPoolClosed  = errors.New("pool closed")
)

// Stats is a snapshot of a pool's job counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Pool is a fixed number of workers consuming one shared FIFO job queue.
// Submission never blocks the caller.
type Pool struct {
	name    string
	log     zerolog.Logger
	current atomic.Pointer[workerSet]
	mu      sync.Mutex // serialises Resize and Close
	closed  atomic.Bool
	// retired holds sets swapped out by Resize that may still be draining; guarded by mu.
	retired []*workerSet

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates and starts a pool with the given number of workers (minimum 1).
func New(name string, workers int, logger zerolog.Logger) *Pool {
	p := &Pool{
		name: name,
		log:  logger.With().Str("pool", name).Logger(),
	}
	p.current.Store(newWorkerSet(max(workers, 1)))

	return p
}

// Close stops accepting jobs, lets queued jobs finish, and waits for the workers to exit.
// Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Swap(true) {
		return
	}

	ws := p.current.Load()
	ws.shutdown()
	ws.wg.Wait()

	for _, old := range p.retired {
		<-old.done
	}

	p.retired = nil

	p.log.Debug().Int64("completed", p.completed.Load()).Int64("failed", p.failed.Load()).Msg("pool closed")
}

// Name returns the pool name used in logs.
func (p *Pool) Name() string {
	return p.name
}

// Resize swaps in a freshly sized worker set. The old set stops accepting jobs and
// its workers exit once its already-queued jobs have run. Close waits for them.
// Resize on a closed pool is a no-op.
func (p *Pool) Resize(workers int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return
	}

	workers = max(workers, 1)
	if p.current.Load().size == workers {
		return
	}

	old := p.current.Swap(newWorkerSet(workers))
	old.shutdown()

	p.retired = slices.DeleteFunc(p.retired, (*workerSet).finished)
	p.retired = append(p.retired, old)

	p.log.Debug().Int("from", old.size).Int("to", workers).Msg("pool resized")
}

// Size returns the worker count of the active worker set.
func (p *Pool) Size() int {
	return p.current.Load().size
}

// Stats returns the pool's job counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// SubmitDetached queues a fire-and-forget job. A failure or panic inside the job is
// logged and swallowed. Returns ErrPoolClosed if the pool no longer accepts jobs.
func (p *Pool) SubmitDetached(name string, fn func() error) error {
	return p.enqueue(name, func() {
		err := p.execute(name, fn)
		if err != nil {
			p.log.Warn().Err(err).Str("job", name).Msg("detached job failed")
		}
	})
}

// enqueue hands a job to the active worker set, retrying if a Resize retired the
// set between the load and the enqueue.
func (p *Pool) enqueue(name string, run func()) error {
	for {
		if p.closed.Load() {
			return fmt.Errorf("%s: %w", p.name, ErrPoolClosed)
		}

		if p.current.Load().enqueue(job{name: name, run: run}) {
			p.submitted.Add(1)
			return nil
		}
	}
}

// execute runs fn, converting a panic into an ErrJobPanicked error.
func (p *Pool) execute(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, name, r)
		}

		if err != nil {
			p.failed.Add(1)
		}

		p.completed.Add(1)
	}()

	return fn()
}

// Submit queues an awaitable job on p. The returned handle yields the job's value
// and error, including a recovered panic. If the pool is closed the handle is
// already resolved with ErrPoolClosed.
func Submit[T any](p *Pool, name string, fn func() (T, error)) *Handle[T] {
	h := newHandle[T]()

	err := p.enqueue(name, func() {
		var value T

		err := p.execute(name, func() error {
			var err error

			value, err = fn()

			return err
		})
		h.resolve(value, err)
	})
	if err != nil {
		var zero T
		h.resolve(zero, err)
	}

	return h
}

// job is one queued unit of work.
type job struct {
	name string
	run  func()
}

// workerSet is a fixed group of goroutines draining one unbounded FIFO.
type workerSet struct {
	size   int
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool
	wg     sync.WaitGroup
	// done is closed once every worker has exited.
	done chan struct{}
}

func newWorkerSet(size int) *workerSet {
	ws := &workerSet{size: size, done: make(chan struct{})}
	ws.cond = sync.NewCond(&ws.mu)

	ws.wg.Add(size)

	for range size {
		go ws.loop()
	}

	go func() {
		ws.wg.Wait()
		close(ws.done)
	}()

	return ws
}

// finished reports whether every worker of the set has exited.
func (ws *workerSet) finished() bool {
	select {
	case <-ws.done:
		return true
	default:
		return false
	}
}

// enqueue appends a job; false once the set has been shut down.
func (ws *workerSet) enqueue(j job) bool {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return false
	}

	ws.queue = append(ws.queue, j)
	ws.mu.Unlock()
	ws.cond.Signal()

	return true
}

// loop runs jobs until the set is shut down and its queue is empty.
func (ws *workerSet) loop() {
	defer ws.wg.Done()

	for {
		ws.mu.Lock()
		for len(ws.queue) == 0 && !ws.closed {
			ws.cond.Wait()
		}

		if len(ws.queue) == 0 {
			ws.mu.Unlock()
			return
		}

		next := ws.queue[0]
		ws.queue[0] = job{}
		ws.queue = ws.queue[1:]
		ws.mu.Unlock()

		next.run()
	}
}

// shutdown refuses new jobs and wakes idle workers so they can exit after draining.
func (ws *workerSet) shutdown() {
	ws.mu.Lock()
	ws.closed = true
	ws.mu.Unlock()
	ws.cond.Broadcast()
}
