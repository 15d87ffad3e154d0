// Package workerpool implements the WorkerPool component (spec §4.3):
// a fixed-size set of goroutines that pull work directly from a
// JobQueue and hand each job to a Handler for execution and
// classification. Grounded on the teacher's internal/worker.Pool, but
// generalized from the teacher's push model (Submit/taskCh, fed by a
// separate pollerLoop) to the pull model the teacher itself documents
// as its "Phase 2" direction: each worker goroutine calls
// JobQueue.Get(ctx) on its own, so there is no task channel and no
// separate poller/acker loop to keep in lockstep.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
)

// Handler executes one job pulled off a ticket and reports the outcome
// back to the scheduler, which owns classification and re-enqueue
// policy (spec §4.1, §4.4). The pool itself never inspects a job's
// payload or error; it only drives the pull/execute/ack cycle.
type Handler interface {
	Handle(ctx context.Context, t *queue.Ticket)
}

// Pool is the WorkerPool (C4): threadCount goroutines, each looping
// Get -> Handle -> (loop). Pause tears the goroutines down without
// losing the in-flight count discipline; Resume respawns them. This
// mirrors the teacher Pool's started/stopped bookkeeping under mu, but
// adds the Pause/Resume states spec §4.6 requires that the teacher
// (start-once, stop-once) does not.
type Pool struct {
	mu            sync.Mutex
	source        queue.JobQueue
	handler       Handler
	threadCount   int
	activeThreads atomic.Int64

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	shutdown bool
}

// New creates a Pool that will pull from source and dispatch to
// handler once Start is called.
func New(source queue.JobQueue, handler Handler, threadCount int) *Pool {
	if threadCount <= 0 {
		threadCount = 1
	}
	return &Pool{
		source:      source,
		handler:     handler,
		threadCount: threadCount,
	}
}

// Start spawns threadCount worker goroutines. Calling Start while
// already running is a no-op, matching the teacher Pool's
// already-started guard.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.shutdown {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.threadCount; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ticket, ok, err := p.source.Get(ctx)
		if err != nil || !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		p.activeThreads.Add(1)
		p.handler.Handle(context.WithoutCancel(ctx), ticket)
		p.activeThreads.Add(-1)
	}
}

// Pause stops all worker goroutines without discarding the pool's
// configuration, so Resume can respawn an equivalent set. In-flight
// Handle calls are allowed to finish; Pause does not interrupt them.
func (p *Pool) Pause() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Resume respawns threadCount worker goroutines after a Pause.
func (p *Pool) Resume() {
	p.Start()
}

// Shutdown is terminal: it pauses the pool (if running) and marks it
// unable to Start again.
func (p *Pool) Shutdown() {
	p.Pause()
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// ActiveThreads returns the number of workers currently inside Handle,
// the gauge spec §9 calls for as "current concurrency."
func (p *Pool) ActiveThreads() int {
	return int(p.activeThreads.Load())
}

// ThreadCount returns the pool's configured worker count.
func (p *Pool) ThreadCount() int {
	return p.threadCount
}
