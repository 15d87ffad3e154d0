// Package scheduler implements the JobScheduler component (spec §4.1,
// §4.5, §4.6, C6): the unit that owns a primary queue, an error queue,
// an optional bad job sink, a worker pool, and a retry strobe, and
// drives the classification state machine between them. Grounded on
// the teacher's Controller (internal/controller/controller.go), which
// composes the same shape (job store + pool + background loops +
// lifecycle), generalized from the teacher's fixed
// success/retry-until-MaxRetry/dead rule to the three-way
// blackhole/rejected/other classification spec §3 defines.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/internal/metrics"
	"github.com/ChuLiYu/kestrel-scheduler/internal/retrystrobe"
	"github.com/ChuLiYu/kestrel-scheduler/internal/workerpool"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/badsink"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
)

var log = slog.Default()

// Config holds the tunables spec §9 assigns to a JobScheduler.
type Config struct {
	Name           string
	ThreadCount    int
	StrobeInterval time.Duration
	JitterRate     float64
	ErrorLimit     int
	FlushLimit     int
	ErrorDelay     time.Duration
	RunWhilePaused bool
}

// JobScheduler is the JobScheduler component (C6): primaryQueue +
// errorQueue + optional badJobQueue, driven by a WorkerPool and a
// RetryStrobe, under a single Fresh/Running/Paused/Shutdown state
// machine (spec §4.6).
type JobScheduler struct {
	cfg Config

	primaryQueue queue.JobQueue
	errorQueue   queue.JobQueue
	badSink      badsink.Sink

	pool   *workerpool.Pool
	strobe *retrystrobe.Strobe

	metricsCollector *metrics.Collector

	mu    sync.Mutex
	state queue.State
}

// New wires a JobScheduler. badSink may be nil, in which case jobs that
// exceed ErrorLimit are dropped with a logged warning rather than
// persisted anywhere (spec §4's "optional bad job sink").
func New(cfg Config, primaryQueue, errorQueue queue.JobQueue, badSink badsink.Sink, mc *metrics.Collector) *JobScheduler {
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = 1
	}
	if cfg.ErrorLimit <= 0 {
		cfg.ErrorLimit = 3
	}
	if cfg.FlushLimit <= 0 {
		cfg.FlushLimit = 100
	}

	s := &JobScheduler{
		cfg:              cfg,
		primaryQueue:     primaryQueue,
		errorQueue:       errorQueue,
		badSink:          badSink,
		metricsCollector: mc,
		state:            queue.Fresh,
	}

	errorQueue.DrainTo(primaryQueue, cfg.ErrorDelay)

	s.pool = workerpool.New(primaryQueue, s, cfg.ThreadCount)
	s.strobe = retrystrobe.New(cfg.Name+"-error", errorQueue, retrystrobe.Config{
		Interval:       cfg.StrobeInterval,
		JitterRate:     cfg.JitterRate,
		FlushLimit:     cfg.FlushLimit,
		RunWhilePaused: cfg.RunWhilePaused,
	}, s.isPaused)
	if mc != nil {
		s.strobe.OnRun(func() {
			mc.RecordStrobeRun(cfg.Name)
			mc.SetQueueDepth(cfg.Name, primaryQueue.Name(), primaryQueue.Size())
			mc.SetQueueDepth(cfg.Name, errorQueue.Name(), errorQueue.Size())
			mc.SetActiveThreads(cfg.Name, s.pool.ActiveThreads())
		})
	}

	return s
}

func (s *JobScheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == queue.Paused
}

// Put enqueues j onto the primary queue.
func (s *JobScheduler) Put(j job.Job) error {
	if err := s.primaryQueue.Put(j); err != nil {
		return err
	}
	if s.metricsCollector != nil {
		s.metricsCollector.RecordPut(s.cfg.Name, s.primaryQueue.Name())
	}
	return nil
}

// Handle implements workerpool.Handler: execute the ticket's job,
// classify the outcome, and act per spec §3's state machine.
func (s *JobScheduler) Handle(ctx context.Context, t *queue.Ticket) {
	j := t.Job()
	latencyStart := j.EnqueuedAt

	var err error
	if j.Execute != nil {
		err = j.Execute(ctx)
	}

	switch job.Classify(err) {
	case job.Success:
		if s.metricsCollector != nil {
			s.metricsCollector.RecordDispatch(s.cfg.Name)
		}
		if ackErr := t.Ack(); ackErr != nil {
			log.Error("failed to ack completed job", "scheduler", s.cfg.Name, "job", j.ID, "error", ackErr)
		}

	case job.Blackhole:
		if ackErr := t.Ack(); ackErr != nil {
			log.Error("failed to ack blackholed job", "scheduler", s.cfg.Name, "job", j.ID, "error", ackErr)
		}
		if s.metricsCollector != nil {
			s.metricsCollector.RecordBlackhole(s.cfg.Name, elapsedSeconds(latencyStart))
		}
		log.Debug("job blackholed", "scheduler", s.cfg.Name, "job", j.ID)

	case job.Rejected:
		j.ErrorMessage = err.Error()
		s.requeueWithoutIncrement(ctx, t)

	default: // job.Other
		j.ErrorCount++
		j.ErrorMessage = err.Error()
		s.requeueOrBadSink(ctx, t)
	}
}

// requeueWithoutIncrement re-enqueues onto the error queue durably
// first, then acks the original ticket, preserving at-least-once
// delivery (spec §3's ticket-acknowledgement ordering invariant).
func (s *JobScheduler) requeueWithoutIncrement(ctx context.Context, t *queue.Ticket) {
	j := *t.Job()
	if err := s.errorQueue.Put(j); err != nil {
		log.Error("failed to requeue rejected job", "scheduler", s.cfg.Name, "job", j.ID, "error", err)
		return
	}
	if err := t.Ack(); err != nil {
		log.Error("failed to ack rejected job after requeue", "scheduler", s.cfg.Name, "job", j.ID, "error", err)
	}
	if s.metricsCollector != nil {
		s.metricsCollector.RecordRejected(s.cfg.Name, elapsedSeconds(j.EnqueuedAt))
	}
}

func (s *JobScheduler) requeueOrBadSink(ctx context.Context, t *queue.Ticket) {
	j := *t.Job()

	if j.ErrorCount > s.cfg.ErrorLimit {
		if s.badSink != nil {
			if err := s.badSink.Put(j); err != nil {
				log.Error("failed to write job to bad sink", "scheduler", s.cfg.Name, "job", j.ID, "error", err)
				return
			}
		} else {
			log.Warn("job exceeded error limit with no bad sink configured, dropping", "scheduler", s.cfg.Name, "job", j.ID)
		}
		if err := t.Ack(); err != nil {
			log.Error("failed to ack dead job", "scheduler", s.cfg.Name, "job", j.ID, "error", err)
		}
		if s.metricsCollector != nil {
			s.metricsCollector.RecordDead(s.cfg.Name, elapsedSeconds(j.EnqueuedAt))
		}
		return
	}

	if err := s.errorQueue.Put(j); err != nil {
		log.Error("failed to requeue job onto error queue", "scheduler", s.cfg.Name, "job", j.ID, "error", err)
		return
	}
	if err := t.Ack(); err != nil {
		log.Error("failed to ack job after error requeue", "scheduler", s.cfg.Name, "job", j.ID, "error", err)
	}
	if s.metricsCollector != nil {
		s.metricsCollector.RecordRetried(s.cfg.Name, elapsedSeconds(j.EnqueuedAt))
	}
}

func elapsedSeconds(since time.Time) float64 {
	if since.IsZero() {
		return 0
	}
	return time.Since(since).Seconds()
}

// RetryErrors performs the immediate, unconditional retryErrors()
// operation (spec §4.5): pop up to the error queue's size observed at
// entry and move each straight onto the primary queue, ignoring the
// background strobe's age delay. Bounding by the entry-time size
// prevents a livelock where entries re-added mid-drain extend the loop
// forever.
func (s *JobScheduler) RetryErrors(ctx context.Context) (int, error) {
	bound := s.errorQueue.Size()
	moved := 0
	for i := 0; i < bound; i++ {
		t, ok, err := s.errorQueue.Get(ctx)
		if err != nil {
			return moved, err
		}
		if !ok {
			break
		}
		if err := s.primaryQueue.Put(*t.Job()); err != nil {
			return moved, err
		}
		if err := t.Ack(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Start transitions Fresh/Paused -> Running, starting the pool and
// strobe.
func (s *JobScheduler) Start() {
	s.mu.Lock()
	if s.state == queue.Shutdown {
		s.mu.Unlock()
		return
	}
	s.state = queue.Running
	s.mu.Unlock()

	s.primaryQueue.Start()
	s.errorQueue.Start()
	s.pool.Start()
	s.strobe.Start()
}

// Pause stops dispatching new work to the pool. The strobe keeps
// running unless Config.RunWhilePaused is false.
func (s *JobScheduler) Pause() {
	s.mu.Lock()
	if s.state != queue.Running {
		s.mu.Unlock()
		return
	}
	s.state = queue.Paused
	s.mu.Unlock()

	s.pool.Pause()
	s.primaryQueue.Pause()
}

// Resume undoes Pause.
func (s *JobScheduler) Resume() {
	s.mu.Lock()
	if s.state != queue.Paused {
		s.mu.Unlock()
		return
	}
	s.state = queue.Running
	s.mu.Unlock()

	s.primaryQueue.Resume()
	s.pool.Resume()
}

// Shutdown is terminal: it stops the strobe, pool, and both queues.
func (s *JobScheduler) Shutdown() {
	s.mu.Lock()
	if s.state == queue.Shutdown {
		s.mu.Unlock()
		return
	}
	s.state = queue.Shutdown
	s.mu.Unlock()

	s.strobe.Stop()
	s.pool.Shutdown()
	s.primaryQueue.Shutdown()
	s.errorQueue.Shutdown()
}

func (s *JobScheduler) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == queue.Shutdown
}

// Size is the primary queue's current depth.
func (s *JobScheduler) Size() int { return s.primaryQueue.Size() }

// ErrorSize is the error queue's current depth.
func (s *JobScheduler) ErrorSize() int { return s.errorQueue.Size() }

// ActiveThreads is the pool's current busy-worker count.
func (s *JobScheduler) ActiveThreads() int { return s.pool.ActiveThreads() }

// Name identifies this scheduler, e.g. for metrics labels and CLI
// status output.
func (s *JobScheduler) Name() string { return s.cfg.Name }
