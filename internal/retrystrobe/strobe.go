// Package retrystrobe implements the RetryStrobe component (spec §4.4,
// C5): a periodic sleep-then-drain loop that moves aged entries out of
// an error queue and back onto a primary queue. Grounded on the
// teacher's Controller.timeoutLoop (internal/controller/controller.go),
// generalized from a fixed-interval ticker to a jittered sleep so
// strobes across many priorities don't all wake in lockstep.
package retrystrobe

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
)

// Config controls one Strobe's timing and per-cycle work limit.
type Config struct {
	// Interval is the nominal sleep between drain attempts.
	Interval time.Duration
	// JitterRate scales a Gaussian sample (mean 0, stddev JitterRate *
	// Interval) added to Interval each cycle, so concurrent strobes
	// across priorities desynchronize instead of all firing together.
	JitterRate float64
	// FlushLimit bounds how many expired entries a single cycle drains,
	// matching JobQueue.CheckExpiration's flushLimit parameter.
	FlushLimit int
	// RunWhilePaused controls whether the strobe keeps draining the
	// error queue while its owning scheduler's worker pool is paused.
	// The zero value (false) skips cycles while paused; config.Default
	// turns it on for its level, since the error queue's durability is
	// independent of dispatch.
	RunWhilePaused bool
}

// Strobe runs Config.Interval(+jitter)-spaced CheckExpiration cycles
// against a source queue until stopped.
type Strobe struct {
	name   string
	source queue.JobQueue
	cfg    Config
	logger *slog.Logger

	pausedFn func() bool // reports the owning scheduler's pause state

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}

	onRun func() // test/metrics hook, invoked once per completed cycle
}

// New creates a Strobe over source. pausedFn, if non-nil, is consulted
// each cycle to honor Config.RunWhilePaused.
func New(name string, source queue.JobQueue, cfg Config, pausedFn func() bool) *Strobe {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.FlushLimit <= 0 {
		cfg.FlushLimit = 100
	}
	return &Strobe{
		name:     name,
		source:   source,
		cfg:      cfg,
		logger:   slog.Default(),
		pausedFn: pausedFn,
	}
}

// OnRun registers a callback invoked after every completed cycle,
// regardless of whether it found anything to drain. Used by the
// scheduler to bump a Prometheus counter without this package
// depending on the metrics package.
func (s *Strobe) OnRun(fn func()) { s.onRun = fn }

// Start launches the strobe's background goroutine. Calling Start
// while already running is a no-op.
func (s *Strobe) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the strobe and waits for its goroutine to exit.
func (s *Strobe) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Strobe) loop(ctx context.Context) {
	defer close(s.done)
	for {
		d := s.nextDelay()
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}

		if s.pausedFn != nil && s.pausedFn() && !s.cfg.RunWhilePaused {
			continue
		}

		n, err := s.source.CheckExpiration(s.cfg.FlushLimit)
		if err != nil {
			s.logger.Warn("retry strobe cycle failed", "queue", s.name, "error", err)
		} else if n > 0 {
			s.logger.Debug("retry strobe drained entries", "queue", s.name, "count", n)
		}
		if s.onRun != nil {
			s.onRun()
		}
	}
}

// nextDelay samples Config.Interval plus Gaussian jitter, clamped to
// never go negative (spec §4.4's "clamped non-negative" requirement).
func (s *Strobe) nextDelay() time.Duration {
	if s.cfg.JitterRate <= 0 {
		return s.cfg.Interval
	}
	stddev := float64(s.cfg.Interval) * s.cfg.JitterRate
	jitter := rand.NormFloat64() * stddev
	d := time.Duration(math.Max(0, float64(s.cfg.Interval)+jitter))
	return d
}
