// Package integration reproduces the scenario-level testable properties
// (spec.md §8, scenarios 1-6) against a fully wired JobScheduler /
// PrioritizingJobScheduler, exercising the component composition rather
// than any single package in isolation. Grounded on the teacher's own
// test/integration split between unit coverage and end-to-end scenario
// coverage.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kestrel-scheduler/internal/metrics"
	"github.com/ChuLiYu/kestrel-scheduler/internal/priority"
	"github.com/ChuLiYu/kestrel-scheduler/internal/scheduler"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/badsink"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
)

func freshCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}

func newScheduler(t *testing.T, name string, threads, errorLimit, flushLimit int, errorDelay time.Duration, sink badsink.Sink, mc *metrics.Collector) (*scheduler.JobScheduler, queue.JobQueue) {
	t.Helper()
	primary := queue.NewMemory(name, 0)
	errQ := queue.NewMemory(name+"-error", 0)
	cfg := scheduler.Config{
		Name:           name,
		ThreadCount:    threads,
		StrobeInterval: 100 * time.Millisecond,
		ErrorLimit:     errorLimit,
		FlushLimit:     flushLimit,
		ErrorDelay:     errorDelay,
		RunWhilePaused: true,
	}
	s := scheduler.New(cfg, primary, errQ, sink, mc)
	return s, primary
}

// Scenario 1: Happy path.
func TestScenarioHappyPath(t *testing.T) {
	mc := freshCollector(t)
	s, primary := newScheduler(t, "happy", 4, 3, 100, 30*time.Second, nil, mc)
	s.Start()
	defer s.Shutdown()

	for i := 0; i < 100; i++ {
		id := job.ID(fmt.Sprintf("happy-%d", i))
		require.NoError(t, s.Put(job.Job{
			ID:         id,
			EnqueuedAt: time.Now(),
			Execute:    func(ctx context.Context) error { return nil },
		}))
	}

	require.Eventually(t, func() bool { return s.Size() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.ErrorSize())
	assert.Equal(t, 0, primary.Size())
}

// Scenario 2: Transient rejection, Rejected for 3 invocations then succeeds.
func TestScenarioTransientRejection(t *testing.T) {
	mc := freshCollector(t)
	s, _ := newScheduler(t, "rejected", 1, 5, 100, 0, nil, mc)
	s.Start()
	defer s.Shutdown()

	var invocations atomic.Int32
	require.NoError(t, s.Put(job.Job{
		ID:         "flaky",
		EnqueuedAt: time.Now(),
		Execute: func(ctx context.Context) error {
			n := invocations.Add(1)
			if n <= 3 {
				return job.ErrRejected
			}
			return nil
		},
	}))

	require.Eventually(t, func() bool { return invocations.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Size() == 0 && s.ErrorSize() == 0 }, 2*time.Second, 5*time.Millisecond)
}

// Scenario 3: Permanent failure, always "Other", exceeds errorLimit, lands
// in the bad sink after exactly errorLimit+1 executions.
func TestScenarioPermanentFailureGoesToBadSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := badsink.NewFileSink(dir, "dead")
	require.NoError(t, err)
	defer sink.Close()

	mc := freshCollector(t)
	s, _ := newScheduler(t, "permanent", 1, 2, 100, 0, sink, mc)
	s.Start()
	defer s.Shutdown()

	var invocations atomic.Int32
	require.NoError(t, s.Put(job.Job{
		ID:         "doomed",
		EnqueuedAt: time.Now(),
		Execute: func(ctx context.Context) error {
			invocations.Add(1)
			return errors.New("permanent failure")
		},
	}))

	require.Eventually(t, func() bool { return sink.Size() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), invocations.Load())
	assert.Equal(t, 0, s.ErrorSize())
}

// Scenario 4: Blackhole, one execution, job nowhere afterward.
func TestScenarioBlackhole(t *testing.T) {
	dir := t.TempDir()
	sink, err := badsink.NewFileSink(dir, "dead")
	require.NoError(t, err)
	defer sink.Close()

	mc := freshCollector(t)
	s, _ := newScheduler(t, "blackhole", 1, 3, 100, 0, sink, mc)
	s.Start()
	defer s.Shutdown()

	var invocations atomic.Int32
	require.NoError(t, s.Put(job.Job{
		ID:         "ghost",
		EnqueuedAt: time.Now(),
		Execute: func(ctx context.Context) error {
			invocations.Add(1)
			return job.ErrBlackhole
		},
	}))

	require.Eventually(t, func() bool { return invocations.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), invocations.Load(), "blackholed job must not be retried")
	assert.Equal(t, 0, s.ErrorSize())
	assert.Equal(t, 0, sink.Size())
}

// Scenario 5: Strobe periodicity, 25 pre-aged error-queue entries,
// strobeInterval=100ms, flushLimit=10, errorDelay=50ms; at least two
// cycles (20 transfers) must move out of the error queue onto primary.
// The scheduler's own worker consumes primary as entries land, so the
// transfers are counted on the error queue's side.
func TestScenarioStrobePeriodicity(t *testing.T) {
	primary := queue.NewMemory("strobe-primary", 0)
	errQ := queue.NewMemory("strobe-error", 0)
	primary.Start()
	errQ.Start()

	for i := 0; i < 25; i++ {
		require.NoError(t, errQ.Put(job.Job{ID: job.ID(fmt.Sprintf("aged-%d", i)), EnqueuedAt: time.Now().Add(-time.Second)}))
	}

	cfg := scheduler.Config{
		Name:           "strobe",
		ThreadCount:    1,
		StrobeInterval: 100 * time.Millisecond,
		JitterRate:     0,
		ErrorLimit:     3,
		FlushLimit:     10,
		ErrorDelay:     50 * time.Millisecond,
		RunWhilePaused: true,
	}
	s := scheduler.New(cfg, primary, errQ, nil, nil)
	s.Start()
	defer s.Shutdown()

	require.Eventually(t, func() bool { return errQ.Size() <= 5 }, 2*time.Second, 10*time.Millisecond)
}

// Scenario 6: Priority fan-out, three priorities, 10 jobs each.
func TestScenarioPriorityFanOut(t *testing.T) {
	p := priority.New()
	levels := []int{1, 2, 3}
	for _, lvl := range levels {
		s, _ := newScheduler(t, "level", 2, 3, 100, 30*time.Second, nil, nil)
		p.Update(lvl, s)
	}

	for _, lvl := range levels {
		for i := 0; i < 10; i++ {
			require.NoError(t, p.Put(lvl, job.Job{
				ID:         job.ID(fmt.Sprintf("fanout-%d-%d", lvl, i)),
				EnqueuedAt: time.Now(),
				Execute:    func(ctx context.Context) error { return nil },
			}))
		}
	}
	assert.Equal(t, 30, p.Size())

	p.Start()
	require.Eventually(t, func() bool { return p.Size() == 0 }, 2*time.Second, 10*time.Millisecond)

	p.Shutdown()
	assert.True(t, p.IsShutdown())
}
