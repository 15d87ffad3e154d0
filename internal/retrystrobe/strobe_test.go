package retrystrobe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
)

func testJob(id string) job.Job {
	return job.Job{ID: job.ID(id), EnqueuedAt: time.Now()}
}

func TestStrobeDrainsExpiredEntries(t *testing.T) {
	src := queue.NewMemory("src", 0)
	dst := queue.NewMemory("dst", 0)
	src.Start()
	dst.Start()
	src.DrainTo(dst, 10*time.Millisecond)
	require.NoError(t, src.Put(testJob("a")))

	var runs int32
	s := New("s", src, Config{Interval: 5 * time.Millisecond, FlushLimit: 10}, nil)
	s.OnRun(func() { runs++ })
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return dst.Size() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, src.Size())
}

func TestStrobeSkipsWhenPausedAndNotRunWhilePaused(t *testing.T) {
	src := queue.NewMemory("src", 0)
	dst := queue.NewMemory("dst", 0)
	src.Start()
	dst.Start()
	src.DrainTo(dst, time.Millisecond)
	require.NoError(t, src.Put(testJob("a")))

	s := New("s", src, Config{Interval: 5 * time.Millisecond, FlushLimit: 10, RunWhilePaused: false}, func() bool { return true })
	s.Start()
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, dst.Size(), "paused strobe must not drain when RunWhilePaused is false")
}

func TestStrobeRunsWhilePausedWhenConfigured(t *testing.T) {
	src := queue.NewMemory("src", 0)
	dst := queue.NewMemory("dst", 0)
	src.Start()
	dst.Start()
	src.DrainTo(dst, time.Millisecond)
	require.NoError(t, src.Put(testJob("a")))

	s := New("s", src, Config{Interval: 5 * time.Millisecond, FlushLimit: 10, RunWhilePaused: true}, func() bool { return true })
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return dst.Size() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStrobeStartStopIsIdempotent(t *testing.T) {
	src := queue.NewMemory("src", 0)
	src.Start()
	s := New("s", src, Config{Interval: 5 * time.Millisecond}, nil)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestNextDelayClampedNonNegativeUnderHighJitter(t *testing.T) {
	s := New("s", queue.NewMemory("x", 0), Config{Interval: time.Millisecond, JitterRate: 1000}, nil)
	for i := 0; i < 200; i++ {
		assert.GreaterOrEqual(t, s.nextDelay(), time.Duration(0))
	}
}

func TestNextDelayWithZeroJitterIsExact(t *testing.T) {
	s := New("s", queue.NewMemory("x", 0), Config{Interval: 50 * time.Millisecond}, nil)
	assert.Equal(t, 50*time.Millisecond, s.nextDelay())
}
