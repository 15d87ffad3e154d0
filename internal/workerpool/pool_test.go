package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
)

// recordingHandler counts Handle invocations and acks every ticket it
// sees, standing in for the scheduler in these pool-only tests.
type recordingHandler struct {
	mu      sync.Mutex
	handled []string
	delay   time.Duration
}

func (h *recordingHandler) Handle(ctx context.Context, t *queue.Ticket) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.handled = append(h.handled, string(t.Job().ID))
	h.mu.Unlock()
	_ = t.Ack()
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func testJob(id string) job.Job {
	return job.Job{ID: job.ID(id), EnqueuedAt: time.Now()}
}

func TestPoolDispatchesAllPutJobs(t *testing.T) {
	src := queue.NewMemory("src", 0)
	src.Start()
	require.NoError(t, src.Put(testJob("a")))
	require.NoError(t, src.Put(testJob("b")))
	require.NoError(t, src.Put(testJob("c")))

	h := &recordingHandler{}
	p := New(src, h, 2)
	p.Start()
	defer p.Shutdown()

	require.Eventually(t, func() bool { return h.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestPoolActiveThreadsTracksInFlight(t *testing.T) {
	src := queue.NewMemory("src", 0)
	src.Start()
	require.NoError(t, src.Put(testJob("a")))

	h := &recordingHandler{delay: 100 * time.Millisecond}
	p := New(src, h, 1)
	p.Start()
	defer p.Shutdown()

	require.Eventually(t, func() bool { return p.ActiveThreads() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.ActiveThreads() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPoolPauseStopsDispatchAndResumeContinues(t *testing.T) {
	src := queue.NewMemory("src", 0)
	src.Start()

	h := &recordingHandler{}
	p := New(src, h, 1)
	p.Start()

	require.NoError(t, src.Put(testJob("a")))
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)

	p.Pause()
	require.NoError(t, src.Put(testJob("b")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.count(), "paused pool must not dispatch")

	p.Resume()
	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, 5*time.Millisecond)

	p.Shutdown()
}

func TestPoolShutdownIsTerminal(t *testing.T) {
	src := queue.NewMemory("src", 0)
	src.Start()

	h := &recordingHandler{}
	p := New(src, h, 1)
	p.Start()
	p.Shutdown()
	assert.True(t, p.IsShutdown())

	require.NoError(t, src.Put(testJob("a")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.count())

	// Start after Shutdown has no visible effect.
	p.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.count())
}

func TestPoolDefaultsThreadCountToOne(t *testing.T) {
	src := queue.NewMemory("src", 0)
	p := New(src, &recordingHandler{}, 0)
	assert.Equal(t, 1, p.ThreadCount())
}
