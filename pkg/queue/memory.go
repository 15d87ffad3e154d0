package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// memoryEntry pairs a job with the time it was enqueued, needed for the
// drain relation's age check in CheckExpiration.
type memoryEntry struct {
	job        job.Job
	enqueuedAt time.Time
}

// Memory is the bounded, lossy JobQueue variant (spec §3, §4.2). It is
// grounded on the hybrid slice+map design of the teacher's
// internal/jobmanager.JobManager (a FIFO slice of pending IDs backed by a
// map for O(1) lookup), generalized here from an unbounded pending list
// into a capacity-bounded ring that evicts its oldest entry under
// pressure instead of growing forever.
type Memory struct {
	mu        sync.Mutex
	name      string
	sizeLimit int // 0 = unbounded
	entries   []*memoryEntry
	state     State

	drainTarget JobQueue
	drainDelay  time.Duration
}

// pollInterval bounds how long Get's internal retry loop sleeps between
// checks when the queue is momentarily empty. The loop itself runs until
// an entry arrives, the queue is paused or shut down, or ctx is done.
const pollInterval = 20 * time.Millisecond

// NewMemory creates a Memory queue. sizeLimit <= 0 means unbounded.
func NewMemory(name string, sizeLimit int) *Memory {
	return &Memory{
		name:      name,
		sizeLimit: sizeLimit,
		entries:   make([]*memoryEntry, 0),
		state:     Fresh,
	}
}

func (m *Memory) Name() string { return m.name }

// Put enqueues at the tail, evicting the head entry if the queue is at
// sizeLimit capacity: a deliberately lossy FIFO under memory pressure.
func (m *Memory) Put(j job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	if m.sizeLimit > 0 && len(m.entries) >= m.sizeLimit {
		m.entries = m.entries[1:]
	}
	m.entries = append(m.entries, &memoryEntry{job: j, enqueuedAt: j.EnqueuedAt})
	return nil
}

// Get pops the head entry and binds it to a ticket. Unlike the Durable
// variant, Memory has no crash-recovery obligation, so the entry leaves
// the queue (and Size) as soon as it is popped; Ack is a no-op that only
// exists to satisfy the JobQueue contract.
func (m *Memory) Get(ctx context.Context) (*Ticket, bool, error) {
	for {
		m.mu.Lock()
		switch m.state {
		case Paused, Shutdown:
			m.mu.Unlock()
			return nil, false, nil
		}
		if len(m.entries) > 0 {
			head := m.entries[0]
			m.entries = m.entries[1:]
			m.mu.Unlock()
			return &Ticket{job: head.job, ack: func() error { return nil }}, true, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-time.After(pollInterval):
		}
	}
}

func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Shutdown {
		m.state = Running
	}
}

func (m *Memory) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Running {
		m.state = Paused
	}
}

func (m *Memory) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Paused {
		m.state = Running
	}
}

func (m *Memory) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Shutdown
}

func (m *Memory) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Shutdown
}

func (m *Memory) DrainTo(target JobQueue, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainTarget = target
	m.drainDelay = delay
}

// CheckExpiration walks entries in FIFO age order, transferring any at
// least drainDelay old into drainTarget, stopping at flushLimit transfers
// or the first not-yet-expired entry.
func (m *Memory) CheckExpiration(flushLimit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.drainTarget == nil {
		return 0, nil
	}

	now := time.Now()
	transferred := 0
	for transferred < flushLimit && len(m.entries) > 0 {
		head := m.entries[0]
		if now.Sub(head.enqueuedAt) < m.drainDelay {
			break
		}
		if err := m.drainTarget.Put(head.job); err != nil {
			return transferred, err
		}
		m.entries = m.entries[1:]
		transferred++
	}
	return transferred, nil
}
