// Package priority implements the PrioritizingJobScheduler component
// (spec §4.7, C7): a fixed mapping from priority level to an underlying
// JobScheduler, routing Put by priority and fanning lifecycle calls out
// to every level. Grounded on the teacher's Controller, which is the
// single-priority analogue this package wraps one instance of per
// level; there is no teacher precedent for multi-priority fan-out, so
// the fan-out/aggregation logic here follows the "sequential,
// best-effort propagation" design note spec §9 calls for rather than
// any specific teacher file.
package priority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/kestrel-scheduler/internal/scheduler"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// ErrNoSuchPriority is returned when Put names a priority level with no
// registered JobScheduler.
var ErrNoSuchPriority = errors.New("priority: no scheduler registered for level")

// PrioritizingJobScheduler routes jobs across a fixed set of priority
// levels, each backed by its own JobScheduler (spec §4.7). Levels are
// established at construction time via Update and never grow or shrink
// afterward, since spec's Non-goals exclude dynamic reprioritization.
type PrioritizingJobScheduler struct {
	mu         sync.RWMutex
	schedulers map[int]*scheduler.JobScheduler
}

// New creates an empty PrioritizingJobScheduler. Call Update to
// register each priority level's scheduler before Start.
func New() *PrioritizingJobScheduler {
	return &PrioritizingJobScheduler{
		schedulers: make(map[int]*scheduler.JobScheduler),
	}
}

// Update registers (or replaces) the scheduler backing priority. This
// is the testing/configuration hook spec §4.7 calls for; production
// wiring calls it once per level at startup.
func (p *PrioritizingJobScheduler) Update(priority int, s *scheduler.JobScheduler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedulers[priority] = s
}

// Put routes j onto the scheduler registered for priority, or returns
// ErrNoSuchPriority.
func (p *PrioritizingJobScheduler) Put(priority int, j job.Job) error {
	p.mu.RLock()
	s, ok := p.schedulers[priority]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchPriority, priority)
	}
	return s.Put(j)
}

// levels returns registered priorities in ascending order, so fan-out
// operations have a deterministic, repeatable order across calls.
func (p *PrioritizingJobScheduler) levels() []int {
	levels := make([]int, 0, len(p.schedulers))
	for lvl := range p.schedulers {
		levels = append(levels, lvl)
	}
	sort.Ints(levels)
	return levels
}

func (p *PrioritizingJobScheduler) forEach(fn func(*scheduler.JobScheduler)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, lvl := range p.levels() {
		fn(p.schedulers[lvl])
	}
}

// Start starts every registered level's scheduler, in ascending
// priority order, continuing past any individual failure since Start
// itself cannot fail (JobScheduler.Start has no error return).
func (p *PrioritizingJobScheduler) Start() {
	p.forEach(func(s *scheduler.JobScheduler) { s.Start() })
}

// Pause pauses every registered level.
func (p *PrioritizingJobScheduler) Pause() {
	p.forEach(func(s *scheduler.JobScheduler) { s.Pause() })
}

// Resume resumes every registered level.
func (p *PrioritizingJobScheduler) Resume() {
	p.forEach(func(s *scheduler.JobScheduler) { s.Resume() })
}

// Shutdown shuts down every registered level, in ascending priority
// order. Each JobScheduler.Shutdown call is idempotent and has no error
// return, so every level is attempted; a panic inside one level's
// Shutdown is not recovered and ends the fan-out there.
func (p *PrioritizingJobScheduler) Shutdown() {
	p.forEach(func(s *scheduler.JobScheduler) { s.Shutdown() })
}

// IsShutdown reports true only once every registered level reports
// shutdown, the conjunction spec §4.7 specifies.
func (p *PrioritizingJobScheduler) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.schedulers) == 0 {
		return false
	}
	for _, s := range p.schedulers {
		if !s.IsShutdown() {
			return false
		}
	}
	return true
}

// Size sums each level's primary queue depth.
func (p *PrioritizingJobScheduler) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, s := range p.schedulers {
		total += s.Size()
	}
	return total
}

// ErrorSize sums each level's error queue depth.
func (p *PrioritizingJobScheduler) ErrorSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, s := range p.schedulers {
		total += s.ErrorSize()
	}
	return total
}

// ActiveThreads sums each level's busy-worker count.
func (p *PrioritizingJobScheduler) ActiveThreads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, s := range p.schedulers {
		total += s.ActiveThreads()
	}
	return total
}

// RetryErrors runs the immediate retryErrors() drain (spec §4.5) on
// every registered level, summing the number of jobs moved. A failing
// level does not stop the fan-out: every level is attempted and the
// first error is returned afterward.
func (p *PrioritizingJobScheduler) RetryErrors(ctx context.Context) (int, error) {
	p.mu.RLock()
	levels := p.levels()
	schedulers := make([]*scheduler.JobScheduler, len(levels))
	for i, lvl := range levels {
		schedulers[i] = p.schedulers[lvl]
	}
	p.mu.RUnlock()

	total := 0
	var firstErr error
	for _, s := range schedulers {
		n, err := s.RetryErrors(ctx)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// Status summarizes one priority level for CLI/operator inspection.
type Status struct {
	Priority      int
	Name          string
	Size          int
	ErrorSize     int
	ActiveThreads int
}

// StatusReport returns one Status per registered priority, ascending.
func (p *PrioritizingJobScheduler) StatusReport() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	report := make([]Status, 0, len(p.schedulers))
	for _, lvl := range p.levels() {
		s := p.schedulers[lvl]
		report = append(report, Status{
			Priority:      lvl,
			Name:          s.Name(),
			Size:          s.Size(),
			ErrorSize:     s.ErrorSize(),
			ActiveThreads: s.ActiveThreads(),
		})
	}
	return report
}
