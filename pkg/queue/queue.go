// Package queue implements the JobQueue contract (spec §4.2): a named FIFO
// with lifecycle, acknowledgement tickets, size introspection, and a
// drain-into relation used by the retry strobe. Two variants are provided,
// Memory and Durable, sharing this interface rather than a common base
// struct, per the "variants over base-class state" design note.
package queue

import (
	"context"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// State mirrors the fresh/running/paused/shutdown lifecycle spec §3 and
// §4.6 assign to both a JobQueue and a JobScheduler.
type State int

const (
	Fresh State = iota
	Running
	Paused
	Shutdown
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Ticket is the one-shot handle spec §3 describes: exactly one of Ack or a
// caller-driven re-enqueue onto another queue must be observed for every
// ticket a queue emits. Tickets are not transferable across queues: the
// ack closure is bound to the queue instance that issued it.
type Ticket struct {
	job job.Job
	ack func() error
}

// Job returns the job bound to this ticket. The caller may mutate
// ErrorCount/ErrorMessage before re-enqueuing or acking.
func (t *Ticket) Job() *job.Job { return &t.job }

// Ack finalizes removal of the ticket's entry from the queue that issued
// it. Double-ack is a programming error and is not guarded against, per
// spec §4.2.
func (t *Ticket) Ack() error { return t.ack() }

// JobQueue is the shared capability set {put, get, ack, size, lifecycle,
// drainTo, checkExpiration} spec §9 calls for. Durable and Memory both
// implement it.
type JobQueue interface {
	Name() string

	// Put enqueues at the tail. The Memory variant evicts the head entry
	// when full (lossy); the Durable variant never drops an entry but may
	// surface a backing-store error.
	Put(j job.Job) error

	// Get returns a ticket bound to the head job, or ok=false if the
	// queue is paused or shut down or ctx is done. An empty queue does
	// not by itself yield ok=false: Get re-checks every pollInterval
	// until an entry arrives or one of those conditions holds, so ctx
	// cancellation returns within one poll interval.
	Get(ctx context.Context) (ticket *Ticket, ok bool, err error)

	// Size is the current pending count, possibly approximate for the
	// Durable variant under concurrent mutation.
	Size() int

	Start()
	Pause()
	Resume()
	Shutdown()
	IsShutdown() bool

	// DrainTo registers a one-way drain relation: entries younger than
	// delay are invisible to CheckExpiration; at least delay old, they
	// become eligible for transfer into target.
	DrainTo(target JobQueue, delay time.Duration)

	// CheckExpiration transfers up to flushLimit expired entries (per
	// the registered drain relation) into the target queue, stopping
	// early when the next entry isn't yet expired. It returns the number
	// of entries transferred.
	CheckExpiration(flushLimit int) (int, error)
}
