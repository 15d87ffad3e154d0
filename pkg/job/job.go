// Package job defines the opaque unit of work the scheduler cluster moves
// between queues: a payload plus the mutable error metadata the
// classification state machine needs (errorCount, errorMessage).
package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ID uniquely identifies a job within a single queue's namespace.
type ID string

// Sentinel classification errors. A job's Execute closure signals a
// transient or permanent routing decision by returning one of these
// (or an error that wraps one via fmt.Errorf("...: %w", ErrRejected)).
// Any other non-nil error is treated as "Other" per spec §4.1.
var (
	// ErrBlackhole means the job's target is explicitly unreachable;
	// further retries are futile and the job is dropped silently.
	ErrBlackhole = errors.New("job: target unreachable (blackhole)")

	// ErrRejected means the target is present but transiently refusing
	// work; the job is re-enqueued without incrementing ErrorCount.
	ErrRejected = errors.New("job: target rejecting work (rejected)")
)

// Job is the mutable unit of work owned by whichever queue currently
// holds it. After a worker dequeues a Ticket, ownership transfers to the
// worker until Ack or a re-enqueue is observed.
type Job struct {
	ID      ID
	Payload []byte

	ErrorCount   int
	ErrorMessage string

	EnqueuedAt time.Time

	// Execute is the parameterless effectful operation. It is not
	// serialized: queues that must survive a restart persist a Record
	// instead and rely on a Rehydrate callback to reattach Execute.
	Execute func(ctx context.Context) error
}

// Describe renders a short human description for log lines, matching the
// "log line containing job description and error text" requirement of
// spec §7.
func (j *Job) Describe() string {
	return fmt.Sprintf("job[%s] attempt=%d", j.ID, j.ErrorCount)
}

// Classification is the three-way routing decision spec §4.1 assigns to
// an Execute outcome.
type Classification int

const (
	// Success means Execute returned nil.
	Success Classification = iota
	// Blackhole means Execute's error wraps ErrBlackhole.
	Blackhole
	// Rejected means Execute's error wraps ErrRejected.
	Rejected
	// Other is any other non-nil error.
	Other
)

// Classify maps an Execute outcome to its routing decision.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrBlackhole):
		return Blackhole
	case errors.Is(err, ErrRejected):
		return Rejected
	default:
		return Other
	}
}

// Record is the durable, wire-serializable projection of a Job used by
// the durable queue backend and its codec. Execute cannot be persisted;
// a Record is turned back into a runnable Job by the Rehydrate function
// the queue was constructed with.
type Record struct {
	ID           ID     `json:"id"`
	Payload      []byte `json:"payload"`
	ErrorCount   int    `json:"error_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	EnqueuedAtMs int64  `json:"enqueued_at_ms"`
}

// ToRecord projects a Job into its durable form.
func (j *Job) ToRecord() Record {
	return Record{
		ID:           j.ID,
		Payload:      j.Payload,
		ErrorCount:   j.ErrorCount,
		ErrorMessage: j.ErrorMessage,
		EnqueuedAtMs: j.EnqueuedAt.UnixMilli(),
	}
}

// Rehydrate is supplied by whoever constructs a durable queue (in
// kestreld, the CLI's queue wiring) to reattach an Execute closure to a
// Record loaded back off disk.
type Rehydrate func(Record) (Job, error)
