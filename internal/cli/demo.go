package cli

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// demoExecute is the stand-in Execute closure kestreld attaches to a
// job it has no caller-supplied business logic for: the CLI submits
// opaque payloads, not callable Go closures, so something has to run.
// Grounded on the teacher's Worker.execute (internal/worker/worker.go):
// the same random-delay, percentage-failure simulation, generalized to
// also occasionally simulate the blackhole and rejected classifications
// spec §3 defines, which the teacher's single success/failure model has
// no equivalent of.
func demoExecute(ctx context.Context) error {
	workDuration := time.Duration(rand.Intn(200)) * time.Millisecond

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(workDuration):
		switch {
		case rand.Intn(100) < 2:
			return job.ErrBlackhole
		case rand.Intn(100) < 3:
			return job.ErrRejected
		case rand.Intn(100) < 10:
			return errors.New("demo: simulated execution failure")
		default:
			return nil
		}
	}
}
