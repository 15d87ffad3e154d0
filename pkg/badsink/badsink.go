// Package badsink implements the terminal store for jobs that have
// exceeded their error limit (spec §4, "bad job sink"): an append-only,
// inspectable record of givens-up-on jobs, distinct from the retryable
// JobQueue variants in pkg/queue.
package badsink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// Sink accepts jobs that have exhausted retries. Unlike a JobQueue, a
// Sink has no Get/Ack cycle: writes are terminal.
type Sink interface {
	Put(j job.Job) error
	Size() int
	Close() error
}

// record is the on-disk shape of a dead job: the job's own Record plus
// the wall-clock time it was given up on, for operator inspection.
type record struct {
	job.Record
	DeadAtMs int64 `json:"dead_at_ms"`
}

// FileSink is the default Sink, grounded on the teacher WAL's
// append-then-fsync discipline (internal/storage/wal/wal.go) but
// simplified: a bad job sink never replays its own entries back into a
// queue, so it needs no batch writer, no checksum framing, and no
// replay-on-open: only a durable, monotonically growing log a human or
// a separate tool can tail.
type FileSink struct {
	mu    sync.Mutex
	file  *os.File
	enc   *json.Encoder
	count int
}

// NewFileSink opens (creating if necessary) <dir>/<name>.log for
// append, counting any pre-existing entries so Size reflects history
// across restarts.
func NewFileSink(dir, name string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("badsink: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".log")

	count, err := countLines(path)
	if err != nil {
		return nil, fmt.Errorf("badsink: count existing entries %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("badsink: open %s: %w", path, err)
	}

	return &FileSink{
		file:  file,
		enc:   json.NewEncoder(file),
		count: count,
	}, nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n, nil
}

// Put appends j as a dead record and fsyncs before returning, so a bad
// job is never lost to a crash between Put and the next snapshot.
func (s *FileSink) Put(j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{Record: j.ToRecord(), DeadAtMs: time.Now().UnixMilli()}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("badsink: encode job %s: %w", j.ID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("badsink: sync: %w", err)
	}
	s.count++
	return nil
}

func (s *FileSink) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
