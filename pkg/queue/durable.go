package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/codec"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// ErrClosed is returned by Put/Ack when the durable queue's journal has
// already been shut down.
var ErrClosed = errors.New("queue: durable journal is closed")

// frameKind tags a journalFrame's role, mirroring the teacher WAL's
// EventType (internal/storage/wal/types.go).
type frameKind string

const (
	frameEnqueue frameKind = "ENQUEUE"
	frameAck     frameKind = "ACK"
)

// journalFrame is a single line of the append-only journal: a sequence
// number, a kind tag, the codec-encoded job.Record (ENQUEUE only), and a
// checksum over the above. Grounded on wal.Event, generalized to carry an
// opaque codec payload instead of a fixed job-field set.
type journalFrame struct {
	Seq      uint64    `json:"seq"`
	Type     frameKind `json:"type"`
	RecordID job.ID    `json:"record_id"`
	Payload  []byte    `json:"payload,omitempty"`
	// AckOf names the original ENQUEUE frame's Seq an ACK frame
	// retires. An ACK frame gets its own monotonic Seq like every
	// other frame, so AckOf, not Seq, is the pending-index key
	// replay must remove.
	AckOf    uint64 `json:"ack_of,omitempty"`
	Checksum uint32 `json:"checksum"`
}

type pendingEntry struct {
	rec        job.Record
	enqueuedAt time.Time
}

type batchRequest struct {
	frame journalFrame
	errCh chan error
}

// Durable is the crash-surviving JobQueue variant (spec §3, §4.2, §6): a
// directory-rooted, append-only journal per queue name with an
// in-memory pending index giving peek-then-ack visibility semantics.
// Grounded directly on the teacher's internal/storage/wal.WAL: the same
// batch-commit writer (batchChan/batchWriter/flushBatch) and CRC32
// framing, adapted from "replay the whole log into a job manager" to
// "iterate not-yet-acked records in FIFO order."
type Durable struct {
	name      string
	path      string
	file      *os.File
	encoder   *json.Encoder
	codec     codec.Codec
	rehydrate job.Rehydrate
	logger    *slog.Logger

	mu           sync.Mutex
	seq          uint64
	state        State
	pendingOrder []uint64
	pendingRecs  map[uint64]pendingEntry
	inFlight     map[uint64]uint64 // ticket seq -> pending seq (for bookkeeping/debug)

	drainTarget JobQueue
	drainDelay  time.Duration

	batchChan     chan batchRequest
	bufferSize    int
	flushInterval time.Duration
	closed        chan struct{}
	wg            sync.WaitGroup
	isClosed      bool
}

// DurableOption customizes NewDurable beyond its required parameters.
type DurableOption func(*Durable)

// WithLogger attaches a structured logger used to report skipped
// corrupted journal frames during replay.
func WithLogger(l *slog.Logger) DurableOption {
	return func(d *Durable) { d.logger = l }
}

// NewDurable opens (or creates) the journal file at <dir>/<name>.log,
// replays any not-yet-acked records into memory, and starts the
// background batch writer. rehydrate reattaches an Execute closure to a
// Record when a worker calls Get.
func NewDurable(dir, name string, c codec.Codec, rehydrate job.Rehydrate, bufferSize int, flushInterval time.Duration, opts ...DurableOption) (*Durable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create durable dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".log")

	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}

	d := &Durable{
		name:          name,
		path:          path,
		codec:         c,
		rehydrate:     rehydrate,
		logger:        slog.Default(),
		state:         Fresh,
		pendingOrder:  make([]uint64, 0),
		pendingRecs:   make(map[uint64]pendingEntry),
		inFlight:      make(map[uint64]uint64),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		closed:        make(chan struct{}),
		batchChan:     make(chan batchRequest, bufferSize*2),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.replay(); err != nil {
		return nil, fmt.Errorf("queue: replay journal %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open journal %s: %w", path, err)
	}
	d.file = file
	d.encoder = json.NewEncoder(file)

	d.wg.Add(1)
	go d.batchWriter()

	return d, nil
}

// replay reconstructs seq and the pending index from an existing journal,
// skipping frames that fail checksum verification (matching the teacher
// WAL's "skip corrupted records during replay" stance, spec §6).
func (d *Durable) replay() error {
	file, err := os.Open(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var f journalFrame
		if err := decoder.Decode(&f); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if !verifyChecksum(f) {
			d.logger.Warn("queue: skipping corrupted journal frame", "queue", d.name, "seq", f.Seq)
			continue
		}
		if f.Seq > d.seq {
			d.seq = f.Seq
		}
		switch f.Type {
		case frameEnqueue:
			rec, err := d.codec.Decode(f.Payload)
			if err != nil {
				d.logger.Warn("queue: skipping undecodable journal frame", "queue", d.name, "seq", f.Seq, "error", err)
				continue
			}
			d.pendingRecs[f.Seq] = pendingEntry{rec: rec, enqueuedAt: time.UnixMilli(rec.EnqueuedAtMs)}
			d.pendingOrder = append(d.pendingOrder, f.Seq)
		case frameAck:
			d.removePending(f.AckOf)
		}
	}
	return nil
}

// removePending drops seq from the pending index, if present. Not
// goroutine-safe; callers must hold d.mu or be in single-threaded replay.
func (d *Durable) removePending(seq uint64) {
	if _, ok := d.pendingRecs[seq]; !ok {
		return
	}
	delete(d.pendingRecs, seq)
	for i, s := range d.pendingOrder {
		if s == seq {
			d.pendingOrder = append(d.pendingOrder[:i], d.pendingOrder[i+1:]...)
			break
		}
	}
}

func (d *Durable) Name() string { return d.name }

func (d *Durable) nextSeq() uint64 {
	d.mu.Lock()
	d.seq++
	s := d.seq
	d.mu.Unlock()
	return s
}

// appendFrame hands a frame to the background batch writer and blocks
// until it has been fsynced (or the journal is closed). It does not hold
// d.mu: only the batch writer goroutine touches the file handle.
func (d *Durable) appendFrame(f journalFrame) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}
	errCh := make(chan error, 1)
	select {
	case d.batchChan <- batchRequest{frame: f, errCh: errCh}:
		return <-errCh
	case <-d.closed:
		return ErrClosed
	}
}

// Put appends an ENQUEUE frame and, once durably fsynced, makes the
// record visible to Get.
func (d *Durable) Put(j job.Job) error {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	rec := j.ToRecord()
	payload, err := d.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("queue: encode record %s: %w", j.ID, err)
	}

	seq := d.nextSeq()
	f := journalFrame{Seq: seq, Type: frameEnqueue, RecordID: j.ID, Payload: payload}
	f.Checksum = calculateChecksum(f.Seq, string(f.Type), f.AckOf, f.Payload)

	if err := d.appendFrame(f); err != nil {
		return err
	}

	d.mu.Lock()
	d.pendingRecs[seq] = pendingEntry{rec: rec, enqueuedAt: j.EnqueuedAt}
	d.pendingOrder = append(d.pendingOrder, seq)
	d.mu.Unlock()
	return nil
}

// Get pops the head pending record, rehydrates it into a runnable Job,
// and returns a ticket whose Ack appends the matching ACK frame.
func (d *Durable) Get(ctx context.Context) (*Ticket, bool, error) {
	for {
		d.mu.Lock()
		switch d.state {
		case Paused, Shutdown:
			d.mu.Unlock()
			return nil, false, nil
		}
		if len(d.pendingOrder) == 0 {
			d.mu.Unlock()
		} else {
			seq := d.pendingOrder[0]
			entry := d.pendingRecs[seq]
			d.pendingOrder = d.pendingOrder[1:]
			delete(d.pendingRecs, seq)
			d.mu.Unlock()

			jb, err := d.rehydrate(entry.rec)
			if err != nil {
				d.requeuePending(seq, entry)
				return nil, false, fmt.Errorf("queue: rehydrate record %s: %w", entry.rec.ID, err)
			}

			d.mu.Lock()
			d.inFlight[seq] = seq
			d.mu.Unlock()

			ack := func() error {
				ackSeq := d.nextSeq()
				f := journalFrame{Seq: ackSeq, Type: frameAck, RecordID: jb.ID, AckOf: seq}
				f.Checksum = calculateChecksum(f.Seq, string(f.Type), f.AckOf, f.Payload)
				if err := d.appendFrame(f); err != nil {
					return err
				}
				d.mu.Lock()
				delete(d.inFlight, seq)
				d.mu.Unlock()
				return nil
			}
			return &Ticket{job: jb, ack: ack}, true, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-time.After(pollInterval):
		}
	}
}

// requeuePending restores an entry popped by Get/CheckExpiration to the
// front of the pending index, used when a downstream step (rehydrate,
// Put into a drain target) fails after the entry was provisionally
// removed.
func (d *Durable) requeuePending(seq uint64, entry pendingEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingRecs[seq] = entry
	d.pendingOrder = append([]uint64{seq}, d.pendingOrder...)
}

func (d *Durable) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pendingOrder)
}

func (d *Durable) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Shutdown {
		d.state = Running
	}
}

func (d *Durable) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Running {
		d.state = Paused
	}
}

func (d *Durable) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Paused {
		d.state = Running
	}
}

// Shutdown is terminal: it stops the batch writer, flushes any
// in-flight batch, and closes the journal file.
func (d *Durable) Shutdown() {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return
	}
	d.isClosed = true
	d.state = Shutdown
	d.mu.Unlock()

	close(d.closed)
	d.wg.Wait()
	if d.file != nil {
		_ = d.file.Close()
	}
}

func (d *Durable) IsShutdown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == Shutdown
}

func (d *Durable) DrainTo(target JobQueue, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainTarget = target
	d.drainDelay = delay
}

// CheckExpiration transfers up to flushLimit aged-out pending records
// into the configured drain target, recording an ACK frame for each
// successful transfer so replay does not resurrect it here.
func (d *Durable) CheckExpiration(flushLimit int) (int, error) {
	d.mu.Lock()
	target := d.drainTarget
	delay := d.drainDelay
	if target == nil {
		d.mu.Unlock()
		return 0, nil
	}

	now := time.Now()
	type drained struct {
		seq   uint64
		entry pendingEntry
	}
	var batch []drained
	for len(batch) < flushLimit && len(d.pendingOrder) > 0 {
		seq := d.pendingOrder[0]
		entry := d.pendingRecs[seq]
		if now.Sub(entry.enqueuedAt) < delay {
			break
		}
		d.pendingOrder = d.pendingOrder[1:]
		delete(d.pendingRecs, seq)
		batch = append(batch, drained{seq, entry})
	}
	d.mu.Unlock()

	transferred := 0
	for _, item := range batch {
		jb, err := d.rehydrate(item.entry.rec)
		if err != nil {
			d.requeuePending(item.seq, item.entry)
			return transferred, fmt.Errorf("queue: rehydrate record %s: %w", item.entry.rec.ID, err)
		}
		if err := target.Put(jb); err != nil {
			d.requeuePending(item.seq, item.entry)
			return transferred, err
		}

		ackSeq := d.nextSeq()
		f := journalFrame{Seq: ackSeq, Type: frameAck, RecordID: item.entry.rec.ID, AckOf: item.seq}
		f.Checksum = calculateChecksum(f.Seq, string(f.Type), f.AckOf, f.Payload)
		if err := d.appendFrame(f); err != nil {
			// The record already landed in target; non-goal "exactly-once
			// delivery" permits this duplicate-on-crash edge case.
			return transferred, err
		}
		transferred++
	}
	return transferred, nil
}

// batchWriter is the sole goroutine touching d.file/d.encoder, so no
// separate file lock is needed. Grounded on wal.WAL.batchWriter.
func (d *Durable) batchWriter() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	batch := make([]batchRequest, 0, d.bufferSize)
	for {
		select {
		case req := <-d.batchChan:
			batch = append(batch, req)
			if len(batch) >= d.bufferSize {
				d.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flushBatch(batch)
				batch = batch[:0]
			}
		case <-d.closed:
			if len(batch) > 0 {
				d.flushBatch(batch)
			}
			return
		}
	}
}

func (d *Durable) flushBatch(batch []batchRequest) {
	var flushErr error
	for i := range batch {
		if err := d.encoder.Encode(batch[i].frame); err != nil {
			flushErr = fmt.Errorf("queue: encode journal frame: %w", err)
			break
		}
	}
	if flushErr == nil {
		if err := d.file.Sync(); err != nil {
			flushErr = fmt.Errorf("queue: sync journal: %w", err)
		}
	}
	for i := range batch {
		batch[i].errCh <- flushErr
		close(batch[i].errCh)
	}
}
