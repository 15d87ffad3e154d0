// Package codec defines the wire transform between a job.Record and the
// bytes a durable JobQueue appends to its journal. It is the external
// collaborator named in spec §6 ("Job codec"): the core scheduler never
// sees bytes, only the Codec interface.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
)

// Codec transforms a job.Record to and from its durable representation.
type Codec interface {
	Encode(rec job.Record) ([]byte, error)
	Decode(data []byte) (job.Record, error)
}

// JSON is the default Codec, grounded on the teacher WAL's use of
// encoding/json for event framing (internal/storage/wal/wal.go).
type JSON struct{}

// Encode marshals a Record to a single-line JSON document.
func (JSON) Encode(rec job.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("codec: encode record %s: %w", rec.ID, err)
	}
	return data, nil
}

// Decode unmarshals a single-line JSON document back into a Record.
func (JSON) Decode(data []byte) (job.Record, error) {
	var rec job.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return job.Record{}, fmt.Errorf("codec: decode record: %w", err)
	}
	return rec, nil
}
