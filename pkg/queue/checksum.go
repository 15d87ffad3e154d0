package queue

import (
	"encoding/binary"
	"hash/crc32"
)

// calculateChecksum computes a CRC32-IEEE checksum over a journal frame's
// sequence number, type tag, acknowledged-sequence reference, and
// payload bytes. Grounded on the teacher's
// internal/storage/wal/checksum.go (CalculateChecksum/VerifyChecksum),
// generalized from "checksum over Type+JobID+Seq" to "checksum over
// Type+Seq+AckOf+Payload" since a queue frame's payload is the
// codec-encoded record rather than a fixed set of scalar fields, and an
// ACK frame additionally carries the enqueue seq it retires.
func calculateChecksum(seq uint64, frameType string, ackOf uint64, payload []byte) uint32 {
	buf := make([]byte, 0, len(frameType)+16+len(payload))
	buf = append(buf, frameType...)
	buf = binary.BigEndian.AppendUint64(buf, seq)
	buf = binary.BigEndian.AppendUint64(buf, ackOf)
	buf = append(buf, payload...)
	return crc32.ChecksumIEEE(buf)
}

func verifyChecksum(f journalFrame) bool {
	return calculateChecksum(f.Seq, string(f.Type), f.AckOf, f.Payload) == f.Checksum
}
