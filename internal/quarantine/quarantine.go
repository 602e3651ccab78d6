// Package quarantine implements a file-backed sink for rows rejected under
// FailurePolicy Quarantine: each record is appended as one canonical
// JSON-lines entry, so a post-run audit can replay exactly what was dropped
// and why. This is a supplemented feature — spec §4.2 specifies the sink
// interface and the record shape but leaves the concrete sink unimplemented.
package quarantine

import (
	"bufio"
	"os"

	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/canon"
	"github.com/rishav/evlog-backtester/internal/ingest"
)

// FileSink appends QuarantineRecords to a JSON-lines file.
type FileSink struct {
	file *os.File
	bw   *bufio.Writer
}

// NewFileSink opens (creating or appending to) path for quarantine output.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "opening quarantine sink %s", path)
	}
	return &FileSink{file: f, bw: bufio.NewWriter(f)}, nil
}

// Record appends one canonical JSON-line quarantine record.
func (s *FileSink) Record(rec ingest.QuarantineRecord) error {
	line, err := canon.MarshalLine(rec)
	if err != nil {
		return bterrors.Wrap(bterrors.KindSchema, err, "canonicalizing quarantine record")
	}
	if _, err := s.bw.Write(line); err != nil {
		return bterrors.Wrap(bterrors.KindSchema, err, "writing quarantine record")
	}
	return nil
}

// Flush flushes buffered writes without closing the file.
func (s *FileSink) Flush() error {
	return s.bw.Flush()
}

// Close flushes and closes the sink.
func (s *FileSink) Close() error {
	if err := s.bw.Flush(); err != nil {
		s.file.Close()
		return bterrors.Wrap(bterrors.KindSchema, err, "flushing quarantine sink on close")
	}
	return s.file.Close()
}

// MemorySink accumulates records in memory — useful for tests and for
// callers that want to inspect quarantine output without a file round-trip.
type MemorySink struct {
	Records []ingest.QuarantineRecord
}

// Record appends rec to the in-memory slice.
func (s *MemorySink) Record(rec ingest.QuarantineRecord) error {
	s.Records = append(s.Records, rec)
	return nil
}
