package evlog

import (
	"bufio"
	"os"

	"github.com/rishav/evlog-backtester/internal/bterrors"
)

// Writer is a scoped, append-only event-log writer. It guarantees the file
// is flushed and closed on any exit path — grounded on
// internal/events/log.go's *os.File + bufio.Writer lifecycle in the teacher,
// generalized from gob framing to the byte-exact codec in format.go.
type Writer struct {
	file   *os.File
	bw     *bufio.Writer
	offset int64
}

// Create opens path for writing (truncating any existing content, matching
// the compiler's "compile from scratch" semantics — the event log is never
// appended to across separate compile runs) and writes the v1 header.
func Create(path string, exchangeID, symbolID uint64, quantizerHash [32]byte) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "opening event log %s for write", path)
	}
	w := &Writer{file: f, bw: bufio.NewWriter(f)}

	header := EncodeHeader(Header{
		Version:       CurrentVersion,
		Endian:        LittleEndianFlag,
		ExchangeID:    exchangeID,
		SymbolID:      symbolID,
		QuantizerHash: quantizerHash,
	})
	n, err := w.bw.Write(header)
	if err != nil {
		f.Close()
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "writing event log header")
	}
	w.offset = int64(n)
	return w, nil
}

// Tell returns the current file offset — the position the next record will
// be written at. Callers use this before WriteL2Batch to populate index
// entries with the offset of the record they are about to write.
func (w *Writer) Tell() int64 {
	return w.offset
}

// WriteL2Batch validates and appends one L2 batch record, returning the
// number of bytes written (record header + payload).
func (w *Writer) WriteL2Batch(b L2BatchPayload) (int64, error) {
	payload, err := EncodeL2Batch(b)
	if err != nil {
		return 0, err
	}
	rh := EncodeRecordHeader(RecordHeader{
		RecType: RecordTypeL2Batch,
		Length:  uint32(len(payload)),
	})
	n1, err := w.bw.Write(rh)
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindSchema, err, "writing record header")
	}
	n2, err := w.bw.Write(payload)
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindSchema, err, "writing record payload")
	}
	total := int64(n1 + n2)
	w.offset += total
	return total, nil
}

// Flush flushes buffered writes to the OS without fsyncing.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Close flushes and closes the underlying file. Safe to call once.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.file.Close()
		return bterrors.Wrap(bterrors.KindSchema, err, "flushing event log on close")
	}
	return w.file.Close()
}
