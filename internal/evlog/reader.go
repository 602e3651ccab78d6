package evlog

import (
	"io"
	"os"

	"github.com/rishav/evlog-backtester/internal/bterrors"
)

// Reader is a scoped, random-access event-log reader, optionally paired
// with an open time index for SeekTime. Grounded on
// internal/events/log.go's Replay — generalized from a single forward-only
// gob decode loop into a pull-based iterator plus index-driven seeking.
type Reader struct {
	file   *os.File
	Header Header

	idx *IndexReader // nil if opened without an index
}

// Open opens path, validates its header, and returns a Reader positioned
// just after the header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "opening event log %s", path)
	}
	buf := make([]byte, HeaderV1Size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "reading event log header")
	}
	header, herr := DecodeHeader(buf[:n])
	if herr != nil {
		f.Close()
		return nil, herr
	}

	headerSize := int64(HeaderBaseSize)
	if header.Version == 1 {
		headerSize = HeaderV1Size
	}
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		f.Close()
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "seeking past event log header")
	}

	return &Reader{file: f, Header: header}, nil
}

// OpenIndex attaches a parallel .idx file so SeekTime can be used.
func (r *Reader) OpenIndex(path string) error {
	idx, err := OpenIndexReader(path)
	if err != nil {
		return err
	}
	r.idx = idx
	return nil
}

// Close closes the reader (and its index, if attached).
func (r *Reader) Close() error {
	var idxErr error
	if r.idx != nil {
		idxErr = r.idx.Close()
	}
	fileErr := r.file.Close()
	if fileErr != nil {
		return fileErr
	}
	return idxErr
}

// Next reads the next record from the current file position. It returns
// io.EOF (unwrapped) when the stream is exhausted at a record boundary.
func (r *Reader) Next() (L2BatchPayload, error) {
	var out L2BatchPayload
	rhBuf := make([]byte, RecordHeaderSize)
	n, err := io.ReadFull(r.file, rhBuf)
	if err == io.EOF && n == 0 {
		return out, io.EOF
	}
	if err != nil {
		return out, bterrors.Wrap(bterrors.KindSchema, err, "reading record header (truncated record)")
	}
	rh, err := DecodeRecordHeader(rhBuf)
	if err != nil {
		return out, err
	}
	if rh.RecType != RecordTypeL2Batch {
		return out, bterrors.New(bterrors.KindSchema, "unknown record type %d", rh.RecType)
	}

	payload := make([]byte, rh.Length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return out, bterrors.Wrap(bterrors.KindSchema, err, "reading record payload (truncated record)")
	}
	return DecodeL2Batch(payload)
}

// IterL2Batches calls fn for every batch in file order, stopping at the
// first error fn returns or at end of stream. fn receives the batch and the
// file offset the record started at.
func (r *Reader) IterL2Batches(fn func(offset int64, b L2BatchPayload) error) error {
	for {
		offset, err := r.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return bterrors.Wrap(bterrors.KindSchema, err, "tell() on event log reader")
		}
		b, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(offset, b); err != nil {
			return err
		}
	}
}

// SeekTime positions the reader at the first record with ts_recv_ns >=
// target, using binary search over the attached index's cached timestamp
// array. If no such entry exists, the reader is positioned at EOF. Requires
// OpenIndex to have been called.
func (r *Reader) SeekTime(target int64) error {
	if r.idx == nil {
		return bterrors.New(bterrors.KindSchema, "SeekTime requires an open index")
	}
	offset, found := r.idx.SeekOffset(target)
	if !found {
		end, err := r.file.Seek(0, io.SeekEnd)
		if err != nil {
			return bterrors.Wrap(bterrors.KindSchema, err, "seeking event log to EOF")
		}
		_ = end
		return nil
	}
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return bterrors.Wrap(bterrors.KindSchema, err, "seeking event log to offset %d", offset)
	}
	return nil
}
