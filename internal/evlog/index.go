package evlog

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/rishav/evlog-backtester/internal/bterrors"
)

const indexHeaderSize = 16
const indexEntrySize = 16

// IndexEntry is one (ts_recv_ns, file_offset) pair.
type IndexEntry struct {
	TsRecvNs   int64
	FileOffset int64
}

// IndexWriter is a scoped, append-only .idx writer. It validates that both
// ts_recv_ns (non-decreasing) and file_offset (strictly increasing) honor
// spec §3's IndexEntry invariants as each entry is appended.
type IndexWriter struct {
	file *os.File
	bw   *bufio.Writer

	lastTs   int64
	lastOff  int64
	wroteAny bool
}

// CreateIndex opens path for writing and writes the index header.
func CreateIndex(path string) (*IndexWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "opening index %s for write", path)
	}
	iw := &IndexWriter{file: f, bw: bufio.NewWriter(f)}

	buf := make([]byte, indexHeaderSize)
	copy(buf[0:8], MagicIndex[:])
	buf[8] = 0 // version
	buf[9] = LittleEndianFlag
	binary.LittleEndian.PutUint16(buf[10:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	if _, err := iw.bw.Write(buf); err != nil {
		f.Close()
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "writing index header")
	}
	return iw, nil
}

// Append adds one index entry, validating monotonicity.
func (iw *IndexWriter) Append(e IndexEntry) error {
	if iw.wroteAny {
		if e.TsRecvNs < iw.lastTs {
			return bterrors.New(bterrors.KindOrdering, "index ts_recv_ns went backwards: %d < %d", e.TsRecvNs, iw.lastTs)
		}
		if e.FileOffset <= iw.lastOff {
			return bterrors.New(bterrors.KindOrdering, "index file_offset not strictly increasing: %d <= %d", e.FileOffset, iw.lastOff)
		}
	}
	buf := make([]byte, indexEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.TsRecvNs))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.FileOffset))
	if _, err := iw.bw.Write(buf); err != nil {
		return bterrors.Wrap(bterrors.KindSchema, err, "writing index entry")
	}
	iw.lastTs = e.TsRecvNs
	iw.lastOff = e.FileOffset
	iw.wroteAny = true
	return nil
}

// Close flushes and closes the index file.
func (iw *IndexWriter) Close() error {
	if err := iw.bw.Flush(); err != nil {
		iw.file.Close()
		return bterrors.Wrap(bterrors.KindSchema, err, "flushing index on close")
	}
	return iw.file.Close()
}

// IndexReader holds the fully-loaded, cached timestamp array used for
// SeekTime's binary search, per spec §4.4.
type IndexReader struct {
	file    *os.File
	entries []IndexEntry
}

// OpenIndexReader reads and validates the index header, then loads all
// entries into memory (indexes are small relative to the event log they
// describe: one entry per batch, not per update).
func OpenIndexReader(path string) (*IndexReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "opening index %s", path)
	}
	hdr := make([]byte, indexHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "reading index header")
	}
	if [8]byte(hdr[0:8]) != MagicIndex {
		f.Close()
		return nil, bterrors.New(bterrors.KindSchema, "bad index magic %q", hdr[0:8])
	}
	if hdr[9] != LittleEndianFlag {
		f.Close()
		return nil, bterrors.New(bterrors.KindSchema, "unsupported index endian flag %d", hdr[9])
	}

	rest, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "reading index entries")
	}
	if len(rest)%indexEntrySize != 0 {
		f.Close()
		return nil, bterrors.New(bterrors.KindSchema, "truncated index entry (%d trailing bytes)", len(rest)%indexEntrySize)
	}

	entries := make([]IndexEntry, 0, len(rest)/indexEntrySize)
	for off := 0; off < len(rest); off += indexEntrySize {
		entries = append(entries, IndexEntry{
			TsRecvNs:   int64(binary.LittleEndian.Uint64(rest[off : off+8])),
			FileOffset: int64(binary.LittleEndian.Uint64(rest[off+8 : off+16])),
		})
	}

	return &IndexReader{file: f, entries: entries}, nil
}

// SeekOffset returns the file offset of the first entry with ts_recv_ns >=
// target, via binary search on the cached timestamp array. found is false
// if no such entry exists (caller should seek to EOF).
func (ir *IndexReader) SeekOffset(target int64) (offset int64, found bool) {
	i := sort.Search(len(ir.entries), func(i int) bool {
		return ir.entries[i].TsRecvNs >= target
	})
	if i == len(ir.entries) {
		return 0, false
	}
	return ir.entries[i].FileOffset, true
}

// Entries returns the loaded index entries (used by tests).
func (ir *IndexReader) Entries() []IndexEntry {
	return ir.entries
}

// Close closes the underlying file.
func (ir *IndexReader) Close() error {
	return ir.file.Close()
}
