package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/gowebpki/jcs"
)

// HashBytes returns the SHA-256 digest of b.
func HashBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// HashText returns the SHA-256 digest of s's UTF-8 bytes.
func HashText(s string) [32]byte {
	return HashBytes([]byte(s))
}

// HashJSON marshals v to JSON, canonicalizes it with RFC 8785 JSON
// Canonicalization (so key order, number formatting, and separators are
// deterministic across encoders and machines), and returns the SHA-256
// digest of the canonical bytes alongside the canonical bytes themselves.
func HashJSON(v interface{}) (digest [32]byte, canonical []byte, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return digest, nil, err
	}
	canonical, err = jcs.Transform(raw)
	if err != nil {
		return digest, nil, err
	}
	return HashBytes(canonical), canonical, nil
}

// HashFile streams path through SHA-256 without loading it fully into
// memory; used to hash compiler inputs and outputs which may be large.
func HashFile(path string) ([32]byte, error) {
	var zero [32]byte
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return zero, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HexString renders a digest as lowercase hex, the form used throughout
// manifests and tape lines.
func HexString(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}

// Low8LE returns the low 8 bytes of digest (the last 8 bytes, i.e. the
// least-significant end when the digest is read as one big-endian number),
// reinterpreted as a little-endian uint64 — used to derive exchange_id and
// symbol_id per the event-log header spec ("low 8 bytes of SHA-256 of the
// respective string, little-endian").
func Low8LE(digest [32]byte) uint64 {
	return binary.LittleEndian.Uint64(digest[24:32])
}
