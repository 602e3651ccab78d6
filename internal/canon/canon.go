// Package canon produces canonical JSON bytes — sorted keys, no insignificant
// whitespace, RFC 8785 string escaping (characters outside ASCII are written
// as raw UTF-8, not as \u escapes) — for everything the spec requires to be
// byte-for-byte reproducible: the compile manifest, tape lines, and
// quarantine records.
//
// Grounded on the ledger reference's use of github.com/gowebpki/jcs to
// canonicalize a request body before hashing it for idempotency
// (internal/store/store.go in that reference): encoding/json.Marshal alone
// does not produce RFC 8785 key order and number/string forms, so every marshal in
// this module is followed by a jcs.Transform pass.
package canon

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Marshal marshals v to JSON and canonicalizes it per RFC 8785.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// MarshalLine is Marshal with a trailing newline appended, the form used by
// every JSON-lines writer in this module (tape, quarantine sink).
func MarshalLine(v interface{}) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
