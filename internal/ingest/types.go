// Package ingest implements the L2 row batcher of spec component C5: it
// consumes a flat stream of vendor L2Row records and emits ordered L2Batch
// values, enforcing the seven per-row ordering invariants and routing
// violations through a configurable failure policy.
package ingest

import (
	"encoding/json"

	"github.com/rishav/evlog-backtester/internal/domain"
)

// L2Row is one raw vendor row, prior to quantization. Price and Amount are
// kept as decimal strings — quantization (and its possible failure) happens
// inside the batcher, not the row source, so a malformed numeric literal is
// reported with the same line_number/source provenance as any other
// violation.
type L2Row struct {
	Exchange         string      `json:"exchange"`
	Symbol           string      `json:"symbol"`
	TimestampUs      int64       `json:"timestamp_us"`
	LocalTimestampUs int64       `json:"local_timestamp_us"`
	IsSnapshot       bool        `json:"is_snapshot"`
	Side             domain.Side `json:"side"`
	Price            string      `json:"price"`
	Amount           string      `json:"amount"`
	LineNumber       int64       `json:"line_number"`
	Source           string      `json:"source"`
}

// MarshalJSON renders Side as its lowercase name rather than its numeric
// value, matching the tape writer's treatment of domain.Side everywhere
// else an L2Row reaches quarantine output.
func (r L2Row) MarshalJSON() ([]byte, error) {
	type alias L2Row
	return json.Marshal(struct {
		alias
		Side string `json:"side"`
	}{alias: alias(r), Side: r.Side.String()})
}

// L2Update is one quantized book update inside a batch.
type L2Update struct {
	Side       domain.Side
	IsSnapshot bool
	PriceTicks domain.Ticks
	AmountLots domain.Lots
}

// L2Batch is the batcher's output unit: all updates sharing one
// local_timestamp_us, per spec §4.2 invariant 3.
type L2Batch struct {
	TsRecvNs   domain.TsNs
	TsExchNs   domain.TsNs
	ResetsBook bool
	Updates    []L2Update
}

// RowSource yields rows one at a time. Next returns io.EOF (unwrapped) once
// the source is exhausted.
type RowSource interface {
	Next() (L2Row, error)
}

// FailurePolicy selects how the batcher reacts to an invariant violation.
type FailurePolicy uint8

const (
	// HardFail aborts the entire stream on the first violation.
	HardFail FailurePolicy = iota
	// Quarantine records the violation and consults QuarantineAction.
	Quarantine
)

// QuarantineAction selects what happens after a violation is recorded under
// FailurePolicy Quarantine.
type QuarantineAction uint8

const (
	// Halt re-raises after recording — quarantine for audit, but still stop.
	Halt QuarantineAction = iota
	// SkipRow drops the offending row and continues from the next one.
	SkipRow
	// SkipBatch drops every row sharing the current local_timestamp_us.
	SkipBatch
)

// QuarantineRecord describes one dropped or rejected row.
type QuarantineRecord struct {
	Reason     string `json:"reason"`
	Source     string `json:"source"`
	LineNumber int64  `json:"line_number"`
	Payload    L2Row  `json:"payload"`
}

// QuarantineSink receives quarantine records as they are produced.
type QuarantineSink interface {
	Record(QuarantineRecord) error
}
