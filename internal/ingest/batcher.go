package ingest

import (
	"io"

	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/quantizer"
)

// Batcher groups a RowSource's rows into L2Batch values, per spec §4.2's
// seven per-row invariants. It is pull-based — Next() drives the source
// forward one batch at a time — the same "accumulate until a boundary
// condition, then flush" shape internal/disruptor/batcher.go used for
// asynchronous I/O batching, with the goroutine/channel/timer machinery
// stripped out: spec §5 forbids concurrent replay, and here the boundary
// condition is a change in local_timestamp_us rather than a size/time limit.
type Batcher struct {
	src    RowSource
	quant  *quantizer.Quantizer
	policy FailurePolicy
	action QuarantineAction
	sink   QuarantineSink

	pending         *L2Row // one row read ahead, belonging to the next batch
	haveExchSymbol  bool
	exchange        string
	symbol          string
	prevLocalTs     int64
	havePrevLocalTs bool
	prevWasSnapshot bool
	havePrevBatch   bool
	done            bool
}

// New constructs a Batcher. sink may be nil only if policy is HardFail.
func New(src RowSource, quant *quantizer.Quantizer, policy FailurePolicy, action QuarantineAction, sink QuarantineSink) *Batcher {
	return &Batcher{src: src, quant: quant, policy: policy, action: action, sink: sink}
}

// Next returns the next L2Batch, or io.EOF when the source is exhausted.
func (b *Batcher) Next() (L2Batch, error) {
	for {
		if b.done {
			return L2Batch{}, io.EOF
		}
		batch, err := b.nextAttempt()
		if err == errRetryBatch {
			continue
		}
		return batch, err
	}
}

var errRetryBatch = bterrors.New(bterrors.KindOrdering, "internal: retry batch accumulation")

// nextAttempt accumulates one run of same-local_timestamp_us rows into a
// batch. It returns errRetryBatch when SkipBatch/SkipRow quarantine handling
// consumed rows without producing output, so the caller loops for the next
// real batch instead of returning an empty one.
func (b *Batcher) nextAttempt() (L2Batch, error) {
	first, err := b.readRow()
	if err == io.EOF {
		b.done = true
		return L2Batch{}, io.EOF
	}
	if err != nil {
		return L2Batch{}, err
	}
	if first == nil {
		// row dropped by SkipRow; try again for a fresh first row.
		return L2Batch{}, errRetryBatch
	}

	runTs := first.LocalTimestampUs
	rows := []L2Row{*first}

	for {
		next, err := b.peekRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return L2Batch{}, err
		}
		if next.LocalTimestampUs != runTs {
			break
		}
		if violation := b.checkRowInvariants(next); violation != "" {
			b.pending = nil
			dropped, raiseErr := b.handleViolation(violation, next)
			if raiseErr != nil {
				return L2Batch{}, raiseErr
			}
			if dropped {
				if b.action == SkipBatch {
					// handleViolation consumed the rest of this timestamp's
					// rows; the rows gathered so far are dropped with them.
					return L2Batch{}, errRetryBatch
				}
				continue
			}
		}
		b.pending = nil
		b.prevLocalTs = next.LocalTimestampUs
		b.havePrevLocalTs = true
		rows = append(rows, next)
	}

	batch, ok, err := b.buildBatch(rows)
	if err != nil {
		return L2Batch{}, err
	}
	if !ok {
		return L2Batch{}, errRetryBatch
	}
	return batch, nil
}

// peekRow returns the next row without consuming it from the underlying
// source (subsequent reads see the same row until it is explicitly cleared).
func (b *Batcher) peekRow() (L2Row, error) {
	if b.pending != nil {
		return *b.pending, nil
	}
	row, err := b.src.Next()
	if err != nil {
		return L2Row{}, err
	}
	b.pending = &row
	return row, nil
}

// readRow consumes the next row, applying invariants 1 and 2 and the
// failure policy. A nil, nil result means the row was dropped under
// SkipRow and the caller should try again.
func (b *Batcher) readRow() (*L2Row, error) {
	row, err := b.peekRow()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	b.pending = nil

	if violation := b.checkRowInvariants(row); violation != "" {
		dropped, raiseErr := b.handleViolation(violation, row)
		if raiseErr != nil {
			return nil, raiseErr
		}
		if dropped {
			return nil, nil
		}
	}

	if !b.haveExchSymbol {
		b.exchange, b.symbol = row.Exchange, row.Symbol
		b.haveExchSymbol = true
	}
	b.prevLocalTs = row.LocalTimestampUs
	b.havePrevLocalTs = true
	return &row, nil
}

// checkRowInvariants reports invariant 1 ("(exchange,symbol) fixed") and
// invariant 2 ("local_timestamp_us non-decreasing") violations as a reason
// string, or "" if the row passes.
func (b *Batcher) checkRowInvariants(row L2Row) string {
	if b.haveExchSymbol && (row.Exchange != b.exchange || row.Symbol != b.symbol) {
		return "exchange/symbol changed mid-stream"
	}
	if b.havePrevLocalTs && row.LocalTimestampUs < b.prevLocalTs {
		return "local_timestamp_us went backwards"
	}
	return ""
}

// handleViolation applies the configured failure policy to one violating
// row. dropped reports whether the row should be silently excluded (caller
// must not advance ordering state on a dropped row beyond what it already
// has); a non-nil error means the caller must propagate and stop.
func (b *Batcher) handleViolation(reason string, row L2Row) (dropped bool, err error) {
	if b.policy == HardFail {
		return false, bterrors.New(bterrors.KindOrdering, "%s (source=%s line=%d)", reason, row.Source, row.LineNumber)
	}
	if b.sink != nil {
		if serr := b.sink.Record(QuarantineRecord{
			Reason:     reason,
			Source:     row.Source,
			LineNumber: row.LineNumber,
			Payload:    row,
		}); serr != nil {
			return false, bterrors.Wrap(bterrors.KindSchema, serr, "writing quarantine record")
		}
	}
	switch b.action {
	case Halt:
		return false, bterrors.New(bterrors.KindOrdering, "%s (source=%s line=%d)", reason, row.Source, row.LineNumber)
	case SkipRow:
		return true, nil
	case SkipBatch:
		b.prevLocalTs = row.LocalTimestampUs
		b.havePrevLocalTs = true
		for {
			next, perr := b.peekRow()
			if perr == io.EOF {
				break
			}
			if perr != nil {
				return false, perr
			}
			if next.LocalTimestampUs != row.LocalTimestampUs {
				break
			}
			b.pending = nil
		}
		return true, nil
	default:
		return true, nil
	}
}

// buildBatch applies invariants 4-7 to one same-local_timestamp_us run and
// quantizes it into an L2Batch. ok is false if every row in the run was
// rejected (e.g. all quantization failures under SkipRow), leaving nothing
// to emit for this timestamp.
func (b *Batcher) buildBatch(rows []L2Row) (L2Batch, bool, error) {
	isSnapshot := rows[0].IsSnapshot
	updates := make([]L2Update, 0, len(rows))
	var lastTsUs int64
	var haveTs bool

	for _, row := range rows {
		if row.IsSnapshot != isSnapshot {
			_, raiseErr := b.handleViolation("is_snapshot not constant within batch", row)
			if raiseErr != nil {
				return L2Batch{}, false, raiseErr
			}
			if b.policy == Quarantine && b.action == SkipBatch {
				return L2Batch{}, false, nil
			}
			continue
		}
		price, perr := b.quant.QuantizePrice(row.Price)
		if perr != nil {
			dropped, raiseErr := b.handleViolation("quantization: "+perr.Error(), row)
			if raiseErr != nil {
				return L2Batch{}, false, raiseErr
			}
			if dropped {
				if b.policy == Quarantine && b.action == SkipBatch {
					return L2Batch{}, false, nil
				}
				continue
			}
		}
		amount, aerr := b.quant.QuantizeAmount(row.Amount)
		if aerr != nil {
			dropped, raiseErr := b.handleViolation("quantization: "+aerr.Error(), row)
			if raiseErr != nil {
				return L2Batch{}, false, raiseErr
			}
			if dropped {
				if b.policy == Quarantine && b.action == SkipBatch {
					return L2Batch{}, false, nil
				}
				continue
			}
		}
		updates = append(updates, L2Update{
			Side:       row.Side,
			IsSnapshot: row.IsSnapshot,
			PriceTicks: price,
			AmountLots: amount,
		})
		lastTsUs = row.TimestampUs
		haveTs = true
	}

	if len(updates) == 0 {
		// Trailing partial batch with no valid updates is discarded per
		// spec §4.2's edge-case rule.
		return L2Batch{}, false, nil
	}

	if !haveTs {
		// timestamp_us is a legitimate zero value (spec §6), so we can't use
		// 0 itself as the "missing" sentinel; route through the same
		// quarantine dispatch every other invariant in this file uses.
		dropped, raiseErr := b.handleViolation("missing exchange timestamp in batch", rows[len(rows)-1])
		if raiseErr != nil {
			return L2Batch{}, false, raiseErr
		}
		if dropped {
			return L2Batch{}, false, nil
		}
	}

	resets := isSnapshot && !b.prevWasSnapshot
	if !b.havePrevBatch {
		resets = isSnapshot
	}
	b.prevWasSnapshot = isSnapshot
	b.havePrevBatch = true

	return L2Batch{
		TsRecvNs:   domain.TsNs(rows[0].LocalTimestampUs * 1000),
		TsExchNs:   domain.TsNs(lastTsUs * 1000),
		ResetsBook: resets,
		Updates:    updates,
	}, true, nil
}
