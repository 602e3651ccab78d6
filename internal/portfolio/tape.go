package portfolio

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/canon"
	"github.com/rishav/evlog-backtester/internal/domain"
)

// Tape is a scoped, append-only JSON-lines writer for the run's event
// stream: one header line followed by action/fill/equity lines, each
// canonical JSON (sorted keys, no insignificant whitespace, RFC 8785
// escaping with non-ASCII characters as raw UTF-8), per
// spec §4.8. Grounded on internal/evlog/writer.go's scoped-resource
// lifecycle, applied to text lines instead of binary records.
type Tape struct {
	file *os.File
	bw   *bufio.Writer
}

// Create opens path for writing and emits the header line. runMeta must not
// itself contain a "type" key — Create adds type:"header".
func Create(path string, runMeta map[string]interface{}) (*Tape, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "opening tape %s for write", path)
	}
	t := &Tape{file: f, bw: bufio.NewWriter(f)}

	header := make(map[string]interface{}, len(runMeta)+1)
	for k, v := range runMeta {
		if k == "type" {
			f.Close()
			return nil, bterrors.New(bterrors.KindSchema, "run_meta must not declare a type key")
		}
		header[k] = v
	}
	header["type"] = "header"
	if err := t.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tape) writeLine(v interface{}) error {
	line, err := canon.MarshalLine(v)
	if err != nil {
		return bterrors.Wrap(bterrors.KindSchema, err, "canonicalizing tape line")
	}
	if _, err := t.bw.Write(line); err != nil {
		return bterrors.Wrap(bterrors.KindSchema, err, "writing tape line")
	}
	return nil
}

// actionLine, fillLine, equityLine mirror spec §4.8's three event kinds.
// json.RawMessage-free structs keep field order irrelevant, since canon
// always re-sorts keys before the line is written.

type actionLine struct {
	Type     string      `json:"type"`
	ActionID int64       `json:"action_id"`
	Side     domain.Side `json:"side"`
	QtyLots  domain.Lots `json:"qty_lots"`
}

func (a actionLine) MarshalJSON() ([]byte, error) {
	type alias actionLine
	return json.Marshal(struct {
		alias
		Side string `json:"side"`
	}{alias: alias(a), Side: a.Side.String()})
}

// RecordAction appends an "action" tape line.
func (t *Tape) RecordAction(actionID int64, side domain.Side, qty domain.Lots) error {
	return t.writeLine(actionLine{Type: "action", ActionID: actionID, Side: side, QtyLots: qty})
}

type fillLine struct {
	Type       string      `json:"type"`
	ActionID   int64       `json:"action_id"`
	FillID     int64       `json:"fill_id"`
	Side       domain.Side `json:"side"`
	PriceTicks domain.Ticks `json:"price_ticks"`
	QtyLots    domain.Lots  `json:"qty_lots"`
	Notional   domain.QuoteAtoms `json:"notional"`
	FeeAtoms   domain.QuoteAtoms `json:"fee_atoms"`
}

func (f fillLine) MarshalJSON() ([]byte, error) {
	type alias fillLine
	return json.Marshal(struct {
		alias
		Side string `json:"side"`
	}{alias: alias(f), Side: f.Side.String()})
}

// RecordFill appends a "fill" tape line.
func (t *Tape) RecordFill(f Fill) error {
	return t.writeLine(fillLine{
		Type: "fill", ActionID: f.ActionID, FillID: f.FillID, Side: f.Side,
		PriceTicks: f.PriceTicks, QtyLots: f.QtyLots, Notional: f.Notional, FeeAtoms: f.FeeAtoms,
	})
}

type equityLine struct {
	Type     string            `json:"type"`
	Cash     domain.QuoteAtoms `json:"cash"`
	Position domain.Lots       `json:"position"`
	Equity   domain.QuoteAtoms `json:"equity"`
}

// RecordEquity appends an "equity" tape line.
func (t *Tape) RecordEquity(cash domain.QuoteAtoms, position domain.Lots, equity domain.QuoteAtoms) error {
	return t.writeLine(equityLine{Type: "equity", Cash: cash, Position: position, Equity: equity})
}

// Flush flushes buffered writes without closing the file.
func (t *Tape) Flush() error {
	return t.bw.Flush()
}

// Close flushes and closes the tape.
func (t *Tape) Close() error {
	if err := t.bw.Flush(); err != nil {
		t.file.Close()
		return bterrors.Wrap(bterrors.KindSchema, err, "flushing tape on close")
	}
	return t.file.Close()
}
