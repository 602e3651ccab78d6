// Package portfolio tracks a single account's cash and position, fee
// computation, and the JSON-lines run tape. Grounded on
// internal/settlement/clearing.go's Account{Cash,Holdings} mutation shape,
// narrowed from that file's multi-account T+2 netting/DVP settlement (no
// counterparty, no settlement lag — a backtest has one deterministic
// account and fills settle instantly) down to the single-portfolio ledger
// spec §3/§4.8 actually names.
package portfolio

import (
	"github.com/rishav/evlog-backtester/internal/domain"
)

// Portfolio is the mutable account state the engine updates on every
// accepted fill.
type Portfolio struct {
	Cash     domain.QuoteAtoms
	Position domain.Lots
}

// New returns a Portfolio seeded with the configured initial cash/position.
func New(initialCash domain.QuoteAtoms, initialPosition domain.Lots) *Portfolio {
	return &Portfolio{Cash: initialCash, Position: initialPosition}
}

// Fill is one executed market order.
type Fill struct {
	ActionID   int64
	FillID     int64
	TsRecvNs   domain.TsNs
	Side       domain.Side
	PriceTicks domain.Ticks
	QtyLots    domain.Lots
	Notional   domain.QuoteAtoms
	FeeAtoms   domain.QuoteAtoms
}

// ApplyFill mutates cash/position for one fill: a buy spends cash and adds
// to position; a sell does the reverse. Risk checks happen upstream in the
// engine — ApplyFill trusts its caller already validated cash/position
// sufficiency.
func (p *Portfolio) ApplyFill(f Fill) {
	switch f.Side {
	case domain.Bid:
		p.Cash -= f.Notional + f.FeeAtoms
		p.Position += f.QtyLots
	case domain.Ask:
		p.Cash += f.Notional - f.FeeAtoms
		p.Position -= f.QtyLots
	}
}

// Equity computes cash + position*mark, the mark-to-market value used for
// the equity curve.
func (p *Portfolio) Equity(mark domain.Ticks) domain.QuoteAtoms {
	return p.Cash + domain.QuoteAtoms(int64(p.Position)*int64(mark))
}

// FeeModel computes the fee owed on one fill's notional.
type FeeModel interface {
	FeeAtoms(notional domain.QuoteAtoms) domain.QuoteAtoms
}

// FixedBpsFeeModel charges a flat basis-point rate on notional, floor
// division — `fee = floor(notional * bps / 10000)` per spec §4.8.
type FixedBpsFeeModel struct {
	Bps domain.Bps
}

// NewFixedBpsFeeModel validates bps is within [0, 10000].
func NewFixedBpsFeeModel(bps domain.Bps) FixedBpsFeeModel {
	if bps < 0 || bps > 10000 {
		panic("fee bps out of range [0, 10000]")
	}
	return FixedBpsFeeModel{Bps: bps}
}

// FeeAtoms computes floor(notional * bps / 10000). Go's integer division
// already truncates toward zero, which is floor division for the
// non-negative notional/bps this model is defined over.
func (m FixedBpsFeeModel) FeeAtoms(notional domain.QuoteAtoms) domain.QuoteAtoms {
	return domain.QuoteAtoms(int64(notional) * int64(m.Bps) / 10000)
}
