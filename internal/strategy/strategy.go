// Package strategy defines the pure decision interface the engine drives
// each batch, plus a handful of reference implementations. Grounded on
// internal/marketdata/publisher.go's L1Quote/L2Depth field shapes for the
// read-only book view a strategy receives, and on
// internal/risk/checker.go's config-object-plus-pure-function style for
// handing immutable context in and getting a decision back without the
// callee touching engine state.
package strategy

import (
	"github.com/rishav/evlog-backtester/internal/domain"
)

// BookSnapshot is the read-only top-of-book view a strategy observes.
type BookSnapshot struct {
	BidPx  domain.Ticks
	BidQty domain.Lots
	AskPx  domain.Ticks
	AskQty domain.Lots
}

// StrategyContext is the immutable per-batch context a strategy observes.
type StrategyContext struct {
	TsRecvNs domain.TsNs
	Cash     domain.QuoteAtoms
	Position domain.Lots
}

// Action is the sum type a strategy may emit. MarketOrder is the only
// variant the engine consumes, per spec §4.10.
type Action interface {
	isAction()
}

// MarketOrder requests an immediate market order.
type MarketOrder struct {
	Side    domain.Side
	QtyLots domain.Lots
}

func (MarketOrder) isAction() {}

// Strategy is a pure function of its declared inputs (ctx, book) and any
// private state it chooses to maintain; the engine never inspects that
// state.
type Strategy interface {
	OnBatch(ctx StrategyContext, book BookSnapshot) []Action
}

// NoopStrategy never trades.
type NoopStrategy struct{}

// OnBatch returns no actions.
func (NoopStrategy) OnBatch(StrategyContext, BookSnapshot) []Action {
	return nil
}

// AlternatingStrategy submits one market order per batch, alternating side,
// starting from StartSide. Used by the reference end-to-end scenarios.
type AlternatingStrategy struct {
	StartSide domain.Side
	QtyLots   domain.Lots

	next domain.Side
	init bool
}

// OnBatch emits one MarketOrder on QtyLots, flipping side each call.
func (s *AlternatingStrategy) OnBatch(StrategyContext, BookSnapshot) []Action {
	if !s.init {
		s.next = s.StartSide
		s.init = true
	}
	side := s.next
	s.next = s.next.Opposite()
	return []Action{MarketOrder{Side: side, QtyLots: s.QtyLots}}
}
