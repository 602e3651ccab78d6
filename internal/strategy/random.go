package strategy

import (
	"math/rand/v2"

	"github.com/rishav/evlog-backtester/internal/domain"
)

// RandomStrategy submits a random-side market order of fixed size each
// batch, with a fixed probability of trading at all. Its PRNG is pinned to
// math/rand/v2's PCG source (NewPCG(seed1, seed2) + rand.New) rather than
// the package-level default generator, so two RandomStrategy values
// constructed with the same seed produce byte-identical decisions across
// runs and across Go versions — the deterministic-algorithm requirement
// spec §4.10 and SPEC_FULL Open Question #2 call for.
type RandomStrategy struct {
	QtyLots     domain.Lots
	TradeChance float64 // in [0,1]; probability of emitting an order each batch

	rng *rand.Rand
}

// NewRandomStrategy seeds the strategy's PCG source from a single uint64,
// splitting it into PCG's two required 64-bit seed halves via a fixed-point
// fixed-salt mix so a single seed value is sufficient API surface for
// callers (config files carry one seed integer, not a seed pair).
func NewRandomStrategy(seed uint64, qtyLots domain.Lots, tradeChance float64) *RandomStrategy {
	return &RandomStrategy{
		QtyLots:     qtyLots,
		TradeChance: tradeChance,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

// OnBatch flips a weighted coin to decide whether to trade, then a fair
// coin for side.
func (s *RandomStrategy) OnBatch(StrategyContext, BookSnapshot) []Action {
	if s.rng.Float64() >= s.TradeChance {
		return nil
	}
	side := domain.Bid
	if s.rng.Float64() < 0.5 {
		side = domain.Ask
	}
	return []Action{MarketOrder{Side: side, QtyLots: s.QtyLots}}
}
