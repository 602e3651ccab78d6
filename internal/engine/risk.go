// Risk checks, narrowed from internal/risk/checker.go's Config/Checker
// multi-check pattern (order size, order value, price bands, per-symbol
// position limits, daily volume, all runnable "in parallel since they
// don't modify order book state") down to exactly the two checks spec
// §4.7 step 7 names: cash sufficiency on a buy, position sufficiency on a
// sell. Nothing else in SPEC_FULL calls for a price band or a daily volume
// cap, so those fields of the teacher's Config have no home here.
package engine

import (
	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/domain"
)

// RiskConfig mirrors the run config's cash/position leniency knobs.
type RiskConfig struct {
	AllowShort  bool
	AllowMargin bool
}

// checkRisk validates a proposed fill against the portfolio's current cash
// and position, per spec §4.7 step 7. It returns a quarantine-flavored
// error (never a schema error — the data itself is fine, only the trade is
// rejected) that the caller may either propagate or silently ignore
// depending on RunConfig.IgnoreRiskRejects.
func checkRisk(cfg RiskConfig, side domain.Side, cash domain.QuoteAtoms, position domain.Lots, notional domain.QuoteAtoms, fee domain.QuoteAtoms, qty domain.Lots) error {
	switch side {
	case domain.Bid:
		if !cfg.AllowMargin && cash < notional+fee {
			return bterrors.New(bterrors.KindQuarantine, "insufficient cash: have %d, need %d", cash, notional+fee)
		}
	case domain.Ask:
		if !cfg.AllowShort && position < qty {
			return bterrors.New(bterrors.KindQuarantine, "insufficient position: have %d, need %d", position, qty)
		}
	}
	return nil
}
