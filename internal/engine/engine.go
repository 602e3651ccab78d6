// Package engine implements the deterministic single-threaded replay loop
// (component C8): apply each batch to the book, hand the strategy a
// snapshot, execute any market orders it returns, and track the equity
// curve. Grounded on internal/matching/engine.go's single-threaded
// "sequence counters own all state" shape — generalized from the teacher's
// atomic order/trade/sequence counters (needed there for a concurrent
// LMAX-style pipeline) to plain incrementing fields, since spec §5 mandates
// no locks, no shared memory, one logical thread.
package engine

import (
	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/evlog"
	"github.com/rishav/evlog-backtester/internal/metrics"
	"github.com/rishav/evlog-backtester/internal/orderbook"
	"github.com/rishav/evlog-backtester/internal/portfolio"
	"github.com/rishav/evlog-backtester/internal/strategy"
)

// state is the batch-processing state machine of spec §4.7.
type state uint8

const (
	stateBootstrapping state = iota
	stateLive
	stateFailed
)

// RunConfig carries every knob spec §4.7 names for one replay session.
type RunConfig struct {
	InitialCash            domain.QuoteAtoms // > 0
	InitialPosition        domain.Lots
	AllowShort             bool
	AllowMargin            bool
	SRBenchmark            float64 // finite
	DSRTrials              int     // >= 1
	SkipInitialMissingBook bool
	IgnoreRiskRejects      bool
}

// Engine replays one event log against one strategy, producing fills, an
// equity curve, and end-of-run metrics.
type Engine struct {
	reader   *evlog.Reader
	strategy strategy.Strategy
	feeModel portfolio.FeeModel
	cfg      RunConfig
	book     orderbook.Book
	tape     *portfolio.Tape

	portfolio *portfolio.Portfolio

	nextActionID int64
	nextFillID   int64

	state                state
	sawCompleteTopOfBook bool
}

// New constructs an Engine. book defaults to a fresh ReferenceBook with the
// crossed-book guard enabled when nil; tape may be nil to disable tape
// recording.
func New(reader *evlog.Reader, strat strategy.Strategy, feeModel portfolio.FeeModel, cfg RunConfig, book orderbook.Book, tape *portfolio.Tape) (*Engine, error) {
	if cfg.InitialCash <= 0 {
		return nil, bterrors.New(bterrors.KindSchema, "initial_cash must be > 0, got %d", cfg.InitialCash)
	}
	if cfg.DSRTrials < 1 {
		return nil, bterrors.New(bterrors.KindSchema, "dsr_trials must be >= 1, got %d", cfg.DSRTrials)
	}
	if book == nil {
		book = orderbook.NewReferenceBook(true)
	}
	return &Engine{
		reader:    reader,
		strategy:  strat,
		feeModel:  feeModel,
		cfg:       cfg,
		book:      book,
		tape:      tape,
		portfolio: portfolio.New(cfg.InitialCash, cfg.InitialPosition),
	}, nil
}

// Result is the engine's end-of-run output.
type Result struct {
	Fills       []portfolio.Fill
	EquityCurve []domain.QuoteAtoms
	Returns     []float64 // in bps of initial_cash
	Sharpe      float64
	HaveSharpe  bool
	PSR         float64
	HavePSR     bool
	DSR         float64
	HaveDSR     bool
}

// Run drives the replay loop to completion.
func (e *Engine) Run() (*Result, error) {
	var result Result
	initialEquity := e.portfolio.Cash

	err := e.reader.IterL2Batches(func(offset int64, batch evlog.L2BatchPayload) error {
		return e.processBatch(batch, &result)
	})
	if err != nil {
		return nil, err
	}

	result.Returns = make([]float64, 0, len(result.EquityCurve))
	prev := initialEquity
	for _, eq := range result.EquityCurve {
		delta := eq - prev
		bps := bankersDivRound(int64(delta)*10000, int64(e.cfg.InitialCash))
		result.Returns = append(result.Returns, float64(bps))
		prev = eq
	}

	if len(result.Returns) >= 2 {
		sr, serr := metrics.Sharpe(result.Returns)
		if serr == nil {
			result.Sharpe = sr
			result.HaveSharpe = true
		}
	}
	if len(result.Returns) >= 3 {
		psr, perr := metrics.PSR(result.Returns, e.cfg.SRBenchmark)
		if perr == nil {
			result.PSR = psr
			result.HavePSR = true
		}
		dsr, derr := metrics.DSR(result.Returns, e.cfg.SRBenchmark, e.cfg.DSRTrials)
		if derr == nil {
			result.DSR = dsr
			result.HaveDSR = true
		}
	}

	return &result, nil
}

func (e *Engine) processBatch(batch evlog.L2BatchPayload, result *Result) error {
	if e.state == stateFailed {
		return bterrors.New(bterrors.KindSchema, "engine already failed, cannot continue")
	}

	// Step 1: apply batch to book.
	if err := e.book.ApplyL2Batch(batch); err != nil {
		e.state = stateFailed
		return err
	}

	// Step 2/3: obtain top of book.
	bidPx, bidQty, askPx, askQty, haveBid, haveAsk := e.book.BestBidAsk()
	complete := haveBid && haveAsk
	positiveSizes := complete && bidQty > 0 && askQty > 0

	if !complete || !positiveSizes {
		if e.state == stateBootstrapping && e.cfg.SkipInitialMissingBook && !e.sawCompleteTopOfBook {
			return nil
		}
		e.state = stateFailed
		return bterrors.New(bterrors.KindSchema, "incomplete or non-positive top of book at ts_recv_ns=%d", batch.TsRecvNs)
	}

	if e.state == stateBootstrapping {
		e.state = stateLive
	}
	e.sawCompleteTopOfBook = true

	snap := strategy.BookSnapshot{BidPx: bidPx, BidQty: bidQty, AskPx: askPx, AskQty: askQty}
	ctx := strategy.StrategyContext{TsRecvNs: batch.TsRecvNs, Cash: e.portfolio.Cash, Position: e.portfolio.Position}

	actions := e.strategy.OnBatch(ctx, snap)
	for _, a := range actions {
		order, ok := a.(strategy.MarketOrder)
		if !ok {
			return bterrors.New(bterrors.KindSchema, "unsupported action type %T", a)
		}
		if order.QtyLots <= 0 {
			return bterrors.New(bterrors.KindSchema, "market order qty_lots must be > 0, got %d", order.QtyLots)
		}

		e.nextActionID++
		actionID := e.nextActionID
		if e.tape != nil {
			if err := e.tape.RecordAction(actionID, order.Side, order.QtyLots); err != nil {
				return err
			}
		}

		if err := e.executeMarketOrder(actionID, batch.TsRecvNs, order, bidPx, bidQty, askPx, askQty, result); err != nil {
			return err
		}
	}

	mark := askPx
	if e.portfolio.Position >= 0 {
		mark = bidPx
	}
	equity := e.portfolio.Equity(mark)
	result.EquityCurve = append(result.EquityCurve, equity)
	if e.tape != nil {
		if err := e.tape.RecordEquity(e.portfolio.Cash, e.portfolio.Position, equity); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executeMarketOrder(actionID int64, tsRecvNs domain.TsNs, order strategy.MarketOrder, bidPx domain.Ticks, bidQty domain.Lots, askPx domain.Ticks, askQty domain.Lots, result *Result) error {
	var availPrice domain.Ticks
	var availQty domain.Lots
	if order.Side == domain.Bid {
		availPrice, availQty = askPx, askQty // buyer takes the ask
	} else {
		availPrice, availQty = bidPx, bidQty // seller takes the bid
	}
	if availQty < order.QtyLots {
		return bterrors.New(bterrors.KindSchema, "insufficient top-of-book liquidity: available %d, requested %d", availQty, order.QtyLots)
	}

	notional := domain.QuoteAtoms(int64(availPrice) * int64(order.QtyLots))
	fee := e.feeModel.FeeAtoms(notional)

	riskCfg := RiskConfig{AllowShort: e.cfg.AllowShort, AllowMargin: e.cfg.AllowMargin}
	if err := checkRisk(riskCfg, order.Side, e.portfolio.Cash, e.portfolio.Position, notional, fee, order.QtyLots); err != nil {
		if e.cfg.IgnoreRiskRejects {
			return nil
		}
		return err
	}

	e.nextFillID++
	fill := portfolio.Fill{
		ActionID: actionID, FillID: e.nextFillID, TsRecvNs: tsRecvNs,
		Side: order.Side, PriceTicks: availPrice, QtyLots: order.QtyLots,
		Notional: notional, FeeAtoms: fee,
	}
	e.portfolio.ApplyFill(fill)
	result.Fills = append(result.Fills, fill)

	if e.tape != nil {
		if err := e.tape.RecordFill(fill); err != nil {
			return err
		}
	}
	return nil
}

// bankersDivRound computes round-half-to-even(num/den) using exact integer
// arithmetic (no float intermediate), matching the "banker's rounding on
// (delta_equity * 10000) / initial_cash" rule of spec §4.7's post-loop
// return computation. den must be positive (initial_cash > 0 is validated
// at construction).
func bankersDivRound(num, den int64) int64 {
	q := num / den
	r := num % den
	if r == 0 {
		return q
	}
	if r < 0 {
		r += den
		q--
	}
	twice := r * 2
	switch {
	case twice < den:
		return q
	case twice > den:
		return q + 1
	default:
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}
