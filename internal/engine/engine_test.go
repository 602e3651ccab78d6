package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/evlog"
	"github.com/rishav/evlog-backtester/internal/portfolio"
	"github.com/rishav/evlog-backtester/internal/strategy"
)

func writeBatches(t *testing.T, batches []evlog.L2BatchPayload) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.evlog")
	w, err := evlog.Create(path, 1, 1, [32]byte{})
	require.NoError(t, err)
	for _, b := range batches {
		_, err := w.WriteL2Batch(b)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func openReader(t *testing.T, path string) *evlog.Reader {
	t.Helper()
	r, err := evlog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func snapshotBatch(tsRecvNs domain.TsNs, bidPx, bidQty, askPx, askQty int64) evlog.L2BatchPayload {
	return evlog.L2BatchPayload{
		TsRecvNs:   tsRecvNs,
		TsExchNs:   tsRecvNs,
		ResetsBook: true,
		Updates: []evlog.L2Update{
			{Side: domain.Bid, IsSnapshot: true, PriceTicks: domain.Ticks(bidPx), AmountLots: domain.Lots(bidQty)},
			{Side: domain.Ask, IsSnapshot: true, PriceTicks: domain.Ticks(askPx), AmountLots: domain.Lots(askQty)},
		},
	}
}

func TestEngine_ExecutesMarketOrdersAndTracksEquity(t *testing.T) {
	batches := []evlog.L2BatchPayload{
		snapshotBatch(1_000_000, 10, 5, 11, 5),
		snapshotBatch(2_000_000, 10, 5, 11, 5),
		snapshotBatch(3_000_000, 10, 5, 11, 5),
	}
	path := writeBatches(t, batches)
	r := openReader(t, path)

	strat := &strategy.AlternatingStrategy{StartSide: domain.Bid, QtyLots: 1}
	feeModel := portfolio.NewFixedBpsFeeModel(0)
	cfg := RunConfig{InitialCash: 1000, SRBenchmark: 0, DSRTrials: 1}

	eng, err := New(r, strat, feeModel, cfg, nil, nil)
	require.NoError(t, err)

	result, err := eng.Run()
	require.NoError(t, err)

	require.Len(t, result.Fills, 3)
	assert.Equal(t, domain.Bid, result.Fills[0].Side)
	assert.Equal(t, domain.Ask, result.Fills[1].Side)
	assert.Equal(t, domain.Bid, result.Fills[2].Side)

	require.Len(t, result.EquityCurve, 3)
	require.Len(t, result.Returns, 3)

	// Σ returns · initial_cash / 10_000 == final_equity − initial_equity,
	// up to banker's-rounding residues (spec §8's universal return invariant).
	var sumBps int64
	for _, bps := range result.Returns {
		sumBps += int64(bps)
	}
	reconstructed := int64(cfg.InitialCash) + sumBps*int64(cfg.InitialCash)/10000
	final := int64(result.EquityCurve[len(result.EquityCurve)-1])
	assert.InDelta(t, final, reconstructed, 1)

	assert.True(t, result.HaveSharpe)
	assert.True(t, result.HavePSR)
	assert.True(t, result.HaveDSR)
}

func TestEngine_MissingTopOfBookFailsOnceLive(t *testing.T) {
	batches := []evlog.L2BatchPayload{
		snapshotBatch(1_000_000, 10, 5, 11, 5),
		{
			TsRecvNs:   2_000_000,
			TsExchNs:   2_000_000,
			ResetsBook: false,
			Updates: []evlog.L2Update{
				{Side: domain.Bid, IsSnapshot: false, PriceTicks: 10, AmountLots: 0},
			},
		},
	}
	path := writeBatches(t, batches)
	r := openReader(t, path)

	strat := &strategy.NoopStrategy{}
	feeModel := portfolio.NewFixedBpsFeeModel(0)
	cfg := RunConfig{InitialCash: 1000, DSRTrials: 1}

	eng, err := New(r, strat, feeModel, cfg, nil, nil)
	require.NoError(t, err)

	_, err = eng.Run()
	require.Error(t, err)
}

func TestEngine_SkipInitialMissingBookDuringBootstrapping(t *testing.T) {
	batches := []evlog.L2BatchPayload{
		{
			TsRecvNs:   1_000_000,
			TsExchNs:   1_000_000,
			ResetsBook: true,
			Updates: []evlog.L2Update{
				{Side: domain.Ask, IsSnapshot: true, PriceTicks: 11, AmountLots: 5},
			},
		},
		snapshotBatch(2_000_000, 10, 5, 11, 5),
	}
	path := writeBatches(t, batches)
	r := openReader(t, path)

	strat := &strategy.NoopStrategy{}
	feeModel := portfolio.NewFixedBpsFeeModel(0)
	cfg := RunConfig{InitialCash: 1000, DSRTrials: 1, SkipInitialMissingBook: true}

	eng, err := New(r, strat, feeModel, cfg, nil, nil)
	require.NoError(t, err)

	result, err := eng.Run()
	require.NoError(t, err)
	assert.Len(t, result.EquityCurve, 1)
}

func TestEngine_RejectsInsufficientCashUnlessIgnored(t *testing.T) {
	batches := []evlog.L2BatchPayload{
		snapshotBatch(1_000_000, 10, 1000, 11, 1000),
	}
	path := writeBatches(t, batches)

	strat := &strategy.AlternatingStrategy{StartSide: domain.Bid, QtyLots: 100}
	feeModel := portfolio.NewFixedBpsFeeModel(0)

	r1 := openReader(t, path)
	cfg := RunConfig{InitialCash: 1, DSRTrials: 1}
	eng, err := New(r1, strat, feeModel, cfg, nil, nil)
	require.NoError(t, err)
	_, err = eng.Run()
	require.Error(t, err)

	r2 := openReader(t, path)
	cfg.IgnoreRiskRejects = true
	eng2, err := New(r2, &strategy.AlternatingStrategy{StartSide: domain.Bid, QtyLots: 100}, feeModel, cfg, nil, nil)
	require.NoError(t, err)
	result, err := eng2.Run()
	require.NoError(t, err)
	assert.Empty(t, result.Fills)
}

func TestBankersDivRound_RoundsHalfToEven(t *testing.T) {
	assert.EqualValues(t, 2, bankersDivRound(5, 2))   // 2.5 -> 2 (even)
	assert.EqualValues(t, 4, bankersDivRound(15, 4))  // 3.75 -> 4
	assert.EqualValues(t, -2, bankersDivRound(-5, 2)) // -2.5 -> -2 (even)
	assert.EqualValues(t, 0, bankersDivRound(0, 7))
	assert.EqualValues(t, 4, bankersDivRound(7, 2)) // 3.5 -> 4 (even)
}
