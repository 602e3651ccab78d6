package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/evlog"
)

func upd(side domain.Side, snap bool, price domain.Ticks, amount domain.Lots) evlog.L2Update {
	return evlog.L2Update{Side: side, IsSnapshot: snap, PriceTicks: price, AmountLots: amount}
}

func TestReferenceBook_BasicSnapshotAndDelete(t *testing.T) {
	b := NewReferenceBook(true)

	require.NoError(t, b.ApplyL2Batch(evlog.L2BatchPayload{
		TsRecvNs: 1000000, TsExchNs: 900000, ResetsBook: true,
		Updates: []evlog.L2Update{
			upd(domain.Bid, true, 10, 1),
			upd(domain.Ask, true, 11, 2),
		},
	}))

	bidPx, bidQty, askPx, askQty, haveBid, haveAsk := b.BestBidAsk()
	assert.True(t, haveBid)
	assert.True(t, haveAsk)
	assert.EqualValues(t, 10, bidPx)
	assert.EqualValues(t, 1, bidQty)
	assert.EqualValues(t, 11, askPx)
	assert.EqualValues(t, 2, askQty)

	require.NoError(t, b.ApplyL2Batch(evlog.L2BatchPayload{
		TsRecvNs: 2000000, TsExchNs: 1900000, ResetsBook: false,
		Updates: []evlog.L2Update{
			upd(domain.Bid, false, 10, 0),
		},
	}))

	_, _, askPx2, askQty2, haveBid2, haveAsk2 := b.BestBidAsk()
	assert.False(t, haveBid2, "bid level was deleted")
	assert.True(t, haveAsk2)
	assert.EqualValues(t, 11, askPx2)
	assert.EqualValues(t, 2, askQty2)
}

func TestReferenceBook_CrossedBookRejected(t *testing.T) {
	b := NewReferenceBook(true)
	err := b.ApplyL2Batch(evlog.L2BatchPayload{
		TsRecvNs: 1000, TsExchNs: 1000, ResetsBook: true,
		Updates: []evlog.L2Update{
			upd(domain.Bid, true, 10, 1),
			upd(domain.Ask, true, 9, 1),
		},
	})
	require.Error(t, err)
}

func TestReferenceBook_LevelsOrdering(t *testing.T) {
	b := NewReferenceBook(true)
	require.NoError(t, b.ApplyL2Batch(evlog.L2BatchPayload{
		TsRecvNs: 1000, TsExchNs: 1000, ResetsBook: true,
		Updates: []evlog.L2Update{
			upd(domain.Bid, true, 10, 1),
			upd(domain.Bid, true, 9, 2),
			upd(domain.Bid, true, 11, 3),
			upd(domain.Ask, true, 12, 1),
			upd(domain.Ask, true, 14, 1),
			upd(domain.Ask, true, 13, 1),
		},
	}))

	bidPrices, bidSizes := b.Levels(domain.Bid, 3)
	assert.Equal(t, []domain.Ticks{11, 10, 9}, bidPrices, "bids descend")
	assert.Equal(t, []domain.Lots{3, 1, 2}, bidSizes)

	askPrices, _ := b.Levels(domain.Ask, 2)
	assert.Equal(t, []domain.Ticks{12, 13}, askPrices, "asks ascend, truncated to depth")
}

func TestReferenceBook_LevelsNonPositiveDepthReturnsEmpty(t *testing.T) {
	b := NewReferenceBook(true)
	require.NoError(t, b.ApplyL2Batch(evlog.L2BatchPayload{
		TsRecvNs: 1000, TsExchNs: 1000, ResetsBook: true,
		Updates: []evlog.L2Update{
			upd(domain.Bid, true, 10, 1),
			upd(domain.Ask, true, 12, 1),
		},
	}))

	bidPrices, bidSizes := b.Levels(domain.Bid, 0)
	assert.Equal(t, []domain.Ticks{}, bidPrices)
	assert.Equal(t, []domain.Lots{}, bidSizes)

	askPrices, askSizes := b.Levels(domain.Ask, -1)
	assert.Equal(t, []domain.Ticks{}, askPrices)
	assert.Equal(t, []domain.Lots{}, askSizes)
}
