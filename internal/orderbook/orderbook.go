// Package orderbook maintains an L2 reference book: two price→size maps
// plus two sorted price arrays, kept in lockstep. There is no per-order
// queue — L2 market data never reveals individual resting orders, only an
// aggregate size per price level — so price-time priority and the teacher's
// red-black tree/FIFO-queue machinery (internal/orderbook/rbtree.go,
// pricelevel.go in the reference matching engine) have nothing to serve
// here; binary search over a sorted slice finds each insert/remove position
// in O(log n) without that extra structure (the slice shift itself is O(n),
// see upsert).
package orderbook

import (
	"sort"

	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/evlog"
)

// Book is the capability-set interface the engine depends on — modeled as
// a small interface rather than a concrete type so a test double can stand
// in for the reference implementation.
type Book interface {
	ApplyL2Batch(batch evlog.L2BatchPayload) error
	BestBidAsk() (bidPx domain.Ticks, bidQty domain.Lots, askPx domain.Ticks, askQty domain.Lots, haveBid, haveAsk bool)
	Levels(side domain.Side, depth int) ([]domain.Ticks, []domain.Lots)
	Reset()
}

// ReferenceBook is the spec's canonical order book representation.
type ReferenceBook struct {
	bids, asks       map[domain.Ticks]domain.Lots
	bidPrices        []domain.Ticks // ascending
	askPrices        []domain.Ticks // ascending
	rejectCrossed    bool
}

// NewReferenceBook constructs an empty book. rejectCrossed enables the
// crossed-book guard after every applied batch (spec §4.5 default: on).
func NewReferenceBook(rejectCrossed bool) *ReferenceBook {
	b := &ReferenceBook{rejectCrossed: rejectCrossed}
	b.Reset()
	return b
}

// Reset empties all four structures.
func (b *ReferenceBook) Reset() {
	b.bids = make(map[domain.Ticks]domain.Lots)
	b.asks = make(map[domain.Ticks]domain.Lots)
	b.bidPrices = b.bidPrices[:0]
	b.askPrices = b.askPrices[:0]
}

// ApplyL2Batch applies one decoded batch to the book, resetting first if
// batch.ResetsBook is set, then validating the crossed-book invariant.
func (b *ReferenceBook) ApplyL2Batch(batch evlog.L2BatchPayload) error {
	if batch.ResetsBook {
		b.Reset()
	}
	for _, u := range batch.Updates {
		if u.AmountLots == 0 {
			b.remove(u.Side, u.PriceTicks)
		} else {
			b.upsert(u.Side, u.PriceTicks, u.AmountLots)
		}
	}
	if b.rejectCrossed && len(b.bidPrices) > 0 && len(b.askPrices) > 0 {
		bestBid := b.bidPrices[len(b.bidPrices)-1]
		bestAsk := b.askPrices[0]
		if bestBid >= bestAsk {
			return bterrors.New(bterrors.KindSchema, "crossed book: best bid %d >= best ask %d", bestBid, bestAsk)
		}
	}
	return nil
}

func (b *ReferenceBook) priceSlice(side domain.Side) *[]domain.Ticks {
	if side == domain.Bid {
		return &b.bidPrices
	}
	return &b.askPrices
}

func (b *ReferenceBook) sideMap(side domain.Side) map[domain.Ticks]domain.Lots {
	if side == domain.Bid {
		return b.bids
	}
	return b.asks
}

// upsert inserts or replaces the size at price on side, maintaining the
// sorted price slice via binary search. O(log n) search; the slice
// insert/delete itself is O(n) (a Go slice has no O(log n) insert
// primitive), the same trade-off spec §4.5's complexity target accepts by
// naming only the *search* as binary.
func (b *ReferenceBook) upsert(side domain.Side, price domain.Ticks, amount domain.Lots) {
	m := b.sideMap(side)
	prices := b.priceSlice(side)
	if _, exists := m[price]; !exists {
		i := sort.Search(len(*prices), func(i int) bool { return (*prices)[i] >= price })
		*prices = append(*prices, 0)
		copy((*prices)[i+1:], (*prices)[i:])
		(*prices)[i] = price
	}
	m[price] = amount
}

func (b *ReferenceBook) remove(side domain.Side, price domain.Ticks) {
	m := b.sideMap(side)
	if _, exists := m[price]; !exists {
		return
	}
	delete(m, price)
	prices := b.priceSlice(side)
	i := sort.Search(len(*prices), func(i int) bool { return (*prices)[i] >= price })
	if i < len(*prices) && (*prices)[i] == price {
		*prices = append((*prices)[:i], (*prices)[i+1:]...)
	}
}

// BestBidAsk reports the top of book. have{Bid,Ask} is false if that side
// is empty.
func (b *ReferenceBook) BestBidAsk() (bidPx domain.Ticks, bidQty domain.Lots, askPx domain.Ticks, askQty domain.Lots, haveBid, haveAsk bool) {
	if len(b.bidPrices) > 0 {
		bidPx = b.bidPrices[len(b.bidPrices)-1]
		bidQty = b.bids[bidPx]
		haveBid = true
	}
	if len(b.askPrices) > 0 {
		askPx = b.askPrices[0]
		askQty = b.asks[askPx]
		haveAsk = true
	}
	return
}

// Levels returns up to depth price/size pairs for side: bids descending,
// asks ascending, per spec §4.5.
func (b *ReferenceBook) Levels(side domain.Side, depth int) ([]domain.Ticks, []domain.Lots) {
	if depth <= 0 {
		return []domain.Ticks{}, []domain.Lots{}
	}

	prices := *b.priceSlice(side)
	m := b.sideMap(side)

	n := len(prices)
	if depth > 0 && depth < n {
		n = depth
	}
	outPrices := make([]domain.Ticks, n)
	outSizes := make([]domain.Lots, n)

	if side == domain.Bid {
		for i := 0; i < n; i++ {
			p := prices[len(prices)-1-i]
			outPrices[i] = p
			outSizes[i] = m[p]
		}
	} else {
		for i := 0; i < n; i++ {
			p := prices[i]
			outPrices[i] = p
			outSizes[i] = m[p]
		}
	}
	return outPrices, outSizes
}
