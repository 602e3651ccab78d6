package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/evlog-backtester/internal/domain"
)

func TestAlternatingStrategy_FlipsSideEachCall(t *testing.T) {
	s := &AlternatingStrategy{StartSide: domain.Bid, QtyLots: 1}

	a1 := s.OnBatch(StrategyContext{}, BookSnapshot{})
	require.Len(t, a1, 1)
	assert.Equal(t, domain.Bid, a1[0].(MarketOrder).Side)

	a2 := s.OnBatch(StrategyContext{}, BookSnapshot{})
	require.Len(t, a2, 1)
	assert.Equal(t, domain.Ask, a2[0].(MarketOrder).Side)

	a3 := s.OnBatch(StrategyContext{}, BookSnapshot{})
	assert.Equal(t, domain.Bid, a3[0].(MarketOrder).Side)
}

func TestRandomStrategy_DeterministicGivenSameSeed(t *testing.T) {
	s1 := NewRandomStrategy(42, 1, 1.0)
	s2 := NewRandomStrategy(42, 1, 1.0)

	for i := 0; i < 10; i++ {
		a1 := s1.OnBatch(StrategyContext{}, BookSnapshot{})
		a2 := s2.OnBatch(StrategyContext{}, BookSnapshot{})
		assert.Equal(t, a1, a2)
	}
}

func TestRandomStrategy_NeverTradesAtZeroChance(t *testing.T) {
	s := NewRandomStrategy(1, 1, 0.0)
	for i := 0; i < 20; i++ {
		assert.Nil(t, s.OnBatch(StrategyContext{}, BookSnapshot{}))
	}
}

func TestNoopStrategy_NeverTrades(t *testing.T) {
	var s NoopStrategy
	assert.Nil(t, s.OnBatch(StrategyContext{}, BookSnapshot{}))
}
