package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharpe_MeanOverSampleStdDev(t *testing.T) {
	returns := []float64{0, -10, 0}
	mom := ComputeMoments(returns)
	sr, err := Sharpe(returns)
	require.NoError(t, err)
	expectedSigma := mom.SampleStdDev()
	expected := mom.Mean / expectedSigma
	assert.InDelta(t, expected, sr, 1e-9)
}

func TestSharpe_ZeroVarianceIsZero(t *testing.T) {
	sr, err := Sharpe([]float64{5, 5, 5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sr)
}

func TestSharpe_RequiresAtLeastTwo(t *testing.T) {
	_, err := Sharpe([]float64{1})
	require.Error(t, err)
}

func TestInvNormalCDF_MatchesErfInverse(t *testing.T) {
	// Phi(invNormalCDF(p)) should round-trip to p for a mid-range p.
	p := 0.7
	x := invNormalCDF(p)
	got := phi(x)
	assert.InDelta(t, p, got, 1e-6)
}

func TestInvNormalCDF_MedianIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, invNormalCDF(0.5), 1e-9)
}

func TestPSR_WellFormedSeriesComputes(t *testing.T) {
	// A well-formed series passes PSR's positive-denominator guard and
	// yields a non-NaN probability without error.
	returns := []float64{0, -10, 0}
	psr, err := PSR(returns, 0)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(psr))
}

func TestDSR_SingleTrialEqualsBenchmark(t *testing.T) {
	returns := []float64{1, -1, 2, -2, 1}
	dsr, err := DSR(returns, 0, 1)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(dsr))
	// With one trial the deflated threshold is the benchmark itself, so DSR
	// is PSR against that benchmark.
	psr, err := PSR(returns, 0)
	require.NoError(t, err)
	assert.InDelta(t, psr, dsr, 1e-12)
}
