package quantizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizePrice_ExactMultiple(t *testing.T) {
	q, err := New("0.01", "1")
	require.NoError(t, err)

	ticks, err := q.QuantizePrice("10.05")
	require.NoError(t, err)
	assert.Equal(t, int64(1005), int64(ticks))
}

func TestQuantizePrice_RejectsNonMultiple(t *testing.T) {
	q, err := New("0.01", "1")
	require.NoError(t, err)

	_, err = q.QuantizePrice("10.053")
	require.Error(t, err)
}

func TestQuantizePrice_RejectsNonPositive(t *testing.T) {
	q, err := New("1", "1")
	require.NoError(t, err)

	_, err = q.QuantizePrice("0")
	require.Error(t, err)
	_, err = q.QuantizePrice("-1")
	require.Error(t, err)
}

func TestQuantizeAmount_AllowsZero(t *testing.T) {
	q, err := New("1", "1")
	require.NoError(t, err)

	lots, err := q.QuantizeAmount("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), int64(lots))
}

func TestQuantizeAmount_RejectsNegative(t *testing.T) {
	q, err := New("1", "1")
	require.NoError(t, err)

	_, err = q.QuantizeAmount("-1")
	require.Error(t, err)
}

func TestQuantize_UnitIncrements(t *testing.T) {
	// Scenario 1/3 in spec §8 use price/amount increment = 1.
	q, err := New("1", "1")
	require.NoError(t, err)

	ticks, err := q.QuantizePrice("10")
	require.NoError(t, err)
	assert.Equal(t, int64(10), int64(ticks))

	lots, err := q.QuantizeAmount("5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), int64(lots))
}

func TestNotional(t *testing.T) {
	assert.Equal(t, int64(50), int64(Notional(10, 5)))
}

func TestHash_Deterministic(t *testing.T) {
	q1, err := New("0.01", "0.001")
	require.NoError(t, err)
	q2, err := New("0.01", "0.001")
	require.NoError(t, err)

	h1, err := q1.Hash()
	require.NoError(t, err)
	h2, err := q2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

// Property: for any valid (increment, value), quantize(value) * increment == value.
func TestQuantize_RoundTripProperty(t *testing.T) {
	q, err := New("0.25", "1")
	require.NoError(t, err)

	cases := []string{"0.25", "1.00", "2.50", "100.00", "0.50"}
	for _, c := range cases {
		ticks, err := q.QuantizePrice(c)
		require.NoError(t, err, c)
		reconstructed := q.PriceIncrement.Mul(decimalFromTicks(ticks))
		parsed, _ := parsePositiveDecimal(c)
		assert.True(t, reconstructed.Equal(parsed), "round trip mismatch for %s", c)
	}
}
