package quantizer

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePriceAmountSource struct {
	rows [][2]string
	pos  int
}

func (f *fakePriceAmountSource) NextPriceAmount() (string, string, error) {
	if f.pos >= len(f.rows) {
		return "", "", io.EOF
	}
	row := f.rows[f.pos]
	f.pos++
	return row[0], row[1], nil
}

func TestInferIncrements_FindsGCDOfObservedValues(t *testing.T) {
	src := &fakePriceAmountSource{rows: [][2]string{
		{"10.05", "2"},
		{"10.10", "0"},
		{"10.02", "5"},
	}}

	priceInc, amountInc, err := InferIncrements(src)
	require.NoError(t, err)
	assert.Equal(t, "0.01", priceInc)
	assert.Equal(t, "1", amountInc)
}

func TestInferIncrements_RejectsNonPositivePrice(t *testing.T) {
	src := &fakePriceAmountSource{rows: [][2]string{
		{"0", "1"},
		{"10", "2"},
	}}
	_, _, err := InferIncrements(src)
	require.Error(t, err)
}

func TestInferIncrements_RequiresDistinctValues(t *testing.T) {
	src := &fakePriceAmountSource{rows: [][2]string{
		{"10.00", "1"},
		{"10.00", "1"},
	}}
	_, _, err := InferIncrements(src)
	require.Error(t, err)
}

func TestInferIncrements_StopsAfterMaxRows(t *testing.T) {
	rows := make([][2]string, 0, inferMaxRows+5)
	for i := 0; i < inferMaxRows; i++ {
		if i%2 == 0 {
			rows = append(rows, [2]string{"10.01", "1"})
		} else {
			rows = append(rows, [2]string{"10.02", "1"})
		}
	}
	// Beyond the scanned window: if this were consulted it would shrink the
	// inferred increment to 0.0001.
	rows = append(rows, [2]string{"10.0001", "1"}, {"10.0002", "1"}, {"10.0003", "1"})

	src := &fakePriceAmountSource{rows: rows}
	priceInc, _, err := InferIncrements(src)
	require.NoError(t, err)
	assert.Equal(t, "0.01", priceInc)
}
