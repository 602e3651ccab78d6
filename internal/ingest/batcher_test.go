package ingest

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/quantizer"
)

// sliceSource is a RowSource backed by a fixed slice, for tests.
type sliceSource struct {
	rows []L2Row
	pos  int
}

func (s *sliceSource) Next() (L2Row, error) {
	if s.pos >= len(s.rows) {
		return L2Row{}, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func mustQuantizer(t *testing.T) *quantizer.Quantizer {
	t.Helper()
	q, err := quantizer.New("0.01", "1")
	require.NoError(t, err)
	return q
}

func row(localTs int64, side domain.Side, isSnapshot bool, price, amount string) L2Row {
	return L2Row{
		Exchange: "binance", Symbol: "BTC-USD",
		TimestampUs: localTs, LocalTimestampUs: localTs,
		IsSnapshot: isSnapshot, Side: side,
		Price: price, Amount: amount,
		LineNumber: localTs, Source: "test.csv",
	}
}

func TestBatcher_GroupsByLocalTimestamp(t *testing.T) {
	rows := []L2Row{
		row(1000, domain.Bid, true, "10.00", "1"),
		row(1000, domain.Ask, true, "10.01", "2"),
		row(2000, domain.Bid, false, "10.00", "0"),
	}
	b := New(&sliceSource{rows: rows}, mustQuantizer(t), HardFail, Halt, nil)

	first, err := b.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 1000000, first.TsRecvNs)
	assert.True(t, first.ResetsBook)
	assert.Len(t, first.Updates, 2)

	second, err := b.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 2000000, second.TsRecvNs)
	assert.False(t, second.ResetsBook)
	assert.Len(t, second.Updates, 1)
	assert.EqualValues(t, 0, second.Updates[0].AmountLots)

	_, err = b.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBatcher_ResetsBookOnlyOnSnapshotAfterNonSnapshot(t *testing.T) {
	rows := []L2Row{
		row(1000, domain.Bid, true, "10.00", "1"),
		row(2000, domain.Bid, false, "10.00", "2"),
		row(3000, domain.Bid, true, "10.00", "3"),
	}
	b := New(&sliceSource{rows: rows}, mustQuantizer(t), HardFail, Halt, nil)

	b1, err := b.Next()
	require.NoError(t, err)
	assert.True(t, b1.ResetsBook, "first snapshot batch always resets")

	b2, err := b.Next()
	require.NoError(t, err)
	assert.False(t, b2.ResetsBook)

	b3, err := b.Next()
	require.NoError(t, err)
	assert.True(t, b3.ResetsBook, "snapshot following a non-snapshot resets")
}

func TestBatcher_HardFailOnNonMonotonicTimestamp(t *testing.T) {
	rows := []L2Row{
		row(2000, domain.Bid, true, "10.00", "1"),
		row(1000, domain.Bid, true, "10.00", "1"),
	}
	b := New(&sliceSource{rows: rows}, mustQuantizer(t), HardFail, Halt, nil)

	_, err := b.Next()
	require.NoError(t, err)
	_, err = b.Next()
	require.Error(t, err)
}

func TestBatcher_QuarantineSkipRow(t *testing.T) {
	rows := []L2Row{
		row(1000, domain.Bid, true, "10.00", "1"),
		row(500, domain.Bid, true, "10.00", "1"), // goes backwards, dropped
		row(2000, domain.Bid, true, "10.00", "1"),
	}
	sink := &memorySinkForTest{}
	b := New(&sliceSource{rows: rows}, mustQuantizer(t), Quarantine, SkipRow, sink)

	b1, err := b.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 1000000, b1.TsRecvNs)

	b2, err := b.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 2000000, b2.TsRecvNs)

	_, err = b.Next()
	assert.Equal(t, io.EOF, err)
	assert.Len(t, sink.records, 1)
}

func TestBatcher_ZeroExchangeTimestampIsNotTreatedAsMissing(t *testing.T) {
	rows := []L2Row{
		{Exchange: "binance", Symbol: "BTC-USD", TimestampUs: 0, LocalTimestampUs: 1000,
			IsSnapshot: true, Side: domain.Bid, Price: "10.00", Amount: "1", LineNumber: 1, Source: "test.csv"},
	}
	b := New(&sliceSource{rows: rows}, mustQuantizer(t), HardFail, Halt, nil)

	batch, err := b.Next()
	require.NoError(t, err, "timestamp_us=0 is a legitimate value, not a missing-timestamp sentinel")
	assert.EqualValues(t, 0, batch.TsExchNs)
	assert.Len(t, batch.Updates, 1)
}

func TestBatcher_QuarantineSkipBatchOnQuantizationFailure(t *testing.T) {
	rows := []L2Row{
		row(1000, domain.Bid, true, "not-a-number", "1"),
		row(1000, domain.Ask, true, "10.01", "2"),
		row(2000, domain.Bid, true, "10.00", "1"),
	}
	sink := &memorySinkForTest{}
	b := New(&sliceSource{rows: rows}, mustQuantizer(t), Quarantine, SkipBatch, sink)

	batch, err := b.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 2000000, batch.TsRecvNs, "the malformed first batch is entirely quarantined away")
	assert.Len(t, sink.records, 1)
}

type memorySinkForTest struct {
	records []QuarantineRecord
}

func (m *memorySinkForTest) Record(r QuarantineRecord) error {
	m.records = append(m.records, r)
	return nil
}
