package compiler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/evlog-backtester/internal/evlog"
	"github.com/rishav/evlog-backtester/internal/ingest"
	"github.com/rishav/evlog-backtester/internal/quantizer"
)

const testCSV = `exchange,symbol,timestamp,local_timestamp,is_snapshot,side,price,amount
binance,BTC-USD,900,1000,true,bid,10,1
binance,BTC-USD,905,1000,true,ask,11,2
binance,BTC-USD,910,2000,false,bid,10,0
binance,BTC-USD,915,2000,false,ask,12,1
`

func writeTestCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(testCSV), 0644))
	return path
}

func TestCompile_ProducesEvlogIndexAndManifest(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTestCSV(t, dir)

	q, err := quantizer.New("1", "1")
	require.NoError(t, err)

	req := Request{
		InputPaths:    []string{csvPath},
		OutputDir:     dir,
		Quantizer:     q,
		FailurePolicy: ingest.HardFail,
	}
	res, err := Compile(req)
	require.NoError(t, err)

	assert.EqualValues(t, 2, res.RecordCount)
	assert.FileExists(t, res.EvlogPath)
	assert.FileExists(t, res.IndexPath)
	assert.FileExists(t, res.ManifestPath)

	raw, err := os.ReadFile(res.ManifestPath)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.EqualValues(t, 1, m["manifest_version"])
	assert.NotEmpty(t, m["manifest_sha256"])
	assert.EqualValues(t, "binance", m["exchange"])
	assert.EqualValues(t, "BTC-USD", m["symbol"])

	r, err := evlog.Open(res.EvlogPath)
	require.NoError(t, err)
	defer r.Close()
	var count int
	require.NoError(t, r.IterL2Batches(func(offset int64, b evlog.L2BatchPayload) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)
}

func TestCompile_IsDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTestCSV(t, dir)

	q, err := quantizer.New("1", "1")
	require.NoError(t, err)

	req := Request{InputPaths: []string{csvPath}, OutputDir: dir, Quantizer: q, FailurePolicy: ingest.HardFail}
	res1, err := Compile(req)
	require.NoError(t, err)
	b1, err := os.ReadFile(res1.EvlogPath)
	require.NoError(t, err)

	res2, err := Compile(req)
	require.NoError(t, err)
	b2, err := os.ReadFile(res2.EvlogPath)
	require.NoError(t, err)

	assert.Equal(t, res1.Manifest.ManifestSHA256, res2.Manifest.ManifestSHA256, "compiling identical inputs twice yields byte-identical manifests")
	assert.Equal(t, b1, b2)
}

func TestCompile_RequiresPrefixForMultipleInputs(t *testing.T) {
	dir := t.TempDir()
	csv1 := writeTestCSV(t, dir)
	csv2 := filepath.Join(dir, "ticks2.csv")
	require.NoError(t, os.WriteFile(csv2, []byte(testCSV), 0644))

	q, err := quantizer.New("1", "1")
	require.NoError(t, err)

	_, err = Compile(Request{InputPaths: []string{csv1, csv2}, OutputDir: dir, Quantizer: q, FailurePolicy: ingest.HardFail})
	require.Error(t, err)
}
