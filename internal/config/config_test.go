package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
compile:
  input_paths: ["ticks.csv"]
  output_dir: "out"
  price_increment: "0.01"
  amount_increment: "1"
  failure_policy: "quarantine"
  quarantine_action: "skip_row"
run:
  evlog_path: "out/ticks.evlog"
  initial_cash: 100000
  fee_bps: 10
  dsr_trials: 5
logging:
  level: "info"
  format: "json"
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0644))
	return path
}

func TestLoad_ParsesNestedSections(t *testing.T) {
	path := writeTestConfig(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ticks.csv"}, cfg.Compile.InputPaths)
	assert.Equal(t, "quarantine", cfg.Compile.FailurePolicy)
	assert.Equal(t, "skip_row", cfg.Compile.QuarantineAction)
	assert.EqualValues(t, 100000, cfg.Run.InitialCash)
	assert.EqualValues(t, 10, cfg.Run.FeeBps)
	assert.EqualValues(t, 5, cfg.Run.DSRTrials)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestCompileConfig_ValidateRequiresOutputPrefixForMultipleInputs(t *testing.T) {
	cfg := CompileConfig{
		InputPaths:      []string{"a.csv", "b.csv"},
		OutputDir:       "out",
		PriceIncrement:  "0.01",
		AmountIncrement: "1",
	}
	assert.Error(t, cfg.Validate())
	cfg.OutputPrefix = "combined"
	assert.NoError(t, cfg.Validate())
}

func TestRunConfig_ValidateRejectsNonPositiveCash(t *testing.T) {
	cfg := RunConfig{EvlogPath: "x.evlog", InitialCash: 0, DSRTrials: 1}
	assert.Error(t, cfg.Validate())
	cfg.InitialCash = 1
	assert.NoError(t, cfg.Validate())
}

func TestRunConfig_ValidateRejectsOutOfRangeFeeBps(t *testing.T) {
	cfg := RunConfig{EvlogPath: "x.evlog", InitialCash: 1, DSRTrials: 1, FeeBps: 10001}
	assert.Error(t, cfg.Validate())
}
