// Package config defines configuration for the backtester CLI. Config is
// loaded from a YAML file with sensitive-free overrides via BT_* environment
// variables, grounded on 0xtitan6-polymarket-mm/internal/config/config.go's
// viper Load/Validate shape.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration file shape.
type Config struct {
	Compile    CompileConfig    `mapstructure:"compile"`
	Run        RunConfig        `mapstructure:"run"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Quarantine QuarantineConfig `mapstructure:"quarantine"`
}

// CompileConfig drives ingest-to-event-log compilation.
type CompileConfig struct {
	InputPaths      []string `mapstructure:"input_paths"`
	OutputDir       string   `mapstructure:"output_dir"`
	OutputPrefix    string   `mapstructure:"output_prefix"`
	PriceIncrement  string   `mapstructure:"price_increment"`
	AmountIncrement string   `mapstructure:"amount_increment"`
	FailurePolicy   string   `mapstructure:"failure_policy"`   // "hard_fail" | "quarantine"
	QuarantineAction string  `mapstructure:"quarantine_action"` // "halt" | "skip_row" | "skip_batch"
}

// RunConfig drives the replay engine; this is the on-disk/env-overridable
// counterpart of engine.RunConfig. Fields shared with engine.RunConfig carry
// the same names; EvlogPath, TapePath, FeeBps, RejectCrossedBook and
// RandomSeed configure the CLI around the engine.
type RunConfig struct {
	EvlogPath              string  `mapstructure:"evlog_path"`
	TapePath               string  `mapstructure:"tape_path"`
	InitialCash            int64   `mapstructure:"initial_cash"`
	InitialPosition        int64   `mapstructure:"initial_position"`
	AllowShort             bool    `mapstructure:"allow_short"`
	AllowMargin            bool    `mapstructure:"allow_margin"`
	FeeBps                 int64   `mapstructure:"fee_bps"`
	SRBenchmark            float64 `mapstructure:"sr_benchmark"`
	DSRTrials              int     `mapstructure:"dsr_trials"`
	SkipInitialMissingBook bool    `mapstructure:"skip_initial_missing_book"`
	IgnoreRiskRejects      bool    `mapstructure:"ignore_risk_rejects"`
	RejectCrossedBook      bool    `mapstructure:"reject_crossed_book"`
	RandomSeed             uint64  `mapstructure:"random_seed"`
}

// LoggingConfig holds the file's logging section. The CLI does not read it;
// the logger format comes from the -log-format flag.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QuarantineConfig holds the file's quarantine section. The CLI does not
// read it; the compile step's sink path comes from the -quarantine-sink flag.
type QuarantineConfig struct {
	SinkPath string `mapstructure:"sink_path"`
}

// Load reads config from a YAML file with BT_* environment overrides, e.g.
// BT_RUN_INITIAL_CASH overrides run.initial_cash.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the subset of fields required to run a compile.
func (c *CompileConfig) Validate() error {
	if len(c.InputPaths) == 0 {
		return fmt.Errorf("compile.input_paths is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("compile.output_dir is required")
	}
	if c.PriceIncrement == "" {
		return fmt.Errorf("compile.price_increment is required")
	}
	if c.AmountIncrement == "" {
		return fmt.Errorf("compile.amount_increment is required")
	}
	switch c.FailurePolicy {
	case "", "hard_fail", "quarantine":
	default:
		return fmt.Errorf("compile.failure_policy must be one of: hard_fail, quarantine")
	}
	if len(c.InputPaths) > 1 && c.OutputPrefix == "" {
		return fmt.Errorf("compile.output_prefix is required when input_paths has more than one entry")
	}
	return nil
}

// Validate checks the subset of fields required to run a replay.
func (c *RunConfig) Validate() error {
	if c.EvlogPath == "" {
		return fmt.Errorf("run.evlog_path is required")
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("run.initial_cash must be > 0")
	}
	if c.FeeBps < 0 || c.FeeBps > 10000 {
		return fmt.Errorf("run.fee_bps must be in [0, 10000]")
	}
	if c.DSRTrials < 1 {
		return fmt.Errorf("run.dsr_trials must be >= 1")
	}
	return nil
}
