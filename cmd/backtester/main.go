// Command backtester drives the ingest-compile-replay pipeline: "compile"
// turns raw L2 CSVs into a byte-exact event log plus manifest, and "run"
// replays an event log against a strategy to produce fills, an equity
// curve, and Sharpe/PSR/DSR metrics. Grounded on
// rishavpaul-system-design/order-matching-engine's cmd/server/main.go flag
// parsing and structured-logging setup, stripped of its HTTP server and
// signal-handling machinery since this CLI runs one synchronous job per
// invocation and exits — there is no long-lived process to shut down.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rishav/evlog-backtester/internal/compiler"
	"github.com/rishav/evlog-backtester/internal/config"
	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/engine"
	"github.com/rishav/evlog-backtester/internal/evlog"
	"github.com/rishav/evlog-backtester/internal/ingest"
	"github.com/rishav/evlog-backtester/internal/instrumentmeta"
	"github.com/rishav/evlog-backtester/internal/orderbook"
	"github.com/rishav/evlog-backtester/internal/portfolio"
	"github.com/rishav/evlog-backtester/internal/quantizer"
	"github.com/rishav/evlog-backtester/internal/quarantine"
	"github.com/rishav/evlog-backtester/internal/strategy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(os.Args[2:])
	case "run":
		err = runReplay(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: backtester <compile|run|download> [flags]")
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// rowSourcePriceAmount adapts an ingest.RowSource to quantizer.PriceAmountSource
// so increment inference never needs its own CSV parsing.
type rowSourcePriceAmount struct {
	src ingest.RowSource
}

func (a rowSourcePriceAmount) NextPriceAmount() (string, string, error) {
	row, err := a.src.Next()
	if err != nil {
		return "", "", err
	}
	return row.Price, row.Amount, nil
}

// inferIncrementsFromFile scans path's leading rows to derive a
// (price_increment, amount_increment) pair, as an alternative to passing
// both explicitly.
func inferIncrementsFromFile(path string) (priceIncrement, amountIncrement string, err error) {
	src, err := ingest.OpenCSVFile(path)
	if err != nil {
		return "", "", err
	}
	defer src.Close()
	return quantizer.InferIncrements(rowSourcePriceAmount{src: src})
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file (optional; when set, its compile section replaces the positional inputs and -output-dir, -output-prefix, -price-increment, -amount-increment, -failure-policy, -quarantine-action)")
	outputDir := fs.String("output-dir", ".", "directory to write the event log, index, and manifest into")
	outputPrefix := fs.String("output-prefix", "", "output file stem; required when more than one input is given")
	priceIncrement := fs.String("price-increment", "0.01", "smallest representable price increment")
	amountIncrement := fs.String("amount-increment", "0.01", "smallest representable amount increment")
	inferIncrements := fs.Bool("infer-increments", false, "ignore -price-increment/-amount-increment and infer both from the first input file's leading rows")
	instrumentMetaPath := fs.String("instrument-meta", "", "path to a static instrument metadata JSON file; resolves increments by -exchange/-symbol/-date instead of -price-increment/-amount-increment")
	exchange := fs.String("exchange", "", "exchange key for -instrument-meta lookups")
	symbol := fs.String("symbol", "", "symbol key for -instrument-meta lookups")
	date := fs.String("date", "", "date key (YYYY-MM-DD) for -instrument-meta lookups")
	failurePolicy := fs.String("failure-policy", "hard_fail", "hard_fail or quarantine")
	quarantineAction := fs.String("quarantine-action", "halt", "halt, skip_row, or skip_batch (only used when failure-policy=quarantine)")
	quarantinePath := fs.String("quarantine-sink", "", "path to write quarantined rows to (JSON lines); defaults to in-memory if empty")
	logFormat := fs.String("log-format", "json", "json or console")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inputs := fs.Args()

	cfg := config.CompileConfig{
		InputPaths:       inputs,
		OutputDir:        *outputDir,
		OutputPrefix:     *outputPrefix,
		PriceIncrement:   *priceIncrement,
		AmountIncrement:  *amountIncrement,
		FailurePolicy:    *failurePolicy,
		QuarantineAction: *quarantineAction,
	}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded.Compile
	}
	switch {
	case *instrumentMetaPath != "":
		provider, err := instrumentmeta.NewStaticJSONProvider(*instrumentMetaPath)
		if err != nil {
			return err
		}
		meta, err := provider.Get(*exchange, *symbol, *date)
		if err != nil {
			return err
		}
		cfg.PriceIncrement = meta.PriceIncrement
		cfg.AmountIncrement = meta.AmountIncrement
	case *inferIncrements:
		if len(cfg.InputPaths) == 0 {
			return fmt.Errorf("infer-increments requires at least one input path")
		}
		priceInc, amountInc, err := inferIncrementsFromFile(cfg.InputPaths[0])
		if err != nil {
			return err
		}
		cfg.PriceIncrement = priceInc
		cfg.AmountIncrement = amountInc
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(*logFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	q, err := quantizer.New(cfg.PriceIncrement, cfg.AmountIncrement)
	if err != nil {
		return err
	}

	policy := ingest.HardFail
	if cfg.FailurePolicy == "quarantine" {
		policy = ingest.Quarantine
	}
	action := ingest.Halt
	switch cfg.QuarantineAction {
	case "skip_row":
		action = ingest.SkipRow
	case "skip_batch":
		action = ingest.SkipBatch
	}

	var sink ingest.QuarantineSink
	if *quarantinePath != "" {
		fileSink, err := quarantine.NewFileSink(*quarantinePath)
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sink = fileSink
	} else {
		sink = &quarantine.MemorySink{}
	}

	req := compiler.Request{
		InputPaths:     cfg.InputPaths,
		OutputDir:      cfg.OutputDir,
		Quantizer:      q,
		FailurePolicy:  policy,
		QuarantineAct:  action,
		QuarantineSink: sink,
		OutputPrefix:   cfg.OutputPrefix,
		Logger:         logger,
	}
	result, err := compiler.Compile(req)
	if err != nil {
		return err
	}

	fmt.Printf("evlog:    %s\n", result.EvlogPath)
	fmt.Printf("index:    %s\n", result.IndexPath)
	fmt.Printf("manifest: %s\n", result.ManifestPath)
	fmt.Printf("records:  %d\n", result.RecordCount)
	return nil
}

func runReplay(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	evlogPath := fs.String("evlog", "", "path to a compiled event log")
	tapePath := fs.String("tape", "", "optional path to write a JSON-lines tape")
	initialCash := fs.Int64("initial-cash", 0, "starting cash, in quote atoms")
	initialPosition := fs.Int64("initial-position", 0, "starting position, in lots")
	allowShort := fs.Bool("allow-short", false, "allow selling past zero position")
	allowMargin := fs.Bool("allow-margin", false, "allow buying past available cash")
	feeBps := fs.Int64("fee-bps", 0, "flat fee in basis points of notional, [0, 10000]")
	srBenchmark := fs.Float64("sr-benchmark", 0, "benchmark Sharpe ratio for PSR/DSR")
	dsrTrials := fs.Int("dsr-trials", 1, "number of independent trials for DSR's expected-max correction")
	skipInitialMissingBook := fs.Bool("skip-initial-missing-book", true, "tolerate an incomplete top of book before the first complete observation")
	ignoreRiskRejects := fs.Bool("ignore-risk-rejects", false, "skip trades that fail a cash/position check instead of aborting the run")
	rejectCrossedBook := fs.Bool("reject-crossed-book", true, "fail replay if the reconstructed book ever crosses")
	randomSeed := fs.Uint64("random-seed", 1, "seed for the built-in random strategy, when selected")
	strategyName := fs.String("strategy", "noop", "noop, alternating, or random")
	strategyQty := fs.Int64("strategy-qty-lots", 1, "lots per order for the alternating/random strategies")
	randomTradeChance := fs.Float64("strategy-trade-chance", 0.5, "probability the random strategy trades on a given batch")
	logFormat := fs.String("log-format", "json", "json or console")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.RunConfig{
		EvlogPath:              *evlogPath,
		TapePath:               *tapePath,
		InitialCash:            *initialCash,
		InitialPosition:        *initialPosition,
		AllowShort:             *allowShort,
		AllowMargin:            *allowMargin,
		FeeBps:                 *feeBps,
		SRBenchmark:            *srBenchmark,
		DSRTrials:              *dsrTrials,
		SkipInitialMissingBook: *skipInitialMissingBook,
		IgnoreRiskRejects:      *ignoreRiskRejects,
		RejectCrossedBook:      *rejectCrossedBook,
		RandomSeed:             *randomSeed,
	}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded.Run
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(*logFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reader, err := evlog.Open(cfg.EvlogPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	var strat strategy.Strategy
	switch *strategyName {
	case "alternating":
		strat = &strategy.AlternatingStrategy{StartSide: domain.Bid, QtyLots: domain.Lots(*strategyQty)}
	case "random":
		strat = strategy.NewRandomStrategy(cfg.RandomSeed, domain.Lots(*strategyQty), *randomTradeChance)
	default:
		strat = &strategy.NoopStrategy{}
	}

	feeModel := portfolio.NewFixedBpsFeeModel(domain.Bps(cfg.FeeBps))
	book := orderbook.NewReferenceBook(cfg.RejectCrossedBook)

	var tape *portfolio.Tape
	if cfg.TapePath != "" {
		tape, err = portfolio.Create(cfg.TapePath, map[string]interface{}{"evlog_path": cfg.EvlogPath})
		if err != nil {
			return err
		}
		defer tape.Close()
	}

	eng, err := engine.New(reader, strat, feeModel, engine.RunConfig{
		InitialCash:            domain.QuoteAtoms(cfg.InitialCash),
		InitialPosition:        domain.Lots(cfg.InitialPosition),
		AllowShort:             cfg.AllowShort,
		AllowMargin:            cfg.AllowMargin,
		SRBenchmark:            cfg.SRBenchmark,
		DSRTrials:              cfg.DSRTrials,
		SkipInitialMissingBook: cfg.SkipInitialMissingBook,
		IgnoreRiskRejects:      cfg.IgnoreRiskRejects,
	}, book, tape)
	if err != nil {
		return err
	}

	result, err := eng.Run()
	if err != nil {
		return err
	}

	fmt.Printf("fills:         %d\n", len(result.Fills))
	fmt.Printf("equity_points: %d\n", len(result.EquityCurve))
	if result.HaveSharpe {
		fmt.Printf("sharpe:        %f\n", result.Sharpe)
	}
	if result.HavePSR {
		fmt.Printf("psr:           %f\n", result.PSR)
	}
	if result.HaveDSR {
		fmt.Printf("dsr:           %f\n", result.DSR)
	}
	return nil
}

// runDownload is out of scope for this core: fetching raw L2 data from a
// venue is an I/O integration, not part of the deterministic pipeline this
// module implements.
func runDownload(args []string) error {
	return fmt.Errorf("download is not implemented in this core; bring your own CSVs and run 'backtester compile'")
}
