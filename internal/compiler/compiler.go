// Package compiler orchestrates the CSV-to-event-log compile pipeline:
// hash inputs, stream rows through the batcher into the writer, close and
// index, re-hash for determinism, then emit the manifest. Grounded on
// internal/marketdata/publisher.go's pipeline-orchestration style
// (construct once, drive a bounded sequence of stages, return a structured
// result) and on internal/evlog's open/close lifecycle for the writer/index
// handles this package drives.
package compiler

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/canon"
	"github.com/rishav/evlog-backtester/internal/domain"
	"github.com/rishav/evlog-backtester/internal/evlog"
	"github.com/rishav/evlog-backtester/internal/ingest"
	"github.com/rishav/evlog-backtester/internal/quantizer"
)

// ManifestVersion and CompilerVersion are the fixed version fields spec §6
// requires in every manifest.
const (
	ManifestVersion = 1
	CompilerVersion = 1
	FormatVersion   = 1
)

// compilerSelfIdentity stands in for "hash the compiler source file
// itself" (spec §4.6 step 7, §9's determinism-seams note): Go doesn't ship
// a single canonical source artifact for a package at runtime the way a
// single-file script does, so a stable build-identifier string substitutes
// for the self-hash, recorded in the manifest under the same key the spec
// names.
const compilerSelfIdentity = "evlog-backtester-compiler-v1"

// Request describes one compile invocation.
type Request struct {
	InputPaths      []string
	OutputDir       string
	Quantizer       *quantizer.Quantizer
	FailurePolicy   ingest.FailurePolicy
	QuarantineAct   ingest.QuarantineAction
	QuarantineSink  ingest.QuarantineSink
	OutputPrefix    string // required when len(InputPaths) > 1
	Logger          *zap.Logger
}

// Result is the compile's structured output.
type Result struct {
	EvlogPath    string
	IndexPath    string
	ManifestPath string
	RecordCount  int64
	Manifest     Manifest
}

// InputDescriptor is one entry in the manifest's inputs array.
type InputDescriptor struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// QuantizerDescriptor is the manifest's embedded quantizer block.
type QuantizerDescriptor struct {
	PriceIncrement  string `json:"price_increment"`
	AmountIncrement string `json:"amount_increment"`
	SHA256          string `json:"sha256"`
}

// HashedFile is the manifest's {path, sha256} block for the evlog/index.
type HashedFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest is the full manifest document, spec §6.
type Manifest struct {
	ManifestVersion int                 `json:"manifest_version"`
	CompilerVersion int                 `json:"compiler_version"`
	CompilerSHA256  string              `json:"compiler_sha256"`
	Inputs          []InputDescriptor   `json:"inputs"`
	InputsSHA256    string              `json:"inputs_sha256"`
	Evlog           HashedFile          `json:"evlog"`
	Index           HashedFile          `json:"index"`
	RecordCount     int64               `json:"record_count"`
	Exchange        string              `json:"exchange"`
	Symbol          string              `json:"symbol"`
	ExchangeID      uint64              `json:"exchange_id"`
	SymbolID        uint64              `json:"symbol_id"`
	Quantizer       QuantizerDescriptor `json:"quantizer"`
	FormatVersion   int                 `json:"format_version"`
	ManifestSHA256  string              `json:"manifest_sha256,omitempty"`
}

// Compile runs the 8-step deterministic procedure from spec §4.6.
func Compile(req Request) (*Result, error) {
	logger := req.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	compileID := uuid.New().String() // log correlation only; never persisted in the manifest
	logger = logger.With(zap.String("compile_id", compileID))

	// Step 1: validate inputs.
	base, err := validateInputsAndDeriveBase(req.InputPaths, req.OutputPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("compile starting", zap.Strings("inputs", req.InputPaths), zap.String("base", base))

	// Step 2: hash every input file.
	inputHashesBefore, err := hashInputs(req.InputPaths)
	if err != nil {
		return nil, err
	}

	evlogPath := filepath.Join(req.OutputDir, base+".evlog")
	idxPath := filepath.Join(req.OutputDir, base+".idx")
	manifestPath := filepath.Join(req.OutputDir, base+".manifest.json")

	// exchange/symbol come from the first row of the first input that has
	// one: that input is opened once here, and streamBatches below opens
	// every input again for the real pass.
	exchange, symbol, err := peekExchangeSymbol(req.InputPaths)
	if err != nil {
		return nil, err
	}
	exchangeID := domain.Low8LE(domain.HashText(exchange))
	symbolID := domain.Low8LE(domain.HashText(symbol))

	qHash, err := req.Quantizer.Hash()
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "hashing quantizer descriptor")
	}

	// Step 3: open the writer.
	writer, err := evlog.Create(evlogPath, exchangeID, symbolID, qHash)
	if err != nil {
		return nil, err
	}
	idxWriter, err := evlog.CreateIndex(idxPath)
	if err != nil {
		writer.Close()
		return nil, err
	}

	// Step 4: stream rows through the batcher into the writer.
	recordCount, err := streamBatches(req, writer, idxWriter)
	if err != nil {
		writer.Close()
		idxWriter.Close()
		return nil, err
	}

	// Step 5: close writer then index.
	if err := writer.Close(); err != nil {
		idxWriter.Close()
		return nil, err
	}
	if err := idxWriter.Close(); err != nil {
		return nil, err
	}

	// Step 6: re-hash inputs; fail on determinism violation.
	inputHashesAfter, err := hashInputs(req.InputPaths)
	if err != nil {
		return nil, err
	}
	for i := range inputHashesBefore {
		if inputHashesBefore[i] != inputHashesAfter[i] {
			return nil, bterrors.New(bterrors.KindDeterminism, "input %s changed during compile", req.InputPaths[i])
		}
	}

	// Step 7: hash compiler self-identity, event log, index.
	evlogHash, err := domain.HashFile(evlogPath)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "hashing event log output")
	}
	idxHash, err := domain.HashFile(idxPath)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "hashing index output")
	}

	inputDescriptors := make([]InputDescriptor, len(req.InputPaths))
	for i, p := range req.InputPaths {
		inputDescriptors[i] = InputDescriptor{Path: p, SHA256: domain.HexString(inputHashesAfter[i])}
	}
	inputsDigest, _, err := domain.HashJSON(inputDescriptors)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "hashing input descriptor set")
	}

	qDesc := req.Quantizer.Descriptor()
	manifest := Manifest{
		ManifestVersion: ManifestVersion,
		CompilerVersion: CompilerVersion,
		CompilerSHA256:  domain.HexString(domain.HashText(compilerSelfIdentity)),
		Inputs:          inputDescriptors,
		InputsSHA256:    domain.HexString(inputsDigest),
		Evlog:           HashedFile{Path: evlogPath, SHA256: domain.HexString(evlogHash)},
		Index:           HashedFile{Path: idxPath, SHA256: domain.HexString(idxHash)},
		RecordCount:     recordCount,
		Exchange:        exchange,
		Symbol:          symbol,
		ExchangeID:      exchangeID,
		SymbolID:        symbolID,
		Quantizer: QuantizerDescriptor{
			PriceIncrement:  qDesc.PriceIncrement,
			AmountIncrement: qDesc.AmountIncrement,
			SHA256:          domain.HexString(qHash),
		},
		FormatVersion: FormatVersion,
	}

	// Step 8: hash the manifest without manifest_sha256, then add it.
	digest, _, err := domain.HashJSON(manifest)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "hashing manifest document")
	}
	manifest.ManifestSHA256 = domain.HexString(digest)

	finalBytes, err := canon.MarshalLine(manifest)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "canonicalizing final manifest")
	}
	if err := os.WriteFile(manifestPath, finalBytes, 0644); err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "writing manifest %s", manifestPath)
	}

	logger.Info("compile complete", zap.Int64("record_count", recordCount), zap.String("manifest_sha256", manifest.ManifestSHA256))

	return &Result{
		EvlogPath:    evlogPath,
		IndexPath:    idxPath,
		ManifestPath: manifestPath,
		RecordCount:  recordCount,
		Manifest:     manifest,
	}, nil
}

func validateInputsAndDeriveBase(paths []string, prefix string) (string, error) {
	if len(paths) == 0 {
		return "", bterrors.New(bterrors.KindSchema, "at least one input path is required")
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return "", bterrors.Wrap(bterrors.KindSchema, err, "stat input %s", p)
		}
		if info.IsDir() {
			return "", bterrors.New(bterrors.KindSchema, "input %s is a directory, not a file", p)
		}
		abs, _ := filepath.Abs(p)
		if seen[abs] {
			return "", bterrors.New(bterrors.KindSchema, "duplicate input %s", p)
		}
		seen[abs] = true
	}
	if len(paths) > 1 {
		if prefix == "" {
			return "", bterrors.New(bterrors.KindSchema, "output prefix is required for multi-file compiles")
		}
		return prefix, nil
	}
	if prefix != "" {
		return prefix, nil
	}
	name := filepath.Base(paths[0])
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".csv")
	return name, nil
}

func hashInputs(paths []string) ([][32]byte, error) {
	out := make([][32]byte, len(paths))
	for i, p := range paths {
		h, err := domain.HashFile(p)
		if err != nil {
			return nil, bterrors.Wrap(bterrors.KindSchema, err, "hashing input %s", p)
		}
		out[i] = h
	}
	return out, nil
}

// peekExchangeSymbol opens each input just far enough to read the first
// data row and derive (exchange, symbol); spec §4.6 step 3 requires this
// pair from "the first non-empty row."
func peekExchangeSymbol(paths []string) (exchange, symbol string, err error) {
	for _, p := range paths {
		src, oerr := ingest.OpenCSVFile(p)
		if oerr != nil {
			return "", "", oerr
		}
		row, nerr := src.Next()
		src.Close()
		if nerr == nil {
			return row.Exchange, row.Symbol, nil
		}
	}
	return "", "", bterrors.New(bterrors.KindSchema, "no non-empty input row found across %d input(s)", len(paths))
}

// streamBatches drives every input through a fresh batcher in sequence,
// writing each emitted batch and its index entry. Because each input gets
// its own batcher, the batcher's invariant 1/2 checks apply within one
// input only: a different (exchange,symbol) in a later input is not
// detected, and each input's first snapshot batch resets the book. A
// local_timestamp_us that goes backwards across an input boundary is
// rejected by the index writer's ordering check, whatever the failure
// policy.
func streamBatches(req Request, writer *evlog.Writer, idxWriter *evlog.IndexWriter) (int64, error) {
	var recordCount int64
	for _, p := range req.InputPaths {
		src, err := ingest.OpenCSVFile(p)
		if err != nil {
			return recordCount, err
		}
		b := ingest.New(src, req.Quantizer, req.FailurePolicy, req.QuarantineAct, req.QuarantineSink)
		for {
			batch, berr := b.Next()
			if berr != nil {
				if berr == io.EOF {
					src.Close()
					break
				}
				src.Close()
				return recordCount, berr
			}
			offset := writer.Tell()
			payload := toWirePayload(batch)
			if _, werr := writer.WriteL2Batch(payload); werr != nil {
				src.Close()
				return recordCount, werr
			}
			if ierr := idxWriter.Append(evlog.IndexEntry{TsRecvNs: int64(payload.TsRecvNs), FileOffset: offset}); ierr != nil {
				src.Close()
				return recordCount, ierr
			}
			recordCount++
		}
	}
	return recordCount, nil
}

func toWirePayload(b ingest.L2Batch) evlog.L2BatchPayload {
	updates := make([]evlog.L2Update, len(b.Updates))
	for i, u := range b.Updates {
		updates[i] = evlog.L2Update{
			Side:       u.Side,
			IsSnapshot: u.IsSnapshot,
			PriceTicks: u.PriceTicks,
			AmountLots: u.AmountLots,
		}
	}
	return evlog.L2BatchPayload{
		TsRecvNs:   b.TsRecvNs,
		TsExchNs:   b.TsExchNs,
		ResetsBook: b.ResetsBook,
		Updates:    updates,
	}
}

