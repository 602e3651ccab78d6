// Package instrumentmeta resolves an instrument's price/amount increments
// from a static metadata file, the other half of spec §3's Quantizer
// lifecycle alongside internal/quantizer's GCD-based inference. Grounded on
// io/instrument_meta.py's StaticJsonProvider — the network-backed
// TardisInstrumentMetaApiProvider in that file is out of scope here for the
// same reason cmd/backtester's "download" subcommand is a stub: fetching
// from a venue API is an I/O integration, not part of the deterministic
// compile pipeline.
package instrumentmeta

import (
	"encoding/json"
	"os"

	"github.com/rishav/evlog-backtester/internal/bterrors"
)

// Meta describes one (exchange, symbol, date) instrument's increments.
type Meta struct {
	Exchange         string `json:"exchange"`
	Symbol           string `json:"symbol"`
	Date             string `json:"date"`
	PriceIncrement   string `json:"price_increment"`
	AmountIncrement  string `json:"amount_increment"`
	MinTradeAmount   string `json:"min_trade_amount,omitempty"`
}

type key struct {
	exchange, symbol, date string
}

// StaticJSONProvider resolves Meta from a single JSON file loaded up front,
// keyed by (exchange, symbol, date).
type StaticJSONProvider struct {
	byKey map[key]Meta
}

type document struct {
	Version     int    `json:"version"`
	Instruments []Meta `json:"instruments"`
}

// NewStaticJSONProvider loads and validates path, per instrument_meta.py's
// StaticJsonProvider: version must be 0, every entry must be non-empty, and
// no (exchange, symbol, date) triple may repeat.
func NewStaticJSONProvider(path string) (*StaticJSONProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "reading instrument meta %s", path)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, bterrors.Wrap(bterrors.KindSchema, err, "parsing instrument meta %s", path)
	}
	if doc.Version != 0 {
		return nil, bterrors.New(bterrors.KindSchema, "unsupported instrument meta version %d in %s", doc.Version, path)
	}

	byKey := make(map[key]Meta, len(doc.Instruments))
	for _, m := range doc.Instruments {
		if m.Exchange == "" || m.Symbol == "" || m.Date == "" {
			return nil, bterrors.New(bterrors.KindSchema, "instrument entry missing exchange/symbol/date in %s", path)
		}
		if err := validateDate(m.Date); err != nil {
			return nil, bterrors.Wrap(bterrors.KindSchema, err, "instrument entry %s/%s", m.Exchange, m.Symbol)
		}
		if m.PriceIncrement == "" || m.AmountIncrement == "" {
			return nil, bterrors.New(bterrors.KindSchema, "instrument %s/%s/%s missing increments", m.Exchange, m.Symbol, m.Date)
		}
		k := key{m.Exchange, m.Symbol, m.Date}
		if _, dup := byKey[k]; dup {
			return nil, bterrors.New(bterrors.KindSchema, "duplicate instrument entry: %s/%s/%s", m.Exchange, m.Symbol, m.Date)
		}
		byKey[k] = m
	}
	return &StaticJSONProvider{byKey: byKey}, nil
}

// Get returns the increments for exchange/symbol/date, or an error if absent.
func (p *StaticJSONProvider) Get(exchange, symbol, date string) (Meta, error) {
	m, ok := p.byKey[key{exchange, symbol, date}]
	if !ok {
		return Meta{}, bterrors.New(bterrors.KindSchema, "instrument meta not found: %s/%s/%s", exchange, symbol, date)
	}
	return m, nil
}

// validateDate requires the "YYYY-MM-DD" shape instrument_meta.py enforces,
// without pulling in a date-parsing library for a single format check.
func validateDate(value string) error {
	if len(value) != 10 || value[4] != '-' || value[7] != '-' {
		return bterrors.New(bterrors.KindSchema, "invalid date %q", value)
	}
	for i, r := range value {
		if i == 4 || i == 7 {
			continue
		}
		if r < '0' || r > '9' {
			return bterrors.New(bterrors.KindSchema, "invalid date %q", value)
		}
	}
	return nil
}
