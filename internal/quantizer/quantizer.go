// Package quantizer converts vendor decimal strings into the backtester's
// integer tick/lot domain.
//
// Key Design Decisions:
//
// 1. Exact parsing: shopspring/decimal parses every value exactly, with no
//    process-wide decimal context, so two concurrent quantizers never
//    interfere. Increments are truncated to 50 decimal places in New; row
//    values are not rounded to a fixed number of significant digits before
//    the exact-multiple test.
//
// 2. Exact-multiple enforcement: a value that is not an exact integer
//    multiple of its increment is a quantization error, not a rounded
//    approximation — silent rounding is exactly the kind of bug this system
//    exists to make impossible.
package quantizer

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/rishav/evlog-backtester/internal/bterrors"
	"github.com/rishav/evlog-backtester/internal/domain"
)

// precision is the number of decimal places New truncates increments to.
const precision = 50

// Quantizer holds the normalized price/amount increments for one instrument.
type Quantizer struct {
	PriceIncrement  decimal.Decimal
	AmountIncrement decimal.Decimal
}

// New validates and normalizes the increment pair. Both must be finite and
// strictly positive.
func New(priceIncrement, amountIncrement string) (*Quantizer, error) {
	pi, err := parsePositiveDecimal(priceIncrement)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindQuantization, err, "invalid price_increment %q", priceIncrement)
	}
	ai, err := parsePositiveDecimal(amountIncrement)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindQuantization, err, "invalid amount_increment %q", amountIncrement)
	}
	return &Quantizer{PriceIncrement: pi.Truncate(precision), AmountIncrement: ai.Truncate(precision)}, nil
}

func parsePositiveDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("must be finite and > 0, got %s", s)
	}
	return d, nil
}

// QuantizePrice parses str exactly and returns it
// as an exact multiple of PriceIncrement. str must be > 0.
func (q *Quantizer) QuantizePrice(str string) (domain.Ticks, error) {
	v, err := decimal.NewFromString(str)
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindQuantization, err, "price %q is not a decimal", str)
	}
	if !v.IsPositive() {
		return 0, bterrors.New(bterrors.KindQuantization, "price %q must be > 0", str)
	}
	n, err := exactMultiple(v, q.PriceIncrement)
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindQuantization, err, "price %q is not a multiple of increment %s", str, q.PriceIncrement.String())
	}
	if !fitsInt64(n) {
		return 0, bterrors.New(bterrors.KindQuantization, "price %q overflows int64 ticks", str)
	}
	return domain.Ticks(n.IntPart()), nil
}

// QuantizeAmount parses str the same way as QuantizePrice but permits zero
// (delete semantics) and rejects negative values.
func (q *Quantizer) QuantizeAmount(str string) (domain.Lots, error) {
	v, err := decimal.NewFromString(str)
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindQuantization, err, "amount %q is not a decimal", str)
	}
	if v.IsNegative() {
		return 0, bterrors.New(bterrors.KindQuantization, "amount %q must be >= 0", str)
	}
	n, err := exactMultiple(v, q.AmountIncrement)
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindQuantization, err, "amount %q is not a multiple of increment %s", str, q.AmountIncrement.String())
	}
	if !fitsInt64(n) {
		return 0, bterrors.New(bterrors.KindQuantization, "amount %q overflows int64 lots", str)
	}
	return domain.Lots(n.IntPart()), nil
}

// fitsInt64 reports whether the integer decimal n fits in an int64.
func fitsInt64(n decimal.Decimal) bool {
	return n.Cmp(maxInt64Decimal) <= 0 && n.Cmp(minInt64Decimal) >= 0
}

var (
	maxInt64Decimal = decimal.NewFromInt(math.MaxInt64)
	minInt64Decimal = decimal.NewFromInt(math.MinInt64)
)

// exactMultiple requires value to be an exact integer multiple of increment
// and returns that integer quotient. QuoRem performs exact rational division
// (not float-style rounding), so the remainder is zero if and only if value
// is truly a multiple of increment at any precision — this is the same
// "scale both by a common power of ten, then require integral divisibility"
// test spec §4.1 describes, expressed with shopspring/decimal's exact
// quotient/remainder primitive instead of hand-rolled scaling.
func exactMultiple(value, increment decimal.Decimal) (decimal.Decimal, error) {
	if increment.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("increment is zero")
	}
	quotient, remainder := value.QuoRem(increment, 0)
	if !remainder.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("not an exact multiple")
	}
	return quotient, nil
}

// decimalFromTicks renders a Ticks value as a decimal.Decimal for round-trip
// property checks against the original increment.
func decimalFromTicks(t domain.Ticks) decimal.Decimal {
	return decimal.NewFromInt(int64(t))
}

// Notional computes the integer product of ticks and lots.
func Notional(ticks domain.Ticks, lots domain.Lots) domain.QuoteAtoms {
	return domain.QuoteAtoms(int64(ticks) * int64(lots))
}

// Descriptor is the JSON-serializable form of a Quantizer used in the
// manifest and in the event-log header's quantizer_hash derivation.
type Descriptor struct {
	PriceIncrement  string `json:"price_increment"`
	AmountIncrement string `json:"amount_increment"`
}

// Descriptor returns the canonical descriptor for this quantizer.
func (q *Quantizer) Descriptor() Descriptor {
	return Descriptor{
		PriceIncrement:  q.PriceIncrement.String(),
		AmountIncrement: q.AmountIncrement.String(),
	}
}

// Hash returns the 32-byte SHA-256 of the canonical JSON of {"price_increment","amount_increment"},
// as required by spec §3's Quantizer lifecycle.
func (q *Quantizer) Hash() ([32]byte, error) {
	digest, _, err := domain.HashJSON(q.Descriptor())
	return digest, err
}
