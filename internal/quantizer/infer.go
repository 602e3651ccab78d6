package quantizer

import (
	"fmt"
	"io"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rishav/evlog-backtester/internal/bterrors"
)

// inferMaxRows bounds how much of a (potentially huge) input is scanned to
// infer increments, matching the original inference tool's cap.
const inferMaxRows = 1000

// PriceAmountSource yields successive (price, amount) decimal-string pairs,
// terminating with io.EOF. ingest.RowSource satisfies this via a thin
// adapter at the call site, so this package never imports ingest.
type PriceAmountSource interface {
	NextPriceAmount() (price, amount string, err error)
}

// incrementStats tracks the running GCD of every value seen, scaled to a
// common number of decimal places, the same way the inference tool's
// _IncrementStats does: the increment is the smallest unit every observed
// value is an exact multiple of.
type incrementStats struct {
	scale       int32
	gcdValue    *big.Int
	firstValue  *big.Int
	hasDistinct bool
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func (s *incrementStats) add(value decimal.Decimal, allowZero bool) error {
	if value.IsZero() {
		if allowZero {
			return nil
		}
		return fmt.Errorf("must be positive")
	}
	if value.IsNegative() {
		return fmt.Errorf("negative")
	}

	exp := -value.Exponent()
	if exp < 0 {
		exp = 0
	}
	if exp > s.scale {
		factor := pow10(exp - s.scale)
		if s.gcdValue != nil {
			s.gcdValue.Mul(s.gcdValue, factor)
		}
		if s.firstValue != nil {
			s.firstValue.Mul(s.firstValue, factor)
		}
		s.scale = exp
	}

	shift := value.Exponent() + s.scale
	val := new(big.Int).Mul(value.Coefficient(), pow10(shift))

	if s.gcdValue == nil {
		s.gcdValue = val
		s.firstValue = new(big.Int).Set(val)
		return nil
	}
	if val.Cmp(s.firstValue) != 0 {
		s.hasDistinct = true
	}
	s.gcdValue = new(big.Int).GCD(nil, nil, s.gcdValue, val)
	return nil
}

func (s *incrementStats) finish(field string) (string, error) {
	if s.gcdValue == nil {
		return "", fmt.Errorf("%s has no positive values", field)
	}
	if !s.hasDistinct {
		return "", fmt.Errorf("%s has no distinct values to infer increment", field)
	}
	return decimal.NewFromBigInt(s.gcdValue, -s.scale).String(), nil
}

// InferIncrements infers a (price_increment, amount_increment) pair from the
// first inferMaxRows rows of src, grounded on io/infer_increments.py: every
// price must be strictly positive, amounts may be zero (delete rows don't
// constrain the increment), and both fields need at least two distinct
// values before an increment can be inferred at all.
func InferIncrements(src PriceAmountSource) (priceIncrement, amountIncrement string, err error) {
	priceStats := &incrementStats{}
	amountStats := &incrementStats{}

	seen := 0
	for {
		price, amount, rerr := src.NextPriceAmount()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", "", bterrors.Wrap(bterrors.KindQuantization, rerr, "reading row for increment inference")
		}

		pv, perr := decimal.NewFromString(price)
		if perr != nil {
			return "", "", bterrors.Wrap(bterrors.KindQuantization, perr, "price %q is not a decimal", price)
		}
		av, aerr := decimal.NewFromString(amount)
		if aerr != nil {
			return "", "", bterrors.Wrap(bterrors.KindQuantization, aerr, "amount %q is not a decimal", amount)
		}
		if err := priceStats.add(pv, false); err != nil {
			return "", "", bterrors.Wrap(bterrors.KindQuantization, err, "price %q", price)
		}
		if err := amountStats.add(av, true); err != nil {
			return "", "", bterrors.Wrap(bterrors.KindQuantization, err, "amount %q", amount)
		}

		seen++
		if seen >= inferMaxRows {
			break
		}
	}

	priceInc, perr := priceStats.finish("price")
	if perr != nil {
		return "", "", bterrors.Wrap(bterrors.KindQuantization, perr, "inferring price increment")
	}
	amountInc, aerr := amountStats.finish("amount")
	if aerr != nil {
		return "", "", bterrors.Wrap(bterrors.KindQuantization, aerr, "inferring amount increment")
	}
	return priceInc, amountInc, nil
}
