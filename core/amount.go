package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const amountPrecision int32 = 6 // 6 decimal places: one display unit is 1,000,000 base units

// FormatAmount renders base units as a fixed-precision display amount, e.g. 1500000 -> "1.500000".
func FormatAmount(amount Amount) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(amount)), -amountPrecision)
	return d.StringFixed(amountPrecision)
}

// ParseAmount parses a display amount such as "1.5" into base units.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a display amount into base units. Negative amounts, amounts
// with more than 6 fractional digits and amounts that do not fit in 64 bits are rejected.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %s: negative", d.String())
	}

	scaled := d.Shift(amountPrecision)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %s: more than %d decimal places", d.String(), amountPrecision)
	}

	units := scaled.BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, d.String())
	}
	return Amount(units.Uint64()), nil
}

// Decimal returns the amount in display units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -amountPrecision)
}
