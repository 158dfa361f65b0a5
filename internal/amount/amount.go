// Package amount provides shared fixed-point amount parsing and formatting.
//
// All custodied value uses 6 decimal places. Amounts are carried as
// big.Int in the smallest unit (1 unit of asset = 1,000,000 base units)
// so that fee and bond arithmetic is exact.
package amount

import (
	"math/big"
	"strings"
)

const Decimals = 6

// BpsDenominator is the divisor for basis-point math (10000 bps = 100%).
const BpsDenominator = 10000

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(v *big.Int) string {
	if v == nil {
		return "0.000000"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// MustParse parses a decimal string and panics on invalid input.
// For use in tests and package-level defaults only.
func MustParse(s string) *big.Int {
	v, ok := Parse(s)
	if !ok {
		panic("amount: invalid amount " + s)
	}
	return v
}

// Bps returns v * bps / 10000, floored. Used for platform fees,
// dispute bond minimums and decisive-majority thresholds.
func Bps(v *big.Int, bps int64) *big.Int {
	if v == nil || bps <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// Add returns a+b without mutating either operand.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a-b without mutating either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}
