// Package amount provides shared parsing and formatting for asset amounts.
//
// All custodied assets use 6 decimal places. Amounts travel through the API
// as decimal strings ("100.000000") and are manipulated as big.Int values in
// the smallest unit (1 whole unit = 1,000,000 base units).
package amount

import (
	"math/big"
	"strings"
)

const Decimals = 6

// Parse converts a decimal string (e.g. "1.50") to its base-unit
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

// Format converts a base-unit big.Int to a decimal string with exactly
// 6 decimal places (e.g. "1.500000").
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

// IsPositive reports whether s parses to a strictly positive amount.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}

// Cmp compares two decimal amount strings. It returns -1, 0 or 1 like
// big.Int.Cmp, and false if either side fails to parse.
func Cmp(a, b string) (int, bool) {
	av, ok := Parse(a)
	if !ok {
		return 0, false
	}
	bv, ok := Parse(b)
	if !ok {
		return 0, false
	}
	return av.Cmp(bv), true
}
