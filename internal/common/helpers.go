package common

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

const (
	SOLDecimals = 9 // SOL has 9 decimals (lamports)
	NFTDecimals = 0 // NFT mints have no fractional units
)

// ErrTooPrecise is returned when an amount has more fractional digits than the asset supports.
var ErrTooPrecise = errors.New("amount has more decimal places than the asset supports")

// LamportsToSOL converts lamports to SOL string without float precision loss
func LamportsToSOL(lamports uint64) string {
	return FormatUnits(lamports, SOLDecimals)
}

// SOLToLamports converts SOL string to lamports without float precision loss
func SOLToLamports(sol string) (uint64, error) {
	return ParseUnits(sol, SOLDecimals)
}

// FormatUnits converts raw integer units to a decimal string by inserting the decimal point.
// Example: FormatUnits(24981836, 9) = "0.024981836"
func FormatUnits(value uint64, decimals uint8) string {
	s := strconv.FormatUint(value, 10)
	if decimals == 0 {
		return s
	}

	d := int(decimals)
	for len(s) <= d {
		s = "0" + s
	}

	pos := len(s) - d
	return s[:pos] + "." + s[pos:]
}

// ParseUnits converts a decimal string to raw integer units.
// Example: ParseUnits("0.024981836", 9) = 24981836
func ParseUnits(s string, decimals uint8) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac, hasPoint := strings.Cut(s, ".")
	if hasPoint && strings.Contains(frac, ".") {
		return 0, fmt.Errorf("invalid decimal format")
	}
	if whole == "" {
		whole = "0"
	}

	d := int(decimals)
	if len(frac) > d {
		// Only trailing zeros may be dropped
		if strings.TrimRight(frac[d:], "0") != "" {
			return 0, ErrTooPrecise
		}
		frac = frac[:d]
	}
	frac += strings.Repeat("0", d-len(frac))

	if strings.HasPrefix(whole, "+") || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	wholeUnits, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	scale := uint64(1)
	for i := 0; i < d; i++ {
		hi, lo := bits.Mul64(scale, 10)
		if hi != 0 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		scale = lo
	}
	hi, scaled := bits.Mul64(wholeUnits, scale)
	if hi != 0 {
		return 0, fmt.Errorf("amount %q overflows", s)
	}

	var fracUnits uint64
	if frac != "" {
		fracUnits, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}

	total, carry := bits.Add64(scaled, fracUnits, 0)
	if carry != 0 {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return total, nil
}

// CompareAmounts compares two decimal string amounts of the same asset without float precision loss.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b, and error if parsing fails
func CompareAmounts(a, b string, decimals uint8) (int, error) {
	aVal, err := ParseUnits(a, decimals)
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount '%s': %w", a, err)
	}

	bVal, err := ParseUnits(b, decimals)
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount '%s': %w", b, err)
	}

	switch {
	case aVal < bVal:
		return -1, nil
	case aVal > bVal:
		return 1, nil
	}
	return 0, nil
}

// IsPositiveAmount reports whether s is a well-formed decimal amount greater than zero.
// It needs no knowledge of the asset's precision.
func IsPositiveAmount(s string) bool {
	_, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if len(frac) > 19 {
		return false
	}
	v, err := ParseUnits(s, uint8(len(frac)))
	return err == nil && v > 0
}
