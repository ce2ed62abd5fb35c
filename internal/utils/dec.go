/*
This file contains common helpers for working with SDK fixed-point decimals:
constructing them from trusted literals and basis points, and scanning them
back out of the database.
*/

package utils

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// MustDec parses a decimal literal and panics on failure. Only for
// compile-time constants (defaults, test fixtures), never for user input.
func MustDec(s string) sdkmath.LegacyDec {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal literal %q: %v", s, err))
	}
	return d
}

// DecFromBps converts basis points to a decimal fraction (10000 bps = 1.0).
func DecFromBps(bps int64) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(bps).QuoInt64(10000)
}

// ScanDec parses a decimal scanned from a DECIMAL column. Postgres returns
// these as strings, which round-trips exactly; going through float64 would not.
func ScanDec(src string) (sdkmath.LegacyDec, error) {
	d, err := sdkmath.LegacyNewDecFromStr(src)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("failed to scan decimal %q: %w", src, err)
	}
	return d, nil
}

// ZeroIfNil normalizes a possibly-uninitialized decimal. Map lookups on
// missing keys yield the nil Dec, which panics on arithmetic.
func ZeroIfNil(d sdkmath.LegacyDec) sdkmath.LegacyDec {
	if d.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return d
}
