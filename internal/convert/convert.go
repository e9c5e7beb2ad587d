// Package convert normalizes decimal-string balances into exact integer
// minor-unit amounts. The upstream balances API reports amounts like
// "123.456789" with a separate decimal count; converting through floats
// loses precision on large or high-precision balances (36-digit token
// amounts are real), so the conversion is done digit-for-digit on the
// string and parsed as a big.Int.
package convert

import (
	"fmt"
	"math/big"
	"strings"
)

// ToMinorUnits converts a decimal-string balance into minor units at the
// given decimal count. Fractional digits beyond decimals are truncated,
// never rounded. The input must be a plain unsigned decimal number; signs,
// exponents and empty strings are rejected.
func ToMinorUnits(balance string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimals %d", decimals)
	}
	if balance == "" {
		return nil, fmt.Errorf("empty balance string")
	}

	intPart, fracPart, hasFrac := strings.Cut(balance, ".")
	if intPart == "" {
		if !hasFrac {
			return nil, fmt.Errorf("empty balance string")
		}
		intPart = "0"
	}
	if hasFrac && fracPart == "" {
		return nil, fmt.Errorf("malformed balance %q: trailing decimal point", balance)
	}
	if !isDigits(intPart) || (hasFrac && !isDigits(fracPart)) {
		return nil, fmt.Errorf("malformed balance %q: not an unsigned decimal number", balance)
	}

	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	} else if len(fracPart) < decimals {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	}

	value, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("parse balance %q at %d decimals", balance, decimals)
	}
	return value, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
