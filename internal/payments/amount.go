package payments

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

var ErrInvalidAmount = errors.New("payments: invalid amount")

// NormalizeCurrency returns the upper-case ISO 4217 code or an error for unknown codes.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrInvalidAmount, code)
	}
	return unit.String(), nil
}

// ToMinorUnits converts a whole-unit amount into the currency's smallest unit (centavos for PHP).
func ToMinorUnits(amount int64, code string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("%w: unknown currency %q", ErrInvalidAmount, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	factor := int64(1)
	for i := 0; i < scale; i++ {
		factor *= 10
	}
	if amount > math.MaxInt64/factor {
		return 0, fmt.Errorf("%w: amount overflows minor units", ErrInvalidAmount)
	}
	return amount * factor, nil
}
