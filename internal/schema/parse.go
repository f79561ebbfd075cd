package schema

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFloat parses an exchange-supplied numeric string through decimal
// so values like "0.00000001" survive exactly before the float conversion.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric string %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// FloatCellFromString parses s and returns a float cell, or the null
// sentinel when s is empty (exchanges omit fields they do not track).
func FloatCellFromString(s string) (Cell, error) {
	if strings.TrimSpace(s) == "" {
		return NullCell(), nil
	}
	f, err := ParseFloat(s)
	if err != nil {
		return Cell{}, err
	}
	return FloatCell(f), nil
}
