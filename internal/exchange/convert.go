package exchange

import (
	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
)

// Exchanges mix JSON numbers and numeric strings inside the same array
// row, so the array-shaped payloads are decoded as []any and converted
// with the helpers below.

func jsonInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		f, err := schema.ParseFloat(t)
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, apperrors.Exchange("exchange.decode", "expected number, got %T", v)
	}
}

func jsonFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return schema.ParseFloat(t)
	default:
		return 0, apperrors.Exchange("exchange.decode", "expected number, got %T", v)
	}
}

func floatCell(v any) (schema.Cell, error) {
	f, err := jsonFloat(v)
	if err != nil {
		return schema.Cell{}, err
	}
	return schema.FloatCell(f), nil
}
