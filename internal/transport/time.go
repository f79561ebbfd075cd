package transport

import (
	"time"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
)

// Accepted string layouts, interpreted as UTC.
const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// ToMilliseconds converts a flexible time input to a millisecond epoch.
// Accepted forms: int/int64/float64 millisecond epochs, the date string
// layouts "YYYY-MM-DD" and "YYYY-MM-DD HH:MM:SS" (UTC), and time.Time
// (converted to UTC). Anything else is a malformed-input error.
func ToMilliseconds(v any) (int64, error) {
	const op = "transport.to_milliseconds"
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case time.Time:
		return t.UTC().UnixMilli(), nil
	case string:
		for _, layout := range []string{dateTimeLayout, dateLayout} {
			if ts, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return ts.UnixMilli(), nil
			}
		}
		return 0, apperrors.BadInput(op,
			"unsupported datetime format %q (want %q or %q)", t, dateLayout, dateTimeLayout)
	default:
		return 0, apperrors.BadInput(op, "cannot convert %T to milliseconds", v)
	}
}
