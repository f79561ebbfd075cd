// Package validator checks fetched tables against the canonical contract
// before they are handed to output: schema conformance, ordering, and the
// half-open time window. It is the oracle the CLI runs before export.
package validator

import (
	"fmt"
	"time"

	"github.com/quantfetch/marketdata/internal/schema"
)

// Check verifies the table contract: every row matches the column schema
// width and carries a timestamp, timestamps are non-decreasing, and all
// of them fall inside [startMS, endMS).
func Check(t *schema.Table, startMS, endMS int64) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("table invariant: %w", err)
	}
	for i, r := range t.Rows() {
		ts, _ := r.Timestamp()
		ms := ts.UnixMilli()
		if ms < startMS || ms >= endMS {
			return fmt.Errorf("row %d timestamp %s outside requested window [%d, %d)",
				i, ts.Format(time.RFC3339), startMS, endMS)
		}
	}
	if t.Type() == schema.OHLCV || t.Type() == schema.IndexPrice || t.Type() == schema.MarkPrice {
		return checkCandles(t)
	}
	return nil
}

// checkCandles verifies OHLC price consistency on candle-shaped tables:
// high is the row maximum and low the minimum, when all four are present.
func checkCandles(t *schema.Table) error {
	for i, r := range t.Rows() {
		open, okO := r[1].Float()
		high, okH := r[2].Float()
		low, okL := r[3].Float()
		closePrice, okC := r[4].Float()
		if !okO || !okH || !okL || !okC {
			continue
		}
		if high < low {
			return fmt.Errorf("row %d high %g below low %g", i, high, low)
		}
		if high < open || high < closePrice {
			return fmt.Errorf("row %d high %g below open/close", i, high)
		}
		if low > open || low > closePrice {
			return fmt.Errorf("row %d low %g above open/close", i, low)
		}
	}
	return nil
}
