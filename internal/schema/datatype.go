// Package schema defines the canonical market data model shared by every
// exchange adapter: the closed set of data types, the fixed column layout
// each type guarantees, and the table structure returned by a fetch.
//
// The column lists here are the single source of truth. An adapter that
// cannot supply a column still emits it (as an explicit null or a
// documented default), so exported files from any exchange line up
// column-for-column.
package schema

import "fmt"

// DataType identifies one kind of market data with a fixed column schema.
type DataType int

const (
	// OHLCV is kline/candlestick data with volume and taker breakdown.
	OHLCV DataType = iota
	// IndexPrice is the underlying index price as OHLC candles.
	IndexPrice
	// MarkPrice is the derivatives mark price as OHLC candles.
	MarkPrice
	// FundingRate is the periodic perpetual-futures funding rate.
	FundingRate
	// OpenInterest is outstanding contract totals over time.
	OpenInterest
	// LongShortRatio is the all-accounts long/short participant ratio.
	LongShortRatio
	// TopLSAccounts is the top-trader long/short ratio by accounts.
	TopLSAccounts
	// TopLSPositions is the top-trader long/short ratio by positions.
	TopLSPositions
	// TakerBuySell is the taker buy volume to sell volume ratio.
	TakerBuySell
)

var typeNames = map[DataType]string{
	OHLCV:          "ohlcv",
	IndexPrice:     "index_price",
	MarkPrice:      "mark_price",
	FundingRate:    "funding_rate",
	OpenInterest:   "open_interest",
	LongShortRatio: "long_short_ratio",
	TopLSAccounts:  "top_ls_accounts",
	TopLSPositions: "top_ls_positions",
	TakerBuySell:   "taker_buy_sell",
}

var typeColumns = map[DataType][]string{
	OHLCV: {
		"timestamp", "open", "high", "low", "close", "volume",
		"close_time", "quote_volume", "trades",
		"taker_buy_volume", "taker_buy_quote_volume",
	},
	IndexPrice:  {"timestamp", "open", "high", "low", "close"},
	MarkPrice:   {"timestamp", "open", "high", "low", "close"},
	FundingRate: {"timestamp", "symbol", "funding_rate", "mark_price"},
	OpenInterest: {
		"timestamp", "symbol", "open_interest", "open_interest_value",
	},
	LongShortRatio: {
		"timestamp", "symbol", "long_short_ratio", "long_account", "short_account",
	},
	TopLSAccounts: {
		"timestamp", "symbol", "long_short_ratio", "long_account", "short_account",
	},
	TopLSPositions: {
		"timestamp", "symbol", "long_short_ratio", "long_account", "short_account",
	},
	TakerBuySell: {"timestamp", "buy_sell_ratio", "buy_vol", "sell_vol"},
}

var intervalTypes = map[DataType]bool{
	OHLCV:      true,
	IndexPrice: true,
	MarkPrice:  true,
}

var periodTypes = map[DataType]bool{
	OpenInterest:   true,
	LongShortRatio: true,
	TopLSAccounts:  true,
	TopLSPositions: true,
	TakerBuySell:   true,
}

// String returns the canonical lowercase name used in filenames and CLI flags.
func (dt DataType) String() string {
	if name, ok := typeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

// Valid reports whether dt is one of the defined data types.
func (dt DataType) Valid() bool {
	_, ok := typeNames[dt]
	return ok
}

// Columns returns a copy of the ordered column list for dt.
func (dt DataType) Columns() []string {
	cols := typeColumns[dt]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// UsesInterval reports whether dt is parameterised by a kline interval.
func (dt DataType) UsesInterval() bool {
	return intervalTypes[dt]
}

// UsesPeriod reports whether dt is parameterised by an analytics period.
func (dt DataType) UsesPeriod() bool {
	return periodTypes[dt]
}

// AllDataTypes returns every defined data type in declaration order.
func AllDataTypes() []DataType {
	return []DataType{
		OHLCV, IndexPrice, MarkPrice, FundingRate, OpenInterest,
		LongShortRatio, TopLSAccounts, TopLSPositions, TakerBuySell,
	}
}

// ParseDataType converts a canonical name like "ohlcv" or "funding_rate"
// back into its DataType.
func ParseDataType(name string) (DataType, error) {
	for dt, n := range typeNames {
		if n == name {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}
