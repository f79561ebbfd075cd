package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
	"github.com/quantfetch/marketdata/internal/transport"
)

const (
	coinbaseBaseURL    = "https://api.exchange.coinbase.com"
	coinbaseMaxCandles = 300
)

// Interval tokens to Coinbase candle granularity in seconds.
var coinbaseGranularities = map[string]int64{
	"1m": 60, "5m": 300, "15m": 900,
	"1h": 3600, "6h": 21600, "1d": 86400,
}

// Coinbase is the spot exchange adapter. Only OHLCV is available. The
// candles endpoint caps each response at 300 rows, so the fetch walks
// fixed windows of granularity multiplied by that cap.
type Coinbase struct {
	http    *transport.Client
	baseURL string
	logger  *slog.Logger
}

// NewCoinbase creates a Coinbase spot source.
func NewCoinbase(cfg Config) *Coinbase {
	base := cfg.BaseURL
	if base == "" {
		base = coinbaseBaseURL
	}
	return &Coinbase{
		http:    transport.NewClient(cfg.transportConfig()),
		baseURL: base,
		logger:  cfg.logger().With("exchange", "coinbase"),
	}
}

// Exchange implements Source.
func (c *Coinbase) Exchange() string { return "coinbase" }

// Close implements Source.
func (c *Coinbase) Close() error {
	c.http.Close()
	return nil
}

// coinbaseProductID converts a compact symbol to a Coinbase product ID:
// BTCUSDT -> BTC-USDT. Symbols already containing a dash pass through.
func coinbaseProductID(symbol string) (string, error) {
	if strings.Contains(symbol, "-") {
		return symbol, nil
	}
	for _, quote := range []string{"USDT", "USD"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok {
			return base + "-" + quote, nil
		}
	}
	return "", apperrors.BadInput("coinbase.fetch",
		"cannot convert symbol %q to a coinbase product id", symbol)
}

// Fetch implements Source.
func (c *Coinbase) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	startMS, endMS, err := req.Window()
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	if req.Type != schema.OHLCV {
		return nil, apperrors.Unsupported("coinbase.fetch",
			"coinbase adapter does not support %s", req.Type)
	}
	return c.fetchOHLCV(ctx, symbol, req.Interval, startMS, endMS)
}

func (c *Coinbase) fetchOHLCV(ctx context.Context, symbol, interval string, startMS, endMS int64) (*schema.Table, error) {
	granularity, ok := coinbaseGranularities[interval]
	if !ok {
		return nil, apperrors.Unsupported("coinbase.fetch",
			"coinbase does not support interval %q", interval)
	}
	productID, err := coinbaseProductID(symbol)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/products/" + productID + "/candles"

	table := schema.NewTable(schema.OHLCV)
	currentStart := startMS / 1000
	endS := endMS / 1000

	for currentStart < endS {
		chunkEnd := currentStart + granularity*coinbaseMaxCandles
		if chunkEnd > endS {
			chunkEnd = endS
		}
		params := url.Values{
			"start":       {time.Unix(currentStart, 0).UTC().Format(time.RFC3339)},
			"end":         {time.Unix(chunkEnd, 0).UTC().Format(time.RFC3339)},
			"granularity": {strconv.FormatInt(granularity, 10)},
		}

		var page [][]any
		if err := c.http.GetJSON(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		c.logger.Debug("fetched chunk", "rows", len(page), "total", table.Len()+len(page))

		for _, raw := range page {
			row, err := coinbaseCandleRow(raw)
			if err != nil {
				return nil, err
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
		}
		currentStart = chunkEnd
	}
	c.logger.Info("fetched candles", "product", productID, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

// coinbaseCandleRow maps one candle [time, low, high, open, close,
// volume] (seconds, numeric) onto the canonical columns. Coinbase has
// no close time, quote volume, trade count or taker split.
func coinbaseCandleRow(raw []any) (schema.Row, error) {
	if len(raw) < 6 {
		return nil, apperrors.Exchange("coinbase.fetch",
			"candle row has %d fields, want 6", len(raw))
	}
	ts, err := jsonInt64(raw[0])
	if err != nil {
		return nil, err
	}
	low, err := floatCell(raw[1])
	if err != nil {
		return nil, err
	}
	high, err := floatCell(raw[2])
	if err != nil {
		return nil, err
	}
	open, err := floatCell(raw[3])
	if err != nil {
		return nil, err
	}
	closePrice, err := floatCell(raw[4])
	if err != nil {
		return nil, err
	}
	volume, err := floatCell(raw[5])
	if err != nil {
		return nil, err
	}
	return schema.Row{
		schema.TimeCell(time.Unix(ts, 0)),
		open,
		high,
		low,
		closePrice,
		volume,
		schema.NullCell(),
		schema.NullCell(),
		schema.IntCell(0),
		schema.NullCell(),
		schema.NullCell(),
	}, nil
}
