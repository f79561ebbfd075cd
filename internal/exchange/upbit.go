package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
	"github.com/quantfetch/marketdata/internal/transport"
)

const (
	upbitBaseURL   = "https://api.upbit.com/v1"
	upbitPageCount = 200

	upbitTimeLayout = "2006-01-02T15:04:05"
)

// Interval tokens to Upbit candle endpoint paths.
var upbitEndpoints = map[string]string{
	"1m":  "/candles/minutes/1",
	"3m":  "/candles/minutes/3",
	"5m":  "/candles/minutes/5",
	"15m": "/candles/minutes/15",
	"30m": "/candles/minutes/30",
	"1h":  "/candles/minutes/60",
	"4h":  "/candles/minutes/240",
	"1d":  "/candles/days",
	"1w":  "/candles/weeks",
	"1M":  "/candles/months",
}

var upbitSymbolPattern = regexp.MustCompile(`^([A-Z0-9]+)(KRW|USDT|BTC|ETH)$`)

// Upbit is the spot adapter. Only OHLCV is available; candles are
// fetched newest first by walking the `to` parameter backward.
type Upbit struct {
	http    *transport.Client
	baseURL string
	logger  *slog.Logger
}

// NewUpbit creates an Upbit spot source.
func NewUpbit(cfg Config) *Upbit {
	base := cfg.BaseURL
	if base == "" {
		base = upbitBaseURL
	}
	return &Upbit{
		http:    transport.NewClient(cfg.transportConfig()),
		baseURL: base,
		logger:  cfg.logger().With("exchange", "upbit"),
	}
}

// Exchange implements Source.
func (u *Upbit) Exchange() string { return "upbit" }

// Close implements Source.
func (u *Upbit) Close() error {
	u.http.Close()
	return nil
}

// upbitMarket converts a compact symbol to Upbit market form, which
// puts the quote currency first: BTCUSDT -> USDT-BTC, ETHKRW -> KRW-ETH.
// Symbols already containing a dash pass through.
func upbitMarket(symbol string) (string, error) {
	if strings.Contains(symbol, "-") {
		return symbol, nil
	}
	m := upbitSymbolPattern.FindStringSubmatch(symbol)
	if m == nil {
		return "", apperrors.BadInput("upbit.fetch",
			"cannot convert symbol %q to an upbit market", symbol)
	}
	return m[2] + "-" + m[1], nil
}

// Fetch implements Source.
func (u *Upbit) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	startMS, endMS, err := req.Window()
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	if req.Type != schema.OHLCV {
		return nil, apperrors.Unsupported("upbit.fetch",
			"upbit adapter does not support %s", req.Type)
	}
	return u.fetchOHLCV(ctx, symbol, req.Interval, startMS, endMS)
}

// upbitCandle is one record from any of the candle endpoints.
type upbitCandle struct {
	CandleDateTimeUTC string  `json:"candle_date_time_utc"`
	OpeningPrice      float64 `json:"opening_price"`
	HighPrice         float64 `json:"high_price"`
	LowPrice          float64 `json:"low_price"`
	TradePrice        float64 `json:"trade_price"`
	AccTradeVolume    float64 `json:"candle_acc_trade_volume"`
	AccTradePrice     float64 `json:"candle_acc_trade_price"`
	Timestamp         int64   `json:"timestamp"`
}

func (u *Upbit) fetchOHLCV(ctx context.Context, symbol, interval string, startMS, endMS int64) (*schema.Table, error) {
	endpoint, ok := upbitEndpoints[interval]
	if !ok {
		return nil, apperrors.Unsupported("upbit.fetch",
			"upbit does not support interval %q", interval)
	}
	market, err := upbitMarket(symbol)
	if err != nil {
		return nil, err
	}

	table := schema.NewTable(schema.OHLCV)
	currentTo := endMS

	for {
		params := url.Values{
			"market": {market},
			"to":     {time.UnixMilli(currentTo).UTC().Format(upbitTimeLayout)},
			"count":  {strconv.Itoa(upbitPageCount)},
		}
		var page []upbitCandle
		if err := u.http.GetJSON(ctx, u.baseURL+endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		added := 0
		oldest := page[0].Timestamp
		for _, rec := range page {
			if rec.Timestamp < oldest {
				oldest = rec.Timestamp
			}
			if rec.Timestamp < startMS {
				continue
			}
			row, err := upbitCandleRow(rec)
			if err != nil {
				return nil, err
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
			added++
		}
		u.logger.Debug("fetched page", "rows", added, "total", table.Len())

		if len(page) < upbitPageCount || oldest <= startMS {
			break
		}
		currentTo = oldest
	}
	u.logger.Info("fetched candles", "market", market, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

// upbitCandleRow maps one candle record onto the canonical columns.
// Upbit has no close time, trade count or taker split; the accumulated
// trade price stands in for quote volume.
func upbitCandleRow(rec upbitCandle) (schema.Row, error) {
	ts, err := time.Parse(upbitTimeLayout, rec.CandleDateTimeUTC)
	if err != nil {
		return nil, apperrors.Exchange("upbit.fetch",
			"bad candle time %q", rec.CandleDateTimeUTC)
	}
	return schema.Row{
		schema.TimeCell(ts),
		schema.FloatCell(rec.OpeningPrice),
		schema.FloatCell(rec.HighPrice),
		schema.FloatCell(rec.LowPrice),
		schema.FloatCell(rec.TradePrice),
		schema.FloatCell(rec.AccTradeVolume),
		schema.NullCell(),
		schema.FloatCell(rec.AccTradePrice),
		schema.IntCell(0),
		schema.NullCell(),
		schema.NullCell(),
	}, nil
}
