package exchange

import (
	"context"
	"encoding/json"
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
	bybitBaseURL = "https://api.bybit.com"

	bybitPageLimit  = 200
	bybitRatioLimit = 500
)

// Canonical interval tokens to Bybit v5 kline intervals.
var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

// Canonical period tokens to Bybit intervalTime/period values.
var bybitPeriods = map[string]string{
	"5m": "5min", "15m": "15min", "30m": "30min",
	"1h": "1h", "4h": "4h", "1d": "1d",
}

// Bybit is the v5 linear-perpetual adapter. Its history endpoints return
// pages newest-first, so the walk runs backward: request [start, end],
// then move end below the oldest row of the page. Rows are sorted
// ascending once the walk finishes.
type Bybit struct {
	http    *transport.Client
	baseURL string
	logger  *slog.Logger
}

// NewBybit creates a Bybit v5 linear source.
func NewBybit(cfg Config) *Bybit {
	base := cfg.BaseURL
	if base == "" {
		base = bybitBaseURL
	}
	return &Bybit{
		http:    transport.NewClient(cfg.transportConfig()),
		baseURL: base,
		logger:  cfg.logger().With("exchange", "bybit"),
	}
}

// Exchange implements Source.
func (b *Bybit) Exchange() string { return "bybit" }

// Close implements Source.
func (b *Bybit) Close() error {
	b.http.Close()
	return nil
}

// Fetch implements Source.
func (b *Bybit) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	startMS, endMS, err := req.Window()
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	switch req.Type {
	case schema.OHLCV:
		return b.fetchKlines(ctx, req.Type, "/v5/market/kline", symbol, req.Interval, startMS, endMS)
	case schema.IndexPrice:
		return b.fetchKlines(ctx, req.Type, "/v5/market/index-price-kline", symbol, req.Interval, startMS, endMS)
	case schema.MarkPrice:
		return b.fetchKlines(ctx, req.Type, "/v5/market/mark-price-kline", symbol, req.Interval, startMS, endMS)
	case schema.FundingRate:
		return b.fetchFundingRate(ctx, symbol, startMS, endMS)
	case schema.OpenInterest:
		return b.fetchOpenInterest(ctx, symbol, req.Period, startMS, endMS)
	case schema.LongShortRatio:
		return b.fetchAccountRatio(ctx, symbol, req.Period, startMS, endMS)
	default:
		return nil, apperrors.Unsupported("bybit.fetch",
			"bybit adapter does not support %s", req.Type)
	}
}

// bybitEnvelope is the v5 response wrapper. retCode 0 means success.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// getResult fetches endpoint, checks the v5 envelope and unmarshals the
// result object into out.
func (b *Bybit) getResult(ctx context.Context, endpoint string, params url.Values, out any) error {
	var env bybitEnvelope
	if err := b.http.GetJSON(ctx, b.baseURL+endpoint, params, &env); err != nil {
		return err
	}
	if env.RetCode != 0 {
		return apperrors.Exchange("bybit.fetch",
			"retCode %d: %s", env.RetCode, env.RetMsg)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperrors.Exchange("bybit.fetch", "bad result payload: %v", err)
	}
	return nil
}

func (b *Bybit) fetchKlines(ctx context.Context, dt schema.DataType, endpoint, symbol, interval string, startMS, endMS int64) (*schema.Table, error) {
	barSize, ok := bybitIntervals[interval]
	if !ok {
		return nil, apperrors.Unsupported("bybit.fetch",
			"bybit does not support interval %q", interval)
	}

	table := schema.NewTable(dt)
	cursorEnd := endMS

	for cursorEnd > startMS {
		params := url.Values{
			"category": {"linear"},
			"symbol":   {symbol},
			"interval": {barSize},
			"start":    {strconv.FormatInt(startMS, 10)},
			"end":      {strconv.FormatInt(cursorEnd, 10)},
			"limit":    {strconv.Itoa(bybitPageLimit)},
		}
		var result struct {
			List [][]string `json:"list"`
		}
		if err := b.getResult(ctx, endpoint, params, &result); err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			break
		}
		b.logger.Debug("fetched page", "rows", len(result.List), "total", table.Len()+len(result.List))

		var oldest int64
		for _, raw := range result.List {
			row, ts, err := bybitKlineRow(dt, raw)
			if err != nil {
				return nil, err
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
			oldest = ts
		}
		if len(result.List) < bybitPageLimit || oldest <= startMS {
			break
		}
		cursorEnd = oldest - 1
	}
	b.logger.Info("fetched klines", "type", dt.String(), "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

// bybitKlineRow maps one v5 kline array [ts, o, h, l, c, vol, turnover]
// onto the canonical columns. Index and mark-price klines carry only the
// first five fields. Bybit klines have no per-bar trade count or taker
// split, so trades is zero and those columns are null.
func bybitKlineRow(dt schema.DataType, raw []string) (schema.Row, int64, error) {
	if len(raw) < 5 {
		return nil, 0, apperrors.Exchange("bybit.fetch",
			"kline row has %d fields, want 5+", len(raw))
	}
	ts, err := strconv.ParseInt(raw[0], 10, 64)
	if err != nil {
		return nil, 0, apperrors.Exchange("bybit.fetch", "bad kline timestamp %q", raw[0])
	}
	cells := schema.Row{schema.TimeCell(time.UnixMilli(ts))}
	for _, v := range raw[1:5] {
		c, err := schema.FloatCellFromString(v)
		if err != nil {
			return nil, 0, err
		}
		cells = append(cells, c)
	}
	if dt != schema.OHLCV {
		return cells, ts, nil
	}

	if len(raw) < 7 {
		return nil, 0, apperrors.Exchange("bybit.fetch",
			"ohlcv kline row has %d fields, want 7", len(raw))
	}
	volume, err := schema.FloatCellFromString(raw[5])
	if err != nil {
		return nil, 0, err
	}
	turnover, err := schema.FloatCellFromString(raw[6])
	if err != nil {
		return nil, 0, err
	}
	cells = append(cells,
		volume,
		schema.NullCell(),
		turnover,
		schema.IntCell(0),
		schema.NullCell(),
		schema.NullCell(),
	)
	return cells, ts, nil
}

func (b *Bybit) fetchFundingRate(ctx context.Context, symbol string, startMS, endMS int64) (*schema.Table, error) {
	type fundingRecord struct {
		Symbol               string `json:"symbol"`
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	}

	table := schema.NewTable(schema.FundingRate)
	cursorEnd := endMS

	for cursorEnd > startMS {
		params := url.Values{
			"category":  {"linear"},
			"symbol":    {symbol},
			"startTime": {strconv.FormatInt(startMS, 10)},
			"endTime":   {strconv.FormatInt(cursorEnd, 10)},
			"limit":     {strconv.Itoa(bybitPageLimit)},
		}
		var result struct {
			List []fundingRecord `json:"list"`
		}
		if err := b.getResult(ctx, "/v5/market/funding/history", params, &result); err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			break
		}

		var oldest int64
		for _, rec := range result.List {
			ts, err := strconv.ParseInt(rec.FundingRateTimestamp, 10, 64)
			if err != nil {
				return nil, apperrors.Exchange("bybit.fetch",
					"bad funding timestamp %q", rec.FundingRateTimestamp)
			}
			rate, err := schema.FloatCellFromString(rec.FundingRate)
			if err != nil {
				return nil, err
			}
			row := schema.Row{
				schema.TimeCell(time.UnixMilli(ts)),
				schema.StringCell(rec.Symbol),
				rate,
				schema.NullCell(),
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
			oldest = ts
		}
		if len(result.List) < bybitPageLimit || oldest <= startMS {
			break
		}
		cursorEnd = oldest - 1
	}
	b.logger.Info("fetched funding rates", "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

func (b *Bybit) fetchOpenInterest(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	intervalTime, ok := bybitPeriods[period]
	if !ok {
		return nil, apperrors.Unsupported("bybit.fetch",
			"bybit does not support period %q", period)
	}
	type oiRecord struct {
		OpenInterest string `json:"openInterest"`
		Timestamp    string `json:"timestamp"`
	}

	table := schema.NewTable(schema.OpenInterest)
	cursor := ""

	for {
		params := url.Values{
			"category":     {"linear"},
			"symbol":       {symbol},
			"intervalTime": {intervalTime},
			"startTime":    {strconv.FormatInt(startMS, 10)},
			"endTime":      {strconv.FormatInt(endMS, 10)},
			"limit":        {strconv.Itoa(bybitPageLimit)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var result struct {
			List           []oiRecord `json:"list"`
			NextPageCursor string     `json:"nextPageCursor"`
		}
		if err := b.getResult(ctx, "/v5/market/open-interest", params, &result); err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			break
		}

		for _, rec := range result.List {
			ts, err := strconv.ParseInt(rec.Timestamp, 10, 64)
			if err != nil {
				return nil, apperrors.Exchange("bybit.fetch",
					"bad open interest timestamp %q", rec.Timestamp)
			}
			oi, err := schema.FloatCellFromString(rec.OpenInterest)
			if err != nil {
				return nil, err
			}
			row := schema.Row{
				schema.TimeCell(time.UnixMilli(ts)),
				schema.StringCell(symbol),
				oi,
				schema.NullCell(),
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
		}
		if result.NextPageCursor == "" || len(result.List) < bybitPageLimit {
			break
		}
		cursor = result.NextPageCursor
	}
	b.logger.Info("fetched open interest", "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

// fetchAccountRatio pulls the long/short account ratio. The endpoint has
// no time parameters, so a single request is made and the window filter
// trims the result.
func (b *Bybit) fetchAccountRatio(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	token, ok := bybitPeriods[period]
	if !ok {
		return nil, apperrors.Unsupported("bybit.fetch",
			"bybit does not support period %q", period)
	}
	type ratioRecord struct {
		Symbol    string `json:"symbol"`
		BuyRatio  string `json:"buyRatio"`
		SellRatio string `json:"sellRatio"`
		Timestamp string `json:"timestamp"`
	}
	params := url.Values{
		"category": {"linear"},
		"symbol":   {symbol},
		"period":   {token},
		"limit":    {strconv.Itoa(bybitRatioLimit)},
	}
	var result struct {
		List []ratioRecord `json:"list"`
	}
	if err := b.getResult(ctx, "/v5/market/account-ratio", params, &result); err != nil {
		return nil, err
	}

	table := schema.NewTable(schema.LongShortRatio)
	for _, rec := range result.List {
		ts, err := strconv.ParseInt(rec.Timestamp, 10, 64)
		if err != nil {
			return nil, apperrors.Exchange("bybit.fetch",
				"bad ratio timestamp %q", rec.Timestamp)
		}
		buy, err := schema.ParseFloat(rec.BuyRatio)
		if err != nil {
			return nil, apperrors.Exchange("bybit.fetch", "bad buyRatio %q", rec.BuyRatio)
		}
		sell, err := schema.ParseFloat(rec.SellRatio)
		if err != nil {
			return nil, apperrors.Exchange("bybit.fetch", "bad sellRatio %q", rec.SellRatio)
		}
		ratio := schema.NullCell()
		if sell != 0 {
			ratio = schema.FloatCell(buy / sell)
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(ts)),
			schema.StringCell(rec.Symbol),
			ratio,
			schema.FloatCell(buy),
			schema.FloatCell(sell),
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	b.logger.Info("fetched long/short ratio", "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}
