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
	binanceBaseURL = "https://fapi.binance.com"

	binanceKlineLimit   = 1500
	binanceFundingLimit = 1000
	binanceStatsLimit   = 500
)

// Binance is the USDT-M futures adapter. It supports every canonical data
// type. All its endpoints paginate forward: request [cursor, end], advance
// the cursor past the last row, stop on an empty or short page.
type Binance struct {
	http    *transport.Client
	baseURL string
	logger  *slog.Logger
}

// NewBinance creates a Binance USDT-M futures source.
func NewBinance(cfg Config) *Binance {
	base := cfg.BaseURL
	if base == "" {
		base = binanceBaseURL
	}
	return &Binance{
		http:    transport.NewClient(cfg.transportConfig()),
		baseURL: base,
		logger:  cfg.logger().With("exchange", "binance"),
	}
}

// Exchange implements Source.
func (b *Binance) Exchange() string { return "binance" }

// Close implements Source.
func (b *Binance) Close() error {
	b.http.Close()
	return nil
}

// Fetch implements Source.
func (b *Binance) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
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
		return b.fetchKlines(ctx, req.Type, "/fapi/v1/klines",
			url.Values{"symbol": {symbol}, "interval": {req.Interval}}, startMS, endMS)
	case schema.IndexPrice:
		// Index klines are keyed by pair, not symbol.
		return b.fetchKlines(ctx, req.Type, "/fapi/v1/indexPriceKlines",
			url.Values{"pair": {symbol}, "interval": {req.Interval}}, startMS, endMS)
	case schema.MarkPrice:
		return b.fetchKlines(ctx, req.Type, "/fapi/v1/markPriceKlines",
			url.Values{"symbol": {symbol}, "interval": {req.Interval}}, startMS, endMS)
	case schema.FundingRate:
		return b.fetchFundingRate(ctx, symbol, startMS, endMS)
	case schema.OpenInterest:
		return b.fetchOpenInterest(ctx, symbol, req.Period, startMS, endMS)
	case schema.LongShortRatio:
		return b.fetchRatio(ctx, schema.LongShortRatio,
			"/futures/data/globalLongShortAccountRatio", symbol, req.Period, startMS, endMS)
	case schema.TopLSAccounts:
		return b.fetchRatio(ctx, schema.TopLSAccounts,
			"/futures/data/topLongShortAccountRatio", symbol, req.Period, startMS, endMS)
	case schema.TopLSPositions:
		return b.fetchRatio(ctx, schema.TopLSPositions,
			"/futures/data/topLongShortPositionRatio", symbol, req.Period, startMS, endMS)
	case schema.TakerBuySell:
		return b.fetchTakerBuySell(ctx, symbol, req.Period, startMS, endMS)
	default:
		return nil, apperrors.Unsupported("binance.fetch",
			"binance adapter does not support %s", req.Type)
	}
}

// paginateForward drives Binance's forward-cursor idiom: request
// [cursor, end], advance the cursor with the page's last row, stop when a
// page is empty or shorter than the limit, or the cursor passes end.
func paginateForward[T any](
	ctx context.Context,
	c *transport.Client,
	logger *slog.Logger,
	endpoint string,
	base url.Values,
	startMS, endMS int64,
	limit int,
	advance func(last T) int64,
) ([]T, error) {
	var all []T
	cursor := startMS

	for cursor < endMS {
		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMS, 10))
		params.Set("limit", strconv.Itoa(limit))

		var page []T
		if err := c.GetJSON(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		logger.Debug("fetched page", "rows", len(page), "total", len(all))

		if len(page) < limit {
			break
		}
		cursor = advance(page[len(page)-1])
	}
	return all, nil
}

func (b *Binance) fetchKlines(ctx context.Context, dt schema.DataType, endpoint string, params url.Values, startMS, endMS int64) (*schema.Table, error) {
	raw, err := paginateForward(ctx, b.http, b.logger, b.baseURL+endpoint, params,
		startMS, endMS, binanceKlineLimit,
		func(last []any) int64 {
			if len(last) < 7 {
				return endMS
			}
			closeTime, _ := jsonInt64(last[6])
			return closeTime + 1
		})
	if err != nil {
		return nil, err
	}
	b.logger.Info("fetched klines", "type", dt.String(), "rows", len(raw))

	table := schema.NewTable(dt)
	for _, row := range raw {
		if len(row) < 11 {
			return nil, apperrors.Exchange("binance.fetch",
				"kline row has %d fields, want 11+", len(row))
		}
		r, err := binanceKlineRow(dt, row)
		if err != nil {
			return nil, err
		}
		if err := table.Append(r); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

// binanceKlineRow maps one raw kline array onto the canonical columns.
// Kline layout: [openTime, o, h, l, c, vol, closeTime, quoteVol, trades,
// takerBuyVol, takerBuyQuoteVol, ignored].
func binanceKlineRow(dt schema.DataType, row []any) (schema.Row, error) {
	openTime, err := jsonInt64(row[0])
	if err != nil {
		return nil, err
	}
	cells := schema.Row{schema.TimeCell(time.UnixMilli(openTime))}
	for _, v := range row[1:5] {
		c, err := floatCell(v)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	if dt != schema.OHLCV {
		return cells, nil
	}

	volume, err := floatCell(row[5])
	if err != nil {
		return nil, err
	}
	closeTime, err := jsonInt64(row[6])
	if err != nil {
		return nil, err
	}
	quoteVolume, err := floatCell(row[7])
	if err != nil {
		return nil, err
	}
	trades, err := jsonInt64(row[8])
	if err != nil {
		return nil, err
	}
	takerBuyVol, err := floatCell(row[9])
	if err != nil {
		return nil, err
	}
	takerBuyQuote, err := floatCell(row[10])
	if err != nil {
		return nil, err
	}
	cells = append(cells,
		volume,
		schema.TimeCell(time.UnixMilli(closeTime)),
		quoteVolume,
		schema.IntCell(trades),
		takerBuyVol,
		takerBuyQuote,
	)
	return cells, nil
}

func (b *Binance) fetchFundingRate(ctx context.Context, symbol string, startMS, endMS int64) (*schema.Table, error) {
	type fundingRecord struct {
		Symbol      string `json:"symbol"`
		FundingTime int64  `json:"fundingTime"`
		FundingRate string `json:"fundingRate"`
		MarkPrice   string `json:"markPrice"`
	}
	raw, err := paginateForward(ctx, b.http, b.logger,
		b.baseURL+"/fapi/v1/fundingRate", url.Values{"symbol": {symbol}},
		startMS, endMS, binanceFundingLimit,
		func(last fundingRecord) int64 { return last.FundingTime + 1 })
	if err != nil {
		return nil, err
	}
	b.logger.Info("fetched funding rates", "symbol", symbol, "rows", len(raw))

	table := schema.NewTable(schema.FundingRate)
	for _, rec := range raw {
		rate, err := schema.FloatCellFromString(rec.FundingRate)
		if err != nil {
			return nil, err
		}
		// Older history entries omit markPrice.
		mark, err := schema.FloatCellFromString(rec.MarkPrice)
		if err != nil {
			return nil, err
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(rec.FundingTime)),
			schema.StringCell(rec.Symbol),
			rate,
			mark,
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

func (b *Binance) fetchOpenInterest(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	type oiRecord struct {
		Symbol               string `json:"symbol"`
		SumOpenInterest      string `json:"sumOpenInterest"`
		SumOpenInterestValue string `json:"sumOpenInterestValue"`
		Timestamp            int64  `json:"timestamp"`
	}
	raw, err := paginateForward(ctx, b.http, b.logger,
		b.baseURL+"/futures/data/openInterestHist",
		url.Values{"symbol": {symbol}, "period": {period}},
		startMS, endMS, binanceStatsLimit,
		func(last oiRecord) int64 { return last.Timestamp + 1 })
	if err != nil {
		return nil, err
	}
	b.logger.Info("fetched open interest", "symbol", symbol, "rows", len(raw))

	table := schema.NewTable(schema.OpenInterest)
	for _, rec := range raw {
		oi, err := schema.FloatCellFromString(rec.SumOpenInterest)
		if err != nil {
			return nil, err
		}
		oiValue, err := schema.FloatCellFromString(rec.SumOpenInterestValue)
		if err != nil {
			return nil, err
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(rec.Timestamp)),
			schema.StringCell(rec.Symbol),
			oi,
			oiValue,
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

func (b *Binance) fetchRatio(ctx context.Context, dt schema.DataType, endpoint, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	type ratioRecord struct {
		Symbol         string `json:"symbol"`
		LongShortRatio string `json:"longShortRatio"`
		LongAccount    string `json:"longAccount"`
		ShortAccount   string `json:"shortAccount"`
		Timestamp      int64  `json:"timestamp"`
	}
	raw, err := paginateForward(ctx, b.http, b.logger,
		b.baseURL+endpoint,
		url.Values{"symbol": {symbol}, "period": {period}},
		startMS, endMS, binanceStatsLimit,
		func(last ratioRecord) int64 { return last.Timestamp + 1 })
	if err != nil {
		return nil, err
	}
	b.logger.Info("fetched long/short ratio", "type", dt.String(), "symbol", symbol, "rows", len(raw))

	table := schema.NewTable(dt)
	for _, rec := range raw {
		ratio, err := schema.FloatCellFromString(rec.LongShortRatio)
		if err != nil {
			return nil, err
		}
		long, err := schema.FloatCellFromString(rec.LongAccount)
		if err != nil {
			return nil, err
		}
		short, err := schema.FloatCellFromString(rec.ShortAccount)
		if err != nil {
			return nil, err
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(rec.Timestamp)),
			schema.StringCell(rec.Symbol),
			ratio,
			long,
			short,
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

func (b *Binance) fetchTakerBuySell(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	type takerRecord struct {
		BuySellRatio string `json:"buySellRatio"`
		BuyVol       string `json:"buyVol"`
		SellVol      string `json:"sellVol"`
		Timestamp    int64  `json:"timestamp"`
	}
	raw, err := paginateForward(ctx, b.http, b.logger,
		b.baseURL+"/futures/data/takerlongshortRatio",
		url.Values{"symbol": {symbol}, "period": {period}},
		startMS, endMS, binanceStatsLimit,
		func(last takerRecord) int64 { return last.Timestamp + 1 })
	if err != nil {
		return nil, err
	}
	b.logger.Info("fetched taker buy/sell", "symbol", symbol, "rows", len(raw))

	table := schema.NewTable(schema.TakerBuySell)
	for _, rec := range raw {
		ratio, err := schema.FloatCellFromString(rec.BuySellRatio)
		if err != nil {
			return nil, err
		}
		buy, err := schema.FloatCellFromString(rec.BuyVol)
		if err != nil {
			return nil, err
		}
		sell, err := schema.FloatCellFromString(rec.SellVol)
		if err != nil {
			return nil, err
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(rec.Timestamp)),
			ratio,
			buy,
			sell,
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}
