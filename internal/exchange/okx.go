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
	okxBaseURL   = "https://www.okx.com"
	okxPageLimit = 100
)

// OKX is the v5 USDT-margined swap adapter. Kline and funding history
// paginate backward with the `after` cursor; the rubik analytics
// endpoints walk `end` backward instead.
type OKX struct {
	http    *transport.Client
	baseURL string
	logger  *slog.Logger
}

// NewOKX creates an OKX v5 swap source.
func NewOKX(cfg Config) *OKX {
	base := cfg.BaseURL
	if base == "" {
		base = okxBaseURL
	}
	return &OKX{
		http:    transport.NewClient(cfg.transportConfig()),
		baseURL: base,
		logger:  cfg.logger().With("exchange", "okx"),
	}
}

// Exchange implements Source.
func (o *OKX) Exchange() string { return "okx" }

// Close implements Source.
func (o *OKX) Close() error {
	o.http.Close()
	return nil
}

// okxInstID converts a compact symbol to the swap instrument ID:
// BTCUSDT -> BTC-USDT-SWAP.
func okxInstID(symbol string) (string, error) {
	for _, quote := range []string{"USDT", "USD"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok {
			return base + "-" + quote + "-SWAP", nil
		}
	}
	return "", apperrors.BadInput("okx.fetch",
		"cannot convert symbol %q to an okx instrument id", symbol)
}

// okxIndexInstID converts a compact symbol to the index instrument ID:
// BTCUSDT -> BTC-USDT.
func okxIndexInstID(symbol string) (string, error) {
	for _, quote := range []string{"USDT", "USD"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok {
			return base + "-" + quote, nil
		}
	}
	return "", apperrors.BadInput("okx.fetch",
		"cannot convert symbol %q to an okx index instrument id", symbol)
}

// okxCcy extracts the base currency: BTCUSDT -> BTC.
func okxCcy(symbol string) (string, error) {
	for _, quote := range []string{"USDT", "USD"} {
		if base, ok := strings.CutSuffix(symbol, quote); ok {
			return base, nil
		}
	}
	return "", apperrors.BadInput("okx.fetch",
		"cannot extract base currency from symbol %q", symbol)
}

// okxBar converts a granularity token to OKX form: hours, days and
// weeks are uppercased (1h -> 1H), minutes and months pass through.
func okxBar(token string) string {
	if token == "" {
		return token
	}
	switch token[len(token)-1] {
	case 'h', 'd', 'w':
		return token[:len(token)-1] + strings.ToUpper(token[len(token)-1:])
	}
	return token
}

// Fetch implements Source.
func (o *OKX) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
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
		instID, err := okxInstID(symbol)
		if err != nil {
			return nil, err
		}
		return o.fetchCandles(ctx, req.Type, "/api/v5/market/history-candles",
			instID, req.Interval, startMS, endMS)
	case schema.IndexPrice:
		instID, err := okxIndexInstID(symbol)
		if err != nil {
			return nil, err
		}
		return o.fetchCandles(ctx, req.Type, "/api/v5/market/index-candles",
			instID, req.Interval, startMS, endMS)
	case schema.MarkPrice:
		instID, err := okxInstID(symbol)
		if err != nil {
			return nil, err
		}
		return o.fetchCandles(ctx, req.Type, "/api/v5/market/mark-price-candles",
			instID, req.Interval, startMS, endMS)
	case schema.FundingRate:
		return o.fetchFundingRate(ctx, symbol, startMS, endMS)
	case schema.OpenInterest:
		return o.fetchOpenInterest(ctx, symbol, req.Period, startMS, endMS)
	case schema.LongShortRatio:
		return o.fetchLongShortRatio(ctx, symbol, req.Period, startMS, endMS)
	case schema.TakerBuySell:
		return o.fetchTakerBuySell(ctx, symbol, req.Period, startMS, endMS)
	default:
		return nil, apperrors.Unsupported("okx.fetch",
			"okx adapter does not support %s", req.Type)
	}
}

// getData fetches endpoint, checks the v5 envelope and unmarshals the
// data array into out.
func (o *OKX) getData(ctx context.Context, endpoint string, params url.Values, out any) error {
	var env struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := o.http.GetJSON(ctx, o.baseURL+endpoint, params, &env); err != nil {
		return err
	}
	if env.Code != "0" {
		return apperrors.Exchange("okx.fetch", "code %s: %s", env.Code, env.Msg)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Exchange("okx.fetch", "bad data payload: %v", err)
	}
	return nil
}

// paginateAfter drives the `after` cursor idiom: pages come newest
// first, after=ts yields rows strictly older than ts. The walk moves
// backward from end until it passes start or a page comes up short.
func paginateAfter[T any](
	ctx context.Context,
	o *OKX,
	endpoint string,
	base url.Values,
	startMS, endMS int64,
	rowTime func(last T) (int64, error),
) ([]T, error) {
	var all []T
	cursor := endMS

	for {
		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("after", strconv.FormatInt(cursor, 10))
		params.Set("limit", strconv.Itoa(okxPageLimit))

		var page []T
		if err := o.getData(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		oldest, err := rowTime(page[len(page)-1])
		if err != nil {
			return nil, err
		}
		o.logger.Debug("fetched page", "rows", len(page), "total", len(all))

		if oldest <= startMS || len(page) < okxPageLimit {
			break
		}
		cursor = oldest
	}
	return all, nil
}

// paginateRubik drives the analytics endpoints, which take begin/end
// parameters and also return rows newest first.
func (o *OKX) paginateRubik(ctx context.Context, endpoint string, base url.Values, startMS, endMS int64) ([][]string, error) {
	var all [][]string
	currentEnd := endMS

	for {
		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("begin", strconv.FormatInt(startMS, 10))
		params.Set("end", strconv.FormatInt(currentEnd, 10))

		var page [][]string
		if err := o.getData(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		last := page[len(page)-1]
		if len(last) == 0 {
			return nil, apperrors.Exchange("okx.fetch", "empty analytics row")
		}
		oldest, err := strconv.ParseInt(last[0], 10, 64)
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad analytics timestamp %q", last[0])
		}
		o.logger.Debug("fetched page", "rows", len(page), "total", len(all))

		if oldest <= startMS || len(page) < okxPageLimit {
			break
		}
		currentEnd = oldest - 1
	}
	return all, nil
}

func (o *OKX) fetchCandles(ctx context.Context, dt schema.DataType, endpoint, instID, interval string, startMS, endMS int64) (*schema.Table, error) {
	raw, err := paginateAfter(ctx, o, endpoint,
		url.Values{"instId": {instID}, "bar": {okxBar(interval)}},
		startMS, endMS,
		func(last []string) (int64, error) {
			if len(last) == 0 {
				return 0, apperrors.Exchange("okx.fetch", "empty candle row")
			}
			ts, err := strconv.ParseInt(last[0], 10, 64)
			if err != nil {
				return 0, apperrors.Exchange("okx.fetch", "bad candle timestamp %q", last[0])
			}
			return ts, nil
		})
	if err != nil {
		return nil, err
	}
	o.logger.Info("fetched candles", "type", dt.String(), "instId", instID, "rows", len(raw))

	table := schema.NewTable(dt)
	for _, row := range raw {
		r, err := okxCandleRow(dt, row)
		if err != nil {
			return nil, err
		}
		if err := table.Append(r); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

// okxCandleRow maps a candle array [ts, o, h, l, c, vol, volCcy,
// volCcyQuote, confirm] onto the canonical columns. OKX has no separate
// close time, so the open timestamp stands in for it; there is no trade
// count or taker split either.
func okxCandleRow(dt schema.DataType, raw []string) (schema.Row, error) {
	if len(raw) < 5 {
		return nil, apperrors.Exchange("okx.fetch",
			"candle row has %d fields, want 5+", len(raw))
	}
	ts, err := strconv.ParseInt(raw[0], 10, 64)
	if err != nil {
		return nil, apperrors.Exchange("okx.fetch", "bad candle timestamp %q", raw[0])
	}
	cells := schema.Row{schema.TimeCell(time.UnixMilli(ts))}
	for _, v := range raw[1:5] {
		c, err := schema.FloatCellFromString(v)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	if dt != schema.OHLCV {
		return cells, nil
	}

	if len(raw) < 8 {
		return nil, apperrors.Exchange("okx.fetch",
			"ohlcv candle row has %d fields, want 8+", len(raw))
	}
	volume, err := schema.FloatCellFromString(raw[5])
	if err != nil {
		return nil, err
	}
	quoteVolume, err := schema.FloatCellFromString(raw[7])
	if err != nil {
		return nil, err
	}
	cells = append(cells,
		volume,
		schema.TimeCell(time.UnixMilli(ts)),
		quoteVolume,
		schema.IntCell(0),
		schema.NullCell(),
		schema.NullCell(),
	)
	return cells, nil
}

func (o *OKX) fetchFundingRate(ctx context.Context, symbol string, startMS, endMS int64) (*schema.Table, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}
	type fundingRecord struct {
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
	}
	raw, err := paginateAfter(ctx, o, "/api/v5/public/funding-rate-history",
		url.Values{"instId": {instID}},
		startMS, endMS,
		func(last fundingRecord) (int64, error) {
			ts, err := strconv.ParseInt(last.FundingTime, 10, 64)
			if err != nil {
				return 0, apperrors.Exchange("okx.fetch", "bad funding timestamp %q", last.FundingTime)
			}
			return ts, nil
		})
	if err != nil {
		return nil, err
	}
	o.logger.Info("fetched funding rates", "instId", instID, "rows", len(raw))

	table := schema.NewTable(schema.FundingRate)
	for _, rec := range raw {
		ts, err := strconv.ParseInt(rec.FundingTime, 10, 64)
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad funding timestamp %q", rec.FundingTime)
		}
		rate, err := schema.FloatCellFromString(rec.FundingRate)
		if err != nil {
			return nil, err
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(ts)),
			schema.StringCell(symbol),
			rate,
			schema.NullCell(),
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

func (o *OKX) fetchOpenInterest(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := o.paginateRubik(ctx, "/api/v5/rubik/stat/contracts-open-interest-history",
		url.Values{"instId": {instID}, "period": {okxBar(period)}}, startMS, endMS)
	if err != nil {
		return nil, err
	}
	o.logger.Info("fetched open interest", "instId", instID, "rows", len(raw))

	table := schema.NewTable(schema.OpenInterest)
	for _, rec := range raw {
		// Rows are [ts, oi, oiCcy].
		if len(rec) < 3 {
			return nil, apperrors.Exchange("okx.fetch",
				"open interest row has %d fields, want 3", len(rec))
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad open interest timestamp %q", rec[0])
		}
		oi, err := schema.FloatCellFromString(rec[1])
		if err != nil {
			return nil, err
		}
		oiValue, err := schema.FloatCellFromString(rec[2])
		if err != nil {
			return nil, err
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(ts)),
			schema.StringCell(symbol),
			oi,
			oiValue,
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

func (o *OKX) fetchLongShortRatio(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := o.paginateRubik(ctx, "/api/v5/rubik/stat/contracts-long-short-account-ratio",
		url.Values{"instId": {instID}, "period": {okxBar(period)}}, startMS, endMS)
	if err != nil {
		return nil, err
	}
	o.logger.Info("fetched long/short ratio", "instId", instID, "rows", len(raw))

	table := schema.NewTable(schema.LongShortRatio)
	for _, rec := range raw {
		// Rows are [ts, ratio]; OKX reports only the ratio, so the
		// account shares are derived from it.
		if len(rec) < 2 {
			return nil, apperrors.Exchange("okx.fetch",
				"ratio row has %d fields, want 2", len(rec))
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad ratio timestamp %q", rec[0])
		}
		ratio, err := schema.ParseFloat(rec[1])
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad ratio %q", rec[1])
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(ts)),
			schema.StringCell(symbol),
			schema.FloatCell(ratio),
			schema.FloatCell(ratio / (1 + ratio)),
			schema.FloatCell(1 / (1 + ratio)),
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}

func (o *OKX) fetchTakerBuySell(ctx context.Context, symbol, period string, startMS, endMS int64) (*schema.Table, error) {
	ccy, err := okxCcy(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := o.paginateRubik(ctx, "/api/v5/rubik/stat/taker-volume",
		url.Values{"ccy": {ccy}, "instType": {"CONTRACTS"}, "period": {okxBar(period)}},
		startMS, endMS)
	if err != nil {
		return nil, err
	}
	o.logger.Info("fetched taker buy/sell", "ccy", ccy, "rows", len(raw))

	table := schema.NewTable(schema.TakerBuySell)
	for _, rec := range raw {
		// Rows are [ts, sellVol, buyVol].
		if len(rec) < 3 {
			return nil, apperrors.Exchange("okx.fetch",
				"taker volume row has %d fields, want 3", len(rec))
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad taker timestamp %q", rec[0])
		}
		sell, err := schema.ParseFloat(rec[1])
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad sellVol %q", rec[1])
		}
		buy, err := schema.ParseFloat(rec[2])
		if err != nil {
			return nil, apperrors.Exchange("okx.fetch", "bad buyVol %q", rec[2])
		}
		ratio := schema.NullCell()
		if sell != 0 {
			ratio = schema.FloatCell(buy / sell)
		}
		row := schema.Row{
			schema.TimeCell(time.UnixMilli(ts)),
			ratio,
			schema.FloatCell(buy),
			schema.FloatCell(sell),
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}
