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
	phemexBaseURL      = "https://api.phemex.com"
	phemexFundingLimit = 100
)

// Interval tokens to Phemex kline resolution in seconds.
var phemexResolutions = map[string]int64{
	"1m": 60, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "4h": 14400, "1d": 86400,
}

// Phemex is the USDT-M futures adapter. It serves OHLCV and funding
// history; both walk forward, klines by last timestamp plus one
// resolution step, funding by last funding time plus one.
type Phemex struct {
	http    *transport.Client
	baseURL string
	logger  *slog.Logger
}

// NewPhemex creates a Phemex futures source.
func NewPhemex(cfg Config) *Phemex {
	base := cfg.BaseURL
	if base == "" {
		base = phemexBaseURL
	}
	return &Phemex{
		http:    transport.NewClient(cfg.transportConfig()),
		baseURL: base,
		logger:  cfg.logger().With("exchange", "phemex"),
	}
}

// Exchange implements Source.
func (p *Phemex) Exchange() string { return "phemex" }

// Close implements Source.
func (p *Phemex) Close() error {
	p.http.Close()
	return nil
}

// Fetch implements Source.
func (p *Phemex) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
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
		return p.fetchOHLCV(ctx, symbol, req.Interval, startMS, endMS)
	case schema.FundingRate:
		return p.fetchFundingRate(ctx, symbol, startMS, endMS)
	default:
		return nil, apperrors.Unsupported("phemex.fetch",
			"phemex adapter does not support %s", req.Type)
	}
}

// getData fetches endpoint, checks the code/msg envelope and unmarshals
// the data object into out.
func (p *Phemex) getData(ctx context.Context, endpoint string, params url.Values, out any) error {
	var env struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := p.http.GetJSON(ctx, p.baseURL+endpoint, params, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return apperrors.Exchange("phemex.fetch", "code %d: %s", env.Code, env.Msg)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Exchange("phemex.fetch", "bad data payload: %v", err)
	}
	return nil
}

func (p *Phemex) fetchOHLCV(ctx context.Context, symbol, interval string, startMS, endMS int64) (*schema.Table, error) {
	resolution, ok := phemexResolutions[interval]
	if !ok {
		return nil, apperrors.Unsupported("phemex.fetch",
			"phemex does not support interval %q", interval)
	}
	startS := startMS / 1000
	endS := endMS / 1000

	table := schema.NewTable(schema.OHLCV)
	current := startS

	for current < endS {
		params := url.Values{
			"symbol":     {symbol},
			"resolution": {strconv.FormatInt(resolution, 10)},
			"from":       {strconv.FormatInt(current, 10)},
			"to":         {strconv.FormatInt(endS, 10)},
		}
		var data struct {
			Rows [][]any `json:"rows"`
		}
		if err := p.getData(ctx, "/exchange/public/md/v2/kline/list", params, &data); err != nil {
			return nil, err
		}
		if len(data.Rows) == 0 {
			break
		}
		p.logger.Debug("fetched page", "rows", len(data.Rows), "total", table.Len()+len(data.Rows))

		var lastTS int64
		for _, raw := range data.Rows {
			row, ts, err := phemexKlineRow(raw)
			if err != nil {
				return nil, err
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
			lastTS = ts
		}
		next := lastTS + resolution
		if next <= current {
			break
		}
		current = next
	}
	p.logger.Info("fetched klines", "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

// phemexKlineRow maps one kline row [ts, interval, lastClose, open,
// high, low, close, volume, turnover, symbol] (seconds) onto the
// canonical columns. No close time, trade count or taker split.
func phemexKlineRow(raw []any) (schema.Row, int64, error) {
	if len(raw) < 9 {
		return nil, 0, apperrors.Exchange("phemex.fetch",
			"kline row has %d fields, want 9+", len(raw))
	}
	ts, err := jsonInt64(raw[0])
	if err != nil {
		return nil, 0, err
	}
	cells := schema.Row{schema.TimeCell(time.Unix(ts, 0))}
	for _, v := range raw[3:7] {
		c, err := floatCell(v)
		if err != nil {
			return nil, 0, err
		}
		cells = append(cells, c)
	}
	volume, err := floatCell(raw[7])
	if err != nil {
		return nil, 0, err
	}
	turnover, err := floatCell(raw[8])
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

func (p *Phemex) fetchFundingRate(ctx context.Context, symbol string, startMS, endMS int64) (*schema.Table, error) {
	// Funding history is keyed by the 8h funding-rate index symbol.
	frSymbol := "." + symbol + "FR8H"

	type fundingRecord struct {
		FundingRate any   `json:"fundingRate"`
		FundingTime int64 `json:"fundingTime"`
	}

	table := schema.NewTable(schema.FundingRate)
	current := startMS

	for current < endMS {
		params := url.Values{
			"symbol": {frSymbol},
			"start":  {strconv.FormatInt(current, 10)},
			"end":    {strconv.FormatInt(endMS, 10)},
			"limit":  {strconv.Itoa(phemexFundingLimit)},
		}
		var data struct {
			Rows []fundingRecord `json:"rows"`
		}
		if err := p.getData(ctx, "/api-data/public/data/funding-rate-history", params, &data); err != nil {
			return nil, err
		}
		if len(data.Rows) == 0 {
			break
		}

		for _, rec := range data.Rows {
			rate, err := floatCell(rec.FundingRate)
			if err != nil {
				return nil, err
			}
			row := schema.Row{
				schema.TimeCell(time.UnixMilli(rec.FundingTime)),
				schema.StringCell(symbol),
				rate,
				schema.NullCell(),
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
		}
		if len(data.Rows) < phemexFundingLimit {
			break
		}
		current = data.Rows[len(data.Rows)-1].FundingTime + 1
	}
	p.logger.Info("fetched funding rates", "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}
