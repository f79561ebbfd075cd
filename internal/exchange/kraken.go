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
	krakenSpotBaseURL    = "https://api.kraken.com/0/public"
	krakenFuturesBaseURL = "https://futures.kraken.com/derivatives/api/v3"
)

// Interval tokens to Kraken OHLC interval minutes.
var krakenIntervals = map[string]int{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "4h": 240, "1d": 1440, "1w": 10080,
}

// Kraken serves OHLCV from the spot API and funding history from the
// futures API. The OHLC walk follows the "last" pointer the spot API
// returns with each page; funding history is a single unpaginated call
// filtered locally to the requested window.
type Kraken struct {
	http       *transport.Client
	spotURL    string
	futuresURL string
	logger     *slog.Logger
}

// NewKraken creates a Kraken source.
func NewKraken(cfg Config) *Kraken {
	spot := cfg.BaseURL
	if spot == "" {
		spot = krakenSpotBaseURL
	}
	futures := cfg.FuturesBaseURL
	if futures == "" {
		futures = krakenFuturesBaseURL
	}
	return &Kraken{
		http:       transport.NewClient(cfg.transportConfig()),
		spotURL:    spot,
		futuresURL: futures,
		logger:     cfg.logger().With("exchange", "kraken"),
	}
}

// Exchange implements Source.
func (k *Kraken) Exchange() string { return "kraken" }

// Close implements Source.
func (k *Kraken) Close() error {
	k.http.Close()
	return nil
}

// Fetch implements Source.
func (k *Kraken) Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error) {
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
		return k.fetchOHLCV(ctx, symbol, req.Interval, startMS, endMS)
	case schema.FundingRate:
		return k.fetchFundingRate(ctx, symbol, startMS, endMS)
	default:
		return nil, apperrors.Unsupported("kraken.fetch",
			"kraken adapter does not support %s", req.Type)
	}
}

func (k *Kraken) fetchOHLCV(ctx context.Context, symbol, interval string, startMS, endMS int64) (*schema.Table, error) {
	minutes, ok := krakenIntervals[interval]
	if !ok {
		return nil, apperrors.Unsupported("kraken.fetch",
			"kraken does not support interval %q", interval)
	}
	startS := startMS / 1000
	endS := endMS / 1000

	table := schema.NewTable(schema.OHLCV)
	since := startS

	for since < endS {
		var env struct {
			Error  []string                   `json:"error"`
			Result map[string]json.RawMessage `json:"result"`
		}
		params := url.Values{
			"pair":     {symbol},
			"interval": {strconv.Itoa(minutes)},
			"since":    {strconv.FormatInt(since, 10)},
		}
		if err := k.http.GetJSON(ctx, k.spotURL+"/OHLC", params, &env); err != nil {
			return nil, err
		}
		if len(env.Error) > 0 {
			return nil, apperrors.Exchange("kraken.fetch",
				"api error: %s", strings.Join(env.Error, ", "))
		}

		// The result holds one pair key (its name varies, e.g.
		// "XXBTZUSD") plus the "last" continuation pointer.
		var last int64
		var rows [][]any
		found := false
		for key, raw := range env.Result {
			if key == "last" {
				if err := json.Unmarshal(raw, &last); err != nil {
					return nil, apperrors.Exchange("kraken.fetch", "bad last pointer: %v", err)
				}
				continue
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, apperrors.Exchange("kraken.fetch", "bad OHLC rows: %v", err)
			}
			found = true
		}
		if !found || len(rows) == 0 {
			break
		}

		added := 0
		for _, raw := range rows {
			row, ts, err := krakenOHLCRow(raw)
			if err != nil {
				return nil, err
			}
			if ts >= endS {
				continue
			}
			if err := table.Append(row); err != nil {
				return nil, err
			}
			added++
		}
		k.logger.Debug("fetched page", "rows", added, "total", table.Len())

		if last <= since {
			break
		}
		since = last
	}
	k.logger.Info("fetched ohlcv", "symbol", symbol, "rows", table.Len())
	return finalize(table, startMS, endMS), nil
}

// krakenOHLCRow maps one spot OHLC row [ts, open, high, low, close,
// vwap, volume, count] (seconds) onto the canonical columns. The spot
// API has no close time, quote volume or taker split.
func krakenOHLCRow(raw []any) (schema.Row, int64, error) {
	if len(raw) < 8 {
		return nil, 0, apperrors.Exchange("kraken.fetch",
			"OHLC row has %d fields, want 8", len(raw))
	}
	ts, err := jsonInt64(raw[0])
	if err != nil {
		return nil, 0, err
	}
	cells := schema.Row{schema.TimeCell(time.Unix(ts, 0))}
	for _, v := range raw[1:5] {
		c, err := floatCell(v)
		if err != nil {
			return nil, 0, err
		}
		cells = append(cells, c)
	}
	volume, err := floatCell(raw[6])
	if err != nil {
		return nil, 0, err
	}
	trades, err := jsonInt64(raw[7])
	if err != nil {
		return nil, 0, err
	}
	cells = append(cells,
		volume,
		schema.NullCell(),
		schema.NullCell(),
		schema.IntCell(trades),
		schema.NullCell(),
		schema.NullCell(),
	)
	return cells, ts, nil
}

func (k *Kraken) fetchFundingRate(ctx context.Context, symbol string, startMS, endMS int64) (*schema.Table, error) {
	var env struct {
		Result string `json:"result"`
		Rates  []struct {
			Timestamp   string  `json:"timestamp"`
			FundingRate float64 `json:"fundingRate"`
		} `json:"rates"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := k.http.GetJSON(ctx, k.futuresURL+"/historicalfundingrates", params, &env); err != nil {
		return nil, err
	}
	if env.Result != "success" {
		return nil, apperrors.Exchange("kraken.fetch",
			"futures api error: result %q", env.Result)
	}
	k.logger.Info("fetched funding rates", "symbol", symbol, "rows", len(env.Rates))

	table := schema.NewTable(schema.FundingRate)
	for _, rec := range env.Rates {
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return nil, apperrors.Exchange("kraken.fetch",
				"bad funding timestamp %q", rec.Timestamp)
		}
		row := schema.Row{
			schema.TimeCell(ts),
			schema.StringCell(symbol),
			schema.FloatCell(rec.FundingRate),
			schema.NullCell(),
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return finalize(table, startMS, endMS), nil
}
