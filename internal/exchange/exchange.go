// Package exchange implements the per-exchange adapters that turn wildly
// different public REST APIs into one canonical interface: every adapter
// satisfies Source and returns tables whose columns exactly match the
// requested data type's schema, sorted ascending and clipped to the
// requested half-open time range.
//
// Pagination is deliberately sequential: each fetch issues one HTTP
// request at a time and blocks for the response before issuing the next.
// Parallel paging would need a merge over out-of-order pages and
// per-exchange rate budgets; the sequential design avoids both.
package exchange

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
	"github.com/quantfetch/marketdata/internal/transport"
)

// Source is the capability contract every exchange adapter satisfies.
type Source interface {
	// Exchange returns the short lowercase exchange name, e.g. "binance".
	Exchange() string

	// Fetch retrieves market data for one data type and symbol. The
	// returned table's columns exactly equal req.Type.Columns(), rows are
	// ascending by timestamp and fall within [start, end). A range with
	// no data yields a zero-row, correctly-columned table, not an error.
	// An unsupported data type, interval, or period yields an
	// unsupported-operation error. Pagination happens inside the call;
	// large ranges mean many sequential requests.
	Fetch(ctx context.Context, req FetchRequest) (*schema.Table, error)

	// Close releases the adapter's HTTP session.
	Close() error
}

// FetchRequest specifies one retrieval. Start and End accept an int/int64/
// float64 millisecond epoch, "YYYY-MM-DD", "YYYY-MM-DD HH:MM:SS" (UTC),
// or a time.Time.
type FetchRequest struct {
	Type     schema.DataType
	Symbol   string
	Start    any
	End      any
	Interval string // required when Type.UsesInterval()
	Period   string // required when Type.UsesPeriod()
}

// Validate checks structural validity: known data type, symbol present,
// and the granularity parameter the data type requires.
func (r *FetchRequest) Validate() error {
	const op = "exchange.request"
	if !r.Type.Valid() {
		return apperrors.BadInput(op, "unknown data type %d", int(r.Type))
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return apperrors.BadInput(op, "symbol is required")
	}
	if r.Type.UsesInterval() && strings.TrimSpace(r.Interval) == "" {
		return apperrors.BadInput(op, "interval is required for %s", r.Type)
	}
	if r.Type.UsesPeriod() && strings.TrimSpace(r.Period) == "" {
		return apperrors.BadInput(op, "period is required for %s", r.Type)
	}
	return nil
}

// Window resolves Start/End to millisecond epochs and checks ordering.
func (r *FetchRequest) Window() (startMS, endMS int64, err error) {
	startMS, err = transport.ToMilliseconds(r.Start)
	if err != nil {
		return 0, 0, err
	}
	endMS, err = transport.ToMilliseconds(r.End)
	if err != nil {
		return 0, 0, err
	}
	if endMS <= startMS {
		return 0, 0, apperrors.BadInput("exchange.request",
			"end time %d must be after start time %d", endMS, startMS)
	}
	return startMS, endMS, nil
}

// Config tunes an adapter. Zero values fall back to transport defaults.
type Config struct {
	// MaxRetries is the per-request attempt budget.
	MaxRetries int
	// RateLimitSleep is the minimum spacing between requests.
	RateLimitSleep time.Duration
	// HTTPTimeout bounds a single round trip.
	HTTPTimeout time.Duration
	// BaseURL overrides the adapter's REST endpoint, mainly for tests.
	BaseURL string
	// FuturesBaseURL overrides the secondary endpoint of adapters that
	// talk to two APIs (Kraken spot + futures).
	FuturesBaseURL string
	// Logger receives adapter logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c Config) transportConfig() transport.Config {
	return transport.Config{
		MaxRetries:     c.MaxRetries,
		RateLimitSleep: c.RateLimitSleep,
		Timeout:        c.HTTPTimeout,
		Logger:         c.Logger,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// The constructor registry is populated lazily on first use so callers
// that only ever touch one adapter never pay for the rest.
var (
	registryOnce sync.Once
	registry     map[string]func(Config) Source
)

func ensureRegistry() {
	registryOnce.Do(func() {
		registry = map[string]func(Config) Source{
			"binance":  func(cfg Config) Source { return NewBinance(cfg) },
			"bybit":    func(cfg Config) Source { return NewBybit(cfg) },
			"okx":      func(cfg Config) Source { return NewOKX(cfg) },
			"kraken":   func(cfg Config) Source { return NewKraken(cfg) },
			"coinbase": func(cfg Config) Source { return NewCoinbase(cfg) },
			"phemex":   func(cfg Config) Source { return NewPhemex(cfg) },
			"upbit":    func(cfg Config) Source { return NewUpbit(cfg) },
		}
	})
}

// New creates the adapter for the named exchange. Matching is
// case-insensitive; an unknown name lists the supported set.
func New(name string, cfg Config) (Source, error) {
	ensureRegistry()
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, apperrors.BadInput("exchange.new",
			"unsupported exchange %q; supported: %s", name, strings.Join(Supported(), ", "))
	}
	return ctor(cfg), nil
}

// Supported returns the sorted list of exchange names the factory knows.
func Supported() []string {
	ensureRegistry()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// finalize applies the shared post-processing every adapter ends with:
// one stable ascending sort, then the uniform [start, end) clip.
func finalize(t *schema.Table, startMS, endMS int64) *schema.Table {
	t.Sort()
	t.Clip(startMS, endMS)
	return t
}
