package exchange

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
)

// testServerConfig points an adapter at a mock server with fast retries.
func testServerConfig(baseURL string) Config {
	return Config{
		MaxRetries:     1,
		RateLimitSleep: time.Millisecond,
		HTTPTimeout:    5 * time.Second,
		BaseURL:        baseURL,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// timestamps returns every row's timestamp as millisecond epochs.
func timestamps(t *testing.T, tbl *schema.Table) []int64 {
	t.Helper()
	out := make([]int64, 0, tbl.Len())
	for _, r := range tbl.Rows() {
		ts, ok := r.Timestamp()
		require.True(t, ok)
		out = append(out, ts.UnixMilli())
	}
	return out
}

func TestFactoryKnowsAllExchanges(t *testing.T) {
	assert.Equal(t,
		[]string{"binance", "bybit", "coinbase", "kraken", "okx", "phemex", "upbit"},
		Supported())

	for _, name := range Supported() {
		src, err := New(name, Config{})
		require.NoError(t, err, name)
		assert.Equal(t, name, src.Exchange())
		require.NoError(t, src.Close())
	}
}

func TestFactoryIsCaseInsensitive(t *testing.T) {
	src, err := New("  Binance ", Config{})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "binance", src.Exchange())
}

func TestFactoryRejectsUnknownExchange(t *testing.T) {
	_, err := New("ftx", Config{})
	require.Error(t, err)
	assert.True(t, apperrors.IsBadInput(err))
	assert.Contains(t, err.Error(), "binance")
	assert.Contains(t, err.Error(), "upbit")
}

func TestFetchRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  FetchRequest
		ok   bool
	}{
		{"ohlcv with interval", FetchRequest{Type: schema.OHLCV, Symbol: "BTCUSDT", Interval: "1h"}, true},
		{"ohlcv missing interval", FetchRequest{Type: schema.OHLCV, Symbol: "BTCUSDT"}, false},
		{"funding needs neither", FetchRequest{Type: schema.FundingRate, Symbol: "BTCUSDT"}, true},
		{"open interest missing period", FetchRequest{Type: schema.OpenInterest, Symbol: "BTCUSDT"}, false},
		{"open interest with period", FetchRequest{Type: schema.OpenInterest, Symbol: "BTCUSDT", Period: "5m"}, true},
		{"missing symbol", FetchRequest{Type: schema.OHLCV, Interval: "1h"}, false},
		{"unknown type", FetchRequest{Type: schema.DataType(42), Symbol: "BTCUSDT"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, apperrors.IsBadInput(err))
			}
		})
	}
}

func TestFetchRequestWindow(t *testing.T) {
	req := FetchRequest{
		Type:   schema.FundingRate,
		Symbol: "BTCUSDT",
		Start:  "2022-01-01",
		End:    time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	startMS, endMS, err := req.Window()
	require.NoError(t, err)
	assert.Equal(t, int64(1640995200000), startMS)
	assert.Equal(t, int64(1641081600000), endMS)

	req.End = "2021-12-31"
	_, _, err = req.Window()
	require.Error(t, err)
	assert.True(t, apperrors.IsBadInput(err))
}

func TestFetchValidatesBeforeAnyRequest(t *testing.T) {
	// No server behind this config; a validation failure must surface
	// before any HTTP traffic happens.
	src, err := New("binance", testServerConfig("http://127.0.0.1:0"))
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Fetch(context.Background(), FetchRequest{
		Type:   schema.OHLCV,
		Symbol: "BTCUSDT",
		Start:  "2022-01-01",
		End:    "2022-01-02",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsBadInput(err))
}
