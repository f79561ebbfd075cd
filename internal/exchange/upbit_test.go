package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
)

func TestUpbitMarketTranslation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTCUSDT", "USDT-BTC"},
		{"BTCKRW", "KRW-BTC"},
		{"ETHBTC", "BTC-ETH"},
		{"KRW-BTC", "KRW-BTC"},
	}
	for _, tt := range tests {
		got, err := upbitMarket(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := upbitMarket("BTCEUR")
	require.Error(t, err)
	assert.True(t, apperrors.IsBadInput(err))
}

func TestUpbitFetchOHLCV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/candles/minutes/60", r.URL.Path, "1h maps to minutes/60")
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))
		assert.Equal(t, "200", r.URL.Query().Get("count"))
		assert.Equal(t, "1970-01-01T04:00:00", r.URL.Query().Get("to"))
		// Newest first; the oldest candle predates the window and must
		// be dropped.
		fmt.Fprint(w, `[
			{"candle_date_time_utc": "1970-01-01T02:00:00", "opening_price": 47200, "high_price": 47400, "low_price": 47100, "trade_price": 47300, "candle_acc_trade_volume": 2.2, "candle_acc_trade_price": 104000000, "timestamp": 7200000},
			{"candle_date_time_utc": "1970-01-01T01:00:00", "opening_price": 47000, "high_price": 47200, "low_price": 46900, "trade_price": 47200, "candle_acc_trade_volume": 1.1, "candle_acc_trade_price": 52000000, "timestamp": 3600000},
			{"candle_date_time_utc": "1970-01-01T00:00:00", "opening_price": 46800, "high_price": 47000, "low_price": 46700, "trade_price": 47000, "candle_acc_trade_volume": 0.5, "candle_acc_trade_price": 23000000, "timestamp": 0}
		]`)
	}))
	defer srv.Close()

	u := NewUpbit(testServerConfig(srv.URL))
	defer u.Close()

	tbl, err := u.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCKRW",
		Start:    int64(3600_000),
		End:      int64(14400_000),
		Interval: "1h",
	})
	require.NoError(t, err)
	require.NoError(t, tbl.Validate())
	assert.Equal(t, []int64{3600_000, 7200_000}, timestamps(t, tbl))

	row := tbl.Row(0)
	open, _ := row[1].Float()
	assert.Equal(t, 47000.0, open)
	quoteVolume, _ := row[7].Float()
	assert.Equal(t, 52000000.0, quoteVolume, "accumulated trade price maps to quote_volume")
	assert.True(t, row[6].IsNull())
	trades, _ := row[8].Int()
	assert.Zero(t, trades)
}

func TestUpbitWalksBackwardOnFullPages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n > 1 {
			// Second page is short, ending the walk.
			fmt.Fprint(w, `[{"candle_date_time_utc": "1970-01-01T00:00:00", "opening_price": 1, "high_price": 1, "low_price": 1, "trade_price": 1, "candle_acc_trade_volume": 1, "candle_acc_trade_price": 1, "timestamp": 0}]`)
			return
		}
		// First page is exactly `count` candles, newest first.
		w.Write([]byte("["))
		for i := upbitPageCount; i >= 1; i-- {
			if i < upbitPageCount {
				w.Write([]byte(","))
			}
			ms := int64(i) * 60_000
			fmt.Fprintf(w,
				`{"candle_date_time_utc": "1970-01-01T%02d:%02d:00", "opening_price": 1, "high_price": 1, "low_price": 1, "trade_price": 1, "candle_acc_trade_volume": 1, "candle_acc_trade_price": 1, "timestamp": %d}`,
				ms/3600_000, (ms%3600_000)/60_000, ms)
		}
		w.Write([]byte("]"))
	}))
	defer srv.Close()

	u := NewUpbit(testServerConfig(srv.URL))
	defer u.Close()

	tbl, err := u.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCKRW",
		Start:    int64(0),
		End:      int64(20_000_000),
		Interval: "1m",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, upbitPageCount+1, tbl.Len())
	require.NoError(t, tbl.Validate())
}

func TestUpbitRejectsUnknownInterval(t *testing.T) {
	u := NewUpbit(testServerConfig("http://127.0.0.1:0"))
	defer u.Close()

	_, err := u.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCKRW",
		Start:    int64(0),
		End:      int64(1000),
		Interval: "2h",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupported(err))
}

func TestUpbitFundingRateIsUnsupported(t *testing.T) {
	u := NewUpbit(testServerConfig("http://127.0.0.1:0"))
	defer u.Close()

	_, err := u.Fetch(context.Background(), FetchRequest{
		Type:   schema.FundingRate,
		Symbol: "BTCKRW",
		Start:  int64(0),
		End:    int64(1000),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupported(err), "spot exchange has no funding rate")
}
