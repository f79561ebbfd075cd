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

func TestPhemexFetchOHLCVWalksForward(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange/public/md/v2/kline/list", r.URL.Path)
		assert.Equal(t, "3600", r.URL.Query().Get("resolution"), "1h maps to 3600s")

		// Rows: [ts, interval, lastClose, open, high, low, close,
		// volume, turnover, symbol].
		switch calls.Add(1) {
		case 1:
			assert.Equal(t, "3600", r.URL.Query().Get("from"))
			fmt.Fprint(w, `{"code": 0, "msg": "OK", "data": {"rows": [
				[3600, 3600, "46800", "46900", "47100", "46700", "47000", "1.1", "52000", "BTCUSDT"],
				[7200, 3600, "47000", "47000", "47300", "46800", "47200", "2.2", "104000", "BTCUSDT"]
			]}}`)
		case 2:
			assert.Equal(t, "10800", r.URL.Query().Get("from"))
			fmt.Fprint(w, `{"code": 0, "msg": "OK", "data": {"rows": []}}`)
		default:
			t.Fatal("empty page must end the walk")
		}
	}))
	defer srv.Close()

	p := NewPhemex(testServerConfig(srv.URL))
	defer p.Close()

	tbl, err := p.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCUSDT",
		Start:    int64(3600_000),
		End:      int64(14400_000),
		Interval: "1h",
	})
	require.NoError(t, err)
	require.NoError(t, tbl.Validate())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int64{3600_000, 7200_000}, timestamps(t, tbl))

	row := tbl.Row(0)
	open, _ := row[1].Float()
	assert.Equal(t, 46900.0, open, "open comes from index 3, not lastClose")
	turnover, _ := row[7].Float()
	assert.Equal(t, 52000.0, turnover)
	assert.True(t, row[6].IsNull())
	trades, _ := row[8].Int()
	assert.Zero(t, trades)
}

func TestPhemexRejectsUnknownInterval(t *testing.T) {
	p := NewPhemex(testServerConfig("http://127.0.0.1:0"))
	defer p.Close()

	_, err := p.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCUSDT",
		Start:    int64(0),
		End:      int64(1000),
		Interval: "1w",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupported(err))
}

func TestPhemexFundingRateUsesIndexSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api-data/public/data/funding-rate-history", r.URL.Path)
		assert.Equal(t, ".BTCUSDTFR8H", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"code": 0, "msg": "OK", "data": {"rows": [
			{"fundingRate": "0.0001", "fundingTime": 1000},
			{"fundingRate": "0.0002", "fundingTime": 2000}
		]}}`)
	}))
	defer srv.Close()

	p := NewPhemex(testServerConfig(srv.URL))
	defer p.Close()

	tbl, err := p.Fetch(context.Background(), FetchRequest{
		Type:   schema.FundingRate,
		Symbol: "BTCUSDT",
		Start:  int64(0),
		End:    int64(10000),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 2000}, timestamps(t, tbl))

	symbol, _ := tbl.Row(0)[1].Str()
	assert.Equal(t, "BTCUSDT", symbol, "output keeps the plain symbol")
	assert.True(t, tbl.Row(0)[3].IsNull())
}

func TestPhemexErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code": 6001, "msg": "invalid symbol", "data": null}`)
	}))
	defer srv.Close()

	p := NewPhemex(testServerConfig(srv.URL))
	defer p.Close()

	_, err := p.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "NOPE",
		Start:    int64(0),
		End:      int64(10000_000),
		Interval: "1h",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindExchange, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "6001")
}

func TestPhemexUnsupportedDataType(t *testing.T) {
	p := NewPhemex(testServerConfig("http://127.0.0.1:0"))
	defer p.Close()

	_, err := p.Fetch(context.Background(), FetchRequest{
		Type:   schema.LongShortRatio,
		Symbol: "BTCUSDT",
		Start:  int64(0),
		End:    int64(1000),
		Period: "5m",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupported(err))
}
