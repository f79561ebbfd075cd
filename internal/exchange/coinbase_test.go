package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
	"github.com/quantfetch/marketdata/internal/schema"
)

func TestCoinbaseProductID(t *testing.T) {
	id, err := coinbaseProductID("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", id)

	id, err = coinbaseProductID("ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, "ETH-USD", id)

	id, err = coinbaseProductID("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", id)

	_, err = coinbaseProductID("BTCKRW")
	require.Error(t, err)
	assert.True(t, apperrors.IsBadInput(err))
}

func TestCoinbaseFetchOHLCVSortsDescendingChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		require.NoError(t, err)
		assert.Equal(t, int64(3600), start.Unix())
		// Coinbase returns [time, low, high, open, close, volume]
		// newest first.
		fmt.Fprint(w, `[
			[10800, 46900, 47500, 47000, 47400, 3.3],
			[7200, 46800, 47300, 46900, 47000, 2.2],
			[3600, 46700, 47100, 46800, 46900, 1.1]
		]`)
	}))
	defer srv.Close()

	c := NewCoinbase(testServerConfig(srv.URL))
	defer c.Close()

	tbl, err := c.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCUSD",
		Start:    int64(3600_000),
		End:      int64(14400_000),
		Interval: "1h",
	})
	require.NoError(t, err)
	require.NoError(t, tbl.Validate())
	assert.Equal(t, []int64{3600_000, 7200_000, 10800_000}, timestamps(t, tbl))

	// [time, low, high, open, close] reorders to [open, high, low, close].
	row := tbl.Row(0)
	open, _ := row[1].Float()
	high, _ := row[2].Float()
	low, _ := row[3].Float()
	closePrice, _ := row[4].Float()
	assert.Equal(t, 46800.0, open)
	assert.Equal(t, 47100.0, high)
	assert.Equal(t, 46700.0, low)
	assert.Equal(t, 46900.0, closePrice)

	trades, _ := row[8].Int()
	assert.Zero(t, trades)
	assert.True(t, row[6].IsNull())
	assert.True(t, row[7].IsNull())
}

func TestCoinbaseChunksLongRanges(t *testing.T) {
	var calls atomic.Int32
	gran := int64(60)
	chunk := gran * coinbaseMaxCandles
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		require.NoError(t, err)
		end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
		require.NoError(t, err)
		assert.Equal(t, int64(n-1)*chunk, start.Unix())
		assert.LessOrEqual(t, end.Unix()-start.Unix(), chunk)
		fmt.Fprintf(w, `[[%d, 46900, 47500, 47000, 47400, 1.0]]`, start.Unix())
	}))
	defer srv.Close()

	c := NewCoinbase(testServerConfig(srv.URL))
	defer c.Close()

	// Two chunk windows: [0, 18000) and [18000, 30000) seconds.
	tbl, err := c.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCUSD",
		Start:    int64(0),
		End:      int64(30000_000),
		Interval: "1m",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, tbl.Len())
}

func TestCoinbaseRejectsUnknownInterval(t *testing.T) {
	c := NewCoinbase(testServerConfig("http://127.0.0.1:0"))
	defer c.Close()

	_, err := c.Fetch(context.Background(), FetchRequest{
		Type:     schema.OHLCV,
		Symbol:   "BTCUSD",
		Start:    int64(0),
		End:      int64(1000),
		Interval: "4h",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupported(err))
}

func TestCoinbaseOnlySupportsOHLCV(t *testing.T) {
	c := NewCoinbase(testServerConfig("http://127.0.0.1:0"))
	defer c.Close()

	for _, dt := range []schema.DataType{
		schema.FundingRate, schema.OpenInterest, schema.MarkPrice,
	} {
		_, err := c.Fetch(context.Background(), FetchRequest{
			Type:     dt,
			Symbol:   "BTCUSD",
			Start:    int64(0),
			End:      int64(1000),
			Interval: "1h",
			Period:   "5m",
		})
		require.Error(t, err, dt)
		assert.True(t, apperrors.IsUnsupported(err), dt)
	}
}
