package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfetch/marketdata/internal/schema"
)

func candleRow(ms int64, open, high, low, closePrice float64) schema.Row {
	return schema.Row{
		schema.TimeCell(time.UnixMilli(ms)),
		schema.FloatCell(open),
		schema.FloatCell(high),
		schema.FloatCell(low),
		schema.FloatCell(closePrice),
		schema.FloatCell(1),
		schema.NullCell(),
		schema.NullCell(),
		schema.IntCell(0),
		schema.NullCell(),
		schema.NullCell(),
	}
}

func TestCheckAcceptsValidTable(t *testing.T) {
	tbl := schema.NewTable(schema.OHLCV)
	require.NoError(t, tbl.Append(candleRow(1000, 100, 110, 95, 105)))
	require.NoError(t, tbl.Append(candleRow(2000, 105, 120, 100, 115)))

	assert.NoError(t, Check(tbl, 1000, 3000))
}

func TestCheckRejectsRowOutsideWindow(t *testing.T) {
	tbl := schema.NewTable(schema.OHLCV)
	require.NoError(t, tbl.Append(candleRow(500, 100, 110, 95, 105)))

	err := Check(tbl, 1000, 3000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside requested window")

	tbl = schema.NewTable(schema.OHLCV)
	require.NoError(t, tbl.Append(candleRow(3000, 100, 110, 95, 105)))
	assert.Error(t, Check(tbl, 1000, 3000), "end boundary is exclusive")
}

func TestCheckRejectsOutOfOrderRows(t *testing.T) {
	tbl := schema.NewTable(schema.OHLCV)
	require.NoError(t, tbl.Append(candleRow(2000, 100, 110, 95, 105)))
	require.NoError(t, tbl.Append(candleRow(1000, 100, 110, 95, 105)))

	assert.Error(t, Check(tbl, 0, 3000))
}

func TestCheckRejectsInconsistentCandle(t *testing.T) {
	tbl := schema.NewTable(schema.OHLCV)
	require.NoError(t, tbl.Append(candleRow(1000, 100, 90, 95, 105)))

	err := Check(tbl, 0, 3000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high")
}

func TestCheckSkipsCandleRuleOnNullPrices(t *testing.T) {
	tbl := schema.NewTable(schema.FundingRate)
	require.NoError(t, tbl.Append(schema.Row{
		schema.TimeCell(time.UnixMilli(1000)),
		schema.StringCell("BTCUSDT"),
		schema.FloatCell(0.0001),
		schema.NullCell(),
	}))
	assert.NoError(t, Check(tbl, 0, 3000))
}
