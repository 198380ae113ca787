package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/divergent/internal/models"
)

func hourly(t0 time.Time, prices ...float64) []models.Candle {
	out := make([]models.Candle, len(prices))
	for i, p := range prices {
		out[i] = models.Candle{
			Time:   t0.Add(time.Duration(i) * time.Hour),
			Open:   p,
			High:   p + 1,
			Low:    p - 1,
			Close:  p + 0.5,
			Volume: 100,
		}
	}
	return out
}

func TestAggregateCandlesFourHour(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := hourly(t0, 10, 11, 12, 13, 20, 21, 22, 23)

	agg := aggregateCandles(candles, 4*time.Hour)
	require.Len(t, agg, 2)

	first := agg[0]
	assert.True(t, first.Time.Equal(t0))
	assert.Equal(t, 10.0, first.Open)
	assert.Equal(t, 14.0, first.High)  // max of 11,12,13,14
	assert.Equal(t, 9.0, first.Low)    // min of lows
	assert.Equal(t, 13.5, first.Close) // close of 4th hour
	assert.Equal(t, 400.0, first.Volume)

	second := agg[1]
	assert.True(t, second.Time.Equal(t0.Add(4*time.Hour)))
	assert.Equal(t, 20.0, second.Open)
	assert.Equal(t, 23.5, second.Close)
}

func TestAggregateCandlesUnalignedStart(t *testing.T) {
	// starting mid-bucket produces a partial first bucket
	t0 := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	candles := hourly(t0, 10, 11, 12, 13)

	agg := aggregateCandles(candles, 4*time.Hour)
	require.Len(t, agg, 2)
	assert.True(t, agg[0].Time.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, agg[1].Time.Equal(time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)))
}

func TestAggregateCandlesEmpty(t *testing.T) {
	assert.Nil(t, aggregateCandles(nil, 4*time.Hour))
}

func TestTail(t *testing.T) {
	candles := hourly(time.Now().UTC(), 1, 2, 3, 4, 5)
	assert.Len(t, tail(candles, 3), 3)
	assert.Len(t, tail(candles, 10), 5)
	assert.Len(t, tail(candles, 0), 5)
}

func TestYahooRangeEstimates(t *testing.T) {
	assert.Equal(t, "60d", yahooRangeFor("1h", 200))
	assert.Equal(t, "6mo", yahooRangeFor("1h", 500))
	assert.Equal(t, "1y", yahooRangeFor("1d", 200))
	assert.Equal(t, "5y", yahooRangeFor("1wk", 100))
}
