package forecast

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitSeasonalARIMARecoversAR1(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	y := make([]float64, 500)
	for i := 1; i < len(y); i++ {
		y[i] = 0.6*y[i-1] + rng.NormFloat64()
	}

	m, err := FitSeasonalARIMA(y, Order{P: 1}, SeasonalOrder{})

	require.NoError(t, err)
	require.Len(t, m.AR, 1)
	assert.InDelta(t, 0.6, m.AR[0], 0.1)
	assert.InDelta(t, 1.0, m.Sigma2, 0.25)
}

func TestFitSeasonalARIMARejectsShortSeries(t *testing.T) {
	_, err := FitSeasonalARIMA([]float64{1, 2, 3}, Order{P: 1, D: 1, Q: 1}, SeasonalOrder{D: 1, S: 7})
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = FitSeasonalARIMA([]float64{1, 2, 3}, Order{}, SeasonalOrder{P: 1, S: 1})
	assert.Error(t, err)
}

func TestSeasonalDifferencingForecastRepeatsSeason(t *testing.T) {
	y := Values(Densify(weeklySeries(day(2024, 1, 1), 4)))

	m, err := FitSeasonalARIMA(y, Order{}, SeasonalOrder{D: 1, S: 7})
	require.NoError(t, err)

	out, err := m.Forecast(10)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, v := range out {
		assert.InDelta(t, y[len(y)-7+i%7], v, 1e-9)
	}
}

func TestLinearTrendNeedsOneDifference(t *testing.T) {
	y := make([]float64, 60)
	for i := range y {
		y[i] = 3 + 2*float64(i)
	}

	assert.Greater(t, KPSSStatistic(y), kpssCritical5)
	assert.Equal(t, 1, EstimateDifferencing(y, 2))

	m, err := FitSeasonalARIMA(y, Order{D: 1}, SeasonalOrder{})
	require.NoError(t, err)
	out, err := m.Forecast(3)
	require.NoError(t, err)
	// Модель без сноса: прогноз остается на последнем уровне
	assert.InDelta(t, y[59], out[0], 1e-9)
}

func TestSeasonalStrength(t *testing.T) {
	y := Values(Densify(weeklySeries(day(2024, 1, 1), 6)))
	assert.InDelta(t, 1.0, SeasonalStrength(y, 7), 1e-9)

	flat := make([]float64, 42)
	assert.Equal(t, 0.0, SeasonalStrength(flat, 7))
	assert.Equal(t, 0.0, SeasonalStrength(y[:10], 7))
}

func TestSearchOrdersHonoursLimits(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	y := make([]float64, 120)
	for i := range y {
		y[i] = 20 + 5*float64(i%7) + rng.NormFloat64()
	}
	lim := DefaultOrderSearchLimits()

	res, err := SearchOrders(y, 7, lim)

	require.NoError(t, err)
	assert.LessOrEqual(t, res.Order.P, lim.MaxP)
	assert.LessOrEqual(t, res.Order.Q, lim.MaxQ)
	assert.LessOrEqual(t, res.SeasonalOrder.P, lim.MaxSP)
	assert.LessOrEqual(t, res.SeasonalOrder.Q, lim.MaxSQ)
	assert.Equal(t, 7, res.SeasonalOrder.S)
	assert.LessOrEqual(t, res.Fits, lim.MaxFits)

	_, err = SearchOrders([]float64{1, 2}, 7, lim)
	assert.ErrorIs(t, err, ErrOrderSearch)
}
