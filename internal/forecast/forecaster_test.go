package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyRegressor запоминает векторы признаков и возвращает 101, 102, ...
type spyRegressor struct {
	rows  [][]float64
	calls int
}

func (s *spyRegressor) Predict(x []float64) float64 {
	s.rows = append(s.rows, append([]float64(nil), x...))
	s.calls++
	return 100 + float64(s.calls)
}

func TestRecursivePredictFeedsPredictionsBack(t *testing.T) {
	cfg := DefaultFeatureConfig()
	obs := Densify(rampSeries(day(2024, 2, 1), 20))
	spy := &spyRegressor{}

	out, err := RecursivePredict(spy, cfg, obs, 5)

	require.NoError(t, err)
	require.Len(t, out, 5)
	require.Len(t, spy.rows, 5)

	lag1, lag7, roll3 := 3, 4, 6
	// Первый шаг видит только реальные значения
	assert.Equal(t, 20.0, spy.rows[0][lag1])
	assert.Equal(t, 14.0, spy.rows[0][lag7])
	for k := 1; k < 5; k++ {
		assert.Equal(t, out[k-1].Predicted, spy.rows[k][lag1], "step %d lag_1", k)
		// lag_7 еще указывает на реальную историю
		assert.Equal(t, float64(14+k), spy.rows[k][lag7], "step %d lag_7", k)
	}
	assert.InDelta(t, (19.0+20.0+101.0)/3, spy.rows[1][roll3], 1e-9)
	assert.InDelta(t, (20.0+101.0+102.0)/3, spy.rows[2][roll3], 1e-9)
}

func TestRecursivePredictDoesNotMutateInput(t *testing.T) {
	obs := Densify(rampSeries(day(2024, 2, 1), 10))
	before := append([]Observation(nil), obs...)

	_, err := RecursivePredict(&spyRegressor{}, DefaultFeatureConfig(), obs, 3)

	require.NoError(t, err)
	assert.Equal(t, before, obs)
}

func TestPredictDatesFollowLastObservation(t *testing.T) {
	cfg := DefaultFeatureConfig()
	table := cfg.Build(rampSeries(day(2024, 2, 1), 12))
	model, err := FitGradientBoosted(table.Rows, table.Y, table.Columns, DefaultGradientBoostingParams())
	require.NoError(t, err)
	handle := &ModelHandle{Family: FamilyGradientBoosted, Features: cfg, GradientBoosted: model}

	recent := []DailySalesPoint{
		{Date: day(2024, 2, 10), TotalQuantity: 4},
		{Date: day(2024, 2, 8), TotalQuantity: 1},
	}
	out, err := Predict(handle, recent, 7)

	require.NoError(t, err)
	require.Len(t, out, 7)
	for i, p := range out {
		assert.Equal(t, day(2024, 2, 11+i), p.Date)
	}
}

func TestPredictARIMAUsesNativeForecast(t *testing.T) {
	y := []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	model, err := FitSeasonalARIMA(y, Order{}, SeasonalOrder{})
	require.NoError(t, err)
	handle := &ModelHandle{Family: FamilySeasonalARIMA, SeasonalARIMA: model}

	out, err := Predict(handle, []DailySalesPoint{{Date: day(2024, 6, 30), TotalQuantity: 5}}, 3)

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, day(2024, 7, 1), out[0].Date)
	for _, p := range out {
		assert.InDelta(t, 5.0, p.Predicted, 1e-9)
	}
}

func TestPredictFailures(t *testing.T) {
	_, err := Predict(nil, rampSeries(day(2024, 1, 1), 3), 3)
	assert.ErrorIs(t, err, ErrNoPersistedModel)

	model, err := FitSeasonalARIMA([]float64{1, 2, 3, 4, 5}, Order{}, SeasonalOrder{})
	require.NoError(t, err)
	handle := &ModelHandle{Family: FamilySeasonalARIMA, SeasonalARIMA: model}

	_, err = Predict(handle, nil, 3)
	assert.ErrorIs(t, err, ErrFeatureDerivation)

	_, err = Predict(handle, rampSeries(day(2024, 1, 1), 3), -1)
	assert.Error(t, err)

	out, err := Predict(handle, rampSeries(day(2024, 1, 1), 3), 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = Predict(&ModelHandle{Family: FamilyGradientBoosted}, rampSeries(day(2024, 1, 1), 3), 1)
	assert.Error(t, err)
}

func TestPredictRejectsMismatchedFeatureColumns(t *testing.T) {
	model, err := FitGradientBoosted([][]float64{{1}, {2}}, []float64{3, 4}, []string{"x"}, DefaultGradientBoostingParams())
	require.NoError(t, err)
	handle := &ModelHandle{Family: FamilyGradientBoosted, Features: DefaultFeatureConfig(), GradientBoosted: model}

	_, err = Predict(handle, rampSeries(day(2024, 1, 1), 10), 2)

	assert.ErrorIs(t, err, ErrFeatureDerivation)
}
