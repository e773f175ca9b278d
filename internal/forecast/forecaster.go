package forecast

import (
	"fmt"
	"time"
)

// PredictedPoint - прогноз на один день
type PredictedPoint struct {
	Date      time.Time `json:"date"`
	Predicted float64   `json:"predicted"`
}

// Regressor - одношаговая модель над вектором признаков
type Regressor interface {
	Predict(x []float64) float64
}

// Predict строит прогноз на horizon дней после последней даты recent.
// SARIMA прогнозирует нативно на несколько шагов, бустинг - рекурсивно.
func Predict(handle *ModelHandle, recent []DailySalesPoint, horizon int) ([]PredictedPoint, error) {
	if horizon < 0 {
		return nil, fmt.Errorf("horizon must be non-negative, got %d", horizon)
	}
	if handle == nil {
		return nil, ErrNoPersistedModel
	}
	if err := handle.Validate(); err != nil {
		return nil, err
	}
	obs := Densify(recent)
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: empty recent series", ErrFeatureDerivation)
	}
	if horizon == 0 {
		return []PredictedPoint{}, nil
	}

	switch handle.Family {
	case FamilySeasonalARIMA:
		values, err := handle.SeasonalARIMA.Forecast(horizon)
		if err != nil {
			return nil, fmt.Errorf("arima forecast: %w", err)
		}
		dates := nextDates(obs[len(obs)-1].Date, horizon)
		out := make([]PredictedPoint, horizon)
		for i := range out {
			out[i] = PredictedPoint{Date: dates[i], Predicted: values[i]}
		}
		return out, nil

	case FamilyGradientBoosted:
		cols := handle.Features.ColumnNames()
		if !sameColumns(cols, handle.GradientBoosted.FeatureColumns) {
			return nil, fmt.Errorf("%w: model expects %v, builder gives %v", ErrFeatureDerivation, handle.GradientBoosted.FeatureColumns, cols)
		}
		return RecursivePredict(handle.GradientBoosted, handle.Features, obs, horizon)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownFamily, int(handle.Family))
}

// RecursivePredict на каждом шаге заново строит признаки по ряду "история + уже сделанные прогнозы",
// предсказывает следующий день и добавляет его в ряд как наблюдение.
func RecursivePredict(model Regressor, cfg FeatureConfig, recent []Observation, horizon int) ([]PredictedPoint, error) {
	if len(recent) == 0 {
		return nil, fmt.Errorf("%w: empty recent series", ErrFeatureDerivation)
	}
	working := make([]Observation, len(recent), len(recent)+horizon)
	copy(working, recent)

	out := make([]PredictedPoint, 0, horizon)
	for step := 0; step < horizon; step++ {
		row, next, err := cfg.NextRow(working)
		if err != nil {
			return nil, err
		}
		y := model.Predict(row)
		working = append(working, Observation{Date: next, Y: y})
		out = append(out, PredictedPoint{Date: next, Predicted: y})
	}
	return out, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
