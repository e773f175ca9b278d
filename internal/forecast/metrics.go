package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanAbsoluteError возвращает nil для пустой выборки
func MeanAbsoluteError(actual, predicted []float64) *float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return nil
	}
	diffs := make([]float64, len(actual))
	for i := range actual {
		diffs[i] = math.Abs(actual[i] - predicted[i])
	}
	v := stat.Mean(diffs, nil)
	return &v
}

// RootMeanSquaredError возвращает nil для пустой выборки
func RootMeanSquaredError(actual, predicted []float64) *float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return nil
	}
	sq := make([]float64, len(actual))
	for i := range actual {
		d := actual[i] - predicted[i]
		sq[i] = d * d
	}
	v := math.Sqrt(stat.Mean(sq, nil))
	return &v
}
