package forecast

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientHistory - данных меньше, чем нужно для обучения/прогноза
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrOrderSearch - автоподбор порядков ARIMA не дал ни одной модели
	ErrOrderSearch = errors.New("arima order search failed")
	// ErrNoPersistedModel - ни одного запуска с сохраненным артефактом
	ErrNoPersistedModel = errors.New("no trained model available")
	// ErrFeatureDerivation - не удалось построить признаки для прогноза
	ErrFeatureDerivation = errors.New("no feature columns available for prediction")
	// ErrSerialization - не удалось сохранить артефакт модели
	ErrSerialization = errors.New("model serialization failed")
	// ErrUnknownFamily - неизвестное семейство модели
	ErrUnknownFamily = errors.New("unknown model family")
)

// FailureReason - причина, по которой обучение не дало модель
type FailureReason string

const (
	FailureInsufficientHistory FailureReason = "insufficient_history"
	FailureFit                 FailureReason = "fit_failed"
	FailureSerialization       FailureReason = "serialization_failed"
)

// TrainFailure - структурированная ошибка обучения
type TrainFailure struct {
	Reason FailureReason
	Err    error
}

func (f *TrainFailure) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *TrainFailure) Unwrap() error {
	return f.Err
}
