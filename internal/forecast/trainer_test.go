package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRecorder - RunRecorder в памяти с артефактами во временном каталоге
type memoryRecorder struct {
	store     *ArtifactStore
	runs      []*RunRecord
	nextID    uint
	attachErr error
}

func (r *memoryRecorder) CreateRun(run *RunRecord) error {
	r.nextID++
	run.ID = r.nextID
	run.CreatedAt = time.Now()
	r.runs = append(r.runs, run)
	return nil
}

func (r *memoryRecorder) AttachArtifact(run *RunRecord, handle *ModelHandle) error {
	if r.attachErr != nil {
		return r.attachErr
	}
	path, err := r.store.Write(handle)
	if err != nil {
		return err
	}
	run.ArtifactPath = path
	return nil
}

func newMemoryRecorder(t *testing.T) *memoryRecorder {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	return &memoryRecorder{store: store}
}

func constantSeries(start time.Time, n int, v float64) []DailySalesPoint {
	out := make([]DailySalesPoint, n)
	for i := range out {
		out[i] = DailySalesPoint{Date: start.AddDate(0, 0, i), TotalQuantity: v}
	}
	return out
}

func weeklySeries(start time.Time, weeks int) []DailySalesPoint {
	out := make([]DailySalesPoint, 0, weeks*7)
	for i := 0; i < weeks*7; i++ {
		v := 10.0 + float64(i%7)
		if i%7 == 5 {
			v += 15
		}
		out = append(out, DailySalesPoint{Date: start.AddDate(0, 0, i), TotalQuantity: v})
	}
	return out
}

func TestGradientBoostedConstantSeries(t *testing.T) {
	rec := newMemoryRecorder(t)
	points := constantSeries(day(2024, 1, 1), 90, 50)

	res := NewGradientBoostedTrainer(rec).Train(points, 5, nil)

	require.True(t, res.OK(), "failure: %v", res.Failure)
	require.NotNil(t, res.Run)
	assert.Equal(t, uint(1), res.Run.ID)
	assert.NotEmpty(t, res.Run.ArtifactPath)
	assert.Equal(t, res.Run.ID, res.Handle.RunID)
	assert.Equal(t, day(2024, 1, 1), *res.Run.TrainStart)
	assert.Equal(t, day(2024, 3, 30), *res.Run.TrainEnd)
	assert.Equal(t, 300, res.Run.Params["n_estimators"])

	out, err := Predict(res.Handle, points, 5)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for _, p := range out {
		assert.InDelta(t, 50.0, p.Predicted, 0.5)
	}
}

func TestGradientBoostedMetrics(t *testing.T) {
	res := NewGradientBoostedTrainer(nil).Train(weeklySeries(day(2024, 1, 1), 6), 7, nil)
	require.True(t, res.OK())
	assert.NotNil(t, res.Run.Metrics["mae"])
	assert.NotNil(t, res.Run.Metrics["rmse"])
	assert.Equal(t, 33, res.Run.Params["train_rows"])

	// Одна строка: валидационная часть пуста, метрики null, запись все равно есть
	single := NewGradientBoostedTrainer(nil).Train(constantSeries(day(2024, 1, 1), 1, 3), 7, nil)
	require.True(t, single.OK())
	assert.Nil(t, single.Run.Metrics["mae"])
	assert.Nil(t, single.Run.Metrics["rmse"])
}

func TestGradientBoostedEmptySeries(t *testing.T) {
	rec := newMemoryRecorder(t)

	res := NewGradientBoostedTrainer(rec).Train(nil, 7, nil)

	assert.Nil(t, res.Handle)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureInsufficientHistory, res.Failure.Reason)
	assert.ErrorIs(t, res.Failure, ErrInsufficientHistory)
	require.Len(t, rec.runs, 1)
	assert.False(t, rec.runs[0].Usable())
}

func TestSeasonalARIMANotEnoughData(t *testing.T) {
	rec := newMemoryRecorder(t)
	trainer := NewSeasonalARIMATrainer(rec)

	res := trainer.Train(constantSeries(day(2024, 1, 1), 10, 15), 7, nil)

	assert.Nil(t, res.Handle)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureInsufficientHistory, res.Failure.Reason)
	assert.True(t, errors.Is(res.Failure, ErrInsufficientHistory))
	require.NotNil(t, res.Run)
	assert.Equal(t, "Not enough data", res.Run.Params["error"])
	assert.Equal(t, []int{0, 0, 0}, res.Run.Params["order"])
	assert.Equal(t, []int{0, 0, 0, 7}, res.Run.Params["seasonal_order"])
	assert.Contains(t, res.Run.ModelName, "not trained")
	assert.Empty(t, res.Run.ArtifactPath)
	assert.Len(t, rec.runs, 1)
}

func TestSeasonalARIMAMinPoints(t *testing.T) {
	assert.Equal(t, 14, NewSeasonalARIMATrainer(nil).MinPoints())
	assert.Equal(t, 10, (&SeasonalARIMATrainer{SeasonalPeriod: 3}).MinPoints())
	assert.Equal(t, 24, (&SeasonalARIMATrainer{SeasonalPeriod: 12}).MinPoints())
}

func TestSeasonalARIMAWeeklyPattern(t *testing.T) {
	rec := newMemoryRecorder(t)
	points := weeklySeries(day(2024, 1, 1), 8)

	res := NewSeasonalARIMATrainer(rec).Train(points, 7, nil)

	require.True(t, res.OK(), "failure: %v", res.Failure)
	assert.Equal(t, FamilySeasonalARIMA, res.Handle.Family)
	assert.Equal(t, 1, res.Handle.SeasonalARIMA.SeasonalOrder.D)
	assert.Equal(t, "stepwise", res.Run.Params["order_search"])
	assert.Empty(t, res.Run.Metrics)

	out, err := Predict(res.Handle, points, 7)
	require.NoError(t, err)
	require.Len(t, out, 7)
	for i, p := range out {
		want := points[len(points)-7+i].TotalQuantity
		assert.InDelta(t, want, p.Predicted, 1e-6, "step %d", i)
	}
}

func TestSerializationFailureKeepsRunWithoutArtifact(t *testing.T) {
	rec := newMemoryRecorder(t)
	rec.attachErr = errors.New("disk full")

	res := NewGradientBoostedTrainer(rec).Train(constantSeries(day(2024, 1, 1), 40, 5), 7, nil)

	assert.Nil(t, res.Handle)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureSerialization, res.Failure.Reason)
	assert.ErrorIs(t, res.Failure, ErrSerialization)
	require.NotNil(t, res.Run)
	assert.NotZero(t, res.Run.ID)
	assert.False(t, res.Run.Usable())
}

func TestParseModelFamily(t *testing.T) {
	for in, want := range map[string]ModelFamily{
		"xgb":              FamilyGradientBoosted,
		"gradient_boosted": FamilyGradientBoosted,
		"ARIMA":            FamilySeasonalARIMA,
		"seasonal_arima":   FamilySeasonalARIMA,
	} {
		got, err := ParseModelFamily(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseModelFamily("prophet")
	assert.ErrorIs(t, err, ErrUnknownFamily)
}
