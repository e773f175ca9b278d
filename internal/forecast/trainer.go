package forecast

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// ModelFamily - семейство модели прогноза
type ModelFamily int

const (
	FamilyGradientBoosted ModelFamily = iota + 1
	FamilySeasonalARIMA
)

func (f ModelFamily) String() string {
	switch f {
	case FamilyGradientBoosted:
		return "gradient_boosted"
	case FamilySeasonalARIMA:
		return "seasonal_arima"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// ArtifactTag - короткое имя семейства для имени файла артефакта
func (f ModelFamily) ArtifactTag() string {
	switch f {
	case FamilyGradientBoosted:
		return "xgb"
	case FamilySeasonalARIMA:
		return "arima"
	default:
		return "unknown"
	}
}

// ParseModelFamily принимает как полные имена, так и короткие ("xgb", "arima")
func ParseModelFamily(s string) (ModelFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gradient_boosted", "xgb", "xgboost", "gbm":
		return FamilyGradientBoosted, nil
	case "seasonal_arima", "arima", "sarima":
		return FamilySeasonalARIMA, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

// ModelHandle - обученная модель одного из семейств.
// Заполнено ровно одно из полей GradientBoosted / SeasonalARIMA в соответствии с Family.
type ModelHandle struct {
	Family          ModelFamily
	RunID           uint
	Features        FeatureConfig
	GradientBoosted *GradientBoostedModel
	SeasonalARIMA   *SeasonalARIMAModel
}

// Validate проверяет согласованность варианта
func (h *ModelHandle) Validate() error {
	switch h.Family {
	case FamilyGradientBoosted:
		if h.GradientBoosted == nil {
			return fmt.Errorf("gradient boosted handle without model")
		}
	case FamilySeasonalARIMA:
		if h.SeasonalARIMA == nil {
			return fmt.Errorf("seasonal arima handle without model")
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFamily, int(h.Family))
	}
	return nil
}

// RunRecord - метаданные одного запуска обучения
type RunRecord struct {
	ID           uint
	ModelName    string
	Family       ModelFamily
	ProductID    *uint
	TrainStart   *time.Time
	TrainEnd     *time.Time
	Horizon      int
	Params       map[string]any
	Metrics      map[string]any
	ArtifactPath string
	CreatedAt    time.Time
	Duration     time.Duration
}

// Usable - запуск пригоден для загрузки только при наличии артефакта
func (r *RunRecord) Usable() bool {
	return r != nil && r.ArtifactPath != ""
}

// RunRecorder сохраняет запуски в два этапа: сначала запись, затем артефакт и путь к нему
type RunRecorder interface {
	CreateRun(run *RunRecord) error
	AttachArtifact(run *RunRecord, handle *ModelHandle) error
}

// TrainResult - результат обучения: модель или структурированная причина отказа.
// Run заполнен всегда, когда запись о запуске удалось создать.
type TrainResult struct {
	Handle  *ModelHandle
	Run     *RunRecord
	Failure *TrainFailure
}

// OK - модель обучена и сохранена
func (r *TrainResult) OK() bool {
	return r != nil && r.Handle != nil && r.Failure == nil
}

// Trainer - общий контракт обоих семейств
type Trainer interface {
	Family() ModelFamily
	Train(points []DailySalesPoint, horizon int, productID *uint) *TrainResult
}

func trainingWindow(obs []Observation) (*time.Time, *time.Time) {
	if len(obs) == 0 {
		return nil, nil
	}
	start, end := obs[0].Date, obs[len(obs)-1].Date
	return &start, &end
}

// persist выполняет двухфазное сохранение: запись запуска, затем артефакт.
// Ошибка на любом этапе - serialization_failed, модель не возвращается.
func persist(recorder RunRecorder, run *RunRecord, handle *ModelHandle) *TrainResult {
	if recorder == nil {
		return &TrainResult{Handle: handle, Run: run}
	}
	if err := recorder.CreateRun(run); err != nil {
		log.Printf("❌ Не удалось создать запись запуска %s: %v", run.ModelName, err)
		return &TrainResult{Run: run, Failure: &TrainFailure{Reason: FailureSerialization, Err: fmt.Errorf("%w: %v", ErrSerialization, err)}}
	}
	if handle == nil {
		return &TrainResult{Run: run}
	}
	handle.RunID = run.ID
	if err := recorder.AttachArtifact(run, handle); err != nil {
		log.Printf("❌ Не удалось сохранить артефакт запуска #%d: %v", run.ID, err)
		run.ArtifactPath = ""
		return &TrainResult{Run: run, Failure: &TrainFailure{Reason: FailureSerialization, Err: fmt.Errorf("%w: %v", ErrSerialization, err)}}
	}
	return &TrainResult{Handle: handle, Run: run}
}

// recordOnly сохраняет запись о неудачном запуске и возвращает отказ
func recordOnly(recorder RunRecorder, run *RunRecord, failure *TrainFailure) *TrainResult {
	res := persist(recorder, run, nil)
	if res.Failure == nil {
		res.Failure = failure
	}
	return res
}

// GradientBoostedTrainer обучает бустинг на признаках из FeatureConfig
type GradientBoostedTrainer struct {
	Params   GradientBoostingParams
	Features FeatureConfig
	Recorder RunRecorder
}

// NewGradientBoostedTrainer создает тренер с параметрами по умолчанию
func NewGradientBoostedTrainer(recorder RunRecorder) *GradientBoostedTrainer {
	return &GradientBoostedTrainer{
		Params:   DefaultGradientBoostingParams(),
		Features: DefaultFeatureConfig(),
		Recorder: recorder,
	}
}

func (t *GradientBoostedTrainer) Family() ModelFamily {
	return FamilyGradientBoosted
}

// chronologicalSplit: 80/20 при n > 10, иначе все кроме последней строки
func chronologicalSplit(n int) int {
	if n > 10 {
		return int(float64(n) * 0.8)
	}
	if n-1 < 1 {
		return 1
	}
	return n - 1
}

// Train обучает модель. Запись о запуске создается всегда, даже если валидационная часть пуста.
func (t *GradientBoostedTrainer) Train(points []DailySalesPoint, horizon int, productID *uint) *TrainResult {
	started := time.Now()
	obs := Densify(points)
	start, end := trainingWindow(obs)

	params := t.Params.AsMap()
	params["lags"] = t.Features.Lags
	params["rolling_windows"] = t.Features.RollingWindows
	run := &RunRecord{
		ModelName:  FamilyGradientBoosted.String(),
		Family:     FamilyGradientBoosted,
		ProductID:  productID,
		TrainStart: start,
		TrainEnd:   end,
		Horizon:    horizon,
		Params:     params,
		Metrics:    map[string]any{"mae": nil, "rmse": nil},
	}

	if err := t.Features.Validate(); err != nil {
		params["error"] = err.Error()
		run.Duration = time.Since(started)
		return recordOnly(t.Recorder, run, &TrainFailure{Reason: FailureFit, Err: fmt.Errorf("%w: %v", ErrFeatureDerivation, err)})
	}
	if len(obs) == 0 {
		params["error"] = "Not enough data"
		run.Duration = time.Since(started)
		return recordOnly(t.Recorder, run, &TrainFailure{Reason: FailureInsufficientHistory, Err: fmt.Errorf("%w: empty series", ErrInsufficientHistory)})
	}

	table := t.Features.BuildFromObservations(obs)
	split := chronologicalSplit(table.Len())
	params["features"] = table.Columns
	params["train_rows"] = split

	model, err := FitGradientBoosted(table.Rows[:split], table.Y[:split], table.Columns, t.Params)
	if err != nil {
		log.Printf("❌ Ошибка обучения gradient boosted: %v", err)
		params["error"] = err.Error()
		run.Duration = time.Since(started)
		return recordOnly(t.Recorder, run, &TrainFailure{Reason: FailureFit, Err: err})
	}

	valY := table.Y[split:]
	valPred := model.PredictBatch(table.Rows[split:])
	if mae := MeanAbsoluteError(valY, valPred); mae != nil {
		run.Metrics["mae"] = *mae
	}
	if rmse := RootMeanSquaredError(valY, valPred); rmse != nil {
		run.Metrics["rmse"] = *rmse
	}
	run.Duration = time.Since(started)

	handle := &ModelHandle{Family: FamilyGradientBoosted, Features: t.Features, GradientBoosted: model}
	return persist(t.Recorder, run, handle)
}

// SeasonalARIMATrainer подбирает порядки SARIMA и обучает модель на сыром дневном ряде
type SeasonalARIMATrainer struct {
	SeasonalPeriod int
	Limits         OrderSearchLimits
	Recorder       RunRecorder
}

// NewSeasonalARIMATrainer создает тренер с недельной сезонностью
func NewSeasonalARIMATrainer(recorder RunRecorder) *SeasonalARIMATrainer {
	return &SeasonalARIMATrainer{SeasonalPeriod: 7, Limits: DefaultOrderSearchLimits(), Recorder: recorder}
}

func (t *SeasonalARIMATrainer) Family() ModelFamily {
	return FamilySeasonalARIMA
}

// MinPoints - минимальная длина ряда: max(10, 2*s)
func (t *SeasonalARIMATrainer) MinPoints() int {
	if 2*t.period() > 10 {
		return 2 * t.period()
	}
	return 10
}

func (t *SeasonalARIMATrainer) period() int {
	if t.SeasonalPeriod <= 0 {
		return 7
	}
	return t.SeasonalPeriod
}

// FallbackOrders - порядки на случай неудачного автоподбора: (1,1,1)x(0,1,1,s)
func (t *SeasonalARIMATrainer) FallbackOrders() (Order, SeasonalOrder) {
	return Order{P: 1, D: 1, Q: 1}, SeasonalOrder{P: 0, D: 1, Q: 1, S: t.period()}
}

// Train обучает модель. При коротком ряде возвращает запись "(not trained)" без модели.
func (t *SeasonalARIMATrainer) Train(points []DailySalesPoint, horizon int, productID *uint) *TrainResult {
	started := time.Now()
	s := t.period()
	obs := Densify(points)
	start, end := trainingWindow(obs)
	run := &RunRecord{
		ModelName:  FamilySeasonalARIMA.String(),
		Family:     FamilySeasonalARIMA,
		ProductID:  productID,
		TrainStart: start,
		TrainEnd:   end,
		Horizon:    horizon,
		Metrics:    map[string]any{},
	}

	if len(obs) < t.MinPoints() {
		log.Printf("⚠️ ARIMA: недостаточно данных (%d < %d), обучение пропущено", len(obs), t.MinPoints())
		run.ModelName = FamilySeasonalARIMA.String() + " (not trained)"
		run.Params = map[string]any{
			"error":          "Not enough data",
			"order":          []int{0, 0, 0},
			"seasonal_order": []int{0, 0, 0, s},
			"min_points":     t.MinPoints(),
		}
		run.Duration = time.Since(started)
		return recordOnly(t.Recorder, run, &TrainFailure{
			Reason: FailureInsufficientHistory,
			Err:    fmt.Errorf("%w: %d points, need %d", ErrInsufficientHistory, len(obs), t.MinPoints()),
		})
	}

	y := Values(obs)
	order, seasonal := t.FallbackOrders()
	searchMode := "fallback"
	if found, err := SearchOrders(y, s, t.Limits); err != nil {
		log.Printf("⚠️ ARIMA: автоподбор порядков не удался, используем %v x %v: %v", order.Tuple(), seasonal.Tuple(), err)
	} else {
		order, seasonal = found.Order, found.SeasonalOrder
		searchMode = "stepwise"
	}

	run.Params = map[string]any{
		"order":          order.Tuple(),
		"seasonal_order": seasonal.Tuple(),
		"order_search":   searchMode,
	}

	model, err := FitSeasonalARIMA(y, order, seasonal)
	if err != nil && searchMode == "stepwise" {
		// Подобранные порядки не сошлись на полном ряде
		order, seasonal = t.FallbackOrders()
		log.Printf("⚠️ ARIMA: повторное обучение с порядками по умолчанию %v x %v: %v", order.Tuple(), seasonal.Tuple(), err)
		run.Params["order"], run.Params["seasonal_order"], run.Params["order_search"] = order.Tuple(), seasonal.Tuple(), "fallback"
		model, err = FitSeasonalARIMA(y, order, seasonal)
	}
	if err != nil {
		log.Printf("❌ Ошибка обучения ARIMA: %v", err)
		run.Params["error"] = err.Error()
		run.Duration = time.Since(started)
		return recordOnly(t.Recorder, run, &TrainFailure{Reason: FailureFit, Err: err})
	}

	run.Params["aic"] = model.AIC
	run.Params["sigma2"] = model.Sigma2
	run.Duration = time.Since(started)

	handle := &ModelHandle{Family: FamilySeasonalARIMA, SeasonalARIMA: model}
	return persist(t.Recorder, run, handle)
}
