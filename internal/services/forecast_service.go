package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"possales/server/internal/config"
	"possales/server/internal/forecast"
)

const dateLayout = "2006-01-02"

// Сколько последних точек истории отдается в ответе прогноза
const historicalTail = 30

// ErrInvalidRequest - некорректные параметры запроса прогноза/обучения
var ErrInvalidRequest = errors.New("invalid forecast request")

// SalesLedger - источник дневных продаж
type SalesLedger interface {
	GetDailySeries(from, to time.Time, productID *uint) ([]forecast.DailySalesPoint, error)
	GetDailyTotals(from, to time.Time) ([]forecast.DailySalesPoint, error)
	GetProductDailySales(from, to time.Time) ([]forecast.ProductDailySales, error)
}

// InventoryLookup - каталог товаров с остатками
type InventoryLookup interface {
	GetAllProducts() ([]forecast.Product, error)
}

// RunRegistry - хранилище запусков и моделей
type RunRegistry interface {
	forecast.RunRecorder
	LoadLatest(productID *uint) (*forecast.ModelHandle, *forecast.RunRecord, error)
	SaveResults(runID uint, points []forecast.PredictedPoint, productID *uint) error
}

// ForecastService связывает журнал продаж, обучение, реестр моделей и рекомендации по пополнению
type ForecastService struct {
	ledger     SalesLedger
	inventory  InventoryLookup
	registry   RunRegistry
	cfg        config.ForecastConfig
	advisor    *forecast.RestockAdvisor
	cache      ForecastCache
	publishers []RunPublisher
	demo       *DemoForecaster
	now        func() time.Time
}

// NewForecastService создает новый экземпляр ForecastService
func NewForecastService(ledger SalesLedger, inventory InventoryLookup, registry RunRegistry, cfg config.ForecastConfig) *ForecastService {
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 30
	}
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = 7
	}
	if cfg.TrainingDays <= 0 {
		cfg.TrainingDays = 365
	}
	return &ForecastService{
		ledger:    ledger,
		inventory: inventory,
		registry:  registry,
		cfg:       cfg,
		advisor:   forecast.NewRestockAdvisor(),
		demo:      NewDemoForecaster(time.Now().UnixNano()),
		now:       time.Now,
	}
}

// SetCache подключает кэш ответов (nil - без кэша)
func (s *ForecastService) SetCache(cache ForecastCache) {
	s.cache = cache
}

// AddPublisher добавляет получателя событий о запусках
func (s *ForecastService) AddPublisher(p RunPublisher) {
	if p != nil {
		s.publishers = append(s.publishers, p)
	}
}

// Config возвращает настройки прогноза
func (s *ForecastService) Config() config.ForecastConfig {
	return s.cfg
}

func (s *ForecastService) today() time.Time {
	return forecast.Day(s.now())
}

// TrainRequest - параметры обучения
type TrainRequest struct {
	Days      int
	Horizon   int
	ProductID *uint
	Family    *forecast.ModelFamily // nil - предпочтительное семейство с откатом на бустинг
}

// Train обучает модель на последних Days днях истории
func (s *ForecastService) Train(ctx context.Context, req TrainRequest) (*forecast.TrainResult, error) {
	if req.Days < 0 || req.Horizon < 0 {
		return nil, fmt.Errorf("%w: days and horizon must be non-negative", ErrInvalidRequest)
	}
	if req.Days == 0 {
		req.Days = s.cfg.TrainingDays
	}
	if req.Horizon == 0 {
		req.Horizon = s.cfg.DefaultHorizon
	}

	series, _, err := s.history(s.today().AddDate(0, 0, -req.Days), s.today(), req.ProductID)
	if err != nil {
		return nil, err
	}
	return s.trainOn(ctx, series, req.Horizon, req.ProductID, req.Family), nil
}

// history читает дневной ряд; для общего ряда без детализации по товарам берет дневную выручку
func (s *ForecastService) history(from, to time.Time, productID *uint) ([]forecast.DailySalesPoint, string, error) {
	series, err := s.ledger.GetDailySeries(from, to, productID)
	if err != nil {
		return nil, "", err
	}
	if len(series) > 0 || productID != nil {
		return series, "sale_item_units", nil
	}

	totals, err := s.ledger.GetDailyTotals(from, to)
	if err != nil {
		return nil, "", err
	}
	if len(totals) == 0 {
		return series, "sale_item_units", nil
	}
	log.Printf("⚠️ Нет агрегатов по товарам за %s..%s, используется дневная выручка (%d дней)",
		from.Format(dateLayout), to.Format(dateLayout), len(totals))
	return revenueAsQuantity(totals), "daily_sales_records", nil
}

// revenueAsQuantity - ряд выручки в роли целевой величины
func revenueAsQuantity(points []forecast.DailySalesPoint) []forecast.DailySalesPoint {
	out := make([]forecast.DailySalesPoint, len(points))
	for i, p := range points {
		out[i] = p
		if p.TotalQuantity == 0 {
			out[i].TotalQuantity = p.TotalRevenue.InexactFloat64()
		}
	}
	return out
}

func (s *ForecastService) trainer(family forecast.ModelFamily) forecast.Trainer {
	if family == forecast.FamilyGradientBoosted {
		return forecast.NewGradientBoostedTrainer(s.registry)
	}
	t := forecast.NewSeasonalARIMATrainer(s.registry)
	if s.cfg.SeasonalPeriod > 1 {
		t.SeasonalPeriod = s.cfg.SeasonalPeriod
	}
	return t
}

func (s *ForecastService) preferredFamily() forecast.ModelFamily {
	family, err := forecast.ParseModelFamily(s.cfg.PreferredModel)
	if err != nil {
		return forecast.FamilySeasonalARIMA
	}
	return family
}

func (s *ForecastService) trainOn(ctx context.Context, series []forecast.DailySalesPoint, horizon int, productID *uint, family *forecast.ModelFamily) *forecast.TrainResult {
	var res *forecast.TrainResult
	if family != nil {
		res = s.trainer(*family).Train(series, horizon, productID)
	} else {
		res = s.trainDefault(series, horizon, productID)
	}
	s.afterTraining(ctx, res)
	return res
}

// trainDefault: предпочтительное семейство, при ошибке подгонки ARIMA - бустинг
func (s *ForecastService) trainDefault(series []forecast.DailySalesPoint, horizon int, productID *uint) *forecast.TrainResult {
	preferred := s.preferredFamily()
	res := s.trainer(preferred).Train(series, horizon, productID)
	if preferred == forecast.FamilySeasonalARIMA && res.Failure != nil && res.Failure.Reason == forecast.FailureFit {
		log.Printf("⚠️ ARIMA не обучилась (%v), пробуем градиентный бустинг", res.Failure)
		res = s.trainer(forecast.FamilyGradientBoosted).Train(series, horizon, productID)
	}
	return res
}

func (s *ForecastService) afterTraining(ctx context.Context, res *forecast.TrainResult) {
	switch {
	case res.OK():
		log.Printf("🤖 Модель обучена: %s (запуск #%d)", res.Run.ModelName, res.Run.ID)
	case res.Failure != nil:
		log.Printf("⚠️ Обучение без модели: %v", res.Failure)
	}

	event := NewRunEvent(res)
	for _, p := range s.publishers {
		if err := p.PublishRun(ctx, event); err != nil {
			log.Printf("⚠️ Не удалось опубликовать событие запуска #%d: %v", event.RunID, err)
		}
	}
	if res.OK() && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Printf("⚠️ Не удалось сбросить кэш прогнозов: %v", err)
		}
	}
}

// TrainSummary - итог массового обучения
type TrainSummary struct {
	Trained int    `json:"trained"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Runs    []uint `json:"runs"`
}

func (t *TrainSummary) add(res *forecast.TrainResult) {
	if res.Run != nil && res.Run.ID != 0 {
		t.Runs = append(t.Runs, res.Run.ID)
	}
	switch {
	case res.OK():
		t.Trained++
	case res.Failure != nil && res.Failure.Reason == forecast.FailureInsufficientHistory:
		t.Skipped++
	default:
		t.Failed++
	}
}

// TrainAllProducts обучает модель общего ряда, затем модель каждого товара.
// Товары без продаж в окне пропускаются.
func (s *ForecastService) TrainAllProducts(ctx context.Context, days, horizon int) (*TrainSummary, error) {
	summary := &TrainSummary{Runs: []uint{}}

	total, err := s.Train(ctx, TrainRequest{Days: days, Horizon: horizon})
	if err != nil {
		return nil, err
	}
	summary.add(total)

	products, err := s.inventory.GetAllProducts()
	if err != nil {
		return summary, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	if days <= 0 {
		days = s.cfg.TrainingDays
	}
	if horizon <= 0 {
		horizon = s.cfg.DefaultHorizon
	}
	from := s.today().AddDate(0, 0, -days)

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		id := p.ID
		series, err := s.ledger.GetDailySeries(from, s.today(), &id)
		if err != nil {
			log.Printf("❌ Товар %d (%s): %v", p.ID, p.Name, err)
			summary.Failed++
			continue
		}
		if allZero(series) {
			summary.Skipped++
			continue
		}
		summary.add(s.trainOn(ctx, series, horizon, &id, nil))
	}
	log.Printf("📊 Массовое обучение: обучено %d, пропущено %d, ошибок %d", summary.Trained, summary.Skipped, summary.Failed)
	return summary, nil
}

func allZero(series []forecast.DailySalesPoint) bool {
	for _, p := range series {
		if p.TotalQuantity != 0 {
			return false
		}
	}
	return true
}

// PredictRequest - параметры прогноза
type PredictRequest struct {
	Horizon     int
	ProductID   *uint
	Start       *time.Time
	End         *time.Time
	Force       bool // обойти минимальный порог истории
	RestockMode forecast.RestockMode
}

// SeriesPoint - точка графика: факт или прогноз
type SeriesPoint struct {
	Date      string   `json:"date"`
	Actual    *float64 `json:"actual"`
	Predicted *float64 `json:"predicted"`
}

func actualPoint(date time.Time, v float64) SeriesPoint {
	return SeriesPoint{Date: date.Format(dateLayout), Actual: &v}
}

func predictedPoints(points []forecast.PredictedPoint) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(points))
	for _, p := range points {
		v := p.Predicted
		out = append(out, SeriesPoint{Date: p.Date.Format(dateLayout), Predicted: &v})
	}
	return out
}

// ForecastMeta - сведения о модели и источнике данных
type ForecastMeta struct {
	Model         *string `json:"model"`
	RunID         *uint   `json:"run_id"`
	Family        string  `json:"family,omitempty"`
	Forced        bool    `json:"forced"`
	DemoMode      bool    `json:"demo_mode"`
	HistoryPoints int     `json:"history_points"`
	MinHistory    int     `json:"min_history"`
	Source        string  `json:"source,omitempty"`
	Cached        bool    `json:"cached"`
	Note          string  `json:"note,omitempty"`
}

// PredictResponse - ответ эндпоинта прогноза
type PredictResponse struct {
	View                   string               `json:"view"`
	Horizon                int                  `json:"horizon"`
	Historical             []SeriesPoint        `json:"historical"`
	Forecast               []SeriesPoint        `json:"forecast"`
	RestockRecommendations forecast.RestockPlan `json:"restock_recommendations"`
	Meta                   ForecastMeta         `json:"meta"`
}

// historyValue: выручка, если известна, иначе количество
func historyValue(p forecast.DailySalesPoint) float64 {
	if !p.TotalRevenue.IsZero() {
		return p.TotalRevenue.InexactFloat64()
	}
	return p.TotalQuantity
}

func historicalPoints(series []forecast.DailySalesPoint) []SeriesPoint {
	if len(series) > historicalTail {
		series = series[len(series)-historicalTail:]
	}
	out := make([]SeriesPoint, 0, len(series))
	for _, p := range series {
		out = append(out, actualPoint(p.Date, historyValue(p)))
	}
	return out
}

func cacheKey(runID uint, today time.Time, req PredictRequest, from, to time.Time) string {
	product := "all"
	if req.ProductID != nil {
		product = fmt.Sprintf("%d", *req.ProductID)
	}
	return fmt.Sprintf("run:%d:day:%s:product:%s:h:%d:%s:%s:force:%t:restock:%s",
		runID, today.Format(dateLayout), product, req.Horizon,
		from.Format(dateLayout), to.Format(dateLayout), req.Force, req.RestockMode)
}

// Predict строит ответ прогноза.
// Без модели и при достаточной истории (или Force) модель обучается автоматически.
// При истории короче MinHistory без Force возвращается только история.
func (s *ForecastService) Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	if req.Horizon < 0 {
		return nil, fmt.Errorf("%w: horizon must be non-negative", ErrInvalidRequest)
	}
	if req.RestockMode == "" {
		req.RestockMode = forecast.RestockTopPerDate
	}

	today := s.today()
	to := today
	if req.End != nil {
		to = forecast.Day(*req.End)
	}
	from := to.AddDate(0, 0, -s.cfg.TrainingDays)
	if req.Start != nil {
		from = forecast.Day(*req.Start)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRequest, from.Format(dateLayout), to.Format(dateLayout))
	}

	series, source, err := s.history(from, to, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории продаж: %w", err)
	}
	enough := len(series) >= s.cfg.MinHistory

	handle, run, err := s.registry.LoadLatest(req.ProductID)
	if err != nil {
		if !errors.Is(err, forecast.ErrNoPersistedModel) {
			log.Printf("⚠️ Не удалось загрузить модель: %v", err)
		}
		handle, run = nil, nil
	}

	var key string
	if handle != nil && run != nil && s.cache != nil {
		key = cacheKey(run.ID, today, req, from, to)
		var cached PredictResponse
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			cached.Meta.Cached = true
			return &cached, nil
		}
	}

	if handle == nil && !s.cfg.EnableDemo && len(series) > 0 && (enough || req.Force) {
		res := s.trainOn(ctx, series, req.Horizon, req.ProductID, nil)
		if res.OK() {
			handle, run = res.Handle, res.Run
		}
	}

	if handle == nil && s.cfg.EnableDemo && s.demo != nil {
		log.Printf("🎭 Модели нет, демо-прогноз на %d дней", req.Horizon)
		return s.demo.Response(req.Horizon, today, req.Force), nil
	}

	resp := &PredictResponse{
		View:                   "daily",
		Horizon:                req.Horizon,
		Historical:             historicalPoints(series),
		Forecast:               []SeriesPoint{},
		RestockRecommendations: forecast.RestockPlan{Mode: req.RestockMode},
		Meta: ForecastMeta{
			Forced:        req.Force,
			HistoryPoints: len(series),
			MinHistory:    s.cfg.MinHistory,
			Source:        source,
		},
	}
	if run != nil {
		name, id := run.ModelName, run.ID
		resp.Meta.Model = &name
		resp.Meta.RunID = &id
		resp.Meta.Family = run.Family.String()
	}

	if handle == nil {
		resp.Meta.Note = "no trained model available"
		return resp, nil
	}
	if !enough && !req.Force {
		resp.Meta.Note = fmt.Sprintf("insufficient history: %d of %d daily points", len(series), s.cfg.MinHistory)
		return resp, nil
	}

	recent := series
	if len(recent) == 0 {
		recent = []forecast.DailySalesPoint{{Date: today.AddDate(0, 0, -1)}}
	}
	points, err := forecast.Predict(handle, recent, req.Horizon)
	if err != nil {
		if errors.Is(err, forecast.ErrFeatureDerivation) {
			return nil, err
		}
		log.Printf("❌ Ошибка прогноза (запуск #%d): %v", run.ID, err)
		resp.Meta.Note = "prediction failed"
		return resp, nil
	}
	resp.Forecast = predictedPoints(points)

	if len(points) > 0 && run != nil {
		if err := s.registry.SaveResults(run.ID, points, req.ProductID); err != nil {
			log.Printf("⚠️ %v", err)
		}
		recs, err := s.restock(today, points, req.RestockMode)
		if err != nil {
			log.Printf("⚠️ Рекомендации по пополнению недоступны: %v", err)
		} else {
			resp.RestockRecommendations = recs
		}
	}

	if s.cache != nil && run != nil {
		if key == "" {
			key = cacheKey(run.ID, today, req, from, to)
		}
		if err := s.cache.Set(ctx, key, resp); err != nil {
			log.Printf("⚠️ Не удалось закэшировать прогноз: %v", err)
		}
	}
	return resp, nil
}

// restock - скорость продаж за последнюю неделю, кандидаты и рекомендации на даты прогноза
func (s *ForecastService) restock(today time.Time, points []forecast.PredictedPoint, mode forecast.RestockMode) (forecast.RestockPlan, error) {
	products, err := s.inventory.GetAllProducts()
	if err != nil {
		return forecast.RestockPlan{}, err
	}
	rows, err := s.ledger.GetProductDailySales(s.advisor.WindowStart(today), today)
	if err != nil {
		return forecast.RestockPlan{}, err
	}
	velocity := s.advisor.ComputeVelocity(rows, today)
	candidates := s.advisor.Candidates(products, velocity)
	return s.advisor.Recommend(points, candidates, mode), nil
}
