package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"possales/server/internal/config"
	"possales/server/internal/forecast"
	"possales/server/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToday = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

type fakeLedger struct {
	total      []forecast.DailySalesPoint
	perProduct map[uint][]forecast.DailySalesPoint
	totals     []forecast.DailySalesPoint
	sales      []forecast.ProductDailySales
}

func inRange(d, from, to time.Time) bool {
	return !d.Before(forecast.Day(from)) && !d.After(forecast.Day(to))
}

func filterPoints(points []forecast.DailySalesPoint, from, to time.Time) []forecast.DailySalesPoint {
	out := []forecast.DailySalesPoint{}
	for _, p := range points {
		if inRange(p.Date, from, to) {
			out = append(out, p)
		}
	}
	return out
}

func (l *fakeLedger) GetDailySeries(from, to time.Time, productID *uint) ([]forecast.DailySalesPoint, error) {
	if productID != nil {
		return filterPoints(l.perProduct[*productID], from, to), nil
	}
	return filterPoints(l.total, from, to), nil
}

func (l *fakeLedger) GetDailyTotals(from, to time.Time) ([]forecast.DailySalesPoint, error) {
	return filterPoints(l.totals, from, to), nil
}

func (l *fakeLedger) GetProductDailySales(from, to time.Time) ([]forecast.ProductDailySales, error) {
	out := []forecast.ProductDailySales{}
	for _, r := range l.sales {
		if inRange(r.Date, from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeInventory struct {
	products []forecast.Product
}

func (i *fakeInventory) GetAllProducts() ([]forecast.Product, error) {
	return i.products, nil
}

type fakeRegistry struct {
	runs    []*forecast.RunRecord
	handles map[uint]*forecast.ModelHandle
	results map[uint][]forecast.PredictedPoint
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		handles: make(map[uint]*forecast.ModelHandle),
		results: make(map[uint][]forecast.PredictedPoint),
	}
}

func (r *fakeRegistry) CreateRun(run *forecast.RunRecord) error {
	run.ID = uint(len(r.runs) + 1)
	run.CreatedAt = time.Now()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRegistry) AttachArtifact(run *forecast.RunRecord, handle *forecast.ModelHandle) error {
	run.ArtifactPath = fmt.Sprintf("mem://%d", run.ID)
	r.handles[run.ID] = handle
	return nil
}

func sameProduct(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *fakeRegistry) LoadLatest(productID *uint) (*forecast.ModelHandle, *forecast.RunRecord, error) {
	for i := len(r.runs) - 1; i >= 0; i-- {
		run := r.runs[i]
		if run.Usable() && sameProduct(run.ProductID, productID) {
			return r.handles[run.ID], run, nil
		}
	}
	return nil, nil, forecast.ErrNoPersistedModel
}

func (r *fakeRegistry) SaveResults(runID uint, points []forecast.PredictedPoint, productID *uint) error {
	stored := make(map[time.Time]bool)
	for _, p := range r.results[runID] {
		stored[p.Date] = true
	}
	for _, p := range points {
		if !stored[p.Date] {
			stored[p.Date] = true
			r.results[runID] = append(r.results[runID], p)
		}
	}
	return nil
}

type memoryCache struct {
	data        map[string][]byte
	invalidated int
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.data[key]
	if !ok {
		return utils.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.data = make(map[string][]byte)
	c.invalidated++
	return nil
}

type recordingPublisher struct {
	events []RunEvent
}

func (p *recordingPublisher) PublishRun(_ context.Context, ev RunEvent) error {
	p.events = append(p.events, ev)
	return nil
}

// series - n дней, заканчивающихся вчера
func series(n int, value func(i int) float64) []forecast.DailySalesPoint {
	start := testToday.AddDate(0, 0, -n)
	out := make([]forecast.DailySalesPoint, n)
	for i := range out {
		out[i] = forecast.DailySalesPoint{Date: start.AddDate(0, 0, i), TotalQuantity: value(i)}
	}
	return out
}

func constant(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func weekly(i int) float64 {
	v := 10.0 + float64(i%7)
	if i%7 == 5 {
		v += 15
	}
	return v
}

func testConfig(preferred string) config.ForecastConfig {
	return config.ForecastConfig{
		MinHistory:     30,
		DefaultHorizon: 7,
		TrainingDays:   365,
		SeasonalPeriod: 7,
		PreferredModel: preferred,
	}
}

func newTestService(ledger *fakeLedger, inv *fakeInventory, reg *fakeRegistry, cfg config.ForecastConfig) *ForecastService {
	svc := NewForecastService(ledger, inv, reg, cfg)
	svc.now = func() time.Time { return testToday.Add(10 * time.Hour) }
	svc.demo = NewDemoForecaster(1)
	return svc
}

func TestPredictShortHistoryReturnsHistoricalOnly(t *testing.T) {
	ledger := &fakeLedger{total: series(5, constant(10))}
	reg := newFakeRegistry()
	svc := newTestService(ledger, &fakeInventory{}, reg, testConfig("arima"))

	resp, err := svc.Predict(context.Background(), PredictRequest{Horizon: 7})
	require.NoError(t, err)

	assert.Equal(t, "daily", resp.View)
	require.Len(t, resp.Historical, 5)
	assert.Equal(t, 10.0, *resp.Historical[0].Actual)
	assert.Nil(t, resp.Historical[0].Predicted)
	assert.Empty(t, resp.Forecast)
	assert.Zero(t, resp.RestockRecommendations.Len())
	assert.Nil(t, resp.Meta.Model)
	assert.Equal(t, 5, resp.Meta.HistoryPoints)
	assert.Empty(t, reg.runs, "training must not start below the history threshold")
}

func TestPredictForceTrainsOnShortHistory(t *testing.T) {
	ledger := &fakeLedger{total: series(5, constant(50))}
	reg := newFakeRegistry()
	pub := &recordingPublisher{}
	svc := newTestService(ledger, &fakeInventory{}, reg, testConfig("xgb"))
	svc.AddPublisher(pub)

	resp, err := svc.Predict(context.Background(), PredictRequest{Horizon: 3, Force: true})
	require.NoError(t, err)

	require.Len(t, resp.Forecast, 3)
	assert.Equal(t, testToday.Format(dateLayout), resp.Forecast[0].Date)
	for _, p := range resp.Forecast {
		assert.InDelta(t, 50, *p.Predicted, 1e-9)
		assert.Nil(t, p.Actual)
	}
	assert.True(t, resp.Meta.Forced)
	require.NotNil(t, resp.Meta.RunID)
	assert.Equal(t, "gradient_boosted", resp.Meta.Family)
	assert.Len(t, reg.results[*resp.Meta.RunID], 3)

	require.Len(t, pub.events, 1)
	assert.Equal(t, RunStatusTrained, pub.events[0].Status)
}

func TestPredictAutoTrainsWithEnoughHistory(t *testing.T) {
	ledger := &fakeLedger{total: series(56, weekly)}
	reg := newFakeRegistry()
	svc := newTestService(ledger, &fakeInventory{}, reg, testConfig("arima"))

	resp, err := svc.Predict(context.Background(), PredictRequest{Horizon: 7})
	require.NoError(t, err)

	assert.Len(t, resp.Historical, 30)
	require.Len(t, resp.Forecast, 7)
	assert.Equal(t, "seasonal_arima", resp.Meta.Family)
	require.Len(t, reg.runs, 1)
	assert.True(t, reg.runs[0].Usable())

	// Повторный прогноз использует сохраненную модель
	again, err := svc.Predict(context.Background(), PredictRequest{Horizon: 7})
	require.NoError(t, err)
	assert.Len(t, reg.runs, 1)
	assert.Equal(t, *resp.Meta.RunID, *again.Meta.RunID)
}

func TestPredictRestockRecommendations(t *testing.T) {
	ledger := &fakeLedger{
		total: series(35, constant(50)),
		sales: []forecast.ProductDailySales{
			{Date: testToday.AddDate(0, 0, -1), ProductID: 1, TotalQuantity: 5},
			{Date: testToday.AddDate(0, 0, -2), ProductID: 1, TotalQuantity: 5},
			{Date: testToday.AddDate(0, 0, -3), ProductID: 1, TotalQuantity: 5},
			{Date: testToday.AddDate(0, 0, -1), ProductID: 2, TotalQuantity: 5},
			// вне окна скорости продаж
			{Date: testToday.AddDate(0, 0, -20), ProductID: 1, TotalQuantity: 500},
		},
	}
	inv := &fakeInventory{products: []forecast.Product{
		{ID: 1, Name: "Milk", SKU: "MLK-001", Stock: 3},
		{ID: 2, Name: "Bread", SKU: "BRD-001", Stock: 100},
	}}
	svc := newTestService(ledger, inv, newFakeRegistry(), testConfig("xgb"))

	resp, err := svc.Predict(context.Background(), PredictRequest{Horizon: 2, RestockMode: forecast.RestockFullList})
	require.NoError(t, err)
	require.Len(t, resp.Forecast, 2)

	require.Equal(t, 2, resp.RestockRecommendations.Len())
	for _, p := range resp.Forecast {
		recs := resp.RestockRecommendations.For(p.Date)
		require.Len(t, recs, 1)
		assert.Equal(t, uint(1), recs[0].ProductID)
		assert.Equal(t, 5.0, recs[0].AvgDailySales)
		assert.Equal(t, 35, recs[0].SuggestedQty)
	}
}

func TestPredictNegativeHorizon(t *testing.T) {
	svc := newTestService(&fakeLedger{}, &fakeInventory{}, newFakeRegistry(), testConfig("arima"))
	_, err := svc.Predict(context.Background(), PredictRequest{Horizon: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPredictStartAfterEnd(t *testing.T) {
	svc := newTestService(&fakeLedger{}, &fakeInventory{}, newFakeRegistry(), testConfig("arima"))
	start, end := testToday, testToday.AddDate(0, 0, -3)
	_, err := svc.Predict(context.Background(), PredictRequest{Horizon: 7, Start: &start, End: &end})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPredictFallsBackToDailyTotals(t *testing.T) {
	totals := series(5, constant(0))
	for i := range totals {
		totals[i].TotalRevenue = decimal.NewFromInt(1200)
	}
	svc := newTestService(&fakeLedger{totals: totals}, &fakeInventory{}, newFakeRegistry(), testConfig("arima"))

	resp, err := svc.Predict(context.Background(), PredictRequest{Horizon: 7})
	require.NoError(t, err)
	require.Len(t, resp.Historical, 5)
	assert.Equal(t, 1200.0, *resp.Historical[0].Actual)
	assert.Equal(t, "daily_sales_records", resp.Meta.Source)
}

func TestPredictDemoMode(t *testing.T) {
	cfg := testConfig("arima")
	cfg.EnableDemo = true
	reg := newFakeRegistry()
	svc := newTestService(&fakeLedger{total: series(40, constant(10))}, &fakeInventory{}, reg, cfg)

	resp, err := svc.Predict(context.Background(), PredictRequest{Horizon: 5})
	require.NoError(t, err)

	assert.True(t, resp.Meta.DemoMode)
	require.NotNil(t, resp.Meta.Model)
	assert.Equal(t, "seasonal_arima (demo)", *resp.Meta.Model)
	assert.Len(t, resp.Historical, 30)
	require.Len(t, resp.Forecast, 5)
	for _, p := range resp.Forecast {
		assert.Greater(t, *p.Predicted, 0.0)
	}
	recs := resp.RestockRecommendations.For(resp.Forecast[0].Date)
	require.Len(t, recs, 1)
	assert.Equal(t, "Bread", recs[0].Name)
	assert.Empty(t, reg.runs, "demo mode does not train")
}

func TestPredictServesCachedResponse(t *testing.T) {
	cache := &memoryCache{data: make(map[string][]byte)}
	reg := newFakeRegistry()
	svc := newTestService(&fakeLedger{total: series(35, constant(20))}, &fakeInventory{}, reg, testConfig("xgb"))
	svc.SetCache(cache)

	first, err := svc.Predict(context.Background(), PredictRequest{Horizon: 3})
	require.NoError(t, err)
	assert.False(t, first.Meta.Cached)
	assert.Equal(t, 1, cache.invalidated)

	second, err := svc.Predict(context.Background(), PredictRequest{Horizon: 3})
	require.NoError(t, err)
	assert.True(t, second.Meta.Cached)
	assert.Equal(t, first.Forecast, second.Forecast)
	assert.Len(t, reg.results[*first.Meta.RunID], 3)
}

func TestTrainArimaNotEnoughDataKeepsRecord(t *testing.T) {
	reg := newFakeRegistry()
	pub := &recordingPublisher{}
	svc := newTestService(&fakeLedger{total: series(10, constant(5))}, &fakeInventory{}, reg, testConfig("arima"))
	svc.AddPublisher(pub)

	res, err := svc.Train(context.Background(), TrainRequest{Days: 30, Horizon: 7})
	require.NoError(t, err)

	assert.Nil(t, res.Handle)
	require.NotNil(t, res.Failure)
	assert.Equal(t, forecast.FailureInsufficientHistory, res.Failure.Reason)
	require.Len(t, reg.runs, 1)
	assert.False(t, reg.runs[0].Usable())
	assert.Equal(t, []int{0, 0, 0}, reg.runs[0].Params["order"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, RunStatusNotTrained, pub.events[0].Status)
}

func TestTrainExplicitFamily(t *testing.T) {
	reg := newFakeRegistry()
	svc := newTestService(&fakeLedger{total: series(20, constant(7))}, &fakeInventory{}, reg, testConfig("arima"))
	family := forecast.FamilyGradientBoosted

	res, err := svc.Train(context.Background(), TrainRequest{Family: &family})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, forecast.FamilyGradientBoosted, res.Handle.Family)
	assert.Equal(t, 7, res.Run.Horizon)
}

func TestTrainAllProducts(t *testing.T) {
	ledger := &fakeLedger{
		total: series(20, constant(30)),
		perProduct: map[uint][]forecast.DailySalesPoint{
			1: series(20, constant(4)),
			2: series(20, constant(0)),
		},
	}
	inv := &fakeInventory{products: []forecast.Product{{ID: 1, Name: "Milk"}, {ID: 2, Name: "Bread"}, {ID: 3, Name: "Eggs"}}}
	reg := newFakeRegistry()
	svc := newTestService(ledger, inv, reg, testConfig("xgb"))

	summary, err := svc.TrainAllProducts(context.Background(), 60, 7)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Trained)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []uint{1, 2}, summary.Runs)
	require.NotNil(t, reg.runs[1].ProductID)
	assert.Equal(t, uint(1), *reg.runs[1].ProductID)
}
