package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"possales/server/internal/config"
	"possales/server/internal/forecast"
	"possales/server/internal/models"
	"possales/server/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubForecasts struct {
	lastPredict services.PredictRequest
	lastTrain   services.TrainRequest
	predictErr  error
	trainResult *forecast.TrainResult
	summary     *services.TrainSummary
}

func (s *stubForecasts) Predict(_ context.Context, req services.PredictRequest) (*services.PredictResponse, error) {
	s.lastPredict = req
	if s.predictErr != nil {
		return nil, s.predictErr
	}
	return &services.PredictResponse{View: "total", Horizon: req.Horizon}, nil
}

func (s *stubForecasts) Train(_ context.Context, req services.TrainRequest) (*forecast.TrainResult, error) {
	s.lastTrain = req
	return s.trainResult, nil
}

func (s *stubForecasts) TrainAllProducts(_ context.Context, days, horizon int) (*services.TrainSummary, error) {
	return s.summary, nil
}

func (s *stubForecasts) Config() config.ForecastConfig {
	return config.ForecastConfig{DefaultHorizon: 7, MinHistory: 30}
}

type stubRuns struct {
	runs    []models.ForecastRun
	cleaned int
}

func (s *stubRuns) ListRuns(limit int) ([]models.ForecastRun, error) { return s.runs, nil }

func (s *stubRuns) GetRun(id uint) (*models.ForecastRun, error) {
	for i := range s.runs {
		if s.runs[i].ID == id {
			return &s.runs[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRuns) Cleanup(keepLast int) (int, error) {
	s.cleaned = keepLast
	return 3, nil
}

type stubDetails struct{ date time.Time }

func (s *stubDetails) GetDailySalesDetails(date time.Time) (*services.DailySalesDetails, error) {
	s.date = date
	return &services.DailySalesDetails{}, nil
}

type stubReports struct{ fail bool }

func (s stubReports) ExportDashboard(w io.Writer) error {
	if s.fail {
		return errors.New("no data")
	}
	_, err := w.Write([]byte("xlsx"))
	return err
}

func (s stubReports) ExportForecastReport(w io.Writer) error { return s.ExportDashboard(w) }

func newForecastRouter(fc *ForecastController, token string) *gin.Engine {
	r := gin.New()
	fc.RegisterRoutes(r.Group("/api/v1/sales-forecast"), AdminToken(token))
	return r
}

func perform(r http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetForecastParsesQuery(t *testing.T) {
	stub := &stubForecasts{}
	r := newForecastRouter(NewForecastController(stub, &stubRuns{}, &stubDetails{}, stubReports{}), "")

	w := perform(r, http.MethodGet, "/api/v1/sales-forecast/forecast?horizon=14&product_id=3&start=2024-01-01&end=2024-06-01&force=true&restock=full", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	req := stub.lastPredict
	assert.Equal(t, 14, req.Horizon)
	require.NotNil(t, req.ProductID)
	assert.Equal(t, uint(3), *req.ProductID)
	require.NotNil(t, req.Start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *req.Start)
	require.NotNil(t, req.End)
	assert.True(t, req.Force)
	assert.Equal(t, forecast.RestockFullList, req.RestockMode)
}

func TestGetForecastDefaults(t *testing.T) {
	stub := &stubForecasts{}
	r := newForecastRouter(NewForecastController(stub, &stubRuns{}, &stubDetails{}, stubReports{}), "")

	w := perform(r, http.MethodGet, "/api/v1/sales-forecast/forecast", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, stub.lastPredict.Horizon)
	assert.Nil(t, stub.lastPredict.ProductID)
	assert.False(t, stub.lastPredict.Force)
	assert.NotEqual(t, forecast.RestockFullList, stub.lastPredict.RestockMode)
}

func TestGetForecastRejectsBadInput(t *testing.T) {
	r := newForecastRouter(NewForecastController(&stubForecasts{}, &stubRuns{}, &stubDetails{}, stubReports{}), "")

	for _, q := range []string{"horizon=-1", "horizon=abc", "product_id=x", "start=01.01.2024"} {
		w := perform(r, http.MethodGet, "/api/v1/sales-forecast/forecast?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetForecastMapsServiceErrors(t *testing.T) {
	cases := map[error]int{
		services.ErrInvalidRequest:    http.StatusBadRequest,
		forecast.ErrFeatureDerivation: http.StatusUnprocessableEntity,
		errors.New("db down"):         http.StatusInternalServerError,
	}
	for err, code := range cases {
		stub := &stubForecasts{predictErr: err}
		r := newForecastRouter(NewForecastController(stub, &stubRuns{}, &stubDetails{}, stubReports{}), "")
		w := perform(r, http.MethodGet, "/api/v1/sales-forecast/forecast", "", nil)
		assert.Equal(t, code, w.Code, err.Error())
	}
}

func TestRetrainReportsRun(t *testing.T) {
	stub := &stubForecasts{trainResult: &forecast.TrainResult{
		Handle: &forecast.ModelHandle{Family: forecast.FamilyGradientBoosted},
		Run:    &forecast.RunRecord{ID: 12, ModelName: "xgb_total_20240615", Family: forecast.FamilyGradientBoosted},
	}}
	r := newForecastRouter(NewForecastController(stub, &stubRuns{}, &stubDetails{}, stubReports{}), "secret")

	w := perform(r, http.MethodPost, "/api/v1/sales-forecast/retrain", `{"days":90,"model":"xgb"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = perform(r, http.MethodPost, "/api/v1/sales-forecast/retrain", `{"days":90,"model":"xgb"}`, map[string]string{"X-Admin-Token": "secret"})
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trained", body["status"])
	assert.Equal(t, float64(12), body["run_id"])
	assert.Equal(t, "xgb_total_20240615", body["model"])
	assert.Nil(t, body["failure"])

	assert.Equal(t, 90, stub.lastTrain.Days)
	require.NotNil(t, stub.lastTrain.Family)
	assert.Equal(t, forecast.FamilyGradientBoosted, *stub.lastTrain.Family)
}

func TestRetrainInsufficientHistory(t *testing.T) {
	stub := &stubForecasts{trainResult: &forecast.TrainResult{
		Failure: &forecast.TrainFailure{Reason: forecast.FailureInsufficientHistory, Err: forecast.ErrInsufficientHistory},
	}}
	r := newForecastRouter(NewForecastController(stub, &stubRuns{}, &stubDetails{}, stubReports{}), "")

	w := perform(r, http.MethodPost, "/api/v1/sales-forecast/retrain", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_trained", body["status"])
	assert.Nil(t, body["run_id"])
	failure, ok := body["failure"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "insufficient_history", failure["reason"])
	assert.Nil(t, stub.lastTrain.Family)
}

func TestRetrainUnknownModel(t *testing.T) {
	r := newForecastRouter(NewForecastController(&stubForecasts{}, &stubRuns{}, &stubDetails{}, stubReports{}), "")
	w := perform(r, http.MethodPost, "/api/v1/sales-forecast/retrain", `{"model":"prophet"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetrainAllProducts(t *testing.T) {
	stub := &stubForecasts{summary: &services.TrainSummary{Trained: 2, Skipped: 1, Runs: []uint{4, 5}}}
	r := newForecastRouter(NewForecastController(stub, &stubRuns{}, &stubDetails{}, stubReports{}), "")

	w := perform(r, http.MethodPost, "/api/v1/sales-forecast/retrain", `{"all_products":true}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"trained":2,"skipped":1,"failed":0,"runs":[4,5]}`, w.Body.String())
}

func TestRunsEndpoints(t *testing.T) {
	runs := &stubRuns{runs: []models.ForecastRun{{ID: 1, ModelName: "arima_total"}}}
	r := newForecastRouter(NewForecastController(&stubForecasts{}, runs, &stubDetails{}, stubReports{}), "")

	w := perform(r, http.MethodGet, "/api/v1/sales-forecast/runs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = perform(r, http.MethodGet, "/api/v1/sales-forecast/runs/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = perform(r, http.MethodGet, "/api/v1/sales-forecast/runs/9", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = perform(r, http.MethodGet, "/api/v1/sales-forecast/runs/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/api/v1/sales-forecast/cleanup?keep_last=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, runs.cleaned)
	assert.JSONEq(t, `{"deleted":3,"kept":2}`, w.Body.String())

	w = perform(r, http.MethodPost, "/api/v1/sales-forecast/cleanup?keep_last=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDailySalesDetailsRequiresDate(t *testing.T) {
	details := &stubDetails{}
	r := newForecastRouter(NewForecastController(&stubForecasts{}, &stubRuns{}, details, stubReports{}), "")

	w := perform(r, http.MethodGet, "/api/v1/sales-forecast/daily-sales-details", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodGet, "/api/v1/sales-forecast/daily-sales-details?date=2024-06-01", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), details.date)
}

func TestExportEndpoints(t *testing.T) {
	fc := NewForecastController(&stubForecasts{}, &stubRuns{}, &stubDetails{}, stubReports{})
	fc.now = func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }
	r := newForecastRouter(fc, "")

	w := perform(r, http.MethodGet, "/api/v1/sales-forecast/export/dashboard", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.ContentTypeXLSX, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "sales_dashboard_report_2024-06.xlsx")
	assert.Equal(t, "xlsx", w.Body.String())

	failing := newForecastRouter(NewForecastController(&stubForecasts{}, &stubRuns{}, &stubDetails{}, stubReports{fail: true}), "")
	w = perform(failing, http.MethodGet, "/api/v1/sales-forecast/export/forecast-report", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
