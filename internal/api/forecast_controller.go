package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"possales/server/internal/config"
	"possales/server/internal/forecast"
	"possales/server/internal/models"
	"possales/server/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type forecastRunner interface {
	Predict(ctx context.Context, req services.PredictRequest) (*services.PredictResponse, error)
	Train(ctx context.Context, req services.TrainRequest) (*forecast.TrainResult, error)
	TrainAllProducts(ctx context.Context, days, horizon int) (*services.TrainSummary, error)
	Config() config.ForecastConfig
}

type runStore interface {
	ListRuns(limit int) ([]models.ForecastRun, error)
	GetRun(id uint) (*models.ForecastRun, error)
	Cleanup(keepLast int) (int, error)
}

type dailyDetailsSource interface {
	GetDailySalesDetails(date time.Time) (*services.DailySalesDetails, error)
}

type reportExporter interface {
	ExportDashboard(w io.Writer) error
	ExportForecastReport(w io.Writer) error
}

// ForecastController - API прогнозирования продаж
type ForecastController struct {
	forecasts forecastRunner
	runs      runStore
	sales     dailyDetailsSource
	reports   reportExporter
	now       func() time.Time
}

// NewForecastController создает новый контроллер прогнозов
func NewForecastController(forecasts forecastRunner, runs runStore, sales dailyDetailsSource, reports reportExporter) *ForecastController {
	return &ForecastController{
		forecasts: forecasts,
		runs:      runs,
		sales:     sales,
		reports:   reports,
		now:       time.Now,
	}
}

// RegisterRoutes регистрирует маршруты; admin защищает обучение и очистку
func (fc *ForecastController) RegisterRoutes(group *gin.RouterGroup, admin gin.HandlerFunc) {
	group.GET("/forecast", fc.GetForecast)
	group.POST("/retrain", admin, fc.Retrain)
	group.GET("/runs", fc.ListRuns)
	group.GET("/runs/:id", fc.GetRun)
	group.POST("/cleanup", admin, fc.Cleanup)
	group.GET("/daily-sales-details", fc.GetDailySalesDetails)
	group.GET("/export/dashboard", fc.ExportDashboard)
	group.GET("/export/forecast-report", fc.ExportForecastReport)
}

func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("неверный формат даты %q, ожидается YYYY-MM-DD", value)
	}
	return &t, nil
}

func parseProductID(value string) (*uint, error) {
	if value == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("неверный product_id %q", value)
	}
	v := uint(id)
	return &v, nil
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "details": err.Error()})
}

// GetForecast возвращает историю, прогноз и рекомендации по пополнению
// GET /api/v1/sales-forecast/forecast?horizon=7&product_id=&start=&end=&force=1&restock=full
func (fc *ForecastController) GetForecast(c *gin.Context) {
	req := services.PredictRequest{Horizon: fc.forecasts.Config().DefaultHorizon}
	if raw := c.Query("horizon"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 0 || h > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "horizon должен быть целым числом от 0 до 365"})
			return
		}
		req.Horizon = h
	}

	var err error
	if req.ProductID, err = parseProductID(c.Query("product_id")); err != nil {
		badRequest(c, "Некорректные параметры запроса", err)
		return
	}
	if req.Start, err = parseDateParam(c.Query("start")); err != nil {
		badRequest(c, "Некорректные параметры запроса", err)
		return
	}
	if req.End, err = parseDateParam(c.Query("end")); err != nil {
		badRequest(c, "Некорректные параметры запроса", err)
		return
	}
	req.Force = parseFlag(c.Query("force"))
	if strings.EqualFold(c.Query("restock"), string(forecast.RestockFullList)) {
		req.RestockMode = forecast.RestockFullList
	}

	resp, err := fc.forecasts.Predict(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidRequest):
			badRequest(c, "Некорректные параметры запроса", err)
		case errors.Is(err, forecast.ErrFeatureDerivation):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Не удалось построить признаки для прогноза", "details": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка построения прогноза", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RetrainRequest - тело запроса на обучение (все поля необязательны)
type RetrainRequest struct {
	Days        int    `json:"days"`
	Horizon     int    `json:"horizon"`
	ProductID   *uint  `json:"product_id"`
	Model       string `json:"model"` // arima | xgb; пусто - по умолчанию с откатом
	AllProducts bool   `json:"all_products"`
}

// Retrain запускает обучение
// POST /api/v1/sales-forecast/retrain
func (fc *ForecastController) Retrain(c *gin.Context) {
	var body RetrainRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Неверный формат запроса", err)
			return
		}
	}
	if body.Days < 0 || body.Horizon < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days и horizon не могут быть отрицательными"})
		return
	}

	if body.AllProducts {
		summary, err := fc.forecasts.TrainAllProducts(c.Request.Context(), body.Days, body.Horizon)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка массового обучения", "details": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, summary)
		return
	}

	req := services.TrainRequest{Days: body.Days, Horizon: body.Horizon, ProductID: body.ProductID}
	if body.Model != "" {
		family, err := forecast.ParseModelFamily(body.Model)
		if err != nil {
			badRequest(c, "Неизвестная модель", err)
			return
		}
		req.Family = &family
	}

	res, err := fc.forecasts.Train(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "Ошибка обучения модели", "details": err.Error()})
		return
	}

	event := services.NewRunEvent(res)
	out := gin.H{"status": event.Status, "run_id": nil, "model": nil, "failure": nil}
	if event.RunID != 0 {
		out["run_id"] = event.RunID
		out["model"] = event.ModelName
	}
	if res != nil && res.Failure != nil {
		out["failure"] = gin.H{"reason": res.Failure.Reason, "message": res.Failure.Error()}
	}
	c.JSON(http.StatusCreated, out)
}

// ListRuns возвращает последние запуски
// GET /api/v1/sales-forecast/runs?limit=50
func (fc *ForecastController) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := fc.runs.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения запусков", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun возвращает запуск с результатами
// GET /api/v1/sales-forecast/runs/:id
func (fc *ForecastController) GetRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Неверный ID запуска", err)
		return
	}
	run, err := fc.runs.GetRun(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Запуск не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения запуска", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// Cleanup удаляет старые запуски и файлы моделей
// POST /api/v1/sales-forecast/cleanup?keep_last=10
func (fc *ForecastController) Cleanup(c *gin.Context) {
	keep, err := strconv.Atoi(c.DefaultQuery("keep_last", "10"))
	if err != nil || keep < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keep_last должен быть неотрицательным целым"})
		return
	}
	deleted, err := fc.runs.Cleanup(keep)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка очистки запусков", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "kept": keep})
}

// GetDailySalesDetails - продажи за день по товарам
// GET /api/v1/sales-forecast/daily-sales-details?date=2024-06-01
func (fc *ForecastController) GetDailySalesDetails(c *gin.Context) {
	date, err := parseDateParam(c.Query("date"))
	if err != nil {
		badRequest(c, "Некорректная дата", err)
		return
	}
	if date == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Параметр date обязателен"})
		return
	}
	details, err := fc.sales.GetDailySalesDetails(*date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения продаж за день", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, details)
}

func (fc *ForecastController) sendWorkbook(c *gin.Context, filename string, export func(io.Writer) error) {
	var buf bytes.Buffer
	if err := export(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка формирования отчета", "details": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, services.ContentTypeXLSX, buf.Bytes())
}

// ExportDashboard - Excel-отчет дашборда
// GET /api/v1/sales-forecast/export/dashboard
func (fc *ForecastController) ExportDashboard(c *gin.Context) {
	fc.sendWorkbook(c, services.DashboardFileName(fc.now()), fc.reports.ExportDashboard)
}

// ExportForecastReport - Excel-отчет по последнему прогнозу
// GET /api/v1/sales-forecast/export/forecast-report
func (fc *ForecastController) ExportForecastReport(c *gin.Context) {
	fc.sendWorkbook(c, "forecast_report.xlsx", fc.reports.ExportForecastReport)
}
