package services

import (
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"possales/server/internal/forecast"
	"possales/server/internal/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ContentTypeXLSX - MIME тип выгрузок
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportService формирует Excel-отчеты по продажам и прогнозам
type ReportService struct {
	db    *gorm.DB
	sales *SalesService
	now   func() time.Time
}

// NewReportService создает новый экземпляр ReportService
func NewReportService(db *gorm.DB, sales *SalesService) *ReportService {
	return &ReportService{db: db, sales: sales, now: time.Now}
}

// RestockReportRow - товар ниже минимального остатка с положительным прогнозом
type RestockReportRow struct {
	ProductName   string
	Date          time.Time
	Predicted     float64
	CurrentStock  int
	MinStockLevel int
}

// ForecastReportRow - строка отчета по прогнозу последнего запуска
type ForecastReportRow struct {
	Date             time.Time
	ProductName      string
	PredictedUnits   int
	EstimatedRevenue *decimal.Decimal
}

// DashboardFileName - имя файла выгрузки дашборда за месяц
func DashboardFileName(now time.Time) string {
	return fmt.Sprintf("sales_dashboard_report_%s.xlsx", now.Format("2006-01"))
}

// ExportDashboard пишет отчет: топ товаров за 7 дней, продажи по месяцам, товары к пополнению
func (s *ReportService) ExportDashboard(w io.Writer) error {
	today := forecast.Day(s.now())

	top, err := s.sales.TopProducts(today.AddDate(0, 0, -7), today, 10)
	if err != nil {
		return err
	}
	monthly, err := s.sales.MonthlySales(today.AddDate(0, -13, 0), today)
	if err != nil {
		return err
	}
	restock, err := s.restockRows()
	if err != nil {
		log.Printf("⚠️ Раздел пополнения в отчете пуст: %v", err)
	}

	f, err := BuildDashboardWorkbook(top, monthly, restock)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// latestUsableRun - последний запуск с сохраненной моделью; неудачные запуски пропускаются
func (s *ReportService) latestUsableRun() (*models.ForecastRun, error) {
	var run models.ForecastRun
	if err := s.db.Scopes(withArtifact).Order("id DESC").First(&run).Error; err != nil {
		return nil, fmt.Errorf("нет запусков прогноза: %w", err)
	}
	return &run, nil
}

// restockRows - по последнему запуску: первая дата с прогнозом > 0 для товаров ниже минимального остатка
func (s *ReportService) restockRows() ([]RestockReportRow, error) {
	run, err := s.latestUsableRun()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ProductID     uint
		Name          string
		Date          time.Time
		Predicted     float64
		Stock         int
		MinStockLevel int
	}
	err = s.db.Table("forecast_results AS r").
		Select("r.product_id, i.name, r.date, r.predicted, i.stock, i.min_stock_level").
		Joins("JOIN inventory_items i ON i.id = r.product_id AND i.deleted_at IS NULL").
		Where("r.run_id = ? AND r.product_id IS NOT NULL AND r.predicted > 0 AND i.stock < i.min_stock_level", run.ID).
		Order("r.date, i.name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки прогнозов для пополнения: %w", err)
	}

	seen := make(map[uint]bool)
	out := make([]RestockReportRow, 0, len(rows))
	for _, r := range rows {
		if seen[r.ProductID] {
			continue
		}
		seen[r.ProductID] = true
		out = append(out, RestockReportRow{
			ProductName:   r.Name,
			Date:          r.Date,
			Predicted:     r.Predicted,
			CurrentStock:  r.Stock,
			MinStockLevel: r.MinStockLevel,
		})
	}
	return out, nil
}

// ForecastReport - строки прогноза последнего запуска; выручка оценивается по цене товара
func (s *ReportService) ForecastReport() (*models.ForecastRun, []ForecastReportRow, error) {
	run, err := s.latestUsableRun()
	if err != nil {
		return nil, nil, err
	}

	var rows []struct {
		Date      time.Time
		Name      *string
		Price     decimal.NullDecimal
		Predicted float64
	}
	err = s.db.Table("forecast_results AS r").
		Select("r.date, i.name, i.price, r.predicted").
		Joins("LEFT JOIN inventory_items i ON i.id = r.product_id").
		Where("r.run_id = ?", run.ID).
		Order("r.date, i.name").
		Scan(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка получения результатов запуска #%d: %w", run.ID, err)
	}

	out := make([]ForecastReportRow, 0, len(rows))
	for _, r := range rows {
		row := ForecastReportRow{
			Date:           r.Date,
			ProductName:    "Total Sales",
			PredictedUnits: int(math.Round(r.Predicted)),
		}
		if r.Name != nil {
			row.ProductName = *r.Name
			if r.Price.Valid {
				est := r.Price.Decimal.Mul(decimal.NewFromFloat(r.Predicted)).Round(2)
				row.EstimatedRevenue = &est
			}
		}
		out = append(out, row)
	}
	return run, out, nil
}

// ExportForecastReport пишет отчет по прогнозу последнего запуска
func (s *ReportService) ExportForecastReport(w io.Writer) error {
	_, rows, err := s.ForecastReport()
	if err != nil {
		return err
	}
	f, err := BuildForecastWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// ExportInventory пишет складской отчет
func (s *ReportService) ExportInventory(w io.Writer) error {
	var items []models.Item
	if err := s.db.Order("name").Find(&items).Error; err != nil {
		return fmt.Errorf("ошибка получения товаров: %w", err)
	}
	f, err := BuildInventoryWorkbook(items)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// sheetWriter дописывает строки на лист подряд
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	bold  int
}

func newSheetWriter(title string) (*sheetWriter, error) {
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), title)
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sheetWriter{f: f, sheet: title, bold: bold}, nil
}

func (sw *sheetWriter) append(values ...interface{}) error {
	sw.row++
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, sw.row)
	if err != nil {
		return err
	}
	return sw.f.SetSheetRow(sw.sheet, cell, &values)
}

// header - строка жирным шрифтом
func (sw *sheetWriter) header(values ...interface{}) error {
	if err := sw.append(values...); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, sw.row)
	last, _ := excelize.CoordinatesToCellName(len(values), sw.row)
	return sw.f.SetCellStyle(sw.sheet, first, last, sw.bold)
}

func (sw *sheetWriter) fail(err error) (*excelize.File, error) {
	sw.f.Close()
	return nil, err
}

// BuildDashboardWorkbook собирает три раздела отчета на одном листе
func BuildDashboardWorkbook(top []TopProduct, monthly []MonthlySales, restock []RestockReportRow) (*excelize.File, error) {
	sw, err := newSheetWriter("Sales Dashboard Report")
	if err != nil {
		return nil, err
	}

	if err := sw.header("Top Products (Last 7 Days)"); err != nil {
		return sw.fail(err)
	}
	if err := sw.header("Product Name", "Quantity Sold", "Revenue"); err != nil {
		return sw.fail(err)
	}
	for _, p := range top {
		if err := sw.append(p.ProductName, p.Quantity, p.Revenue.InexactFloat64()); err != nil {
			return sw.fail(err)
		}
	}
	sw.append()

	if err := sw.header("Monthly Sales (Last 13 Months)"); err != nil {
		return sw.fail(err)
	}
	if err := sw.header("Month", "Total Sales"); err != nil {
		return sw.fail(err)
	}
	for _, m := range monthly {
		if err := sw.append(m.Month, m.Total.InexactFloat64()); err != nil {
			return sw.fail(err)
		}
	}
	sw.append()

	if err := sw.header("Products to Restock (Next Predicted Sale Date)"); err != nil {
		return sw.fail(err)
	}
	if err := sw.header("Product Name", "Prediction Date", "Predicted Sales Count", "Current Stock", "Min Stock Level"); err != nil {
		return sw.fail(err)
	}
	if len(restock) == 0 {
		sw.append("No forecast runs available for restock predictions.")
	}
	for _, r := range restock {
		if err := sw.append(r.ProductName, r.Date.Format(dateLayout), int(math.Round(r.Predicted)), r.CurrentStock, r.MinStockLevel); err != nil {
			return sw.fail(err)
		}
	}

	if err := sw.f.SetColWidth(sw.sheet, "A", "E", 24); err != nil {
		return sw.fail(err)
	}
	return sw.f, nil
}

// BuildForecastWorkbook - лист "Forecast Report": дата, товар, единицы, оценка выручки
func BuildForecastWorkbook(rows []ForecastReportRow) (*excelize.File, error) {
	sw, err := newSheetWriter("Forecast Report")
	if err != nil {
		return nil, err
	}
	if err := sw.header("Date", "Product to Restock", "Units", "Estimated Revenue"); err != nil {
		return sw.fail(err)
	}
	for _, r := range rows {
		var revenue interface{} = ""
		if r.EstimatedRevenue != nil {
			revenue = r.EstimatedRevenue.InexactFloat64()
		}
		if err := sw.append(r.Date.Format(dateLayout), r.ProductName, r.PredictedUnits, revenue); err != nil {
			return sw.fail(err)
		}
	}
	if err := sw.f.SetColWidth(sw.sheet, "A", "D", 20); err != nil {
		return sw.fail(err)
	}
	return sw.f, nil
}

// BuildInventoryWorkbook - лист "Inventory Report"
func BuildInventoryWorkbook(items []models.Item) (*excelize.File, error) {
	sw, err := newSheetWriter("Inventory Report")
	if err != nil {
		return nil, err
	}
	if err := sw.header("Product Name", "SKU", "Price", "Category", "Stock Quantity", "Date Added"); err != nil {
		return sw.fail(err)
	}
	for _, it := range items {
		if err := sw.append(it.Name, it.SKU, it.Price.InexactFloat64(), it.Category, it.Stock, it.CreatedAt.Format("2006-01-02 15:04:05")); err != nil {
			return sw.fail(err)
		}
	}
	return sw.f, nil
}
