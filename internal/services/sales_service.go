package services

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"possales/server/internal/forecast"
	"possales/server/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEmptySale           = errors.New("sale has no items")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("amount given is less than total")
	ErrDuplicateReceipt    = errors.New("receipt already recorded")
)

// SalesService - журнал продаж: чеки, дневные агрегаты и запросы для прогнозирования
type SalesService struct {
	db *gorm.DB
}

// NewSalesService создает новый экземпляр SalesService
func NewSalesService(db *gorm.DB) *SalesService {
	return &SalesService{db: db}
}

// SaleLineInput - строка продажи
type SaleLineInput struct {
	ProductID uint             `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity" binding:"required,min=1"`
	Price     *decimal.Decimal `json:"price,omitempty"` // Если не задана - цена из справочника
}

// SaleInput - продажа с кассы
type SaleInput struct {
	ReceiptNo     string          `json:"receipt_no"`
	Date          time.Time       `json:"date"`
	Discount      decimal.Decimal `json:"discount"`
	AmountGiven   decimal.Decimal `json:"amount_given"`
	PaymentMethod string          `json:"payment_method"`
	Items         []SaleLineInput `json:"items" binding:"required,min=1,dive"`

	ExactAmount bool `json:"-"` // Оплата без сдачи (импорт из выгрузок)
}

// RecordSale проводит продажу в одной транзакции:
// создает чек, списывает остатки и пересчитывает дневные агрегаты за дату продажи.
func (s *SalesService) RecordSale(input SaleInput) (*models.Sale, error) {
	if len(input.Items) == 0 {
		return nil, ErrEmptySale
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	method := strings.ToLower(strings.TrimSpace(input.PaymentMethod))
	if method == "" {
		method = models.PaymentCash
	}

	var sale models.Sale
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if input.ReceiptNo != "" {
			var count int64
			if err := tx.Model(&models.Sale{}).Where("receipt_no = ?", input.ReceiptNo).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: %s", ErrDuplicateReceipt, input.ReceiptNo)
			}
		}

		sale = models.Sale{
			ReceiptNo:     input.ReceiptNo,
			Date:          date,
			Discount:      input.Discount,
			PaymentMethod: method,
		}
		subtotal := decimal.Zero
		for _, line := range input.Items {
			if line.Quantity <= 0 {
				return fmt.Errorf("quantity must be positive for product %d", line.ProductID)
			}
			var item models.Item
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, line.ProductID).Error; err != nil {
				return fmt.Errorf("товар %d не найден: %w", line.ProductID, err)
			}
			if item.Stock < line.Quantity {
				return fmt.Errorf("%w: %s (остаток %d, требуется %d)", ErrInsufficientStock, item.Name, item.Stock, line.Quantity)
			}

			price := item.Price
			if line.Price != nil {
				price = *line.Price
			}
			lineTotal := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			subtotal = subtotal.Add(lineTotal)

			productID := item.ID
			sale.Items = append(sale.Items, models.SaleItem{
				ProductID:   &productID,
				ProductName: item.Name,
				Quantity:    line.Quantity,
				Price:       price,
				LineTotal:   lineTotal,
			})
			if err := tx.Model(&models.Item{}).Where("id = ?", item.ID).
				Update("stock", gorm.Expr("stock - ?", line.Quantity)).Error; err != nil {
				return fmt.Errorf("ошибка списания остатка %s: %w", item.Name, err)
			}
		}

		sale.Subtotal = subtotal
		sale.Total = subtotal.Sub(input.Discount)
		if sale.Total.IsNegative() {
			sale.Total = decimal.Zero
		}
		if input.ExactAmount {
			input.AmountGiven = sale.Total
		}
		if method == models.PaymentCash {
			if input.AmountGiven.LessThan(sale.Total) {
				return fmt.Errorf("%w: %s < %s", ErrInsufficientPayment, input.AmountGiven.StringFixed(2), sale.Total.StringFixed(2))
			}
			sale.AmountGiven = input.AmountGiven
			sale.Change = input.AmountGiven.Sub(sale.Total)
		} else {
			sale.AmountGiven = sale.Total
			sale.Change = decimal.Zero
		}

		if err := tx.Create(&sale).Error; err != nil {
			return fmt.Errorf("ошибка сохранения чека: %w", err)
		}
		return rebuildDailyAggregates(tx, date)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Продажа #%d проведена: %d позиций, итого %s", sale.ID, len(sale.Items), sale.Total.StringFixed(2))
	return &sale, nil
}

// rebuildDailyAggregates пересчитывает SaleItemUnit и DailySalesRecord за день
func rebuildDailyAggregates(tx *gorm.DB, date time.Time) error {
	from := forecast.Day(date)
	to := from.AddDate(0, 0, 1)

	var rows []struct {
		ProductID   uint
		ProductName string
		Quantity    int
		Revenue     decimal.Decimal
	}
	err := tx.Table("sale_items AS si").
		Select("si.product_id, MAX(si.product_name) AS product_name, SUM(si.quantity) AS quantity, SUM(si.line_total) AS revenue").
		Joins("JOIN sales s ON s.id = si.sale_id").
		Where("s.date >= ? AND s.date < ? AND si.product_id IS NOT NULL", from, to).
		Group("si.product_id").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("ошибка агрегации продаж за %s: %w", from.Format("2006-01-02"), err)
	}

	if err := tx.Where("date = ?", from).Delete(&models.SaleItemUnit{}).Error; err != nil {
		return err
	}
	if len(rows) > 0 {
		units := make([]models.SaleItemUnit, 0, len(rows))
		for _, r := range rows {
			units = append(units, models.SaleItemUnit{
				Date:          from,
				ProductID:     r.ProductID,
				ProductName:   r.ProductName,
				TotalQuantity: r.Quantity,
				TotalRevenue:  r.Revenue,
			})
		}
		if err := tx.Create(&units).Error; err != nil {
			return err
		}
	}

	var total struct {
		Total decimal.Decimal
	}
	if err := tx.Model(&models.Sale{}).
		Select("COALESCE(SUM(total), 0) AS total").
		Where("date >= ? AND date < ?", from, to).
		Scan(&total).Error; err != nil {
		return err
	}
	record := models.DailySalesRecord{Date: from, TotalSales: total.Total}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_sales", "updated_at"}),
	}).Create(&record).Error
}

// GetDailySeries - дневной ряд продаж (разреженный, по возрастанию даты).
// Без productID суммирует все товары.
func (s *SalesService) GetDailySeries(from, to time.Time, productID *uint) ([]forecast.DailySalesPoint, error) {
	q := s.db.Model(&models.SaleItemUnit{}).
		Select("date, SUM(total_quantity) AS total_quantity, SUM(total_revenue) AS total_revenue").
		Where("date >= ? AND date <= ?", forecast.Day(from), forecast.Day(to))
	if productID != nil {
		q = q.Where("product_id = ?", *productID)
	}

	var rows []struct {
		Date          time.Time
		TotalQuantity float64
		TotalRevenue  decimal.Decimal
	}
	if err := q.Group("date").Order("date").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения дневных продаж: %w", err)
	}

	out := make([]forecast.DailySalesPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, forecast.DailySalesPoint{Date: forecast.Day(r.Date), TotalQuantity: r.TotalQuantity, TotalRevenue: r.TotalRevenue})
	}
	return out, nil
}

// GetDailyTotals - выручка по дням из DailySalesRecord (количество не известно)
func (s *SalesService) GetDailyTotals(from, to time.Time) ([]forecast.DailySalesPoint, error) {
	var records []models.DailySalesRecord
	if err := s.db.Where("date >= ? AND date <= ?", forecast.Day(from), forecast.Day(to)).
		Order("date").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения дневной выручки: %w", err)
	}
	out := make([]forecast.DailySalesPoint, 0, len(records))
	for _, r := range records {
		out = append(out, forecast.DailySalesPoint{Date: forecast.Day(r.Date), TotalRevenue: r.TotalSales})
	}
	return out, nil
}

// GetProductDailySales - продажи по товарам и дням за период (для скорости продаж)
func (s *SalesService) GetProductDailySales(from, to time.Time) ([]forecast.ProductDailySales, error) {
	var units []models.SaleItemUnit
	if err := s.db.Where("date >= ? AND date <= ?", forecast.Day(from), forecast.Day(to)).
		Order("date").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения продаж по товарам: %w", err)
	}
	out := make([]forecast.ProductDailySales, 0, len(units))
	for _, u := range units {
		out = append(out, forecast.ProductDailySales{Date: u.Date, ProductID: u.ProductID, TotalQuantity: float64(u.TotalQuantity)})
	}
	return out, nil
}

// ProductSalesLine - продажи товара за день
type ProductSalesLine struct {
	ProductID   *uint           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// DailySalesDetails - детализация продаж за день
type DailySalesDetails struct {
	Date           string             `json:"date"`
	Products       []ProductSalesLine `json:"products"`
	TotalProducts  int                `json:"total_products"`
	TotalItemsSold int                `json:"total_items_sold"`
	GrandTotal     decimal.Decimal    `json:"grand_total"`
	FormattedDate  string             `json:"formatted_date"`
}

// GetDailySalesDetails группирует строки чеков за день по товару.
// Итог берется из DailySalesRecord, если запись есть, иначе сумма строк.
func (s *SalesService) GetDailySalesDetails(date time.Time) (*DailySalesDetails, error) {
	from := forecast.Day(date)
	to := from.AddDate(0, 0, 1)

	var items []models.SaleItem
	err := s.db.Model(&models.SaleItem{}).
		Select("sale_items.*").
		Joins("JOIN sales ON sales.id = sale_items.sale_id").
		Where("sales.date >= ? AND sales.date < ?", from, to).
		Order("sales.date, sale_items.id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения продаж за %s: %w", from.Format("2006-01-02"), err)
	}

	byName := make(map[string]*ProductSalesLine)
	order := make([]string, 0)
	sum := decimal.Zero
	totalQty := 0
	for _, it := range items {
		line, ok := byName[it.ProductName]
		if !ok {
			line = &ProductSalesLine{ProductID: it.ProductID, ProductName: it.ProductName, UnitPrice: it.Price}
			byName[it.ProductName] = line
			order = append(order, it.ProductName)
		}
		line.Quantity += it.Quantity
		line.TotalAmount = line.TotalAmount.Add(it.LineTotal)
		sum = sum.Add(it.LineTotal)
		totalQty += it.Quantity
	}

	products := make([]ProductSalesLine, 0, len(order))
	for _, name := range order {
		products = append(products, *byName[name])
	}

	grandTotal := sum
	var record models.DailySalesRecord
	if err := s.db.Where("date = ?", from).First(&record).Error; err == nil {
		grandTotal = record.TotalSales
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return &DailySalesDetails{
		Date:           from.Format("2006-01-02"),
		Products:       products,
		TotalProducts:  len(products),
		TotalItemsSold: totalQty,
		GrandTotal:     grandTotal,
		FormattedDate:  from.Format("January 02, 2006"),
	}, nil
}

// TopProduct - товар в рейтинге продаж
type TopProduct struct {
	ProductID   uint            `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// TopProducts - самые продаваемые товары за период (по количеству)
func (s *SalesService) TopProducts(from, to time.Time, limit int) ([]TopProduct, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []TopProduct
	err := s.db.Model(&models.SaleItemUnit{}).
		Select("product_id, MAX(product_name) AS product_name, SUM(total_quantity) AS quantity, SUM(total_revenue) AS revenue").
		Where("date >= ? AND date <= ?", forecast.Day(from), forecast.Day(to)).
		Group("product_id").
		Order("quantity DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения топа товаров: %w", err)
	}
	return rows, nil
}

// MonthlySales - выручка за месяц
type MonthlySales struct {
	Month string          `json:"month"` // 2006-01
	Total decimal.Decimal `json:"total"`
}

// MonthlySales агрегирует DailySalesRecord по месяцам
func (s *SalesService) MonthlySales(from, to time.Time) ([]MonthlySales, error) {
	totals, err := s.GetDailyTotals(from, to)
	if err != nil {
		return nil, err
	}
	return groupByMonth(totals), nil
}

func groupByMonth(points []forecast.DailySalesPoint) []MonthlySales {
	byMonth := make(map[string]decimal.Decimal)
	for _, p := range points {
		key := p.Date.Format("2006-01")
		byMonth[key] = byMonth[key].Add(p.TotalRevenue)
	}
	out := make([]MonthlySales, 0, len(byMonth))
	for m, total := range byMonth {
		out = append(out, MonthlySales{Month: m, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}
