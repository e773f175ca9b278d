package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Способы оплаты
const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

// Sale - чек
type Sale struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	ReceiptNo     string          `json:"receipt_no" gorm:"type:varchar(64);uniqueIndex"` // Внешний номер чека (идемпотентный импорт из Kafka и CSV)
	Date          time.Time       `json:"date" gorm:"not null;index"`
	Subtotal      decimal.Decimal `json:"subtotal" gorm:"type:decimal(12,2);not null;default:0"`
	Discount      decimal.Decimal `json:"discount" gorm:"type:decimal(12,2);not null;default:0"`
	Total         decimal.Decimal `json:"total" gorm:"type:decimal(12,2);not null;default:0"`
	AmountGiven   decimal.Decimal `json:"amount_given" gorm:"type:decimal(12,2);not null;default:0"`
	Change        decimal.Decimal `json:"change" gorm:"type:decimal(12,2);not null;default:0"`
	PaymentMethod string          `json:"payment_method" gorm:"type:varchar(20);default:'cash'"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`

	Items []SaleItem `json:"items" gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
}

func (Sale) TableName() string {
	return "sales"
}

// BeforeCreate генерирует номер чека
func (s *Sale) BeforeCreate(tx *gorm.DB) error {
	if s.ReceiptNo == "" {
		s.ReceiptNo = uuid.New().String()
	}
	return nil
}

// SaleItem - строка чека
type SaleItem struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	SaleID      uint            `json:"sale_id" gorm:"not null;index"`
	ProductID   *uint           `json:"product_id" gorm:"index"` // NULL, если товар удален
	ProductName string          `json:"product_name" gorm:"type:varchar(100);not null"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	LineTotal   decimal.Decimal `json:"line_total" gorm:"type:decimal(12,2);not null"`
}

func (SaleItem) TableName() string {
	return "sale_items"
}

// SaleItemUnit - дневной агрегат продаж товара, пересчитывается при каждой продаже за эту дату
type SaleItemUnit struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	Date          time.Time       `json:"date" gorm:"type:date;not null;uniqueIndex:idx_unit_date_product"`
	ProductID     uint            `json:"product_id" gorm:"not null;uniqueIndex:idx_unit_date_product"`
	ProductName   string          `json:"product_name" gorm:"type:varchar(100)"`
	TotalQuantity int             `json:"total_quantity" gorm:"not null;default:0"`
	TotalRevenue  decimal.Decimal `json:"total_revenue" gorm:"type:decimal(12,2);not null;default:0"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SaleItemUnit) TableName() string {
	return "sale_item_units"
}

// DailySalesRecord - выручка магазина за день
type DailySalesRecord struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	Date       time.Time       `json:"date" gorm:"type:date;not null;uniqueIndex"`
	TotalSales decimal.Decimal `json:"total_sales" gorm:"type:decimal(12,2);not null;default:0"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (DailySalesRecord) TableName() string {
	return "daily_sales_records"
}
