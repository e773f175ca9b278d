package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item - товар на складе магазина
type Item struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	Name          string          `json:"name" gorm:"type:varchar(100);not null"`
	SKU           string          `json:"sku" gorm:"type:varchar(50);uniqueIndex;not null"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null;default:0"`
	Category      string          `json:"category" gorm:"type:varchar(50);index"`
	ColorHex      string          `json:"color_hex" gorm:"type:varchar(7);default:'#FFFFFF'"`
	Stock         int             `json:"stock" gorm:"not null;default:0"`
	MinStockLevel int             `json:"min_stock_level" gorm:"not null;default:0"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt  `json:"deleted_at,omitempty" gorm:"index"`

	IsLowStock bool `json:"is_low_stock" gorm:"-"` // stock <= min_stock_level
}

// TableName указывает имя таблицы
func (Item) TableName() string {
	return "inventory_items"
}

// AfterFind заполняет виртуальные поля
func (i *Item) AfterFind(tx *gorm.DB) error {
	i.IsLowStock = i.Stock <= i.MinStockLevel
	return nil
}

// RestockLog - запись о пополнении остатка
type RestockLog struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ItemID      uint      `json:"item_id" gorm:"not null;index"`
	Item        *Item     `json:"item,omitempty" gorm:"foreignKey:ItemID"`
	Quantity    int       `json:"quantity" gorm:"not null"`
	StockBefore int       `json:"stock_before"`
	StockAfter  int       `json:"stock_after"`
	Note        string    `json:"note" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (RestockLog) TableName() string {
	return "inventory_restock_logs"
}
