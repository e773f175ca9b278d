package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"possales/server/internal/forecast"
	"possales/server/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidItem = errors.New("invalid item")

// InventoryService - справочник товаров и пополнение остатков
type InventoryService struct {
	db *gorm.DB
}

// NewInventoryService создает новый экземпляр InventoryService
func NewInventoryService(db *gorm.DB) *InventoryService {
	return &InventoryService{db: db}
}

// GetAllProducts - товары с текущим остатком (для рекомендаций по пополнению)
func (s *InventoryService) GetAllProducts() ([]forecast.Product, error) {
	var items []models.Item
	if err := s.db.Select("id, name, sku, stock").Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	out := make([]forecast.Product, 0, len(items))
	for _, it := range items {
		out = append(out, forecast.Product{ID: it.ID, Name: it.Name, SKU: it.SKU, Stock: it.Stock})
	}
	return out, nil
}

// ListItems возвращает товары; category и lowStockOnly - необязательные фильтры
func (s *InventoryService) ListItems(category string, lowStockOnly bool) ([]models.Item, error) {
	q := s.db.Model(&models.Item{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if lowStockOnly {
		q = q.Where("stock <= min_stock_level")
	}
	var items []models.Item
	if err := q.Order("name").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	return items, nil
}

// GetItem возвращает товар по ID
func (s *InventoryService) GetItem(id uint) (*models.Item, error) {
	var item models.Item
	if err := s.db.First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem добавляет товар в справочник
func (s *InventoryService) CreateItem(item *models.Item) error {
	item.Name = strings.TrimSpace(item.Name)
	item.SKU = strings.ToUpper(strings.TrimSpace(item.SKU))
	if item.Name == "" || item.SKU == "" {
		return fmt.Errorf("%w: name and sku are required", ErrInvalidItem)
	}
	if item.Price.IsNegative() || item.Stock < 0 {
		return fmt.Errorf("%w: price and stock must be non-negative", ErrInvalidItem)
	}
	if err := s.db.Create(item).Error; err != nil {
		return fmt.Errorf("ошибка создания товара %s: %w", item.SKU, err)
	}
	log.Printf("✅ Товар создан: %s (%s), остаток %d", item.Name, item.SKU, item.Stock)
	return nil
}

// Restock увеличивает остаток и пишет запись в журнал пополнений
func (s *InventoryService) Restock(itemID uint, quantity int, note string) (*models.RestockLog, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", ErrInvalidItem)
	}

	var entry models.RestockLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, itemID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Item{}).Where("id = ?", item.ID).
			Update("stock", gorm.Expr("stock + ?", quantity)).Error; err != nil {
			return err
		}
		entry = models.RestockLog{
			ItemID:      item.ID,
			Quantity:    quantity,
			StockBefore: item.Stock,
			StockAfter:  item.Stock + quantity,
			Note:        note,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка пополнения товара %d: %w", itemID, err)
	}

	log.Printf("📦 Пополнение товара #%d: +%d (было %d, стало %d)", itemID, quantity, entry.StockBefore, entry.StockAfter)
	return &entry, nil
}
