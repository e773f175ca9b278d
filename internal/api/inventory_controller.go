package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"possales/server/internal/models"
	"possales/server/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type inventoryStore interface {
	ListItems(category string, lowStockOnly bool) ([]models.Item, error)
	GetItem(id uint) (*models.Item, error)
	CreateItem(item *models.Item) error
	Restock(itemID uint, quantity int, note string) (*models.RestockLog, error)
}

type inventoryExporter interface {
	ExportInventory(w io.Writer) error
}

// InventoryController - справочник товаров и остатки
type InventoryController struct {
	inventory inventoryStore
	reports   inventoryExporter
}

// NewInventoryController создает новый контроллер склада
func NewInventoryController(inventory inventoryStore, reports inventoryExporter) *InventoryController {
	return &InventoryController{inventory: inventory, reports: reports}
}

// RegisterRoutes регистрирует маршруты склада
func (ic *InventoryController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/items", ic.ListItems)
	group.GET("/items/:id", ic.GetItem)
	group.POST("/items", ic.CreateItem)
	group.POST("/items/:id/restock", ic.Restock)
	group.GET("/export", ic.Export)
}

// ListItems - GET /api/v1/inventory/items?category=&low_stock=1
func (ic *InventoryController) ListItems(c *gin.Context) {
	items, err := ic.inventory.ListItems(c.Query("category"), parseFlag(c.Query("low_stock")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения товаров", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func itemID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID товара"})
		return 0, false
	}
	return uint(id), true
}

// GetItem - GET /api/v1/inventory/items/:id
func (ic *InventoryController) GetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	item, err := ic.inventory.GetItem(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Товар не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения товара", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

// CreateItem - POST /api/v1/inventory/items
func (ic *InventoryController) CreateItem(c *gin.Context) {
	var item models.Item
	if err := c.ShouldBindJSON(&item); err != nil {
		badRequest(c, "Неверный формат запроса", err)
		return
	}
	item.ID = 0
	if err := ic.inventory.CreateItem(&item); err != nil {
		if errors.Is(err, services.ErrInvalidItem) {
			badRequest(c, "Некорректные данные товара", err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка создания товара", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, item)
}

type restockBody struct {
	Quantity int    `json:"quantity" binding:"required"`
	Note     string `json:"note"`
}

// Restock - POST /api/v1/inventory/items/:id/restock
func (ic *InventoryController) Restock(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	var body restockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Неверный формат запроса", err)
		return
	}
	entry, err := ic.inventory.Restock(id, body.Quantity, body.Note)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidItem):
			badRequest(c, "Некорректное количество", err)
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Товар не найден"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка пополнения", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Export - Excel-выгрузка склада
// GET /api/v1/inventory/export
func (ic *InventoryController) Export(c *gin.Context) {
	var buf bytes.Buffer
	if err := ic.reports.ExportInventory(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка формирования отчета", "details": err.Error()})
		return
	}
	name := fmt.Sprintf("inventory_report_%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, services.ContentTypeXLSX, buf.Bytes())
}
