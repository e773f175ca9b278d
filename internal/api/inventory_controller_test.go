package api

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"possales/server/internal/models"
	"possales/server/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubInventory struct {
	items    []models.Item
	category string
	lowStock bool
}

func (s *stubInventory) ListItems(category string, lowStockOnly bool) ([]models.Item, error) {
	s.category, s.lowStock = category, lowStockOnly
	return s.items, nil
}

func (s *stubInventory) GetItem(id uint) (*models.Item, error) {
	for i := range s.items {
		if s.items[i].ID == id {
			return &s.items[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubInventory) CreateItem(item *models.Item) error {
	if item.SKU == "" {
		return fmt.Errorf("%w: name and sku are required", services.ErrInvalidItem)
	}
	item.ID = uint(len(s.items) + 1)
	s.items = append(s.items, *item)
	return nil
}

func (s *stubInventory) Restock(itemID uint, quantity int, note string) (*models.RestockLog, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", services.ErrInvalidItem)
	}
	item, err := s.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	return &models.RestockLog{ItemID: itemID, Quantity: quantity, StockBefore: item.Stock, StockAfter: item.Stock + quantity, Note: note}, nil
}

type stubInventoryExport struct{}

func (stubInventoryExport) ExportInventory(w io.Writer) error {
	_, err := w.Write([]byte("xlsx"))
	return err
}

func newInventoryRouter(inv *stubInventory) *gin.Engine {
	r := gin.New()
	NewInventoryController(inv, stubInventoryExport{}).RegisterRoutes(r.Group("/api/v1/inventory"))
	return r
}

func TestInventoryItems(t *testing.T) {
	inv := &stubInventory{items: []models.Item{{ID: 1, Name: "Milk", SKU: "MLK-001", Stock: 45}}}
	r := newInventoryRouter(inv)

	w := perform(r, http.MethodGet, "/api/v1/inventory/items?category=Dairy&low_stock=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Dairy", inv.category)
	assert.True(t, inv.lowStock)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = perform(r, http.MethodGet, "/api/v1/inventory/items/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = perform(r, http.MethodGet, "/api/v1/inventory/items/2", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(r, http.MethodPost, "/api/v1/inventory/items", `{"name":"Bread","sku":"BRD-001","price":"45.00","stock":12}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":2`)

	w = perform(r, http.MethodPost, "/api/v1/inventory/items", `{"name":"NoSku"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventoryRestock(t *testing.T) {
	r := newInventoryRouter(&stubInventory{items: []models.Item{{ID: 1, Name: "Milk", SKU: "MLK-001", Stock: 45}}})

	w := perform(r, http.MethodPost, "/api/v1/inventory/items/1/restock", `{"quantity":5,"note":"поставка"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stock_after":50`)

	w = perform(r, http.MethodPost, "/api/v1/inventory/items/1/restock", `{"quantity":-3}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/api/v1/inventory/items/7/restock", `{"quantity":3}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(r, http.MethodPost, "/api/v1/inventory/items/x/restock", `{"quantity":3}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventoryExport(t *testing.T) {
	r := newInventoryRouter(&stubInventory{})
	w := perform(r, http.MethodGet, "/api/v1/inventory/export", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.ContentTypeXLSX, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "inventory_report_")
}
