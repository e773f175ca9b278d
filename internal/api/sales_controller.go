package api

import (
	"errors"
	"io"
	"net/http"

	"possales/server/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Максимальный размер файла выгрузки
const maxImportSize = 20 << 20

type salesImporter interface {
	Import(data []byte, encodingName string) (*services.ImportSummary, error)
}

// SalesController - прием продаж с касс и импорт выгрузок
type SalesController struct {
	sales    SaleRecorder
	importer salesImporter
}

// NewSalesController создает новый контроллер продаж
func NewSalesController(sales SaleRecorder, importer salesImporter) *SalesController {
	return &SalesController{sales: sales, importer: importer}
}

// RegisterRoutes регистрирует маршруты продаж
func (sc *SalesController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("", sc.CreateSale)
	group.POST("/import", sc.ImportSales)
}

// CreateSale проводит продажу
// POST /api/v1/sales
func (sc *SalesController) CreateSale(c *gin.Context) {
	var input services.SaleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат запроса", err)
		return
	}

	sale, err := sc.sales.RecordSale(input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptySale),
			errors.Is(err, services.ErrInsufficientStock),
			errors.Is(err, services.ErrInsufficientPayment):
			badRequest(c, "Продажа отклонена", err)
		case errors.Is(err, services.ErrDuplicateReceipt):
			c.JSON(http.StatusConflict, gin.H{"error": "Чек уже проведен", "details": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Товар не найден", "details": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка проведения продажи", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, sale)
}

// ImportSales импортирует CSV-выгрузку кассы (multipart, поле file)
// POST /api/v1/sales/import?encoding=windows-1251
func (sc *SalesController) ImportSales(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Файл не передан", err)
		return
	}
	if header.Size > maxImportSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Файл слишком большой"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка чтения файла", "details": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImportSize))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка чтения файла", "details": err.Error()})
		return
	}

	summary, err := sc.importer.Import(data, c.Query("encoding"))
	if err != nil {
		if errors.Is(err, services.ErrImportFormat) {
			badRequest(c, "Формат файла не распознан", err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка импорта продаж", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
