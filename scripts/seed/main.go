// seed заполняет справочник товаров и генерирует тестовые продажи за N дней.
//
//	go run ./scripts/seed -days 120 -max-receipts 25
package main

import (
	"errors"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"possales/server/internal/config"
	"possales/server/internal/database"
	"possales/server/internal/models"
	"possales/server/internal/services"
)

var catalog = []models.Item{
	{Name: "Milk", SKU: "MLK-001", Price: decimal.RequireFromString("45.50"), Category: "Dairy", MinStockLevel: 20},
	{Name: "Bread", SKU: "BRD-001", Price: decimal.RequireFromString("32.00"), Category: "Bakery", MinStockLevel: 15},
	{Name: "Eggs", SKU: "EGG-001", Price: decimal.RequireFromString("7.00"), Category: "Dairy", MinStockLevel: 30},
	{Name: "Coffee", SKU: "COF-001", Price: decimal.RequireFromString("120.00"), Category: "Drinks", MinStockLevel: 10},
	{Name: "Apples", SKU: "APL-001", Price: decimal.RequireFromString("18.90"), Category: "Produce", MinStockLevel: 25},
}

func main() {
	days := flag.Int("days", 120, "дней истории продаж")
	maxReceipts := flag.Int("max-receipts", 25, "максимум чеков в день")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed генератора")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("ℹ️ .env файл не найден, используем переменные окружения системы")
	}
	cfg := config.Load()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, false)
	if err != nil {
		log.Fatalf("❌ PostgreSQL connection failed: %v", err)
	}
	defer database.ClosePostgres(db)
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	inventory := services.NewInventoryService(db)
	sales := services.NewSalesService(db)
	rng := rand.New(rand.NewSource(*seed))

	var ids []uint
	for _, tmpl := range catalog {
		var item models.Item
		err := db.Where("sku = ?", tmpl.SKU).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			item = tmpl
			item.Stock = 100000
			if err := inventory.CreateItem(&item); err != nil {
				log.Fatalf("❌ %v", err)
			}
		} else if err != nil {
			log.Fatalf("❌ Ошибка поиска товара %s: %v", tmpl.SKU, err)
		}
		ids = append(ids, item.ID)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	created, failed := 0, 0
	for d := *days; d >= 1; d-- {
		date := today.AddDate(0, 0, -d)
		receipts := 1 + rng.Intn(*maxReceipts)
		// Выходные продают больше
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			receipts += receipts / 2
		}
		for i := 0; i < receipts; i++ {
			input := services.SaleInput{
				Date:          date.Add(time.Duration(8+rng.Intn(13))*time.Hour + time.Duration(rng.Intn(60))*time.Minute),
				PaymentMethod: models.PaymentCard,
				ExactAmount:   true,
			}
			if rng.Intn(3) == 0 {
				input.PaymentMethod = models.PaymentCash
			}
			for _, idx := range rng.Perm(len(ids))[:1+rng.Intn(3)] {
				input.Items = append(input.Items, services.SaleLineInput{ProductID: ids[idx], Quantity: 1 + rng.Intn(3)})
			}
			if _, err := sales.RecordSale(input); err != nil {
				if errors.Is(err, services.ErrInsufficientStock) {
					log.Printf("⚠️ %v", err)
				}
				failed++
				continue
			}
			created++
		}
	}
	log.Printf("🌱 Создано чеков: %d, ошибок: %d, товаров: %d", created, failed, len(ids))
}
