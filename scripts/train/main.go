// train обучает модели прогноза продаж вне HTTP-сервера (cron, ручной запуск).
//
//	go run ./scripts/train -days 365 -horizon 7 -model arima
//	go run ./scripts/train -per-product
//	go run ./scripts/train -product-ids 3,7 -model xgb
package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"possales/server/internal/config"
	"possales/server/internal/database"
	"possales/server/internal/forecast"
	"possales/server/internal/models"
	"possales/server/internal/services"
)

func main() {
	days := flag.Int("days", 0, "дней истории (0 - FORECAST_TRAINING_DAYS)")
	horizon := flag.Int("horizon", 0, "горизонт прогноза (0 - FORECAST_DEFAULT_HORIZON)")
	perProduct := flag.Bool("per-product", false, "обучить общую модель и модели по всем товарам")
	productIDs := flag.String("product-ids", "", "ID товаров через запятую")
	model := flag.String("model", "", "arima | xgb (по умолчанию - FORECAST_PREFERRED_MODEL с откатом)")
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

	artifacts, err := forecast.NewArtifactStore(cfg.Forecast.ModelsDir)
	if err != nil {
		log.Fatalf("❌ Каталог моделей недоступен: %v", err)
	}
	sales := services.NewSalesService(db)
	svc := services.NewForecastService(sales, services.NewInventoryService(db), services.NewModelRegistry(db, artifacts), cfg.Forecast)
	ctx := context.Background()

	if *perProduct {
		summary, err := svc.TrainAllProducts(ctx, *days, *horizon)
		if err != nil {
			log.Fatalf("❌ Ошибка обучения: %v", err)
		}
		log.Printf("🏁 Обучено: %d, пропущено: %d, ошибок: %d, запуски: %v", summary.Trained, summary.Skipped, summary.Failed, summary.Runs)
		return
	}

	var family *forecast.ModelFamily
	if *model != "" {
		f, err := forecast.ParseModelFamily(*model)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		family = &f
	}

	targets := []*uint{nil}
	if *productIDs != "" {
		targets = targets[:0]
		for _, raw := range strings.Split(*productIDs, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
			if err != nil || id == 0 {
				log.Fatalf("❌ Неверный ID товара %q", raw)
			}
			v := uint(id)
			targets = append(targets, &v)
		}
	}

	failed := 0
	for _, productID := range targets {
		res, err := svc.Train(ctx, services.TrainRequest{Days: *days, Horizon: *horizon, ProductID: productID, Family: family})
		if err != nil {
			log.Printf("❌ Ошибка обучения: %v", err)
			failed++
			continue
		}
		event := services.NewRunEvent(res)
		log.Printf("📊 %s: run #%d %s %s", event.Status, event.RunID, event.ModelName, event.Failure)
		if !res.OK() {
			failed++
		}
	}
	if failed > 0 {
		log.Fatalf("⚠️ Не обучено моделей: %d из %d", failed, len(targets))
	}
}
