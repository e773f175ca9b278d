// cleanup удаляет старые запуски прогноза вместе с файлами моделей.
//
//	go run ./scripts/cleanup -keep-last 10
package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"possales/server/internal/config"
	"possales/server/internal/database"
	"possales/server/internal/forecast"
	"possales/server/internal/services"
)

func main() {
	keepLast := flag.Int("keep-last", 10, "сколько последних запусков оставить")
	flag.Parse()
	if *keepLast < 0 {
		log.Fatalf("❌ keep-last не может быть отрицательным")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("ℹ️ .env файл не найден, используем переменные окружения системы")
	}
	cfg := config.Load()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, false)
	if err != nil {
		log.Fatalf("❌ PostgreSQL connection failed: %v", err)
	}
	defer database.ClosePostgres(db)

	artifacts, err := forecast.NewArtifactStore(cfg.Forecast.ModelsDir)
	if err != nil {
		log.Fatalf("❌ Каталог моделей недоступен: %v", err)
	}
	deleted, err := services.NewModelRegistry(db, artifacts).Cleanup(*keepLast)
	if err != nil {
		log.Fatalf("❌ Ошибка очистки: %v", err)
	}
	log.Printf("🧹 Удалено запусков: %d, оставлено последних: %d", deleted, *keepLast)
}
