package models

import (
	"fmt"
	"log"

	"gorm.io/gorm"
)

// AutoMigrate создает/обновляет все таблицы сервиса
func AutoMigrate(db *gorm.DB) error {
	groups := []struct {
		name   string
		models []interface{}
	}{
		{"inventory", []interface{}{&Item{}, &RestockLog{}}},
		{"sales", []interface{}{&Sale{}, &SaleItem{}, &SaleItemUnit{}, &DailySalesRecord{}}},
		{"forecast", []interface{}{&ForecastRun{}, &ForecastResult{}}},
	}
	if err := dedupeForecastResults(db); err != nil {
		return fmt.Errorf("dedupe forecast_results: %w", err)
	}
	for _, g := range groups {
		if err := db.AutoMigrate(g.models...); err != nil {
			log.Printf("❌ AutoMigrate %s failed: %v", g.name, err)
			return fmt.Errorf("migrate %s: %w", g.name, err)
		}
		log.Printf("✅ Таблицы %s мигрированы", g.name)
	}
	return nil
}

// dedupeForecastResults оставляет одну строку на (run_id, date) перед созданием
// уникального индекса; старые базы могли накопить повторы.
func dedupeForecastResults(db *gorm.DB) error {
	if !db.Migrator().HasTable(&ForecastResult{}) || db.Migrator().HasIndex(&ForecastResult{}, "uniq_result_run_date") {
		return nil
	}
	res := db.Exec(`DELETE FROM forecast_results a USING forecast_results b
		WHERE a.run_id = b.run_id AND a.date = b.date AND a.id > b.id`)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("🧹 Удалено повторов прогноза: %d", res.RowsAffected)
	}
	return nil
}
