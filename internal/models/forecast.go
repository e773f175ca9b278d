package models

import (
	"time"

	"gorm.io/datatypes"
)

// ForecastRun - запись об одном запуске обучения.
// ID монотонный: "последняя" модель - запуск с максимальным ID и непустым ArtifactPath.
type ForecastRun struct {
	ID           uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ModelName    string         `json:"model_name" gorm:"type:varchar(100);not null"`
	Family       string         `json:"family" gorm:"type:varchar(30);index"`
	ProductID    *uint          `json:"product_id" gorm:"index"`
	TrainStart   *time.Time     `json:"train_start" gorm:"type:date"`
	TrainEnd     *time.Time     `json:"train_end" gorm:"type:date"`
	Horizon      int            `json:"horizon" gorm:"not null;default:7"`
	Params       datatypes.JSON `json:"params" gorm:"type:jsonb"`
	Metrics      datatypes.JSON `json:"metrics" gorm:"type:jsonb"`
	ArtifactPath string         `json:"artifact_path" gorm:"type:varchar(500);index"` // Пусто до сериализации или при ее ошибке
	DurationMs   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime;index"`

	Results []ForecastResult `json:"results,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (ForecastRun) TableName() string {
	return "forecast_runs"
}

// ForecastResult - прогноз на одну дату (и, опционально, товар).
// Товар всегда совпадает с товаром запуска, поэтому на (запуск, дату) одна строка.
type ForecastResult struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	RunID     uint      `json:"run_id" gorm:"not null;uniqueIndex:uniq_result_run_date"`
	Date      time.Time `json:"date" gorm:"type:date;not null;uniqueIndex:uniq_result_run_date"`
	ProductID *uint     `json:"product_id" gorm:"index"`
	Predicted float64   `json:"predicted"`
	Actual    *float64  `json:"actual"` // Заполняется задним числом
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (ForecastResult) TableName() string {
	return "forecast_results"
}
