package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"possales/server/internal/forecast"
	"possales/server/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModelRegistry хранит запуски обучения в PostgreSQL, а модели - файлами в каталоге артефактов.
// Последняя модель - запуск с максимальным ID среди запусков с артефактом.
type ModelRegistry struct {
	db        *gorm.DB
	artifacts *forecast.ArtifactStore
}

// NewModelRegistry создает новый экземпляр ModelRegistry
func NewModelRegistry(db *gorm.DB, artifacts *forecast.ArtifactStore) *ModelRegistry {
	return &ModelRegistry{db: db, artifacts: artifacts}
}

// CreateRun - первая фаза: запись запуска без артефакта
func (r *ModelRegistry) CreateRun(run *forecast.RunRecord) error {
	params, err := toJSON(run.Params)
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}
	metrics, err := toJSON(run.Metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	row := models.ForecastRun{
		ModelName:  run.ModelName,
		Family:     run.Family.String(),
		ProductID:  run.ProductID,
		TrainStart: run.TrainStart,
		TrainEnd:   run.TrainEnd,
		Horizon:    run.Horizon,
		Params:     params,
		Metrics:    metrics,
		DurationMs: run.Duration.Milliseconds(),
	}
	if err := r.db.Create(&row).Error; err != nil {
		return fmt.Errorf("ошибка создания запуска: %w", err)
	}
	run.ID = row.ID
	run.CreatedAt = row.CreatedAt
	return nil
}

// AttachArtifact - вторая фаза: запись файла модели и сохранение пути в запуск.
// Путь записывается один раз; если запись уже имеет путь, файл удаляется.
func (r *ModelRegistry) AttachArtifact(run *forecast.RunRecord, handle *forecast.ModelHandle) error {
	path, err := r.artifacts.Write(handle)
	if err != nil {
		return err
	}
	res := r.db.Model(&models.ForecastRun{}).
		Where("id = ? AND (artifact_path IS NULL OR artifact_path = '')", run.ID).
		Update("artifact_path", path)
	if res.Error != nil || res.RowsAffected == 0 {
		if rmErr := r.artifacts.Remove(path); rmErr != nil {
			log.Printf("⚠️ Не удалось удалить артефакт %s: %v", path, rmErr)
		}
		if res.Error != nil {
			return fmt.Errorf("ошибка сохранения пути артефакта: %w", res.Error)
		}
		return fmt.Errorf("run %d not found or already has an artifact", run.ID)
	}
	run.ArtifactPath = path
	log.Printf("💾 Модель запуска #%d сохранена: %s", run.ID, path)
	return nil
}

// withArtifact - scope запусков, пригодных для загрузки
func withArtifact(db *gorm.DB) *gorm.DB {
	return db.Where("artifact_path IS NOT NULL AND artifact_path <> ''")
}

// latestQuery - запуски с артефактом для товара (nil - общий ряд)
func (r *ModelRegistry) latestQuery(productID *uint) *gorm.DB {
	q := r.db.Model(&models.ForecastRun{}).Scopes(withArtifact)
	if productID != nil {
		return q.Where("product_id = ?", *productID)
	}
	return q.Where("product_id IS NULL")
}

// LatestRun возвращает последний пригодный запуск или forecast.ErrNoPersistedModel
func (r *ModelRegistry) LatestRun(productID *uint) (*models.ForecastRun, error) {
	var row models.ForecastRun
	err := r.latestQuery(productID).Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, forecast.ErrNoPersistedModel
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Сколько последних пригодных запусков перебирается, если файл модели не читается
const maxLoadAttempts = 5

// LoadLatest загружает модель последнего пригодного запуска. Если файл поврежден или
// удален, берется предыдущий запуск; если не загрузился ни один - forecast.ErrNoPersistedModel.
func (r *ModelRegistry) LoadLatest(productID *uint) (*forecast.ModelHandle, *forecast.RunRecord, error) {
	var rows []models.ForecastRun
	if err := r.latestQuery(productID).Order("id DESC").Limit(maxLoadAttempts).Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("ошибка поиска последней модели: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, forecast.ErrNoPersistedModel
	}
	var lastErr error
	for i := range rows {
		handle, run, err := r.loadRow(&rows[i])
		if err == nil {
			if i > 0 {
				log.Printf("⚠️ Используется модель запуска #%d вместо #%d", rows[i].ID, rows[0].ID)
			}
			return handle, run, nil
		}
		log.Printf("⚠️ Модель запуска #%d не загружена: %v", rows[i].ID, err)
		lastErr = err
	}
	return nil, nil, fmt.Errorf("%w: %v", forecast.ErrNoPersistedModel, lastErr)
}

// Load загружает модель конкретного запуска
func (r *ModelRegistry) Load(runID uint) (*forecast.ModelHandle, *forecast.RunRecord, error) {
	row, err := r.GetRun(runID)
	if err != nil {
		return nil, nil, err
	}
	if row.ArtifactPath == "" {
		return nil, nil, fmt.Errorf("%w: run %d has no artifact", forecast.ErrNoPersistedModel, runID)
	}
	return r.loadRow(row)
}

func (r *ModelRegistry) loadRow(row *models.ForecastRun) (*forecast.ModelHandle, *forecast.RunRecord, error) {
	run, err := toRunRecord(row)
	if err != nil {
		return nil, nil, err
	}
	handle, err := r.artifacts.Read(row.ArtifactPath)
	if err != nil {
		return nil, nil, err
	}
	handle.RunID = row.ID
	return handle, run, nil
}

// ListRuns - последние запуски, новые первыми
func (r *ModelRegistry) ListRuns(limit int) ([]models.ForecastRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []models.ForecastRun
	if err := r.db.Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения запусков: %w", err)
	}
	return runs, nil
}

// GetRun возвращает запуск вместе с результатами прогноза
func (r *ModelRegistry) GetRun(id uint) (*models.ForecastRun, error) {
	var run models.ForecastRun
	err := r.db.Preload("Results", func(db *gorm.DB) *gorm.DB {
		return db.Order("date, id")
	}).First(&run, id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Results - результаты прогноза запуска по возрастанию даты
func (r *ModelRegistry) Results(runID uint) ([]models.ForecastResult, error) {
	var results []models.ForecastResult
	if err := r.db.Where("run_id = ?", runID).Order("date, id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SaveResults сохраняет прогноз пачкой. Даты, уже сохраненные для запуска, пропускаются.
func (r *ModelRegistry) SaveResults(runID uint, points []forecast.PredictedPoint, productID *uint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]models.ForecastResult, 0, len(points))
	for _, p := range points {
		rows = append(rows, models.ForecastResult{RunID: runID, Date: p.Date, ProductID: productID, Predicted: p.Predicted})
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "date"}},
		DoNothing: true,
	}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("ошибка сохранения результатов запуска #%d: %w", runID, err)
	}
	return nil
}

// Cleanup удаляет все запуски, кроме keepLast последних, вместе с результатами и файлами моделей
func (r *ModelRegistry) Cleanup(keepLast int) (int, error) {
	if keepLast < 0 {
		keepLast = 0
	}
	var all []models.ForecastRun
	if err := r.db.Select("id, artifact_path").Order("id DESC").Find(&all).Error; err != nil {
		return 0, fmt.Errorf("ошибка выборки старых запусков: %w", err)
	}
	if len(all) <= keepLast {
		return 0, nil
	}
	stale := all[keepLast:]

	ids := make([]uint, 0, len(stale))
	for _, run := range stale {
		ids = append(ids, run.ID)
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id IN ?", ids).Delete(&models.ForecastResult{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.ForecastRun{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления запусков: %w", err)
	}

	for _, run := range stale {
		if err := r.artifacts.Remove(run.ArtifactPath); err != nil {
			log.Printf("⚠️ %v", err)
		}
	}
	log.Printf("🧹 Удалено запусков: %d (оставлено последних: %d)", len(stale), keepLast)
	return len(stale), nil
}

func toJSON(v map[string]any) (datatypes.JSON, error) {
	if v == nil {
		v = map[string]any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// toRunRecord переводит строку БД в запись запуска
func toRunRecord(row *models.ForecastRun) (*forecast.RunRecord, error) {
	family, err := forecast.ParseModelFamily(row.Family)
	if err != nil {
		return nil, err
	}
	run := &forecast.RunRecord{
		ID:           row.ID,
		ModelName:    row.ModelName,
		Family:       family,
		ProductID:    row.ProductID,
		TrainStart:   row.TrainStart,
		TrainEnd:     row.TrainEnd,
		Horizon:      row.Horizon,
		ArtifactPath: row.ArtifactPath,
		CreatedAt:    row.CreatedAt,
		Duration:     time.Duration(row.DurationMs) * time.Millisecond,
	}
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &run.Params); err != nil {
			return nil, fmt.Errorf("run %d params: %w", row.ID, err)
		}
	}
	if len(row.Metrics) > 0 {
		if err := json.Unmarshal(row.Metrics, &run.Metrics); err != nil {
			return nil, fmt.Errorf("run %d metrics: %w", row.ID, err)
		}
	}
	return run, nil
}
