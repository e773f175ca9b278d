package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const artifactFormatVersion = 1

// artifactEnvelope - формат файла артефакта
type artifactEnvelope struct {
	Version         int                   `json:"format_version"`
	Family          string                `json:"family"`
	RunID           uint                  `json:"run_id"`
	Features        FeatureConfig         `json:"features"`
	GradientBoosted *GradientBoostedModel `json:"gradient_boosted,omitempty"`
	SeasonalARIMA   *SeasonalARIMAModel   `json:"seasonal_arima,omitempty"`
}

// ArtifactStore хранит сериализованные модели в каталоге на диске
type ArtifactStore struct {
	Dir string
}

// NewArtifactStore создает каталог, если его нет
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir %s: %w", dir, err)
	}
	return &ArtifactStore{Dir: dir}, nil
}

// PathFor - путь артефакта, однозначно определяемый номером запуска
func (s *ArtifactStore) PathFor(family ModelFamily, runID uint) string {
	return filepath.Join(s.Dir, fmt.Sprintf("forecast_%s_run_%d.json", family.ArtifactTag(), runID))
}

// Write сериализует модель один раз: существующий файл не перезаписывается.
// Запись идет через временный файл и rename.
func (s *ArtifactStore) Write(handle *ModelHandle) (string, error) {
	if handle == nil {
		return "", fmt.Errorf("%w: nil handle", ErrSerialization)
	}
	if err := handle.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	path := s.PathFor(handle.Family, handle.RunID)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: artifact %s already exists", ErrSerialization, path)
	}

	env := artifactEnvelope{
		Version:         artifactFormatVersion,
		Family:          handle.Family.String(),
		RunID:           handle.RunID,
		Features:        handle.Features,
		GradientBoosted: handle.GradientBoosted,
		SeasonalARIMA:   handle.SeasonalARIMA,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return path, nil
}

// Read загружает модель из файла
func (s *ArtifactStore) Read(path string) (*ModelHandle, error) {
	if path == "" {
		return nil, ErrNoPersistedModel
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var env artifactEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if env.Version != artifactFormatVersion {
		return nil, fmt.Errorf("artifact %s: unsupported format version %d", path, env.Version)
	}
	family, err := ParseModelFamily(env.Family)
	if err != nil {
		return nil, err
	}
	handle := &ModelHandle{
		Family:          family,
		RunID:           env.RunID,
		Features:        env.Features,
		GradientBoosted: env.GradientBoosted,
		SeasonalARIMA:   env.SeasonalARIMA,
	}
	if err := handle.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return handle, nil
}

// Remove удаляет файл артефакта; отсутствующий файл не ошибка
func (s *ArtifactStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", path, err)
	}
	return nil
}
