package services

import (
	"context"
	"time"

	"possales/server/internal/forecast"

	"github.com/google/uuid"
)

// Статусы запуска для внешних подписчиков
const (
	RunStatusTrained    = "trained"
	RunStatusNotTrained = "not_trained"
	RunStatusFailed     = "failed"
)

// RunEvent - событие о завершенном запуске обучения
type RunEvent struct {
	EventID      string         `json:"event_id"`
	RunID        uint           `json:"run_id"`
	ModelName    string         `json:"model_name"`
	Family       string         `json:"family"`
	ProductID    *uint          `json:"product_id,omitempty"`
	Status       string         `json:"status"`
	Failure      string         `json:"failure,omitempty"`
	Horizon      int            `json:"horizon"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	ArtifactPath string         `json:"artifact_path,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RunPublisher получает события о запусках (Kafka, WebSocket, health)
type RunPublisher interface {
	PublishRun(ctx context.Context, event RunEvent) error
}

// NewRunEvent строит событие по результату обучения
func NewRunEvent(res *forecast.TrainResult) RunEvent {
	ev := RunEvent{
		EventID:   uuid.New().String(),
		Status:    RunStatusTrained,
		CreatedAt: time.Now().UTC(),
	}
	if res == nil {
		ev.Status = RunStatusFailed
		return ev
	}
	if run := res.Run; run != nil {
		ev.RunID = run.ID
		ev.ModelName = run.ModelName
		ev.Family = run.Family.String()
		ev.ProductID = run.ProductID
		ev.Horizon = run.Horizon
		ev.Metrics = run.Metrics
		ev.ArtifactPath = run.ArtifactPath
		if !run.CreatedAt.IsZero() {
			ev.CreatedAt = run.CreatedAt
		}
	}
	if res.Failure != nil {
		ev.Failure = res.Failure.Error()
		ev.Status = RunStatusFailed
		if res.Failure.Reason == forecast.FailureInsufficientHistory {
			ev.Status = RunStatusNotTrained
		}
	}
	return ev
}
