package api

import (
	"context"
	"fmt"
	"log"
	"net"

	"possales/server/internal/services"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ForecastServiceName - имя сервиса в gRPC health
const ForecastServiceName = "possales.forecast"

// ForecastHealth - gRPC health: процесс жив всегда, сервис прогноза SERVING после появления модели
type ForecastHealth struct {
	health *health.Server
	server *grpc.Server
}

// NewForecastHealth создает health-сервер; modelReady - есть ли уже обученная модель
func NewForecastHealth(modelReady bool) *ForecastHealth {
	h := &ForecastHealth{health: health.NewServer(), server: grpc.NewServer()}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetModelReady(modelReady)
	healthpb.RegisterHealthServer(h.server, h.health)
	return h
}

// SetModelReady переключает статус сервиса прогноза
func (h *ForecastHealth) SetModelReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ForecastServiceName, status)
}

// Check - текущий статус сервиса прогноза
func (h *ForecastHealth) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ForecastServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// PublishRun: успешное обучение делает сервис прогноза доступным
func (h *ForecastHealth) PublishRun(_ context.Context, event services.RunEvent) error {
	if event.Status == services.RunStatusTrained {
		h.SetModelReady(true)
	}
	return nil
}

// Serve блокирует до остановки сервера
func (h *ForecastHealth) Serve(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen gRPC: %w", err)
	}
	log.Printf("📡 gRPC health server starting on port %s", port)
	return h.server.Serve(lis)
}

// Stop завершает gRPC сервер
func (h *ForecastHealth) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
