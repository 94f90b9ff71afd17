package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

// ServiceName is the name reported through the gRPC health service.
const ServiceName = "tableorder.v1.TableOrder"

// GRPCHealth serves grpc.health.v1.Health with a status that follows the
// state store.
type GRPCHealth struct {
	server *health.Server
	store  port.StateStore
	log    *logger.Logger

	mu      sync.Mutex // guards serving and status changes
	serving bool
}

func NewGRPCHealth(store port.StateStore, log *logger.Logger) *GRPCHealth {
	h := &GRPCHealth{server: health.NewServer(), store: store, log: log}
	h.setLocked(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh pings the store once and updates the reported status. It is safe
// to call concurrently with Watch.
func (h *GRPCHealth) Refresh(ctx context.Context) {
	err := h.store.Ping(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		if h.serving {
			h.log.Error("store_unhealthy", "state store ping failed", err)
		}
		h.setLocked(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	if !h.serving {
		h.log.Info("store_healthy", "state store reachable")
	}
	h.setLocked(healthpb.HealthCheckResponse_SERVING)
}

// Watch refreshes every interval until ctx is done, then reports the
// service as shutting down.
func (h *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			h.log.Info("health_shutdown", "health service stopped", slog.String("service", ServiceName))
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *GRPCHealth) setLocked(status healthpb.HealthCheckResponse_ServingStatus) {
	h.serving = status == healthpb.HealthCheckResponse_SERVING
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}
