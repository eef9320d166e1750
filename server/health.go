package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-bridge/memory"
)

// Health service names, one per memory tier. The empty name reports the
// process as a whole.
const (
	HealthWorking    = "memory.working"
	HealthSession    = "memory.session"
	HealthSemantic   = "memory.semantic"
	HealthRelational = "memory.relational"
)

// DefaultHealthInterval is how often tier status is refreshed.
const DefaultHealthInterval = 15 * time.Second

// StatusSource reports memory tier status. *memory.Unified implements it.
type StatusSource interface {
	Status(ctx context.Context) memory.Status
}

// Health serves the standard gRPC health checking protocol. A tier whose
// configured backend failed its last status probe reports NOT_SERVING while
// the fallback keeps answering requests.
type Health struct {
	source   StatusSource
	interval time.Duration
	logger   *slog.Logger

	grpc   *grpc.Server
	health *health.Server
}

// NewHealth creates a health server. A non-positive interval uses
// DefaultHealthInterval.
func NewHealth(source StatusSource, interval time.Duration, logger *slog.Logger) *Health {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Health{
		source:   source,
		interval: interval,
		logger:   logger.With("component", "health"),
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.refresh(context.Background())
	return h
}

// refresh probes every tier and publishes the result.
func (h *Health) refresh(ctx context.Context) {
	st := h.source.Status(ctx)

	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(HealthWorking, healthpb.HealthCheckResponse_SERVING)
	h.set(HealthSession, st.Session.TierStatus)
	h.set(HealthSemantic, st.Semantic.TierStatus)
	h.set(HealthRelational, st.Relational.TierStatus)
}

func (h *Health) set(service string, tier memory.TierStatus) {
	status := healthpb.HealthCheckResponse_SERVING
	if tier.Degraded {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("tier degraded", "service", service, "backend", tier.Backend)
	}
	h.health.SetServingStatus(service, status)
}

// Serve serves on lis and refreshes tier status until ctx is cancelled.
func (h *Health) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("health service listening", "addr", lis.Addr().String())
		errCh <- h.grpc.Serve(lis)
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("serve health: %w", err)
			}
			return nil
		case <-ticker.C:
			h.refresh(ctx)
		case <-ctx.Done():
			h.health.Shutdown()
			h.grpc.GracefulStop()
			h.logger.Info("health service stopped")
			return nil
		}
	}
}

// ListenAndServe listens on addr and calls Serve.
func (h *Health) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return h.Serve(ctx, lis)
}
