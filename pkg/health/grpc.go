package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type Monitor struct {
	log    *slog.Logger
	srv    *health.Server
	checks map[string]Check

	mu     sync.RWMutex
	failed map[string]string
}

func NewMonitor(log *slog.Logger, checks map[string]Check) *Monitor {
	return &Monitor{
		log:    log,
		srv:    health.NewServer(),
		checks: checks,
		failed: map[string]string{},
	}
}

// Serve exposes the standard gRPC health service on addr.
func (m *Monitor) Serve(addr string) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, m.srv)
	go func() {
		if err := gs.Serve(lis); err != nil {
			m.log.Error("grpc health server stopped", "err", err)
		}
	}()
	return gs, nil
}

func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	m.probe(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return nil
		case <-t.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	failed := map[string]string{}
	for name, check := range m.checks {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check(cctx); err != nil {
			failed[name] = err.Error()
			m.log.Warn("health check failed", "check", name, "err", err)
		}
		cancel()
	}

	m.mu.Lock()
	m.failed = failed
	m.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if len(failed) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.srv.SetServingStatus("", status)
}

// ServeHTTP answers /healthz with the last probe result.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	failed := make(map[string]string, len(m.failed))
	for k, v := range m.failed {
		failed[k] = v
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failed": failed})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
