package health

import (
	"sync"

	"github.com/rbright/parlance/internal/engine"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for an engine.
func ServiceName(id engine.ID) string { return "engine/" + string(id) }

// GRPCReporter mirrors engine health onto a standard gRPC health server. The
// overall service ("") is SERVING while at least one engine is healthy.
type GRPCReporter struct {
	server *health.Server

	mu      sync.Mutex
	healthy map[engine.ID]bool
}

// NewGRPCReporter seeds every engine as NOT_SERVING.
func NewGRPCReporter(server *health.Server, ids []engine.ID) *GRPCReporter {
	r := &GRPCReporter{server: server, healthy: make(map[engine.ID]bool, len(ids))}
	for _, id := range ids {
		r.healthy[id] = false
		server.SetServingStatus(ServiceName(id), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return r
}

// Observe implements Observer.
func (r *GRPCReporter) Observe(m Metrics, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.healthy[m.EngineID] = healthy
	r.server.SetServingStatus(ServiceName(m.EngineID), servingStatus(healthy))

	serving := false
	for _, ok := range r.healthy {
		if ok {
			serving = true
			break
		}
	}
	r.server.SetServingStatus("", servingStatus(serving))
}

func servingStatus(ok bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if ok {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
