package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
)

// GRPCServiceName is the service name reported by the gRPC health server.
const GRPCServiceName = "farmsync.realtime"

// healthHandler always answers 200 with the realtime status.
type healthHandler struct {
	session *Session
}

func NewHealthHandler(s *Session) http.Handler { return &healthHandler{session: s} }

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// readyHandler answers 200 while data is flowing, by push or by polling.
type readyHandler struct {
	session *Session
}

func NewReadyHandler(s *Session) http.Handler { return &readyHandler{session: s} }

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	st := h.session.Status()
	code := http.StatusOK
	if !serving(st.Status) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": code == http.StatusOK, "status": st.Status})
}

func serving(st model.Status) bool {
	return st == model.StatusLive || st == model.StatusFallback || st == model.StatusReconnecting
}

// WatchHealth mirrors the session status into a gRPC health server until ctx ends.
func WatchHealth(ctx context.Context, hs *health.Server, s *Session, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	update := func() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if serving(s.Status().Status) {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(GRPCServiceName, st)
		hs.SetServingStatus("", st)
	}
	update()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			update()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
