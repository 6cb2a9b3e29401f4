package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
)

func newTestRouter(t *testing.T) (*Session, *Preferences, *fakeDialer, http.Handler) {
	t.Helper()
	d := newFakeDialer()
	s, _ := newTestSession(d, &fakeSource{})
	t.Cleanup(s.Close)
	prefs := &Preferences{}
	return s, prefs, d, NewRouter(s, prefs, prometheus.NewRegistry())
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndReadiness(t *testing.T) {
	s, _, _, h := newTestRouter(t)

	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var report StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, model.StatusOffline, report.Status)

	rec = do(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.Reconcile(farmer, "")
	waitLive(t, s)
	rec = do(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live"`)
}

func TestRouterSnapshotAndReading(t *testing.T) {
	s, _, _, h := newTestRouter(t)
	s.Store().MergeReading(model.SourcePush, reading("S1", t0, 20.5))
	s.Store().AddAlert(alert("A1", t0))

	rec := do(h, http.MethodGet, "/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Readings, 1)
	assert.Equal(t, 20.5, snap.Readings[0].Temperature)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "A1", snap.Alerts[0].ID)

	rec = do(h, http.MethodGet, "/v1/readings/S1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(h, http.MethodGet, "/v1/readings/S9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterScopeSelection(t *testing.T) {
	s, _, d, h := newTestRouter(t)
	s.Reconcile(AuthState{Token: "tok", UserID: "a1", Role: "Admin"}, "")
	assert.True(t, s.Status().ScopePending)

	rec := do(h, http.MethodPut, "/v1/scope", `{"owner":" u5 "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"owner":"u5","pending":false}`, rec.Body.String())
	waitLive(t, s)
	assert.Equal(t, "u5", s.Status().Owner)
	assert.Equal(t, 2, d.dialCount())

	rec = do(h, http.MethodPut, "/v1/scope", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterNotificationPreference(t *testing.T) {
	_, prefs, _, h := newTestRouter(t)

	rec := do(h, http.MethodPut, "/v1/preferences/notifications", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, prefs.NotificationsEnabled())

	rec = do(h, http.MethodPut, "/v1/preferences/notifications", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, prefs.NotificationsEnabled())
}

func TestRouterMetrics(t *testing.T) {
	_, _, _, h := newTestRouter(t)
	rec := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWatchHealthMirrorsStatus(t *testing.T) {
	d := newFakeDialer()
	s, _ := newTestSession(d, &fakeSource{})
	defer s.Close()
	hs := health.NewServer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchHealth(ctx, hs, s, 5*time.Millisecond)
		close(done)
	}()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: GRPCServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, waitFor, tick)

	s.Reconcile(farmer, "")
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, waitFor, tick)

	cancel()
	<-done
}
