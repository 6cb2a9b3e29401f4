package realtime

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter exposes health, metrics, the store snapshot and the controls a
// privileged user needs (owner selection, notification toggle).
func NewRouter(s *Session, prefs *Preferences, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/healthz", NewHealthHandler(s))
	r.Method(http.MethodGet, "/readyz", NewReadyHandler(s))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Store().Snapshot())
		})
		r.Get("/readings/{sensorID}", func(w http.ResponseWriter, req *http.Request) {
			reading, ok := s.Store().Reading(chi.URLParam(req, "sensorID"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown sensor"})
				return
			}
			writeJSON(w, http.StatusOK, reading)
		})
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Status())
		})
		r.Put("/scope", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Owner string `json:"owner"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
				return
			}
			scope := s.Select(strings.TrimSpace(body.Owner))
			writeJSON(w, http.StatusOK, map[string]any{"owner": scope.OwnerID, "pending": scope.Pending})
		})
		r.Put("/preferences/notifications", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Enabled *bool `json:"enabled"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled is required"})
				return
			}
			prefs.SetNotificationsEnabled(*body.Enabled)
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": prefs.NotificationsEnabled()})
		})
	})
	return r
}
