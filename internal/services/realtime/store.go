package realtime

import (
	"sort"
	"sync"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
)

// DefaultAlertCapacity is also the upper bound on the alert list.
const DefaultAlertCapacity = 50

// Store is the in-memory projection shared by the push and poll feeds:
// the latest reading per sensor and a bounded, most-recent-first alert list.
//
// Readings are kept per source. Within a source the last write wins; the read
// side picks, per sensor, the reading with the latest timestamp across sources.
type Store struct {
	mu       sync.RWMutex
	capacity int
	readings map[model.Source]map[string]model.SensorReading
	alerts   []model.Alert
}

func NewStore(capacity int) *Store {
	if capacity <= 0 || capacity > DefaultAlertCapacity {
		capacity = DefaultAlertCapacity
	}
	s := &Store{capacity: capacity}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.readings = make(map[model.Source]map[string]model.SensorReading, len(model.Sources))
	for _, src := range model.Sources {
		s.readings[src] = make(map[string]model.SensorReading)
	}
	s.alerts = nil
}

func (s *Store) slot(src model.Source) map[string]model.SensorReading {
	m, ok := s.readings[src]
	if !ok {
		m = make(map[string]model.SensorReading)
		s.readings[src] = m
	}
	return m
}

// MergeReading upserts r for its sensor, overwriting whatever src held before.
func (s *Store) MergeReading(src model.Source, r model.SensorReading) {
	if r.SensorID == "" {
		return
	}
	s.mu.Lock()
	s.slot(src)[r.SensorID] = r
	s.mu.Unlock()
}

// ReplaceReadings replaces every reading held for src.
func (s *Store) ReplaceReadings(src model.Source, rs []model.SensorReading) {
	m := make(map[string]model.SensorReading, len(rs))
	for _, r := range rs {
		if r.SensorID != "" {
			m[r.SensorID] = r
		}
	}
	s.mu.Lock()
	s.readings[src] = m
	s.mu.Unlock()
}

// Reading returns the freshest reading known for a sensor.
func (s *Store) Reading(sensorID string) (model.SensorReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  model.SensorReading
		found bool
	)
	for _, src := range model.Sources {
		r, ok := s.readings[src][sensorID]
		if ok && (!found || r.NewerThan(best)) {
			best, found = r, true
		}
	}
	return best, found
}

// Readings returns the freshest reading per sensor, ordered by sensor id.
func (s *Store) Readings() []model.SensorReading {
	s.mu.RLock()
	latest := make(map[string]model.SensorReading)
	for _, src := range model.Sources {
		for id, r := range s.readings[src] {
			if cur, ok := latest[id]; !ok || r.NewerThan(cur) {
				latest[id] = r
			}
		}
	}
	s.mu.RUnlock()

	out := make([]model.SensorReading, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// AddAlert puts a at the front of the alert list, dropping the oldest beyond
// capacity. An alert already in the list is updated in place instead.
func (s *Store) AddAlert(a model.Alert) {
	if a.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(a.ID); i >= 0 {
		s.alerts[i] = a
		return
	}
	s.alerts = append([]model.Alert{a}, s.alerts...)
	if len(s.alerts) > s.capacity {
		s.alerts = s.alerts[:s.capacity]
	}
}

// UpdateAlert merges the non-zero fields of patch into the alert with patch.ID.
// Unknown ids are ignored. It reports whether an alert was updated.
func (s *Store) UpdateAlert(patch model.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(patch.ID)
	if i < 0 {
		return false
	}
	s.alerts[i] = s.alerts[i].Merge(patch)
	return true
}

// ReplaceAlerts replaces the alert list, most recent first, keeping the first
// occurrence of each id and at most capacity entries.
func (s *Store) ReplaceAlerts(as []model.Alert) {
	seen := make(map[string]struct{}, len(as))
	out := make([]model.Alert, 0, len(as))
	for _, a := range as {
		if a.ID == "" {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > s.capacity {
		out = out[:s.capacity]
	}
	s.mu.Lock()
	s.alerts = out
	s.mu.Unlock()
}

// Alerts returns a copy of the alert list.
func (s *Store) Alerts() []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Alert(nil), s.alerts...)
}

// AlertIDs returns the ids currently in the alert list.
func (s *Store) AlertIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.alerts))
	for i, a := range s.alerts {
		ids[i] = a.ID
	}
	return ids
}

// Clear empties both projections.
func (s *Store) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Readings []model.SensorReading `json:"readings"`
	Alerts   []model.Alert         `json:"alerts"`
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{Readings: s.Readings(), Alerts: s.Alerts()}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			return i
		}
	}
	return -1
}
