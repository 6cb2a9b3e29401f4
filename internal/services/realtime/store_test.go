package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStoreMergeReadingKeepsOnePerSensor(t *testing.T) {
	s := NewStore(0)
	s.MergeReading(model.SourcePush, reading("S1", t0, 20))
	s.MergeReading(model.SourcePush, reading("S2", t0, 18))
	s.MergeReading(model.SourcePush, reading("S1", t0.Add(time.Minute), 21))
	s.MergeReading(model.SourcePush, reading("S1", t0.Add(2*time.Minute), 22))

	got := s.Readings()
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].SensorID)
	assert.Equal(t, 22.0, got[0].Temperature)
	assert.Equal(t, "S2", got[1].SensorID)
}

func TestStoreMergeReadingLastCallWinsWithinSource(t *testing.T) {
	s := NewStore(0)
	s.MergeReading(model.SourcePoll, reading("S1", t0.Add(time.Minute), 21))
	s.MergeReading(model.SourcePoll, reading("S1", t0, 19))

	r, ok := s.Reading("S1")
	require.True(t, ok)
	assert.Equal(t, 19.0, r.Temperature)
}

func TestStoreMergeReadingIgnoresMissingID(t *testing.T) {
	s := NewStore(0)
	s.MergeReading(model.SourcePush, reading("", t0, 20))
	assert.Empty(t, s.Readings())
}

func TestStoreStalePollDoesNotHideFreshPush(t *testing.T) {
	s := NewStore(0)
	s.MergeReading(model.SourcePush, reading("S1", t0.Add(10*time.Second), 25))
	s.MergeReading(model.SourcePoll, reading("S1", t0.Add(5*time.Second), 15))

	r, ok := s.Reading("S1")
	require.True(t, ok)
	assert.Equal(t, 25.0, r.Temperature)
	assert.Equal(t, []model.SensorReading{reading("S1", t0.Add(10*time.Second), 25)}, s.Readings())

	// a newer poll reading does win
	s.MergeReading(model.SourcePoll, reading("S1", t0.Add(20*time.Second), 30))
	r, _ = s.Reading("S1")
	assert.Equal(t, 30.0, r.Temperature)
}

func TestStoreReplaceReadingsOnlyTouchesSource(t *testing.T) {
	s := NewStore(0)
	s.MergeReading(model.SourcePush, reading("S1", t0, 20))
	s.MergeReading(model.SourcePoll, reading("S2", t0, 20))

	s.ReplaceReadings(model.SourcePoll, []model.SensorReading{reading("S3", t0, 11)})

	ids := []string{}
	for _, r := range s.Readings() {
		ids = append(ids, r.SensorID)
	}
	assert.Equal(t, []string{"S1", "S3"}, ids)
}

func TestStoreAddAlertSameIDDoesNotDuplicate(t *testing.T) {
	s := NewStore(0)
	s.AddAlert(alert("A1", t0))
	s.AddAlert(alert("A2", t0.Add(time.Minute)))

	updated := alert("A1", t0)
	updated.Status = model.AlertAcknowledged
	s.AddAlert(updated)

	got := s.Alerts()
	require.Len(t, got, 2)
	assert.Equal(t, "A2", got[0].ID)
	assert.Equal(t, "A1", got[1].ID)
	assert.Equal(t, model.AlertAcknowledged, got[1].Status)
}

func TestStoreUpdateAlert(t *testing.T) {
	s := NewStore(0)
	s.AddAlert(alert("A1", t0))

	resolved := t0.Add(time.Hour)
	ok := s.UpdateAlert(model.Alert{ID: "A1", Status: model.AlertResolved, ResolvedAt: &resolved})
	require.True(t, ok)

	got := s.Alerts()
	require.Len(t, got, 1)
	assert.Equal(t, model.AlertResolved, got[0].Status)
	assert.Equal(t, "alert A1", got[0].Title)
	require.NotNil(t, got[0].ResolvedAt)
	assert.True(t, got[0].ResolvedAt.Equal(resolved))
}

func TestStoreUpdateUnknownAlertIsNoop(t *testing.T) {
	s := NewStore(0)
	s.AddAlert(alert("A1", t0))

	assert.False(t, s.UpdateAlert(model.Alert{ID: "nope", Status: model.AlertResolved}))
	assert.Len(t, s.Alerts(), 1)
}

func TestStoreAlertCapacity(t *testing.T) {
	s := NewStore(0)
	for i := range 120 {
		s.AddAlert(alert(fmt.Sprintf("A%03d", i), t0.Add(time.Duration(i)*time.Second)))
		require.LessOrEqual(t, len(s.Alerts()), DefaultAlertCapacity)
	}
	got := s.Alerts()
	require.Len(t, got, DefaultAlertCapacity)
	assert.Equal(t, "A119", got[0].ID)
	assert.Equal(t, "A070", got[len(got)-1].ID)
}

func TestStoreCapacityNeverExceedsFifty(t *testing.T) {
	s := NewStore(100)
	for i := range 80 {
		s.AddAlert(alert(fmt.Sprintf("A%03d", i), t0.Add(time.Duration(i)*time.Second)))
	}
	assert.Len(t, s.Alerts(), DefaultAlertCapacity)
}

func TestStoreReplaceAlertsSortsDedupsAndCaps(t *testing.T) {
	s := NewStore(3)
	s.AddAlert(alert("old", t0))

	s.ReplaceAlerts([]model.Alert{
		alert("A1", t0.Add(1*time.Minute)),
		alert("A3", t0.Add(3*time.Minute)),
		alert("A1", t0.Add(9*time.Minute)),
		alert("A2", t0.Add(2*time.Minute)),
		alert("A4", t0.Add(4*time.Minute)),
		{Title: "no id"},
	})

	assert.Equal(t, []string{"A4", "A3", "A2"}, s.AlertIDs())
}

func TestStoreClear(t *testing.T) {
	s := NewStore(0)
	s.MergeReading(model.SourcePush, reading("S1", t0, 20))
	s.MergeReading(model.SourcePoll, reading("S2", t0, 20))
	s.AddAlert(alert("A1", t0))

	s.Clear()

	snap := s.Snapshot()
	assert.Empty(t, snap.Readings)
	assert.Empty(t, snap.Alerts)
	_, ok := s.Reading("S1")
	assert.False(t, ok)
}
