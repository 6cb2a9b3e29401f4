package realtime

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/internal/model/messages"
)

func (s *Session) handleSensorEvent(event string, args []json.RawMessage) {
	hubEvents.WithLabelValues(event).Inc()
	if !strings.EqualFold(event, messages.EventSensorReading) {
		return
	}
	for _, raw := range args {
		r, err := messages.DecodeReading(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("event", event).Msg("dropping sensor event")
			continue
		}
		s.store.MergeReading(model.SourcePush, r)
	}
}

func (s *Session) handleAlertEvent(event string, args []json.RawMessage) {
	hubEvents.WithLabelValues(event).Inc()
	for _, raw := range args {
		a, err := messages.DecodeAlert(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("event", event).Msg("dropping alert event")
			continue
		}
		switch {
		case strings.EqualFold(event, messages.EventAlertCreated):
			if a.Status == "" {
				a.Status = model.AlertPending
			}
			isNew := s.seen.ShouldProcess(a.ID)
			s.store.AddAlert(a)
			if isNew {
				s.notifier.Notify(s.baseCtx, a)
			}
		case strings.EqualFold(event, messages.EventAlertAcknowledged):
			if a.Status == "" {
				a.Status = model.AlertAcknowledged
			}
			s.store.UpdateAlert(a)
		case strings.EqualFold(event, messages.EventAlertResolved):
			if a.Status == "" {
				a.Status = model.AlertResolved
			}
			s.store.UpdateAlert(a)
		}
	}
}
