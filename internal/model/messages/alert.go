package messages

import (
	"errors"

	"github.com/LeonardoBeccarini/farmsync/internal/model/entities"
)

var ErrMissingAlertID = errors.New("alert without id")

// Enum ordinals used when the backend serializes enums as integers.
var (
	severityByOrdinal = []entities.Severity{entities.SeverityInfo, entities.SeverityWarning, entities.SeverityCritical}
	statusByOrdinal   = []entities.AlertStatus{entities.AlertPending, entities.AlertAcknowledged, entities.AlertResolved}
)

// Alert decodes an alert from the hub or the REST API.
type Alert entities.Alert

func (a *Alert) UnmarshalJSON(b []byte) error {
	f, err := decodeFields(b)
	if err != nil {
		return err
	}
	*a = Alert{
		ID:      f.str("id", "alertid"),
		Title:   f.str("title", "name"),
		Message: f.str("message", "description", "body"),
	}

	if v, ok := f.lookup("severity", "level"); ok {
		switch x := v.(type) {
		case string:
			a.Severity = entities.ParseSeverity(x)
		case float64:
			if i := int(x); i >= 0 && i < len(severityByOrdinal) {
				a.Severity = severityByOrdinal[i]
			}
		}
	}
	if v, ok := f.lookup("status", "state"); ok {
		switch x := v.(type) {
		case string:
			if st, ok := entities.ParseAlertStatus(x); ok {
				a.Status = st
			}
		case float64:
			if i := int(x); i >= 0 && i < len(statusByOrdinal) {
				a.Status = statusByOrdinal[i]
			}
		}
	}
	if t, ok := f.time("createdat", "timestamp", "raisedat"); ok {
		a.CreatedAt = t
	}
	if t, ok := f.time("resolvedat"); ok {
		a.ResolvedAt = &t
	}
	if a.ID == "" {
		return ErrMissingAlertID
	}
	return nil
}

// DecodeAlert decodes a single alert payload.
func DecodeAlert(b []byte) (entities.Alert, error) {
	var a Alert
	if err := a.UnmarshalJSON(b); err != nil {
		return entities.Alert{}, err
	}
	return entities.Alert(a), nil
}

// DecodeAlerts decodes an alert list, skipping entries without an id.
func DecodeAlerts(b []byte) ([]entities.Alert, error) {
	items, err := unwrapList(b)
	if err != nil {
		return nil, err
	}
	out := make([]entities.Alert, 0, len(items))
	for _, it := range items {
		a, err := DecodeAlert(it)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
