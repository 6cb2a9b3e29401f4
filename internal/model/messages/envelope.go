package messages

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Hub event names.
const (
	EventSensorReading     = "sensorReading"
	EventAlertCreated      = "alertCreated"
	EventAlertAcknowledged = "alertAcknowledged"
	EventAlertResolved     = "alertResolved"
)

var (
	SensorEvents = []string{EventSensorReading}
	AlertEvents  = []string{EventAlertCreated, EventAlertAcknowledged, EventAlertResolved}
)

// unwrapList accepts a bare array or an object carrying the array under
// "items" or "data" (any key casing). null and empty bodies are empty lists.
func unwrapList(b []byte) ([]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	switch b[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, err
		}
		for k, v := range env {
			switch foldKey(k) {
			case "items", "data":
				return unwrapList(v)
			}
		}
		return nil, fmt.Errorf("list envelope without items or data")
	}
	return nil, fmt.Errorf("unexpected list payload starting with %q", b[0])
}
