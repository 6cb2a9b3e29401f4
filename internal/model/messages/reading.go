package messages

import (
	"errors"

	"github.com/LeonardoBeccarini/farmsync/internal/model/entities"
)

var ErrMissingSensorID = errors.New("reading without sensor id")

// Reading decodes a sensor reading from the hub or the REST API.
type Reading entities.SensorReading

func (r *Reading) UnmarshalJSON(b []byte) error {
	f, err := decodeFields(b)
	if err != nil {
		return err
	}
	*r = Reading{
		SensorID:     f.str("sensorid", "id", "deviceid"),
		Temperature:  f.float("temperature", "temp"),
		Humidity:     f.float("humidity"),
		SoilMoisture: f.float("soilmoisture", "moisture"),
		Rainfall:     f.float("rainfall", "rain"),
		PlotID:       f.str("plotid", "fieldid"),
		PlotName:     f.str("plotname", "fieldname"),
		SensorLabel:  f.str("sensorlabel", "label", "sensorname"),
	}
	if t, ok := f.time("timestamp", "time", "recordedat", "createdat"); ok {
		r.Timestamp = t
	}
	if r.SensorID == "" {
		return ErrMissingSensorID
	}
	return nil
}

// DecodeReading decodes a single reading payload.
func DecodeReading(b []byte) (entities.SensorReading, error) {
	var r Reading
	if err := r.UnmarshalJSON(b); err != nil {
		return entities.SensorReading{}, err
	}
	return entities.SensorReading(r), nil
}

// DecodeReadings decodes a reading list, skipping entries that lack a sensor id.
func DecodeReadings(b []byte) ([]entities.SensorReading, error) {
	items, err := unwrapList(b)
	if err != nil {
		return nil, err
	}
	out := make([]entities.SensorReading, 0, len(items))
	for _, it := range items {
		r, err := DecodeReading(it)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
