package entities

import "time"

// SensorReading is the latest measurement set reported by one field sensor.
type SensorReading struct {
	SensorID     string    `json:"sensorId"`
	Timestamp    time.Time `json:"timestamp"`
	Temperature  float64   `json:"temperature"`  // °C
	Humidity     float64   `json:"humidity"`     // %
	SoilMoisture float64   `json:"soilMoisture"` // %
	Rainfall     float64   `json:"rainfall"`     // mm
	PlotID       string    `json:"plotId,omitempty"`
	PlotName     string    `json:"plotName,omitempty"`
	SensorLabel  string    `json:"sensorLabel,omitempty"`
}

// NewerThan reports whether r was taken after o.
func (r SensorReading) NewerThan(o SensorReading) bool {
	return r.Timestamp.After(o.Timestamp)
}
