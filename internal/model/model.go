package model

import (
	"github.com/LeonardoBeccarini/farmsync/internal/model/entities"
)

// Aliases so services can depend on model alone.

type (
	SensorReading = entities.SensorReading
	Alert         = entities.Alert
	Severity      = entities.Severity
	AlertStatus   = entities.AlertStatus
)

const (
	SeverityCritical = entities.SeverityCritical
	SeverityWarning  = entities.SeverityWarning
	SeverityInfo     = entities.SeverityInfo

	AlertPending      = entities.AlertPending
	AlertAcknowledged = entities.AlertAcknowledged
	AlertResolved     = entities.AlertResolved
)

// Source tags where a reading came from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Sources lists every feed, in the order the store resolves ties.
var Sources = []Source{SourcePush, SourcePoll}
