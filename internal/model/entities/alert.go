package entities

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ParseSeverity maps free-form severity text to a Severity; unknown values are info.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit", "high":
		return SeverityCritical
	case "warning", "warn", "medium":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Prefix is the tag put in front of a notification title.
func (s Severity) Prefix() string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

type AlertStatus string

const (
	AlertPending      AlertStatus = "Pending"
	AlertAcknowledged AlertStatus = "Acknowledged"
	AlertResolved     AlertStatus = "Resolved"
)

func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "new", "open":
		return AlertPending, true
	case "acknowledged", "ack":
		return AlertAcknowledged, true
	case "resolved", "closed":
		return AlertResolved, true
	}
	return "", false
}

// Alert is a threshold or device event raised by the backend.
type Alert struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Message    string      `json:"message"`
	Severity   Severity    `json:"severity"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
}

// Merge copies the non-zero fields of patch onto a. The id never changes.
func (a Alert) Merge(patch Alert) Alert {
	if patch.Title != "" {
		a.Title = patch.Title
	}
	if patch.Message != "" {
		a.Message = patch.Message
	}
	if patch.Severity != "" {
		a.Severity = patch.Severity
	}
	if patch.Status != "" {
		a.Status = patch.Status
	}
	if !patch.CreatedAt.IsZero() {
		a.CreatedAt = patch.CreatedAt
	}
	if patch.ResolvedAt != nil {
		t := *patch.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}
