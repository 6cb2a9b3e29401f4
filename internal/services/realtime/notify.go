package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/pkg/dedup"
)

// Notification is what the user sees for a new alert.
type Notification struct {
	ID        string         `json:"id"`
	AlertID   string         `json:"alertId"`
	Severity  model.Severity `json:"severity"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Notifier is anything that can be told about a new alert.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) bool
}

// Resetter is implemented by notifiers that remember alerts per session.
type Resetter interface {
	Reset()
}

// Sink delivers notifications somewhere the user will see them.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// PermissionFunc asks whether notifications may be shown.
type PermissionFunc func(ctx context.Context) (bool, error)

// Preferences holds the user's notification toggle.
type Preferences struct {
	disabled atomic.Bool
}

func (p *Preferences) NotificationsEnabled() bool     { return !p.disabled.Load() }
func (p *Preferences) SetNotificationsEnabled(v bool) { p.disabled.Store(!v) }

// Gate turns new alerts into at most one notification each. It checks the
// user preference and a lazily requested permission, and never fails the caller.
type Gate struct {
	sink       Sink
	prefs      *Preferences
	permission PermissionFunc
	timeout    time.Duration
	delivered  *dedup.Deduper
	now        func() time.Time
	log        zerolog.Logger

	mu      sync.Mutex
	decided bool
	granted bool
}

type GateOption func(*Gate)

func WithPermission(p PermissionFunc) GateOption { return func(g *Gate) { g.permission = p } }
func WithDeliveryTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}
func WithDelivered(d *dedup.Deduper) GateOption { return func(g *Gate) { g.delivered = d } }
func WithGateLogger(l zerolog.Logger) GateOption { return func(g *Gate) { g.log = l } }

func NewGate(sink Sink, prefs *Preferences, opts ...GateOption) *Gate {
	if prefs == nil {
		prefs = &Preferences{}
	}
	g := &Gate{
		sink:      sink,
		prefs:     prefs,
		timeout:   5 * time.Second,
		delivered: dedup.New(24*time.Hour, 10000),
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Notify emits one notification for a, unless notifications are off, the
// permission is denied, or a was already delivered. It reports whether a
// notification was handed to the sink successfully.
func (g *Gate) Notify(ctx context.Context, a model.Alert) bool {
	if !g.prefs.NotificationsEnabled() {
		notifications.WithLabelValues("disabled").Inc()
		return false
	}
	if !g.allowed(ctx) {
		notifications.WithLabelValues("denied").Inc()
		return false
	}
	if a.ID != "" && !g.delivered.ShouldProcess(a.ID) {
		notifications.WithLabelValues("duplicate").Inc()
		return false
	}

	sev := a.Severity
	if sev == "" {
		sev = model.SeverityInfo
	}
	n := Notification{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		Severity:  sev,
		Title:     sev.Prefix() + " " + a.Title,
		Body:      a.Message,
		CreatedAt: g.now().UTC(),
	}

	dctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.sink.Deliver(dctx, n); err != nil {
		notifications.WithLabelValues("failed").Inc()
		g.log.Warn().Err(err).Str("alert_id", a.ID).Msg("notification delivery failed")
		return false
	}
	notifications.WithLabelValues("delivered").Inc()
	g.log.Info().Str("alert_id", a.ID).Str("severity", string(sev)).Msg("notification delivered")
	return true
}

// Reset forgets delivered ids so the next session notifies afresh.
func (g *Gate) Reset() { g.delivered.Reset() }

// allowed asks for permission once and caches the answer. Errors are not
// cached, so the next alert asks again.
func (g *Gate) allowed(ctx context.Context) bool {
	if g.permission == nil {
		return true
	}
	g.mu.Lock()
	if g.decided {
		granted := g.granted
		g.mu.Unlock()
		return granted
	}
	g.mu.Unlock()

	granted, err := g.permission(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("notification permission request failed")
		return false
	}
	g.mu.Lock()
	g.decided, g.granted = true, granted
	g.mu.Unlock()
	return granted
}
