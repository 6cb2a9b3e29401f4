package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/internal/model/messages"
	"github.com/LeonardoBeccarini/farmsync/pkg/dedup"
	"github.com/LeonardoBeccarini/farmsync/pkg/hub"
)

type SessionConfig struct {
	SensorHubURL  string
	AlertHubURL   string
	JoinMethod    string
	JoinTimeout   time.Duration
	Delays        []time.Duration
	PollInterval  time.Duration
	AlertCapacity int
}

// Session wires the store, both push channels, the poller and the gate, and
// starts or stops them as auth and owner selection change.
type Session struct {
	store    *Store
	resolver *ScopeResolver
	notifier Notifier
	seen     *dedup.Deduper
	sensor   *Controller
	alert    *Controller
	poller   *Poller
	log      zerolog.Logger

	baseCtx context.Context
	closeFn context.CancelFunc

	mu        sync.Mutex
	running   bool
	auth      AuthState
	selection string
	scope     OwnerScope

	statusMu sync.Mutex
	active   bool
	owner    string
	token    string
	states   map[model.Channel]model.ConnectionState
}

func NewSession(cfg SessionConfig, dialer hub.Dialer, source Source, notifier Notifier, resolver *ScopeResolver, log zerolog.Logger) *Session {
	store := NewStore(cfg.AlertCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		seen:     dedup.New(0, 10000),
		log:      log,
		baseCtx:  ctx,
		closeFn:  cancel,
		states: map[model.Channel]model.ConnectionState{
			model.ChannelSensor: model.StateDisconnected,
			model.ChannelAlert:  model.StateDisconnected,
		},
	}

	s.sensor = NewController(ControllerConfig{
		Channel:     model.ChannelSensor,
		Endpoint:    hub.Endpoint{URL: cfg.SensorHubURL, Name: "sensorshub", Events: messages.SensorEvents},
		JoinMethod:  cfg.JoinMethod,
		JoinTimeout: cfg.JoinTimeout,
		Delays:      cfg.Delays,
	}, dialer, s.currentToken, s.handleSensorEvent, log.With().Str("component", "hub-sensor").Logger())

	s.alert = NewController(ControllerConfig{
		Channel:     model.ChannelAlert,
		Endpoint:    hub.Endpoint{URL: cfg.AlertHubURL, Name: "alertshub", Events: messages.AlertEvents},
		JoinMethod:  cfg.JoinMethod,
		JoinTimeout: cfg.JoinTimeout,
		Delays:      cfg.Delays,
	}, dialer, s.currentToken, s.handleAlertEvent, log.With().Str("component", "hub-alert").Logger())

	s.poller = NewPoller(source, store, notifier, cfg.PollInterval, log.With().Str("component", "poller").Logger())
	s.poller.OnKnown(s.seen.Seed)
	return s
}

func (s *Session) Store() *Store { return s.store }

// Reconcile brings the running components in line with auth and the owner
// selection. Logout, a new token, a different user or a different scope tear
// the running session down (store cleared) before anything new starts.
func (s *Session) Reconcile(auth AuthState, selection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(auth, selection)
}

func (s *Session) reconcileLocked(auth AuthState, selection string) {
	scope := s.resolver.Resolve(auth, selection)
	shouldRun := auth.Authenticated() && !scope.Pending

	if s.running && (!shouldRun || auth.Token != s.auth.Token || auth.UserID != s.auth.UserID || scope != s.scope) {
		s.stopLocked()
	}
	s.auth, s.selection, s.scope = auth, selection, scope

	if shouldRun && !s.running {
		s.startLocked()
	}
	if scope.Pending && auth.Authenticated() {
		s.log.Info().Str("user", auth.UserID).Msg("owner scope pending, realtime paused")
	}
}

// Select changes the owner selection for the current user.
func (s *Session) Select(selection string) OwnerScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(s.auth, selection)
	return s.scope
}

// UpdateAuth reconciles a new auth state against the current selection.
func (s *Session) UpdateAuth(auth AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(auth, s.selection)
}

// Close stops everything and clears the store.
func (s *Session) Close() {
	s.mu.Lock()
	if s.running {
		s.stopLocked()
	}
	s.auth, s.selection, s.scope = AuthState{}, "", OwnerScope{}
	s.mu.Unlock()
	s.closeFn()
}

func (s *Session) startLocked() {
	s.seen.Reset()

	s.statusMu.Lock()
	s.active = true
	s.owner = s.scope.OwnerID
	s.token = s.auth.Token
	s.statusMu.Unlock()

	s.running = true
	s.log.Info().Str("user", s.auth.UserID).Str("owner", s.scope.OwnerID).Msg("realtime session started")

	s.sensor.Start(s.scope.OwnerID, s.onState)
	s.alert.Start(s.scope.OwnerID, s.onState)
}

func (s *Session) stopLocked() {
	s.statusMu.Lock()
	s.active = false
	s.statusMu.Unlock()

	s.sensor.Stop()
	s.alert.Stop()
	s.poller.Deactivate()
	s.store.Clear()
	s.seen.Reset()
	if r, ok := s.notifier.(Resetter); ok {
		r.Reset()
	}

	s.running = false
	s.log.Info().Str("user", s.auth.UserID).Msg("realtime session stopped")
}

// onState runs under the controller lock; it only touches status and the poller.
func (s *Session) onState(ch model.Channel, st model.ConnectionState) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.states[ch] = st
	s.log.Debug().Str("channel", string(ch)).Str("state", string(st)).Msg("channel state")

	pushUp := s.states[model.ChannelSensor] == model.StateConnected && s.states[model.ChannelAlert] == model.StateConnected
	if s.active && !pushUp {
		s.poller.Activate(s.owner)
	} else {
		s.poller.Deactivate()
	}
}

func (s *Session) currentToken() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.token
}

// StatusReport describes the realtime layer for health checks and the UI.
type StatusReport struct {
	Status       model.Status          `json:"status"`
	Sensor       model.ConnectionState `json:"sensor"`
	Alert        model.ConnectionState `json:"alert"`
	Polling      bool                  `json:"polling"`
	Owner        string                `json:"owner,omitempty"`
	ScopePending bool                  `json:"scopePending"`
}

func (s *Session) Status() StatusReport {
	s.mu.Lock()
	pending := s.scope.Pending && s.auth.Authenticated()
	s.mu.Unlock()

	polling := s.poller.Active()
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	sensor, alert := s.states[model.ChannelSensor], s.states[model.ChannelAlert]
	return StatusReport{
		Status:       model.DeriveStatus(s.active, sensor, alert, polling),
		Sensor:       sensor,
		Alert:        alert,
		Polling:      polling,
		Owner:        s.owner,
		ScopePending: pending,
	}
}
