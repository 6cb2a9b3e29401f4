package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/pkg/hub"
)

var errStale = errors.New("controller restarted or stopped")

// TokenProvider returns the bearer token for the next connection attempt.
type TokenProvider func() string

// StateFunc receives channel state transitions. It runs with the controller
// lock held and must not call back into the controller.
type StateFunc func(ch model.Channel, st model.ConnectionState)

type ControllerConfig struct {
	Channel     model.Channel
	Endpoint    hub.Endpoint
	JoinMethod  string
	JoinTimeout time.Duration
	Delays      []time.Duration
}

// Controller owns the lifecycle of one push channel: connect, reconnect on
// drops, join the owner group after every connect, and report state.
//
// Every run is tagged with a generation. Stop and Start bump it, and any
// result that arrives for an older generation is discarded.
type Controller struct {
	cfg     ControllerConfig
	dialer  hub.Dialer
	tokens  TokenProvider
	handler hub.Handler
	log     zerolog.Logger

	// held for reading while an event handler runs so Stop can wait them out
	dispatch sync.RWMutex

	mu      sync.Mutex
	gen     uint64
	state   model.ConnectionState
	scope   string
	conn    hub.Conn
	cancel  context.CancelFunc
	onState StateFunc
}

func NewController(cfg ControllerConfig, dialer hub.Dialer, tokens TokenProvider, handler hub.Handler, log zerolog.Logger) *Controller {
	if cfg.JoinMethod == "" {
		cfg.JoinMethod = "JoinOwnerGroup"
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if tokens == nil {
		tokens = func() string { return "" }
	}
	return &Controller{
		cfg:     cfg,
		dialer:  dialer,
		tokens:  tokens,
		handler: handler,
		log:     log.With().Str("channel", string(cfg.Channel)).Logger(),
		state:   model.StateDisconnected,
	}
}

func (c *Controller) Channel() model.Channel { return c.cfg.Channel }

func (c *Controller) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start connects in the background and returns immediately. A running
// controller is stopped first. scope is the owner to join, "" for none.
// Connection failures end in StateDisconnected and are never returned.
func (c *Controller) Start(scope string, onState StateFunc) {
	c.Stop()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.scope = scope
	c.onState = onState
	c.setStateLocked(model.StateConnecting)
	c.mu.Unlock()

	go c.run(ctx, gen)
}

// Stop closes the channel and cancels pending reconnects. It is idempotent.
// No state callback or event handler runs after Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(model.StateDisconnected)
	c.onState = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	// wait for in-flight handlers
	c.dispatch.Lock()
	c.dispatch.Unlock() //nolint:staticcheck
}

// JoinGroup records scope for future connects and, when connected, joins it
// now. A scope-required refusal disconnects the channel for good. Moving
// between unscoped and scoped drops the connection so it is dialed again.
func (c *Controller) JoinGroup(ctx context.Context, scope string) error {
	c.mu.Lock()
	prev := c.scope
	c.scope = scope
	gen, conn, state := c.gen, c.conn, c.state
	c.mu.Unlock()

	if conn == nil || state != model.StateConnected {
		return nil
	}
	if (prev == "") != (scope == "") {
		return conn.Close()
	}
	err := c.join(ctx, gen, conn)
	if hub.IsScopeRequired(err) {
		c.abandon(gen, conn)
	}
	return err
}

func (c *Controller) run(ctx context.Context, gen uint64) {
	conn, err := c.dial(ctx, gen)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("hub connect failed")
		}
		c.transition(gen, model.StateDisconnected)
		return
	}

	for {
		if !c.adopt(gen, conn) {
			_ = conn.Close()
			return
		}
		if !c.transition(gen, model.StateConnected) {
			return
		}
		c.log.Info().Msg("hub connected")

		if err := c.join(ctx, gen, conn); hub.IsScopeRequired(err) {
			c.log.Warn().Err(err).Msg("owner scope required, not reconnecting")
			c.abandon(gen, conn)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
		}
		if !c.transition(gen, model.StateReconnecting) {
			return
		}
		c.log.Warn().Err(conn.Err()).Msg("hub connection lost")

		conn, err = c.reconnect(ctx, gen)
		if err != nil {
			if hub.IsScopeRequired(err) {
				c.log.Warn().Err(err).Msg("owner scope required, not reconnecting")
			}
			c.transition(gen, model.StateDisconnected)
			return
		}
	}
}

func (c *Controller) dial(ctx context.Context, gen uint64) (hub.Conn, error) {
	c.mu.Lock()
	ep := c.cfg.Endpoint
	ep.Scoped = c.scope != ""
	c.mu.Unlock()
	return c.dialer.Dial(ctx, ep, c.tokens(), c.eventHandler(gen))
}

// reconnect retries on the configured schedule until a dial succeeds, the
// run is cancelled, or the generation moves on.
func (c *Controller) reconnect(ctx context.Context, gen uint64) (hub.Conn, error) {
	sched := NewReconnectSchedule(c.cfg.Delays)
	if d := sched.Initial(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var conn hub.Conn
	op := func() error {
		if !c.current(gen) {
			return backoff.Permanent(errStale)
		}
		hubReconnectAttempts.WithLabelValues(string(c.cfg.Channel)).Inc()
		cn, err := c.dial(ctx, gen)
		if hub.IsScopeRequired(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, d time.Duration) {
		c.log.Debug().Err(err).Dur("retry_in", d).Msg("hub reconnect failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(sched, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// join invokes the group join for the current scope. Only scope-required
// refusals are returned; other failures are logged and swallowed.
func (c *Controller) join(ctx context.Context, gen uint64, conn hub.Conn) error {
	c.mu.Lock()
	scope, ok := c.scope, gen == c.gen
	c.mu.Unlock()
	if !ok || scope == "" {
		return nil
	}

	jctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()
	err := conn.Invoke(jctx, c.cfg.JoinMethod, scope)
	if err == nil {
		c.log.Debug().Str("owner", scope).Msg("joined owner group")
		return nil
	}

	code := "unknown"
	var inv *hub.InvocationError
	if errors.As(err, &inv) && inv.Code() != "" {
		code = inv.Code()
	}
	hubJoinFailures.WithLabelValues(string(c.cfg.Channel), code).Inc()
	if hub.IsScopeRequired(err) {
		return err
	}
	c.log.Warn().Err(err).Str("owner", scope).Msg("owner group join failed")
	return nil
}

// abandon disconnects after a scope refusal without scheduling a retry.
func (c *Controller) abandon(gen uint64, conn hub.Conn) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conn = nil
	c.setStateLocked(model.StateDisconnected)
	c.gen++
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Controller) eventHandler(gen uint64) hub.Handler {
	return func(event string, args []json.RawMessage) {
		c.dispatch.RLock()
		defer c.dispatch.RUnlock()
		if c.handler == nil || !c.current(gen) {
			return
		}
		c.handler(event, args)
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Controller) adopt(gen uint64, conn hub.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.conn = conn
	return true
}

func (c *Controller) transition(gen uint64, st model.ConnectionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.setStateLocked(st)
	return true
}

func (c *Controller) setStateLocked(st model.ConnectionState) {
	if c.state == st {
		return
	}
	c.state = st
	recordConnectionState(c.cfg.Channel, st)
	if c.onState != nil {
		c.onState(c.cfg.Channel, st)
	}
}
