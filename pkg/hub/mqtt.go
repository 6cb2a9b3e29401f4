package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure byte = 0x80

// broadcastGroup receives events for unscoped sessions.
const broadcastGroup = "all"

// subackResult is implemented by paho subscribe tokens.
type subackResult interface {
	Result() map[string]byte
}

// MQTTDialer bridges hubs onto an MQTT broker. Events for a hub arrive on
// {prefix}/{hub}/{group}/{event}; joining an owner group subscribes to that
// owner's group. The bearer token is sent as the MQTT password.
//
// Only unscoped endpoints subscribe to the broadcast group at dial time; a
// scoped connection sees nothing until its owner group is joined.
//
// Reconnection is left to the caller: the client has auto-reconnect off and
// the connection ends on the first loss.
type MQTTDialer struct {
	cfg       MQTTConfig
	log       zerolog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTDialer(cfg MQTTConfig, log zerolog.Logger) *MQTTDialer {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "farmsync"
	}
	if cfg.JoinMethod == "" {
		cfg.JoinMethod = "JoinOwnerGroup"
	}
	return &MQTTDialer{cfg: cfg, log: log, newClient: mqtt.NewClient}
}

func (d *MQTTDialer) Dial(ctx context.Context, ep Endpoint, token string, h Handler) (Conn, error) {
	name := ep.Name
	if name == "" {
		name = hubName(ep.URL)
	}
	c := &mqttConn{
		cfg:     d.cfg,
		hub:     name,
		handler: h,
		events:  eventSet(ep.Events),
		done:    make(chan struct{}),
		log:     d.log.With().Str("hub", name).Logger(),
	}

	clientID := fmt.Sprintf("%s-%s-%s", d.cfg.ClientID, name, uuid.NewString()[:8])
	opts := d.cfg.clientOptions(strings.TrimLeft(clientID, "-"), token)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if err == nil {
			err = ErrClosed
		}
		c.finish(err)
	})
	c.client = d.newClient(opts)
	if err := waitToken(ctx, c.client.Connect()); err != nil {
		return nil, fmt.Errorf("hub dial %s: %w", name, err)
	}
	if !ep.Scoped {
		if err := c.subscribe(ctx, "subscribe", broadcastGroup); err != nil {
			c.client.Disconnect(250)
			return nil, err
		}
	}
	return c, nil
}

type mqttConn struct {
	cfg     MQTTConfig
	hub     string
	client  mqtt.Client
	handler Handler
	events  map[string]struct{}
	log     zerolog.Logger

	mu   sync.Mutex
	err  error
	once sync.Once
	done chan struct{}
}

func (c *mqttConn) topic(parts ...string) string {
	return strings.Join(append([]string{c.cfg.TopicPrefix, c.hub}, parts...), "/")
}

func (c *mqttConn) subscribe(ctx context.Context, method, group string) error {
	filter := c.topic(group, "+")
	tok := c.client.Subscribe(filter, c.cfg.QoS, c.onMessage)
	if err := waitToken(ctx, tok); err != nil {
		return fmt.Errorf("hub %s subscribe %s: %w", c.hub, filter, err)
	}
	if st, ok := tok.(subackResult); ok {
		if code, ok := st.Result()[filter]; ok && code == subackFailure {
			return &InvocationError{Method: method, Message: CodeScopeRequired + ": subscription to " + filter + " refused"}
		}
	}
	return nil
}

func (c *mqttConn) onMessage(_ mqtt.Client, m mqtt.Message) {
	topic := m.Topic()
	event := topic[strings.LastIndex(topic, "/")+1:]
	if c.handler == nil || !c.wants(event) {
		return
	}
	payload := append([]byte(nil), m.Payload()...)
	c.handler(event, []json.RawMessage{payload})
}

func (c *mqttConn) wants(event string) bool {
	if len(c.events) == 0 {
		return true
	}
	_, ok := c.events[strings.ToLower(event)]
	return ok
}

// Invoke maps the join method onto a group subscription and publishes any
// other method to {prefix}/{hub}/invoke/{method}.
func (c *mqttConn) Invoke(ctx context.Context, method string, args ...any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if method == c.cfg.JoinMethod {
		owner := ""
		if len(args) > 0 {
			owner = strings.TrimSpace(fmt.Sprint(args[0]))
		}
		if owner == "" || strings.ContainsAny(owner, "/+#") {
			return &InvocationError{Method: method, Message: CodeScopeRequired + ": invalid owner id"}
		}
		return c.subscribe(ctx, method, "owner-"+owner)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("hub invoke %s: %w", method, err)
	}
	if err := waitToken(ctx, c.client.Publish(c.topic("invoke", method), c.cfg.QoS, false, b)); err != nil {
		return fmt.Errorf("hub invoke %s: %w", method, err)
	}
	return nil
}

func (c *mqttConn) Done() <-chan struct{} { return c.done }

func (c *mqttConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *mqttConn) Close() error {
	c.finish(nil)
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}

func (c *mqttConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		if err != nil && !errors.Is(err, ErrClosed) {
			c.log.Debug().Err(err).Msg("mqtt hub connection lost")
		}
	})
}

// hubName derives a hub name from the last path segment of a hub URL.
func hubName(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
