package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebsocketDialer connects to hubs over websockets using the JSON hub protocol.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration // default 10s
	PingInterval     time.Duration // default 15s
	ServerTimeout    time.Duration // default 30s without any inbound message
	Log              zerolog.Logger
}

func NewWebsocketDialer(log zerolog.Logger) *WebsocketDialer {
	return &WebsocketDialer{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		ServerTimeout:    30 * time.Second,
		Log:              log,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, ep Endpoint, token string, h Handler) (Conn, error) {
	wsURL, err := websocketURL(ep.URL, token)
	if err != nil {
		return nil, err
	}
	handshakeTimeout := orDefault(d.HandshakeTimeout, 10*time.Second)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("hub dial %s (status %d): %w", ep.Name, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("hub dial %s: %w", ep.Name, err)
	}

	c := &wsConn{
		ws:            ws,
		handler:       h,
		events:        eventSet(ep.Events),
		pending:       make(map[string]chan frame),
		done:          make(chan struct{}),
		pingInterval:  orDefault(d.PingInterval, 15*time.Second),
		serverTimeout: orDefault(d.ServerTimeout, 30*time.Second),
		log:           d.Log.With().Str("hub", ep.Name).Logger(),
	}
	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.handshake(deadline); err != nil {
		_ = ws.Close()
		return nil, err
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	ws            *websocket.Conn
	handler       Handler
	events        map[string]struct{}
	pingInterval  time.Duration
	serverTimeout time.Duration
	log           zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	closing bool
	err     error
	once    sync.Once
	done    chan struct{}
}

func (c *wsConn) handshake(deadline time.Time) error {
	if err := c.write(handshakeRequest{Protocol: "json", Version: 1}); err != nil {
		return fmt.Errorf("hub handshake: %w", err)
	}
	_ = c.ws.SetReadDeadline(deadline)
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("hub handshake: %w", err)
	}
	records := splitRecords(data)
	if len(records) == 0 {
		return fmt.Errorf("%w: empty response", ErrHandshake)
	}
	var resp handshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshake, resp.Error)
	}
	for _, r := range records[1:] {
		c.dispatch(r)
	}
	return nil
}

func (c *wsConn) readLoop() {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.serverTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = ErrClosed
			}
			c.finish(err)
			return
		}
		for _, r := range splitRecords(data) {
			c.dispatch(r)
		}
	}
}

func (c *wsConn) dispatch(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Warn().Err(err).Msg("undecodable hub message")
		return
	}
	switch f.Type {
	case msgInvocation:
		if c.handler == nil || !c.wants(f.Target) {
			return
		}
		c.handler(f.Target, f.Arguments)
	case msgCompletion:
		c.mu.Lock()
		ch, ok := c.pending[f.InvocationID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
		}
	case msgClose:
		if f.Error != "" {
			c.finish(fmt.Errorf("hub closed by server: %s", f.Error))
		} else {
			c.finish(ErrClosed)
		}
	case msgPing, msgStreamItem:
	default:
		c.log.Debug().Int("type", int(f.Type)).Msg("ignored hub message")
	}
}

func (c *wsConn) wants(target string) bool {
	if len(c.events) == 0 {
		return true
	}
	_, ok := c.events[strings.ToLower(target)]
	return ok
}

func (c *wsConn) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.write(ping{Type: msgPing}); err != nil {
				c.finish(err)
				return
			}
		}
	}
}

func (c *wsConn) write(v any) error {
	b, err := encodeRecord(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Invoke(ctx context.Context, method string, args ...any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if args == nil {
		args = []any{}
	}
	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(invocation{Type: msgInvocation, InvocationID: id, Target: method, Arguments: args}); err != nil {
		return fmt.Errorf("hub invoke %s: %w", method, err)
	}
	select {
	case f := <-ch:
		if f.Error != "" {
			return &InvocationError{Method: method, Message: f.Error}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.finish(nil)
	return nil
}

func (c *wsConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		if c.closing {
			err = nil
		}
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
		if err != nil && !errors.Is(err, ErrClosed) {
			c.log.Debug().Err(err).Msg("hub connection ended")
		}
	})
}

// websocketURL turns an http(s) hub URL into a ws(s) one and appends the
// access token as a query parameter, which browsers and some proxies need.
func websocketURL(raw, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("hub url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hub url: unsupported scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func eventSet(events []string) map[string]struct{} {
	m := make(map[string]struct{}, len(events))
	for _, e := range events {
		m[strings.ToLower(e)] = struct{}{}
	}
	return m
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
