// Package hub is a minimal client for server-push hubs. A hub connection
// delivers named events and accepts remote invocations. Two transports are
// provided: a websocket speaking the hub JSON protocol and an MQTT bridge.
package hub

import (
	"context"

	"github.com/goccy/go-json"
)

// Handler receives a server event. args are the raw JSON arguments.
// It is called from the connection's read goroutine and must not block for long.
type Handler func(event string, args []json.RawMessage)

// Endpoint describes one hub.
type Endpoint struct {
	// URL is the hub address, for example https://api.example.com/dashboard/sensorshub.
	URL string
	// Name is the short hub name, used by transports that route by topic.
	Name string
	// Events lists the events the caller wants delivered.
	Events []string
	// Scoped is set when the caller will join an owner group after connecting.
	// Unscoped connections receive every owner's events.
	Scoped bool
}

// Conn is an open hub connection.
type Conn interface {
	// Invoke calls a hub method and waits for its completion.
	Invoke(ctx context.Context, method string, args ...any) error
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
	// Err reports why the connection ended; nil while it is open or after Close.
	Err() error
	Close() error
}

// Dialer opens hub connections. token is the bearer credential for this attempt.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, token string, h Handler) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep Endpoint, token string, h Handler) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint, token string, h Handler) (Conn, error) {
	return f(ctx, ep, token, h)
}
