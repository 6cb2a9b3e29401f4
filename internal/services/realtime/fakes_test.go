package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/pkg/hub"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type call struct {
	method string
	args   []any
}

// fakeConn is a hub.Conn driven by the test.
type fakeConn struct {
	handler hub.Handler
	done    chan struct{}

	mu        sync.Mutex
	invokeErr error
	calls     []call
	err       error
	closed    bool
}

func newFakeConn(h hub.Handler) *fakeConn {
	return &fakeConn{handler: h, done: make(chan struct{})}
}

func (c *fakeConn) Invoke(_ context.Context, method string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{method: method, args: args})
	return c.invokeErr
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// drop ends the connection as if the server went away.
func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.err = errors.New("connection reset")
		close(c.done)
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) invocations() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func (c *fakeConn) emit(event string, payload any) {
	raw, _ := json.Marshal(payload)
	c.handler(event, []json.RawMessage{raw})
}

// fakeDialer hands out fakeConns. failures holds the error for each dial in
// order; dials past the end succeed. refuse fails every dial to a hub name.
type fakeDialer struct {
	mu        sync.Mutex
	failures  []error
	refuse    map[string]error
	invokeErr error
	block     chan struct{}
	dials     int
	tokens    []string
	endpoints []hub.Endpoint
	conns     map[string][]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string][]*fakeConn), refuse: make(map[string]error)}
}

func (d *fakeDialer) Dial(_ context.Context, ep hub.Endpoint, token string, h hub.Handler) (hub.Conn, error) {
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.dials
	d.dials++
	d.tokens = append(d.tokens, token)
	d.endpoints = append(d.endpoints, ep)
	if err := d.refuse[ep.Name]; err != nil {
		return nil, err
	}
	if n < len(d.failures) && d.failures[n] != nil {
		return nil, d.failures[n]
	}
	c := newFakeConn(h)
	c.invokeErr = d.invokeErr
	d.conns[ep.Name] = append(d.conns[ep.Name], c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) tokensSeen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) endpointsSeen() []hub.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hub.Endpoint(nil), d.endpoints...)
}

func (d *fakeDialer) connsFor(name string) []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns[name]...)
}

func (d *fakeDialer) last(name string) *fakeConn {
	cs := d.connsFor(name)
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// stateLog records state callbacks.
type stateLog struct {
	mu     sync.Mutex
	states []model.ConnectionState
}

func (l *stateLog) record(_ model.Channel, st model.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, st)
}

func (l *stateLog) all() []model.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ConnectionState(nil), l.states...)
}

// fakeSource serves one scripted poll result per cycle and repeats the last.
// Readings and alerts keep separate counters since a cycle fetches both at once.
type fakeSource struct {
	mu           sync.Mutex
	cycles       []pollResult
	readingCalls int
	alertCalls   int
	owners       []string
}

type pollResult struct {
	readings   []model.SensorReading
	alerts     []model.Alert
	readingErr error
	alertErr   error
}

func (s *fakeSource) at(i int) pollResult {
	if len(s.cycles) == 0 {
		return pollResult{}
	}
	if i >= len(s.cycles) {
		i = len(s.cycles) - 1
	}
	return s.cycles[i]
}

func (s *fakeSource) LatestReadings(_ context.Context, owner string) ([]model.SensorReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.at(s.readingCalls)
	s.readingCalls++
	s.owners = append(s.owners, owner)
	return r.readings, r.readingErr
}

func (s *fakeSource) PendingAlerts(_ context.Context, _ string) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.at(s.alertCalls)
	s.alertCalls++
	return r.alerts, r.alertErr
}

func (s *fakeSource) cycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return min(s.readingCalls, s.alertCalls)
}

func (s *fakeSource) ownersSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.owners...)
}

// recordingNotifier remembers every alert it was asked to notify.
type recordingNotifier struct {
	mu     sync.Mutex
	ids    []string
	resets int
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets++
}

func (n *recordingNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resets
}

func (n *recordingNotifier) Notify(_ context.Context, a model.Alert) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, a.ID)
	return true
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

func alert(id string, created time.Time) model.Alert {
	return model.Alert{
		ID:        id,
		Title:     "alert " + id,
		Severity:  model.SeverityWarning,
		Status:    model.AlertPending,
		CreatedAt: created,
	}
}

func reading(id string, ts time.Time, temp float64) model.SensorReading {
	return model.SensorReading{SensorID: id, Timestamp: ts, Temperature: temp}
}
