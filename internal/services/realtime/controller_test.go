package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/pkg/hub"
)

var fastDelays = []time.Duration{0, 5 * time.Millisecond, 10 * time.Millisecond}

func newTestController(d *fakeDialer, handler hub.Handler) *Controller {
	return NewController(ControllerConfig{
		Channel:  model.ChannelSensor,
		Endpoint: hub.Endpoint{URL: "http://hub.test/dashboard/sensorshub", Name: "sensorshub"},
		Delays:   fastDelays,
	}, d, func() string { return "tok" }, handler, zerolog.Nop())
}

func waitState(t *testing.T, c *Controller, want model.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick, "state never became %s", want)
}

func TestControllerConnectsAndJoinsOwnerGroup(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)
	log := &stateLog{}

	c.Start("owner-1", log.record)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	conn := d.last("sensorshub")
	require.NotNil(t, conn)
	require.Eventually(t, func() bool { return len(conn.invocations()) == 1 }, waitFor, tick)
	inv := conn.invocations()[0]
	assert.Equal(t, "JoinOwnerGroup", inv.method)
	assert.Equal(t, []any{"owner-1"}, inv.args)
	assert.Equal(t, []model.ConnectionState{model.StateConnecting, model.StateConnected}, log.all())
	assert.Equal(t, []string{"tok"}, d.tokensSeen())
}

func TestControllerUnscopedSkipsJoin(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)

	c.Start("", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, d.last("sensorshub").invocations())
}

func TestControllerScopeRequiredDisconnectsWithoutRetry(t *testing.T) {
	d := newFakeDialer()
	d.invokeErr = &hub.InvocationError{
		Method:  "JoinOwnerGroup",
		Message: "An unexpected error occurred invoking 'JoinOwnerGroup' on the server. HubException: OWNER_SCOPE_REQUIRED: owner scope is required",
	}
	c := newTestController(d, nil)
	log := &stateLog{}

	c.Start("owner-1", log.record)
	defer c.Stop()

	require.Eventually(t, func() bool {
		states := log.all()
		return len(states) > 0 && states[len(states)-1] == model.StateDisconnected
	}, waitFor, tick)
	assert.Equal(t, model.StateDisconnected, c.State())

	conn := d.last("sensorshub")
	require.Eventually(t, conn.isClosed, waitFor, tick)

	// nothing is scheduled: the dial count stays at one
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, model.StateDisconnected, c.State())
	assert.NotContains(t, log.all(), model.StateReconnecting)
}

func TestControllerOtherJoinFailureIsSwallowed(t *testing.T) {
	d := newFakeDialer()
	d.invokeErr = &hub.InvocationError{Method: "JoinOwnerGroup", Message: "something else broke"}
	c := newTestController(d, nil)

	c.Start("owner-1", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	conn := d.last("sensorshub")
	require.Eventually(t, func() bool { return len(conn.invocations()) == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, model.StateConnected, c.State())
	assert.False(t, conn.isClosed())
}

func TestControllerReconnectsAndRejoinsAfterDrop(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)
	log := &stateLog{}

	c.Start("owner-1", log.record)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	first := d.last("sensorshub")
	first.drop()

	require.Eventually(t, func() bool { return len(d.connsFor("sensorshub")) == 2 }, waitFor, tick)
	waitState(t, c, model.StateConnected)

	second := d.last("sensorshub")
	require.Eventually(t, func() bool { return len(second.invocations()) == 1 }, waitFor, tick)
	assert.Equal(t, []any{"owner-1"}, second.invocations()[0].args)
	assert.Equal(t, []model.ConnectionState{
		model.StateConnecting, model.StateConnected, model.StateReconnecting, model.StateConnected,
	}, log.all())
}

func TestControllerReconnectRetriesFailedDials(t *testing.T) {
	d := newFakeDialer()
	boom := errors.New("refused")
	d.failures = []error{nil, boom, boom}
	c := newTestController(d, nil)

	c.Start("owner-1", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	d.last("sensorshub").drop()
	require.Eventually(t, func() bool { return d.dialCount() == 4 }, waitFor, tick)
	waitState(t, c, model.StateConnected)
	assert.Len(t, d.connsFor("sensorshub"), 2)
}

func TestControllerInitialDialFailureEndsDisconnected(t *testing.T) {
	d := newFakeDialer()
	d.failures = []error{errors.New("no route to host")}
	c := newTestController(d, nil)
	log := &stateLog{}

	c.Start("owner-1", log.record)
	defer c.Stop()

	require.Eventually(t, func() bool { return len(log.all()) == 2 }, waitFor, tick)
	assert.Equal(t, []model.ConnectionState{model.StateConnecting, model.StateDisconnected}, log.all())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestControllerStopDuringDialKeepsDisconnected(t *testing.T) {
	d := newFakeDialer()
	d.block = make(chan struct{})
	c := newTestController(d, nil)
	log := &stateLog{}

	c.Start("owner-1", log.record)
	c.Stop()
	assert.Equal(t, model.StateDisconnected, c.State())
	before := log.all()

	// the in-flight dial resolves after Stop
	close(d.block)
	require.Eventually(t, func() bool {
		conn := d.last("sensorshub")
		return conn != nil && conn.isClosed()
	}, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, model.StateDisconnected, c.State())
	assert.Equal(t, before, log.all())
	assert.Empty(t, d.last("sensorshub").invocations())
}

func TestControllerStopIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)

	c.Stop()
	c.Start("owner-1", nil)
	waitState(t, c, model.StateConnected)
	c.Stop()
	c.Stop()

	assert.Equal(t, model.StateDisconnected, c.State())
	assert.True(t, d.last("sensorshub").isClosed())
}

func TestControllerDropsEventsAfterStop(t *testing.T) {
	d := newFakeDialer()
	var got []string
	c := newTestController(d, func(event string, _ []json.RawMessage) { got = append(got, event) })

	c.Start("owner-1", nil)
	waitState(t, c, model.StateConnected)
	conn := d.last("sensorshub")

	conn.emit("sensorReading", map[string]any{"sensorId": "S1"})
	c.Stop()
	conn.emit("sensorReading", map[string]any{"sensorId": "S2"})

	assert.Equal(t, []string{"sensorReading"}, got)
}

func TestControllerRestartUsesFreshToken(t *testing.T) {
	d := newFakeDialer()
	token := "first"
	c := NewController(ControllerConfig{
		Channel:  model.ChannelAlert,
		Endpoint: hub.Endpoint{Name: "alertshub"},
		Delays:   fastDelays,
	}, d, func() string { return token }, nil, zerolog.Nop())

	c.Start("", nil)
	waitState(t, c, model.StateConnected)
	c.Stop()

	token = "second"
	c.Start("", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	assert.Equal(t, []string{"first", "second"}, d.tokensSeen())
}

func TestControllerJoinGroupSwitchesScope(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)

	c.Start("owner-1", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)
	conn := d.last("sensorshub")
	require.Eventually(t, func() bool { return len(conn.invocations()) == 1 }, waitFor, tick)

	require.NoError(t, c.JoinGroup(context.Background(), "owner-2"))
	calls := conn.invocations()
	require.Len(t, calls, 2)
	assert.Equal(t, []any{"owner-2"}, calls[1].args)
}

func TestControllerDialMarksScopedEndpoint(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)

	c.Start("owner-1", nil)
	waitState(t, c, model.StateConnected)
	c.Start("", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	eps := d.endpointsSeen()
	require.Len(t, eps, 2)
	assert.True(t, eps[0].Scoped)
	assert.False(t, eps[1].Scoped)
}

func TestControllerScopeRefusedOnRedialStopsRetrying(t *testing.T) {
	d := newFakeDialer()
	d.failures = []error{nil, &hub.InvocationError{Method: "subscribe", Message: "OWNER_SCOPE_REQUIRED: subscription refused"}}
	c := newTestController(d, nil)
	log := &stateLog{}

	c.Start("", log.record)
	defer c.Stop()
	waitState(t, c, model.StateConnected)

	d.last("sensorshub").drop()
	waitState(t, c, model.StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, []model.ConnectionState{
		model.StateConnecting, model.StateConnected, model.StateReconnecting, model.StateDisconnected,
	}, log.all())
}

func TestControllerJoinGroupFromUnscopedRedials(t *testing.T) {
	d := newFakeDialer()
	c := newTestController(d, nil)

	c.Start("", nil)
	defer c.Stop()
	waitState(t, c, model.StateConnected)
	first := d.last("sensorshub")

	require.NoError(t, c.JoinGroup(context.Background(), "owner-2"))
	assert.True(t, first.isClosed())
	assert.Empty(t, first.invocations())

	require.Eventually(t, func() bool { return len(d.connsFor("sensorshub")) == 2 }, waitFor, tick)
	second := d.last("sensorshub")
	require.Eventually(t, func() bool { return len(second.invocations()) == 1 }, waitFor, tick)
	assert.Equal(t, []any{"owner-2"}, second.invocations()[0].args)
	assert.True(t, d.endpointsSeen()[1].Scoped)
}

func TestReconnectScheduleCyclesAtMax(t *testing.T) {
	s := NewReconnectSchedule(nil)
	assert.Equal(t, time.Duration(0), s.Initial())

	var got []time.Duration
	for range 6 {
		got = append(got, s.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	s.Reset()
	assert.Equal(t, 2*time.Second, s.NextBackOff())
}
