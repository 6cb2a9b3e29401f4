package model

// Channel identifies one of the two push connections.
type Channel string

const (
	ChannelSensor Channel = "sensor"
	ChannelAlert  Channel = "alert"
)

// ConnectionState is the lifecycle state of one push channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Status is the single indicator shown to the user for the whole realtime layer.
type Status string

const (
	StatusLive         Status = "live"
	StatusReconnecting Status = "reconnecting"
	StatusFallback     Status = "fallback"
	StatusOffline      Status = "offline"
)

// DeriveStatus folds the two channel states and the poller activity into one Status.
func DeriveStatus(running bool, sensor, alert ConnectionState, polling bool) Status {
	switch {
	case !running:
		return StatusOffline
	case sensor == StateConnected && alert == StateConnected:
		return StatusLive
	case sensor == StateReconnecting || alert == StateReconnecting:
		return StatusReconnecting
	case polling:
		return StatusFallback
	default:
		return StatusOffline
	}
}
