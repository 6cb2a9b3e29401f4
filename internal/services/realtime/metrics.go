package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
)

var (
	hubConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "farmsync_hub_connection_state",
			Help: "1 for the current state of each push channel, 0 otherwise",
		},
		[]string{"channel", "state"},
	)

	hubReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsync_hub_reconnect_attempts_total",
			Help: "Reconnect attempts per push channel",
		},
		[]string{"channel"},
	)

	hubJoinFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsync_hub_join_failures_total",
			Help: "Failed owner group joins by error code",
		},
		[]string{"channel", "code"},
	)

	hubEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsync_hub_events_total",
			Help: "Events received over the push channels",
		},
		[]string{"event"},
	)

	pollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsync_poll_cycles_total",
			Help: "Fallback poll cycles by outcome (seeded, merged, failed)",
		},
		[]string{"result"},
	)

	pollActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farmsync_poll_active",
			Help: "1 while the fallback poller is running",
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmsync_notifications_total",
			Help: "Alert notifications by outcome",
		},
		[]string{"result"},
	)
)

var connectionStates = []model.ConnectionState{
	model.StateDisconnected, model.StateConnecting, model.StateConnected, model.StateReconnecting,
}

func recordConnectionState(ch model.Channel, st model.ConnectionState) {
	for _, s := range connectionStates {
		v := 0.0
		if s == st {
			v = 1
		}
		hubConnectionState.WithLabelValues(string(ch), string(s)).Set(v)
	}
}

// RegisterStoreGauges exposes the store sizes on reg.
func RegisterStoreGauges(reg prometheus.Registerer, s *Store) error {
	readings := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "farmsync_store_readings",
		Help: "Sensors with a reading in the realtime store",
	}, func() float64 { return float64(len(s.Readings())) })
	alerts := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "farmsync_store_alerts",
		Help: "Alerts in the realtime store",
	}, func() float64 { return float64(len(s.Alerts())) })
	for _, c := range []prometheus.Collector{readings, alerts} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
