package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/farmsync/internal/config"
	"github.com/LeonardoBeccarini/farmsync/internal/logging"
	"github.com/LeonardoBeccarini/farmsync/internal/services/realtime"
	"github.com/LeonardoBeccarini/farmsync/internal/services/realtime/api"
	"github.com/LeonardoBeccarini/farmsync/pkg/dedup"
	"github.com/LeonardoBeccarini/farmsync/pkg/hub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.Component("realtime")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Auth ===
	tokens := realtime.NewTokenSource(cfg.Auth.Token, cfg.Auth.TokenFile)
	if _, err := tokens.Refresh(); err != nil {
		log.Warn().Err(err).Msg("token file not readable yet")
	}
	resolver := realtime.NewScopeResolver(cfg.Auth.PrivilegedRoles)

	// === MQTT (transport and/or notification sink) ===
	mqttCfg := hub.MQTTConfig{
		Broker:      cfg.Hub.MQTT.Broker,
		ClientID:    cfg.Hub.MQTT.ClientID,
		Username:    cfg.Hub.MQTT.Username,
		Password:    cfg.Hub.MQTT.Password,
		TopicPrefix: cfg.Hub.MQTT.TopicPrefix,
		QoS:         byte(cfg.Hub.MQTT.QoS),
		JoinMethod:  cfg.Hub.JoinMethod,
	}

	var dialer hub.Dialer
	switch cfg.Hub.Transport {
	case config.TransportMQTT:
		dialer = hub.NewMQTTDialer(mqttCfg, logging.Component("hub-mqtt"))
	default:
		dialer = hub.NewWebsocketDialer(logging.Component("hub-ws"))
	}

	// === Notifications ===
	sinks := realtime.MultiSink{realtime.LogSink{Log: logging.Component("notify")}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, realtime.NewWebhookSink(resty.New().SetTimeout(cfg.Notify.Timeout), cfg.Notify.WebhookURL))
	}
	if cfg.Notify.MQTTTopic != "" {
		client, err := hub.ConnectMQTT(ctx, mqttCfg, cfg.Hub.MQTT.ClientID+"-notify", logging.Component("notify-mqtt"))
		if err != nil {
			log.Error().Err(err).Msg("mqtt notification sink disabled")
		} else {
			defer client.Disconnect(250)
			sinks = append(sinks, realtime.NewMQTTSink(hub.NewPublisher(client, cfg.Notify.MQTTTopic, mqttCfg.QoS)))
		}
	}
	prefs := &realtime.Preferences{}
	prefs.SetNotificationsEnabled(cfg.Notify.Enabled)
	permitted := cfg.Notify.Permission
	gate := realtime.NewGate(sinks, prefs,
		realtime.WithPermission(func(context.Context) (bool, error) { return permitted, nil }),
		realtime.WithDeliveryTimeout(cfg.Notify.Timeout),
		realtime.WithDelivered(dedup.New(cfg.Notify.DeliveredTTL, 10000)),
		realtime.WithGateLogger(logging.Component("gate")),
	)

	// === Session ===
	source := api.New(api.Config{
		BaseURL:         cfg.API.BaseURL,
		ReadingsPaths:   cfg.API.ReadingsPath,
		AlertsPath:      cfg.API.AlertsPath,
		PageSize:        cfg.API.PageSize,
		Timeout:         cfg.API.Timeout,
		Retries:         cfg.API.Retries,
		BreakerFailures: cfg.API.Breaker.Failures,
		BreakerOpen:     cfg.API.Breaker.Open,
		BreakerInterval: cfg.API.Breaker.Interval,
	}, tokens.Token, logging.Component("api"))

	session := realtime.NewSession(realtime.SessionConfig{
		SensorHubURL:  cfg.SensorsHubURL(),
		AlertHubURL:   cfg.AlertsHubURL(),
		JoinMethod:    cfg.Hub.JoinMethod,
		JoinTimeout:   cfg.Hub.JoinTimeout,
		Delays:        cfg.Hub.ReconnectDelays,
		PollInterval:  cfg.Poll.Interval,
		AlertCapacity: cfg.Store.AlertCapacity,
	}, dialer, source, gate, resolver, logging.Component("session"))
	defer session.Close()

	if err := realtime.RegisterStoreGauges(prometheus.DefaultRegisterer, session.Store()); err != nil {
		log.Warn().Err(err).Msg("store gauges not registered")
	}

	currentAuth := func() realtime.AuthState {
		auth, err := realtime.AuthFromToken(tokens.Token(), resolver)
		if err != nil {
			log.Warn().Err(err).Msg("token rejected, treating as logged out")
			return realtime.AuthState{}
		}
		return auth
	}
	session.Reconcile(currentAuth(), cfg.Auth.OwnerSelection)
	go watchToken(ctx, tokens, cfg.Auth.TokenRefresh, func() { session.UpdateAuth(currentAuth()) }, log)

	// === HTTP ===
	hs := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           realtime.NewRouter(session, prefs, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// === gRPC health ===
	gs := grpc.NewServer()
	hsrv := health.NewServer()
	healthpb.RegisterHealthServer(gs, hsrv)
	go realtime.WatchHealth(ctx, hsrv, session, 5*time.Second)
	go func() {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Server.GRPCAddr).Msg("grpc listen")
		}
		log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("gRPC health listening")
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Msg("grpc server error")
		}
	}()

	// === Wait for signal ===
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	gs.GracefulStop()
}

// watchToken re-reads the token file and reconciles when it changes.
func watchToken(ctx context.Context, tokens *realtime.TokenSource, every time.Duration, reconcile func(), log zerolog.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			changed, err := tokens.Refresh()
			if err != nil {
				log.Warn().Err(err).Msg("token refresh failed")
				continue
			}
			if changed {
				log.Info().Msg("token rotated")
				reconcile()
			}
		}
	}
}
