package hub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// MQTTConfig configures the MQTT transport and publisher.
type MQTTConfig struct {
	Broker         string // tcp://host:1883
	ClientID       string // prefix, a random suffix is appended per connection
	Username       string
	Password       string // used when no bearer token is supplied
	TopicPrefix    string
	QoS            byte
	JoinMethod     string
	ConnectTimeout time.Duration
}

func (c MQTTConfig) clientOptions(clientID, password string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(c.Username)
	if password == "" {
		password = c.Password
	}
	opts.SetPassword(password)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(orDefault(c.ConnectTimeout, 10*time.Second))
	return opts
}

// ConnectMQTT opens a long-lived client, retrying with exponential backoff.
// The client disconnects when ctx is cancelled.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, clientID string, log zerolog.Logger) (mqtt.Client, error) {
	opts := cfg.clientOptions(clientID, "")
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.RetryNotify(func() error {
		client = mqtt.NewClient(opts)
		return waitToken(ctx, client.Connect())
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx), func(err error, d time.Duration) {
		log.Warn().Err(err).Dur("retry_in", d).Str("broker", cfg.Broker).Msg("mqtt connect failed")
	})
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return client, nil
}

// waitToken waits for a paho token or ctx, whichever comes first.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publisher publishes JSON documents to one MQTT topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: strings.Trim(topic, "/"), qos: qos}
}

func (p *Publisher) Topic() string { return p.topic }

// Publish marshals v and publishes it, waiting for the broker ack at QoS > 0.
func (p *Publisher) Publish(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", p.topic, err)
	}
	if err := waitToken(ctx, p.client.Publish(p.topic, p.qos, false, b)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}
