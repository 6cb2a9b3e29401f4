// Package config loads daemon configuration from defaults, an optional YAML
// file and FARMSYNC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	TransportWebsocket = "websocket"
	TransportMQTT      = "mqtt"
)

type Config struct {
	Hub     HubConfig     `koanf:"hub"`
	API     APIConfig     `koanf:"api"`
	Poll    PollConfig    `koanf:"poll"`
	Store   StoreConfig   `koanf:"store"`
	Auth    AuthConfig    `koanf:"auth"`
	Notify  NotifyConfig  `koanf:"notify"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

type HubConfig struct {
	BaseURL         string          `koanf:"base_url"`
	Transport       string          `koanf:"transport"`
	SensorsPath     string          `koanf:"sensors_path"`
	AlertsPath      string          `koanf:"alerts_path"`
	JoinMethod      string          `koanf:"join_method"`
	JoinTimeout     time.Duration   `koanf:"join_timeout"`
	ReconnectDelays []time.Duration `koanf:"reconnect_delays"`
	MQTT            MQTTConfig      `koanf:"mqtt"`
}

type MQTTConfig struct {
	Broker      string `koanf:"broker"`
	ClientID    string `koanf:"client_id"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	TopicPrefix string `koanf:"topic_prefix"`
	QoS         int    `koanf:"qos"`
}

type APIConfig struct {
	BaseURL      string        `koanf:"base_url"`
	ReadingsPath []string      `koanf:"readings_paths"`
	AlertsPath   string        `koanf:"alerts_path"`
	PageSize     int           `koanf:"page_size"`
	Timeout      time.Duration `koanf:"timeout"`
	Retries      int           `koanf:"retries"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	Failures int           `koanf:"failures"`
	Open     time.Duration `koanf:"open"`
	Interval time.Duration `koanf:"interval"`
}

type PollConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// maxAlertCapacity bounds the recent alert list.
const maxAlertCapacity = 50

type StoreConfig struct {
	AlertCapacity int `koanf:"alert_capacity"`
}

type AuthConfig struct {
	Token           string        `koanf:"token"`
	TokenFile       string        `koanf:"token_file"`
	TokenRefresh    time.Duration `koanf:"token_refresh"`
	PrivilegedRoles []string      `koanf:"privileged_roles"`
	OwnerSelection  string        `koanf:"owner_selection"`
}

type NotifyConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Permission   bool          `koanf:"permission"`
	WebhookURL   string        `koanf:"webhook_url"`
	MQTTTopic    string        `koanf:"mqtt_topic"`
	Timeout      time.Duration `koanf:"timeout"`
	DeliveredTTL time.Duration `koanf:"delivered_ttl"`
}

type ServerConfig struct {
	HTTPAddr string `koanf:"http_addr"`
	GRPCAddr string `koanf:"grpc_addr"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			BaseURL:         "http://localhost:5000",
			Transport:       TransportWebsocket,
			SensorsPath:     "/dashboard/sensorshub",
			AlertsPath:      "/dashboard/alertshub",
			JoinMethod:      "JoinOwnerGroup",
			JoinTimeout:     10 * time.Second,
			ReconnectDelays: []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				ClientID:    "farmsync",
				TopicPrefix: "farmsync",
				QoS:         1,
			},
		},
		API: APIConfig{
			BaseURL:      "http://localhost:5000",
			ReadingsPath: []string{"/api/dashboard/latest", "/api/readings/latest"},
			AlertsPath:   "/api/alerts/pending",
			PageSize:     50,
			Timeout:      10 * time.Second,
			Retries:      0,
			Breaker: BreakerConfig{
				Failures: 5,
				Open:     30 * time.Second,
				Interval: time.Minute,
			},
		},
		Poll:  PollConfig{Interval: 15 * time.Second},
		Store: StoreConfig{AlertCapacity: 50},
		Auth: AuthConfig{
			TokenRefresh:    30 * time.Second,
			PrivilegedRoles: []string{"Admin"},
		},
		Notify: NotifyConfig{
			Enabled:      true,
			Permission:   true,
			Timeout:      5 * time.Second,
			DeliveredTTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			HTTPAddr: ":8088",
			GRPCAddr: ":9088",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// SensorsHubURL is the full address of the sensor hub.
func (c *Config) SensorsHubURL() string { return joinURL(c.Hub.BaseURL, c.Hub.SensorsPath) }

// AlertsHubURL is the full address of the alert hub.
func (c *Config) AlertsHubURL() string { return joinURL(c.Hub.BaseURL, c.Hub.AlertsPath) }

func joinURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

func (c *Config) Validate() error {
	var errs []error
	if err := validURL("hub.base_url", c.Hub.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validURL("api.base_url", c.API.BaseURL); err != nil {
		errs = append(errs, err)
	}
	switch c.Hub.Transport {
	case TransportWebsocket:
	case TransportMQTT:
		if c.Hub.MQTT.Broker == "" {
			errs = append(errs, errors.New("hub.mqtt.broker is required for the mqtt transport"))
		}
		if c.Hub.MQTT.QoS < 0 || c.Hub.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("hub.mqtt.qos must be 0, 1 or 2, got %d", c.Hub.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Errorf("hub.transport must be %q or %q, got %q", TransportWebsocket, TransportMQTT, c.Hub.Transport))
	}
	if c.Hub.JoinMethod == "" {
		errs = append(errs, errors.New("hub.join_method is required"))
	}
	if len(c.Hub.ReconnectDelays) == 0 {
		errs = append(errs, errors.New("hub.reconnect_delays must not be empty"))
	}
	for _, d := range c.Hub.ReconnectDelays {
		if d < 0 {
			errs = append(errs, fmt.Errorf("hub.reconnect_delays contains negative delay %s", d))
			break
		}
	}
	if len(c.API.ReadingsPath) == 0 {
		errs = append(errs, errors.New("api.readings_paths must not be empty"))
	}
	if c.API.AlertsPath == "" {
		errs = append(errs, errors.New("api.alerts_path is required"))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("api.page_size must be positive, got %d", c.API.PageSize))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.Store.AlertCapacity <= 0 || c.Store.AlertCapacity > maxAlertCapacity {
		errs = append(errs, fmt.Errorf("store.alert_capacity must be between 1 and %d, got %d", maxAlertCapacity, c.Store.AlertCapacity))
	}
	if c.Notify.WebhookURL != "" {
		if err := validURL("notify.webhook_url", c.Notify.WebhookURL); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
