package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farmsync/pkg/hub"
)

// LogSink writes notifications to the log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, n Notification) error {
	s.Log.Info().
		Str("alert_id", n.AlertID).
		Str("severity", string(n.Severity)).
		Str("body", n.Body).
		Msg(n.Title)
	return nil
}

// WebhookSink POSTs notifications as JSON.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(client *resty.Client, url string) *WebhookSink {
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(n).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: status %d", resp.StatusCode())
	}
	return nil
}

// MQTTSink publishes notifications to a topic.
type MQTTSink struct {
	pub *hub.Publisher
}

func NewMQTTSink(pub *hub.Publisher) *MQTTSink { return &MQTTSink{pub: pub} }

func (s *MQTTSink) Deliver(ctx context.Context, n Notification) error {
	return s.pub.Publish(ctx, n)
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }
