// Package api is the REST client the fallback poller reads from.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
	"github.com/LeonardoBeccarini/farmsync/internal/model/messages"
)

type Config struct {
	BaseURL       string
	ReadingsPaths []string // tried in order; a 404 falls through to the next
	AlertsPath    string
	PageSize      int
	Timeout       time.Duration
	Retries       int

	BreakerFailures int
	BreakerOpen     time.Duration
	BreakerInterval time.Duration
}

// StatusError is a non-2xx response.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.Path, e.Code)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client fetches latest readings and pending alerts. Each endpoint has its
// own circuit breaker.
type Client struct {
	http     *resty.Client
	cfg      Config
	tokens   func() string
	readings *gobreaker.CircuitBreaker
	alerts   *gobreaker.CircuitBreaker
	log      zerolog.Logger

	mu          sync.Mutex
	readingsIdx int
}

func New(cfg Config, tokens func() string, log zerolog.Logger) *Client {
	if len(cfg.ReadingsPaths) == 0 {
		cfg.ReadingsPaths = []string{"/api/dashboard/latest", "/api/readings/latest"}
	}
	if cfg.AlertsPath == "" {
		cfg.AlertsPath = "/api/alerts/pending"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if tokens == nil {
		tokens = func() string { return "" }
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	c := &Client{http: hc, cfg: cfg, tokens: tokens, log: log}
	c.readings = c.newBreaker("readings")
	c.alerts = c.newBreaker("alerts")
	return c
}

func (c *Client) newBreaker(name string) *gobreaker.CircuitBreaker {
	failures := c.cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: c.cfg.BreakerInterval,
		Timeout:  c.cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		// a 404 means "try the other path", not a sick upstream
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// LatestReadings returns the latest reading per sensor, scoped to owner when set.
func (c *Client) LatestReadings(ctx context.Context, owner string) ([]model.SensorReading, error) {
	c.mu.Lock()
	start := c.readingsIdx
	c.mu.Unlock()

	var lastErr error
	n := len(c.cfg.ReadingsPaths)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		path := c.cfg.ReadingsPaths[idx]
		body, err := c.get(ctx, c.readings, path, owner)
		if err != nil {
			lastErr = err
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		readings, err := messages.DecodeReadings(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if idx != start {
			c.mu.Lock()
			c.readingsIdx = idx
			c.mu.Unlock()
			c.log.Info().Str("path", path).Msg("using readings endpoint")
		}
		return readings, nil
	}
	return nil, lastErr
}

// PendingAlerts returns pending alerts, scoped to owner when set.
func (c *Client) PendingAlerts(ctx context.Context, owner string) ([]model.Alert, error) {
	body, err := c.get(ctx, c.alerts, c.cfg.AlertsPath, owner)
	if err != nil {
		return nil, err
	}
	alerts, err := messages.DecodeAlerts(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.cfg.AlertsPath, err)
	}
	return alerts, nil
}

func (c *Client) get(ctx context.Context, cb *gobreaker.CircuitBreaker, path, owner string) ([]byte, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"pageNumber": "1",
				"pageSize":   strconv.Itoa(c.cfg.PageSize),
			})
		if owner != "" {
			req.SetQueryParam("ownerId", owner)
		}
		if tok := c.tokens(); tok != "" {
			req.SetAuthToken(tok)
		}
		resp, err := req.Get(path)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		if resp.IsError() {
			return nil, &StatusError{Path: path, Code: resp.StatusCode()}
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}
