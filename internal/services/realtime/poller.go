package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/farmsync/internal/model"
)

const DefaultPollInterval = 15 * time.Second

// Source is the REST side read by the poller.
type Source interface {
	LatestReadings(ctx context.Context, owner string) ([]model.SensorReading, error)
	PendingAlerts(ctx context.Context, owner string) ([]model.Alert, error)
}

// Poller pulls readings and pending alerts while push is not fully connected.
//
// The first successful cycle after activation seeds the known alert ids and
// replaces the store's alerts without notifying. Later cycles notify only
// ids missing from the previous cycle, then remember the fetched ids.
type Poller struct {
	source   Source
	store    *Store
	notifier Notifier
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	gen    uint64
	active bool
	owner  string
	known  map[string]struct{} // nil until seeded
	cancel context.CancelFunc

	onKnown func(ids ...string)
}

func NewPoller(source Source, store *Store, notifier Notifier, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{source: source, store: store, notifier: notifier, interval: interval, log: log}
}

// OnKnown registers f to receive every alert id the poller seeds or adds.
// f runs under the poller lock and must not call back into the poller.
func (p *Poller) OnKnown(f func(ids ...string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onKnown = f
}

// Activate starts polling for owner ("" for unscoped): one cycle right away,
// then one per interval. Activating again for the same owner is a no-op.
func (p *Poller) Activate(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && p.owner == owner {
		return
	}
	p.stopLocked()

	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.active = true
	p.owner = owner
	pollActive.Set(1)
	p.log.Info().Str("owner", owner).Dur("interval", p.interval).Msg("fallback polling started")

	go p.loop(ctx, p.gen, owner)
}

// Deactivate stops polling and forgets the known alert ids.
func (p *Poller) Deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.stopLocked()
	p.log.Info().Msg("fallback polling stopped")
}

func (p *Poller) stopLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.active = false
	p.known = nil
	pollActive.Set(0)
}

func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) loop(ctx context.Context, gen uint64, owner string) {
	p.cycle(ctx, gen, owner)

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.cycle(ctx, gen, owner)
		}
	}
}

func (p *Poller) cycle(ctx context.Context, gen uint64, owner string) {
	var (
		readings []model.SensorReading
		alerts   []model.Alert
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		readings, err = p.source.LatestReadings(gctx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		alerts, err = p.source.PendingAlerts(gctx, owner)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			pollCycles.WithLabelValues("failed").Inc()
			p.log.Warn().Err(err).Str("owner", owner).Msg("poll cycle failed")
		}
		return
	}

	fresh, ok := p.apply(gen, readings, alerts)
	if !ok {
		return
	}
	for _, a := range fresh {
		if ctx.Err() != nil {
			return
		}
		p.notifier.Notify(ctx, a)
	}
}

// apply writes one cycle's results to the store and returns the alerts to notify.
func (p *Poller) apply(gen uint64, readings []model.SensorReading, alerts []model.Alert) ([]model.Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return nil, false
	}

	ids := make(map[string]struct{}, len(alerts))
	for _, a := range alerts {
		ids[a.ID] = struct{}{}
	}

	if p.known == nil {
		p.reportKnownLocked(alerts)
		p.store.ReplaceReadings(model.SourcePoll, readings)
		p.store.ReplaceAlerts(alerts)
		p.known = ids
		pollCycles.WithLabelValues("seeded").Inc()
		p.log.Debug().Int("readings", len(readings)).Int("alerts", len(alerts)).Msg("poll seeded")
		return nil, true
	}

	for _, r := range readings {
		p.store.MergeReading(model.SourcePoll, r)
	}
	var fresh []model.Alert
	queued := make(map[string]struct{})
	for _, a := range alerts {
		if _, ok := p.known[a.ID]; ok {
			p.store.UpdateAlert(a)
			continue
		}
		if _, dup := queued[a.ID]; dup {
			continue
		}
		queued[a.ID] = struct{}{}
		fresh = append(fresh, a)
	}
	// oldest first so the newest lands at the front of the list
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreatedAt.Before(fresh[j].CreatedAt) })
	p.reportKnownLocked(fresh)
	for _, a := range fresh {
		p.store.AddAlert(a)
	}
	p.known = ids
	pollCycles.WithLabelValues("merged").Inc()
	return fresh, true
}

func (p *Poller) reportKnownLocked(alerts []model.Alert) {
	if p.onKnown == nil || len(alerts) == 0 {
		return
	}
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	p.onKnown(ids...)
}
