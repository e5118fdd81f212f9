// Package monitoring watches ingestion outcomes and cached offer freshness
// and posts webhook alerts when they drift.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates a fresh snapshot on every tick. An alert type that was
// delivered is held back until the lookback window has passed, so a feed
// that stays broken pages once per window instead of once per tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting pricing health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Int("stale_offer_threshold", c.cfg.StaleOfferThreshold),
	)

	if ctx.Err() == nil {
		c.Check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("pricing health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot and sends the alerts it triggers, minus any
// type still inside its repeat window. It returns the snapshot, or nil when
// collection failed.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) *MetricsSnapshot {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect pricing snapshot", zap.Error(err))
		return nil
	}

	log.Debug("monitoring: snapshot",
		zap.Int("ingest_failed", snap.IngestFailed),
		zap.Int("recalc_failed", snap.RecalcFailed),
		zap.Int("active_rows", snap.ActiveRows),
		zap.Int("stale_offers", snap.StaleOffers),
	)

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return snap
	}

	sent := 0
	for _, alert := range due {
		if c.alerter.SendAlerts(ctx, []Alert{alert}) == 1 {
			c.markSent(alert.Type)
			sent++
		}
	}
	log.Info("monitoring: alerts dispatched",
		zap.Int("due", len(due)),
		zap.Int("sent", sent),
	)
	return snap
}

func (c *Checker) repeatAfter() time.Duration {
	if c.cfg.LookbackWindowHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.cfg.LookbackWindowHours) * time.Hour
}

func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.repeatAfter() {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) markSent(t AlertType) {
	c.mu.Lock()
	c.lastSent[t] = c.now()
	c.mu.Unlock()
}
