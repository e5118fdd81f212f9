package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/pricing"
	"github.com/fixpoint-repair/buyback/internal/store"
)

var (
	staleOffersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "buyback_stale_offers",
		Help: "Active price rows whose cached offers are missing or older than their prices",
	})
	activeRowsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "buyback_active_price_rows",
		Help: "Active price rows at the last health check",
	})
)

// MetricsSnapshot holds a point-in-time view of pricing health.
type MetricsSnapshot struct {
	// Ingestion runs within the lookback window.
	IngestTotal   int        `json:"ingest_total"`
	IngestSuccess int        `json:"ingest_success"`
	IngestPartial int        `json:"ingest_partial"`
	IngestFailed  int        `json:"ingest_failed"`
	LastIngestAt  *time.Time `json:"last_ingest_at,omitempty"`

	// Recalculation runs within the lookback window.
	RecalcTotal  int `json:"recalc_total"`
	RecalcFailed int `json:"recalc_failed"`

	ActiveRows  int `json:"active_rows"`
	StaleOffers int `json:"stale_offers"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is what the collector reads.
type Store interface {
	ListUpdateLogs(ctx context.Context, filter store.LogFilter) ([]model.PricingUpdateLog, error)
	ListActiveRows(ctx context.Context, filter store.RowFilter) ([]model.PriceRow, error)
}

// Collector gathers metrics from the price store and its audit log.
type Collector struct {
	store Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	logs, err := c.store.ListUpdateLogs(ctx, store.LogFilter{Since: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list update logs")
	}
	for _, l := range logs {
		if l.Source == pricing.RecalcSource {
			snap.RecalcTotal++
			if l.Status == model.UpdateStatusFailed {
				snap.RecalcFailed++
			}
			continue
		}

		snap.IngestTotal++
		switch l.Status {
		case model.UpdateStatusSuccess:
			snap.IngestSuccess++
		case model.UpdateStatusPartial:
			snap.IngestPartial++
		case model.UpdateStatusFailed:
			snap.IngestFailed++
		}
		if snap.LastIngestAt == nil || l.CreatedAt.After(*snap.LastIngestAt) {
			at := l.CreatedAt
			snap.LastIngestAt = &at
		}
	}

	rows, err := c.store.ListActiveRows(ctx, store.RowFilter{Limit: store.NoLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list active rows")
	}
	snap.ActiveRows = len(rows)
	for _, r := range rows {
		if staleOffers(r) {
			snap.StaleOffers++
		}
	}

	activeRowsGauge.Set(float64(snap.ActiveRows))
	staleOffersGauge.Set(float64(snap.StaleOffers))
	return snap, nil
}

// staleOffers reports whether a priced grade lacks a cached offer, or the
// prices changed after the offers were last calculated.
func staleOffers(r model.PriceRow) bool {
	if !r.Prices.Any() {
		return false
	}
	if r.OffersCalculatedAt == nil || r.OffersCalculatedAt.Before(r.LastUpdated) {
		return true
	}
	for _, g := range model.Grades {
		if r.Prices.Get(g) != nil && r.Offers.Get(g) == nil {
			return true
		}
	}
	return false
}
