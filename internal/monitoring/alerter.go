package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/config"
	"github.com/fixpoint-repair/buyback/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIngestFailure AlertType = "ingest_failure"
	AlertRecalcFailure AlertType = "recalculation_failure"
	AlertStaleOffers   AlertType = "stale_offers"
	AlertNoIngest      AlertType = "no_recent_ingest"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.Retry
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.Retry{Attempts: 3, Backoff: time.Second, Op: "send alert"},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.IngestFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailure,
			Severity: "high",
			Message: fmt.Sprintf("%d price sheet ingestion(s) failed in last %dh",
				snap.IngestFailed, snap.LookbackHours),
			Details: map[string]any{
				"failed":  snap.IngestFailed,
				"partial": snap.IngestPartial,
				"total":   snap.IngestTotal,
			},
			Timestamp: now,
		})
	}

	if snap.RecalcFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRecalcFailure,
			Severity: "high",
			Message: fmt.Sprintf("%d offer recalculation(s) failed in last %dh",
				snap.RecalcFailed, snap.LookbackHours),
			Details: map[string]any{
				"failed": snap.RecalcFailed,
				"total":  snap.RecalcTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleOfferThreshold > 0 && snap.StaleOffers >= a.cfg.StaleOfferThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStaleOffers,
			Severity: "medium",
			Message: fmt.Sprintf("%d of %d active rows have stale cached offers (threshold %d)",
				snap.StaleOffers, snap.ActiveRows, a.cfg.StaleOfferThreshold),
			Details: map[string]any{
				"stale":     snap.StaleOffers,
				"active":    snap.ActiveRows,
				"threshold": a.cfg.StaleOfferThreshold,
			},
			Timestamp: now,
		})
	}

	// An empty table is a fresh install, not a stalled feed.
	if snap.IngestTotal == 0 && snap.ActiveRows > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertNoIngest,
			Severity:  "low",
			Message:   fmt.Sprintf("No price sheet ingested in last %dh", snap.LookbackHours),
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		_, err := resilience.Do(ctx, a.retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
