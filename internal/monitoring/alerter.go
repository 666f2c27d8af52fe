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

	"github.com/sells-group/fieldmap/internal/config"
	"github.com/sells-group/fieldmap/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSurfaceFailures  AlertType = "surface_failures"
	AlertFetchFailureRate AlertType = "fetch_failure_rate"
	AlertBreakerOpen      AlertType = "breaker_open"
)

// minFetchesForRate is the fewest document loads in an interval before the
// failure rate is judged.
const minFetchesForRate = 4

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and posts alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if a.cfg.SurfaceFailureThreshold > 0 && snap.SurfaceFailures >= a.cfg.SurfaceFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSurfaceFailures,
			Severity: "medium",
			Message: fmt.Sprintf("%d map operation(s) failed across %d reconcile pass(es)",
				snap.SurfaceFailures, snap.Passes),
			Details: map[string]any{
				"failures":  snap.SurfaceFailures,
				"passes":    snap.Passes,
				"threshold": a.cfg.SurfaceFailureThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FetchFailureRateThreshold > 0 && snap.DocumentLoads >= minFetchesForRate &&
		snap.FetchFailRate > a.cfg.FetchFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFetchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf("Sales detail failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d fetched)",
				snap.FetchFailRate*100, a.cfg.FetchFailureRateThreshold*100,
				snap.DocumentFailures, snap.DocumentLoads),
			Details: map[string]any{
				"failure_rate": snap.FetchFailRate,
				"threshold":    a.cfg.FetchFailureRateThreshold,
				"failed":       snap.DocumentFailures,
				"fetched":      snap.DocumentLoads,
			},
			Timestamp: now,
		})
	}

	if snap.BreakerState == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message:  fmt.Sprintf("Backend circuit is open (%d request(s) rejected)", snap.BreakerRejected),
			Details: map[string]any{
				"state":    snap.BreakerState,
				"rejected": snap.BreakerRejected,
			},
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
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
