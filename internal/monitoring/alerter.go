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

	"github.com/sells-group/onboarding-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertCostOverrun    AlertType = "cost_overrun"
	AlertDLQDepth       AlertType = "dlq_depth"
)

// minFinishedJobs keeps the failure rate quiet on tiny samples.
const minFinishedJobs = 5

// Alert is one threshold breach, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns a breach, or nil.
type rule func(cfg config.MonitorConfig, s *Snapshot) *Alert

var rules = []rule{failureRateRule, costRule, dlqDepthRule}

func failureRateRule(cfg config.MonitorConfig, s *Snapshot) *Alert {
	finished := s.JobsCompleted + s.JobsFailed
	if cfg.FailureRateThreshold <= 0 || finished < minFinishedJobs || s.FailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertJobFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("%d of %d onboardings failed in the last %dh (%.0f%%, limit %.0f%%)",
			s.JobsFailed, finished, s.LookbackHours, s.FailRate*100, cfg.FailureRateThreshold*100),
		Details: map[string]any{"failure_rate": s.FailRate, "threshold": cfg.FailureRateThreshold, "finished": finished},
	}
}

func costRule(cfg config.MonitorConfig, s *Snapshot) *Alert {
	if cfg.CostThresholdUSD <= 0 || s.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return &Alert{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message: fmt.Sprintf("LLM spend $%.2f over %d calls in the last %dh (limit $%.2f)",
			s.CostUSD, s.LLMCalls, s.LookbackHours, cfg.CostThresholdUSD),
		Details: map[string]any{"cost_usd": s.CostUSD, "threshold_usd": cfg.CostThresholdUSD},
	}
}

func dlqDepthRule(cfg config.MonitorConfig, s *Snapshot) *Alert {
	if cfg.DLQDepthThreshold <= 0 || s.DLQDepth <= cfg.DLQDepthThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertDLQDepth,
		Severity: "medium",
		Message:  fmt.Sprintf("%d jobs waiting in the dead letter queue (limit %d)", s.DLQDepth, cfg.DLQDepthThreshold),
		Details:  map[string]any{"depth": s.DLQDepth, "threshold": cfg.DLQDepthThreshold},
	}
}

// Alerter checks snapshots against configured thresholds. A zero threshold
// disables its rule.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

// Evaluate returns the alerts snap triggers, in rule order.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	for _, r := range rules {
		if al := r(a.cfg, snap); al != nil {
			al.Timestamp = snap.CollectedAt
			alerts = append(alerts, *al)
		}
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Without a webhook nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	sent := 0
	for _, al := range alerts {
		if err := a.post(ctx, al); err != nil {
			zap.L().Error("monitoring: alert not delivered", zap.String("type", string(al.Type)), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, al Alert) error {
	body, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook answered %d", resp.StatusCode)
	}
	return nil
}
