package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/config"
)

// Checker ties a Collector to an Alerter for periodic health checks.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	hours     int
}

// NewChecker creates a Checker over cfg's lookback window, 24h by default.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitorConfig) *Checker {
	hours := cfg.LookbackWindowHours
	if hours <= 0 {
		hours = 24
	}
	return &Checker{collector: collector, alerter: alerter, hours: hours}
}

// Check collects one snapshot, logs and posts any breaches, and returns
// them. Collection failures are logged and yield no alerts.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.hours)
	if err != nil {
		zap.L().Error("monitoring: collect failed", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	for _, a := range alerts {
		zap.L().Warn("monitoring: threshold breached",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
	if len(alerts) > 0 {
		sent := c.alerter.SendAlerts(ctx, alerts)
		zap.L().Info("monitoring: alerts posted", zap.Int("raised", len(alerts)), zap.Int("sent", sent))
	}
	return alerts
}
