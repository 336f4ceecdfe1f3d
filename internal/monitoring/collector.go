// Package monitoring watches onboarding health and posts webhook alerts when
// failure rate, LLM spend or DLQ depth cross their thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/store"
)

// maxJobsScanned bounds one collection pass.
const maxJobsScanned = 10000

// Snapshot holds a point-in-time view of onboarding health.
type Snapshot struct {
	JobsTotal      int                 `json:"jobs_total"`
	JobsCompleted  int                 `json:"jobs_completed"`
	JobsFailed     int                 `json:"jobs_failed"`
	JobsInProgress int                 `json:"jobs_in_progress"`
	FailRate       float64             `json:"fail_rate"`
	CostUSD        float64             `json:"cost_usd"`
	LLMCalls       int                 `json:"llm_calls"`
	ByPhase        map[model.Phase]int `json:"in_progress_by_phase,omitempty"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store   store.Store
	nowFunc func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect summarizes the jobs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.nowFunc().UTC()
	snap := &Snapshot{
		ByPhase:       make(map[model.Phase]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Jobs come newest first.
	jobs, err := c.store.ListJobs(ctx, store.JobFilter{Limit: maxJobsScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}
	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			break
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusInProgress:
			snap.JobsInProgress++
			snap.ByPhase[j.CurrentPhase]++
		}
		if u, err := j.PhaseData.Usage(); err == nil {
			snap.CostUSD += u.Cost
			snap.LLMCalls += u.Calls
		}
	}
	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}

	depth, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = depth

	return snap, nil
}
