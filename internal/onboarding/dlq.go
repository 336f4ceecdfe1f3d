package onboarding

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// SweepResult summarizes one DLQ sweep.
type SweepResult struct {
	Retried   int `json:"retried"`
	Recovered int `json:"recovered"`
	Exhausted int `json:"exhausted"`
}

// SweepDLQ retries due jobs that failed with a transient error. Entries of
// jobs that recover, or no longer exist, are removed; the rest are pushed
// back with a longer delay.
func (o *Orchestrator) SweepDLQ(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	entries, err := o.store.ListDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient, Due: true, Limit: limit})
	if err != nil {
		return res, eris.Wrap(err, "onboarding: list dlq")
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := zap.L().With(zap.String("job_id", e.JobID), zap.Int("retry_count", e.RetryCount))
		if !e.CanRetry() {
			res.Exhausted++
			continue
		}

		res.Retried++
		job, err := o.RetryJob(ctx, e.JobID)
		switch {
		case errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotFailed):
			log.Info("dlq: dropping entry", zap.Error(err))
			if err := o.store.RemoveDLQ(ctx, e.JobID); err != nil {
				log.Warn("dlq: remove entry failed", zap.Error(err))
			}
			continue
		case err != nil:
			log.Warn("dlq: retry failed", zap.Error(err))
		case job.Status != model.JobStatusFailed:
			res.Recovered++
			continue
		}

		lastErr := e.Error
		if errs, derr := jobErrors(job); derr == nil && len(errs) > 0 {
			lastErr = errs[len(errs)-1].Message
		}
		next := o.now().Add(resilience.NextRetryDelay(e.RetryCount + 1))
		if err := o.store.IncrementDLQRetry(ctx, e.JobID, next, lastErr); err != nil {
			log.Warn("dlq: reschedule failed", zap.Error(err))
		}
	}

	zap.L().Info("dlq: sweep complete",
		zap.Int("entries", len(entries)),
		zap.Int("retried", res.Retried),
		zap.Int("recovered", res.Recovered),
		zap.Int("exhausted", res.Exhausted),
	)
	return res, nil
}

func jobErrors(job *model.Job) ([]model.JobError, error) {
	if job == nil {
		return nil, nil
	}
	return job.PhaseData.Errors()
}
