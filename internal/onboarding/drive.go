package onboarding

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// drive runs automatic phase work until the job waits for user input,
// completes or fails. The caller holds the job lock.
func (o *Orchestrator) drive(ctx context.Context, job *model.Job) (*model.Job, error) {
	for job.Status == model.JobStatusInProgress {
		var run func(context.Context, *model.Job) (*model.Job, error)
		switch job.CurrentPhase {
		case model.PhaseSmartDiscovery:
			run = o.runDiscovery
		case model.PhaseBatchDeepDive:
			run = o.runDeepDive
		case model.PhaseOfferingSelection:
			if job.Step(model.PhaseOfferingSelection) != model.StepOfferingsSelected {
				return job, nil
			}
			run = o.runSaveOfferings
		case model.PhaseCompletion:
			run = o.runCompletion
		default:
			// SMART_PAGE_SELECTION and COMPANY_INFO_REVIEW wait for input.
			return job, nil
		}

		next, err := o.runPhase(ctx, job, run)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				zap.L().Warn("onboarding: phase interrupted",
					zap.String("job_id", job.ID),
					zap.String("phase", string(job.CurrentPhase)),
				)
				return job, err
			}
			return o.fail(ctx, job, err)
		}
		job = next
	}
	return job, nil
}

// runPhase logs a phase run the same way for every phase.
func (o *Orchestrator) runPhase(ctx context.Context, job *model.Job, run func(context.Context, *model.Job) (*model.Job, error)) (*model.Job, error) {
	phase := job.CurrentPhase
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("phase", string(phase)))
	log.Info("onboarding: phase started", zap.String("step", string(job.Step(phase))))

	start := time.Now()
	next, err := run(ctx, job)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("onboarding: phase failed",
			zap.Int64("duration_ms", duration),
			zap.String("kind", string(resilience.KindOf(err))),
			zap.Error(err),
		)
		return nil, resilience.WithPhase(err, string(phase))
	}
	log.Info("onboarding: phase complete",
		zap.Int64("duration_ms", duration),
		zap.String("next_phase", string(next.CurrentPhase)),
	)
	return next, nil
}

// fail marks the job FAILED, records the error in phase data and queues the
// job for a later retry. Data written by earlier steps is kept.
func (o *Orchestrator) fail(ctx context.Context, job *model.Job, cause error) (*model.Job, error) {
	ctx = context.WithoutCancel(ctx)
	now := o.now()
	kind := resilience.KindOf(cause)

	errs, err := job.PhaseData.Errors()
	if err != nil {
		errs = nil
	}
	errs = append(errs, model.JobError{
		Phase:   job.CurrentPhase,
		Kind:    string(kind),
		Message: cause.Error(),
		At:      now,
	})

	b := newPatch(job).putKey(model.KeyErrors, errs).setStatus(model.JobStatusFailed)
	updated, err := o.save(ctx, job, b)
	if err != nil {
		return job, eris.Wrapf(err, "onboarding: record failure of job %s: %v", job.ID, cause)
	}

	entry := resilience.NewDLQEntry(job.ID, job.URL, string(job.CurrentPhase), cause, o.cfg.DLQMaxRetries, now)
	if err := o.store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("onboarding: enqueue dlq failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	return updated, nil
}

// scrapePage fetches one page under the scrape policy. Breakers are per
// host so one unreachable site does not block other jobs.
func (o *Orchestrator) scrapePage(ctx context.Context, pageURL string) (*model.ScrapedPage, error) {
	service := "scrape"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		service += ":" + u.Host
	}
	policy := o.cfg.ScrapePolicy.WithOnRetry(resilience.RetryLogger(service, pageURL))
	return resilience.Call(ctx, o.breakers, service, policy, func(ctx context.Context) (*model.ScrapedPage, error) {
		return o.scraper.Scrape(ctx, pageURL)
	})
}

// callLLM runs one extractor call under the LLM policy.
func callLLM[T any](ctx context.Context, o *Orchestrator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := o.cfg.LLMPolicy.WithOnRetry(resilience.RetryLogger("anthropic", op))
	return resilience.Call(ctx, o.breakers, "anthropic", policy, fn)
}

// decode reads a phase payload, failing the phase on corrupt data.
func decode(job *model.Job, phase model.Phase, v any) error {
	if _, err := job.PhaseData.Decode(string(phase), v); err != nil {
		return resilience.NewError(resilience.KindValidation, "onboarding: phase data", err)
	}
	return nil
}
