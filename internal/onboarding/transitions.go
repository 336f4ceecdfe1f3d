package onboarding

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/scrape"
)

// transition applies a user-driven change to a job waiting in phase at
// step. build returns the patch; the job lock is held throughout.
func (o *Orchestrator) transition(ctx context.Context, id string, phase model.Phase, step model.Step, build func(job *model.Job) (*patchBuilder, error)) (*model.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusInProgress || job.CurrentPhase != phase || job.Step(phase) != step {
		return nil, eris.Wrapf(ErrWrongPhase, "job %s is %s in %s (%s), want %s (%s)",
			id, job.Status, job.CurrentPhase, job.Step(job.CurrentPhase), phase, step)
	}

	b, err := build(job)
	if err != nil {
		return nil, err
	}
	updated, err := o.save(ctx, job, b)
	if err != nil {
		return nil, err
	}
	zap.L().Info("onboarding: transition",
		zap.String("job_id", id),
		zap.String("from", string(phase)),
		zap.String("to", string(updated.CurrentPhase)),
	)
	return updated, nil
}

// continueJob runs the automatic work that follows a transition, in the
// background when the orchestrator is asynchronous.
func (o *Orchestrator) continueJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	if !o.cfg.Async {
		return o.advance(ctx, job.ID)
	}
	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.advance(bg, job.ID); err != nil {
			zap.L().Error("onboarding: background work failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()
	return job, nil
}

// advance reloads the job under its lock and drives it.
func (o *Orchestrator) advance(ctx context.Context, id string) (*model.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.drive(ctx, job)
}

// SelectPages records the pages chosen for the deep dive and starts it.
// Pages outside the suggestions are accepted when they belong to the
// job's site.
func (o *Orchestrator) SelectPages(ctx context.Context, id string, urls []string) (*model.Job, error) {
	job, err := o.transition(ctx, id, model.PhaseSmartPageSelection, model.StepAwaitingSelection, func(job *model.Job) (*patchBuilder, error) {
		var disc model.DiscoveryData
		if err := decode(job, model.PhaseSmartDiscovery, &disc); err != nil {
			return nil, err
		}
		pages, err := selectPages(job.URL, disc.SuggestedPages, urls)
		if err != nil {
			return nil, err
		}
		data := model.PageSelectionData{SelectedPages: pages, SelectedAt: o.now()}
		return newPatch(job).
			put(model.PhaseSmartPageSelection, data).
			step(model.PhaseSmartPageSelection, model.StepPagesSelected).
			moveTo(model.PhaseBatchDeepDive), nil
	})
	if err != nil {
		return nil, err
	}
	return o.continueJob(ctx, job)
}

func selectPages(siteURL string, suggested []model.SuggestedPage, urls []string) ([]model.SuggestedPage, error) {
	if len(urls) == 0 {
		return nil, eris.Wrap(ErrInvalidSelection, "select at least one page or skip page selection")
	}
	site, err := url.Parse(siteURL)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidURL, "job url %q", siteURL)
	}

	byURL := make(map[string]model.SuggestedPage, len(suggested))
	for _, p := range suggested {
		byURL[strings.TrimSuffix(p.URL, "/")] = p
	}

	seen := make(map[string]bool, len(urls))
	pages := make([]model.SuggestedPage, 0, len(urls))
	for _, raw := range urls {
		norm, err := validateURL(raw)
		if err != nil {
			return nil, err
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true

		if p, ok := byURL[norm]; ok {
			pages = append(pages, p)
			continue
		}
		u, _ := url.Parse(norm)
		if !strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), strings.TrimPrefix(site.Hostname(), "www.")) {
			return nil, eris.Wrapf(ErrInvalidSelection, "page %s is not on %s", norm, site.Host)
		}
		pages = append(pages, model.SuggestedPage{
			URL:      norm,
			Type:     scrape.ClassifyPageType(norm),
			Priority: model.PriorityMedium,
			Reason:   "added by user",
		})
	}
	return pages, nil
}

// SkipPageSelection moves straight to company review without a deep dive.
// The discovered company info is carried over and no offerings are
// extracted.
func (o *Orchestrator) SkipPageSelection(ctx context.Context, id string) (*model.Job, error) {
	return o.transition(ctx, id, model.PhaseSmartPageSelection, model.StepAwaitingSelection, func(job *model.Job) (*patchBuilder, error) {
		var disc model.DiscoveryData
		if err := decode(job, model.PhaseSmartDiscovery, &disc); err != nil {
			return nil, err
		}
		var company model.CompanyInfo
		if disc.CompanyInfo != nil {
			company = *disc.CompanyInfo
		}
		return newPatch(job).
			put(model.PhaseSmartPageSelection, model.PageSelectionData{Skipped: true, SelectedAt: o.now()}).
			put(model.PhaseBatchDeepDive, model.DeepDiveData{CompanyInfo: &company, DetailPagesDone: true}).
			step(model.PhaseSmartPageSelection, model.StepSkipped).
			step(model.PhaseBatchDeepDive, model.StepSkipped).
			step(model.PhaseCompanyInfoReview, model.StepAwaitingReview).
			moveTo(model.PhaseCompanyInfoReview), nil
	})
}

// ApproveCompany stores the reviewed company info and opens offering
// selection.
func (o *Orchestrator) ApproveCompany(ctx context.Context, id string, info model.CompanyInfo) (*model.Job, error) {
	return o.transition(ctx, id, model.PhaseCompanyInfoReview, model.StepAwaitingReview, func(job *model.Job) (*patchBuilder, error) {
		info = sanitizeCompany(info)
		if info.Website == "" {
			info.Website = job.URL
		}
		data := model.CompanyReviewData{CompanyInfo: info, ApprovedAt: o.now()}
		return newPatch(job).
			put(model.PhaseCompanyInfoReview, data).
			step(model.PhaseCompanyInfoReview, model.StepApproved).
			step(model.PhaseOfferingSelection, model.StepAwaitingSelection).
			moveTo(model.PhaseOfferingSelection), nil
	})
}

// SelectOfferings records the final offering list and saves the tenant and
// its offerings, completing the job. The tenant id is fixed before any
// row is written so a retried save updates the same rows.
func (o *Orchestrator) SelectOfferings(ctx context.Context, id string, offerings []model.Offering) (*model.Job, error) {
	job, err := o.transition(ctx, id, model.PhaseOfferingSelection, model.StepAwaitingSelection, func(job *model.Job) (*patchBuilder, error) {
		clean, err := sanitizeOfferings(offerings, job.URL)
		if err != nil {
			return nil, err
		}
		data := model.OfferingSelectionData{TenantID: o.newID(), Offerings: clean}
		return newPatch(job).
			put(model.PhaseOfferingSelection, data).
			step(model.PhaseOfferingSelection, model.StepOfferingsSelected), nil
	})
	if err != nil {
		return nil, err
	}
	return o.advance(ctx, job.ID)
}

// runSaveOfferings persists the tenant and the selected offerings.
func (o *Orchestrator) runSaveOfferings(ctx context.Context, job *model.Job) (*model.Job, error) {
	var (
		sel    model.OfferingSelectionData
		review model.CompanyReviewData
		disc   model.DiscoveryData
	)
	for phase, v := range map[model.Phase]any{
		model.PhaseOfferingSelection: &sel,
		model.PhaseCompanyInfoReview: &review,
		model.PhaseSmartDiscovery:    &disc,
	} {
		if err := decode(job, phase, v); err != nil {
			return nil, err
		}
	}

	prompt, err := o.prompts.Build(ctx, PromptInput{
		Company:   review.CompanyInfo,
		Sector:    disc.SectorAnalysis,
		Offerings: sel.Offerings,
	})
	if err != nil {
		return nil, eris.Wrap(err, "completion: build prompt")
	}

	name := review.CompanyInfo.Name
	if name == "" {
		if u, err := url.Parse(job.URL); err == nil {
			name = u.Hostname()
		}
	}
	tenant := &model.Tenant{
		ID:          sel.TenantID,
		UserID:      job.UserID,
		JobID:       job.ID,
		Name:        name,
		Website:     job.URL,
		CompanyInfo: review.CompanyInfo,
		Sector:      disc.SectorAnalysis,
		Prompt:      prompt,
	}
	if err := o.store.SaveTenant(ctx, tenant); err != nil {
		return nil, eris.Wrapf(err, "completion: save tenant for job %s", job.ID)
	}
	saved, err := o.store.SaveOfferings(ctx, tenant.ID, sel.Offerings)
	if err != nil {
		return nil, eris.Wrapf(err, "completion: save offerings for tenant %s", tenant.ID)
	}

	now := o.now()
	sel.TenantID = tenant.ID
	sel.Offerings = saved
	sel.SavedAt = &now
	b := newPatch(job).
		put(model.PhaseOfferingSelection, sel).
		step(model.PhaseOfferingSelection, model.StepOfferingsSaved).
		moveTo(model.PhaseCompletion)
	return o.save(ctx, job, b)
}

// runCompletion marks the job COMPLETED.
func (o *Orchestrator) runCompletion(ctx context.Context, job *model.Job) (*model.Job, error) {
	var sel model.OfferingSelectionData
	if err := decode(job, model.PhaseOfferingSelection, &sel); err != nil {
		return nil, err
	}
	data := model.CompletionData{
		TenantID:      sel.TenantID,
		OfferingCount: len(sel.Offerings),
		CompletedAt:   o.now(),
	}
	b := newPatch(job).
		put(model.PhaseCompletion, data).
		step(model.PhaseCompletion, model.StepDone).
		setStatus(model.JobStatusCompleted)
	return o.save(ctx, job, b)
}

// ResumeOnboarding continues a job from its last recorded step. A completed
// job is returned unchanged and a failed job is attempted again.
func (o *Orchestrator) ResumeOnboarding(ctx context.Context, id string) (*model.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusCompleted:
		return job, nil
	case model.JobStatusFailed:
		return o.retry(ctx, job)
	default:
		return o.drive(ctx, job)
	}
}

// RetryJob runs the failed phase of a job again. Phase data gathered so far
// is kept, so finished steps are not repeated.
func (o *Orchestrator) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed {
		return nil, eris.Wrapf(ErrJobNotFailed, "job %s is %s", id, job.Status)
	}
	return o.retry(ctx, job)
}

func (o *Orchestrator) retry(ctx context.Context, job *model.Job) (*model.Job, error) {
	zap.L().Info("onboarding: retrying failed job",
		zap.String("job_id", job.ID),
		zap.String("phase", string(job.CurrentPhase)),
	)
	job, err := o.save(ctx, job, newPatch(job).setStatus(model.JobStatusInProgress))
	if err != nil {
		return nil, err
	}
	job, err = o.drive(ctx, job)
	if err != nil {
		return job, err
	}
	if job.Status != model.JobStatusFailed {
		if err := o.store.RemoveDLQ(ctx, job.ID); err != nil {
			zap.L().Warn("onboarding: remove dlq entry failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return job, nil
}
