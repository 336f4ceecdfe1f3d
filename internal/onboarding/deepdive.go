package onboarding

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/batch"
	"github.com/sells-group/onboarding-cli/internal/extract"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// ErrNothingScraped fails a deep dive in which no selected page could be
// fetched.
var ErrNothingScraped = resilience.NewError(resilience.KindScrape, "deep dive", eris.New("no selected page could be scraped"))

// runDeepDive scrapes and extracts the selected pages batch by batch. Each
// finished batch is persisted before the next one starts; a resumed run
// skips recorded batches. Offerings are merged once every batch is in.
func (o *Orchestrator) runDeepDive(ctx context.Context, job *model.Job) (*model.Job, error) {
	var (
		sel  model.PageSelectionData
		disc model.DiscoveryData
		dd   model.DeepDiveData
	)
	for phase, v := range map[model.Phase]any{
		model.PhaseSmartPageSelection: &sel,
		model.PhaseSmartDiscovery:     &disc,
		model.PhaseBatchDeepDive:      &dd,
	} {
		if err := decode(job, phase, v); err != nil {
			return nil, err
		}
	}

	step := job.Step(model.PhaseBatchDeepDive)
	if step == model.StepNone || step == model.StepBatchesRunning {
		var err error
		if job, err = o.runBatches(ctx, job, &dd, &sel, &disc); err != nil {
			return nil, err
		}
	}
	return o.mergeOfferings(ctx, job, &dd, &disc)
}

func (o *Orchestrator) runBatches(ctx context.Context, job *model.Job, dd *model.DeepDiveData, sel *model.PageSelectionData, disc *model.DiscoveryData) (*model.Job, error) {
	urls := make([]string, len(sel.SelectedPages))
	for i, p := range sel.SelectedPages {
		urls[i] = p.URL
	}
	batches, err := batch.GroupIntoBatches(urls, o.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	if job.Step(model.PhaseBatchDeepDive) == model.StepNone {
		dd.TotalBatches = len(batches)
		b := newPatch(job).
			put(model.PhaseBatchDeepDive, dd).
			step(model.PhaseBatchDeepDive, model.StepBatchesRunning)
		if job, err = o.save(ctx, job, b); err != nil {
			return nil, err
		}
	}

	pending := make([]batch.Batch[string], 0, len(batches))
	for _, b := range batches {
		if !dd.BatchDone(b.Number) {
			pending = append(pending, b)
		}
	}
	log := zap.L().With(zap.String("job_id", job.ID))
	if done := len(batches) - len(pending); done > 0 {
		log.Info("deep dive: resuming", zap.Int("batches_done", done), zap.Int("total_batches", len(batches)))
	}

	process := func(ctx context.Context, b batch.Batch[string]) error {
		res, err := o.extractBatch(ctx, job, b.Number, b.Items, disc)
		if err != nil {
			return err
		}
		dd.Batches = append(dd.Batches, *res)
		job, err = o.save(ctx, job, newPatch(job).put(model.PhaseBatchDeepDive, dd).addUsage(res.Usage))
		return err
	}
	progress := func(completed, total int) {
		log.Info("deep dive: batch complete", zap.Int("completed", completed), zap.Int("pending_total", total))
	}
	if err := batch.ProcessWithRateLimit(ctx, o.scheduler, pending, process, progress); err != nil {
		return nil, err
	}

	if !dd.DetailPagesDone {
		detailNumber := len(batches) + 1
		if links := o.detailLinks(dd, urls); len(links) > 0 && !dd.BatchDone(detailNumber) {
			log.Info("deep dive: following offering detail links", zap.Int("pages", len(links)))
			if err := process(ctx, batch.Batch[string]{Number: detailNumber, Items: links}); err != nil {
				return nil, err
			}
		}
		dd.DetailPagesDone = true
	}

	dd.ExtractedPages = 0
	dd.FailedPages = nil
	for _, b := range dd.Batches {
		dd.ExtractedPages += len(b.Pages) - len(b.Errors)
		dd.FailedPages = append(dd.FailedPages, b.Errors...)
	}
	if dd.ExtractedPages == 0 && len(urls) > 0 {
		// Drop the empty batches so a retry fetches every page again.
		dd.Batches, dd.FailedPages, dd.DetailPagesDone = nil, nil, false
		if _, err := o.save(ctx, job, newPatch(job).put(model.PhaseBatchDeepDive, dd)); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrNothingScraped, "%d pages selected", len(urls))
	}

	b := newPatch(job).
		put(model.PhaseBatchDeepDive, dd).
		step(model.PhaseBatchDeepDive, model.StepPagesExtracted)
	return o.save(ctx, job, b)
}

// extractBatch scrapes the pages of one batch, keeping going past pages
// that fail, and extracts the ones that were fetched in a single call.
func (o *Orchestrator) extractBatch(ctx context.Context, job *model.Job, number int, urls []string, disc *model.DiscoveryData) (*model.DeepDiveResult, error) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.Int("batch", number))

	scraped := resilience.ProcessWithContinuation(ctx, urls,
		func(ctx context.Context, u string, _ int) (model.ScrapedPage, error) {
			page, err := o.scrapePage(ctx, u)
			if err != nil {
				return model.ScrapedPage{}, err
			}
			return *page, nil
		},
		func(u string, _ int, err error) {
			log.Warn("deep dive: page skipped",
				zap.String("url", u),
				zap.String("kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
		},
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &model.DeepDiveResult{BatchNumber: number, Pages: urls}
	for _, e := range scraped.Errors {
		res.Errors = append(res.Errors, model.PageFailure{
			URL:   e.Item,
			Kind:  string(resilience.KindOf(e.Err)),
			Error: e.Err.Error(),
		})
	}
	if len(scraped.Results) == 0 {
		return res, nil
	}

	dive, err := callLLM(ctx, o, "deep_dive", func(ctx context.Context) (*extract.DeepDive, error) {
		return o.extractor.DeepDiveExtraction(ctx, scraped.Results, disc.SectorAnalysis, disc.CompanyInfo)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "deep dive: extract batch %d", number)
	}

	res.Offerings = dive.Offerings
	res.CompanyInfoUpdates = dive.CompanyInfoUpdates
	res.OfferingDetailLinks = dive.OfferingDetailLinks
	res.NeedsDetailScraping = dive.NeedsDetailScraping
	res.Usage = dive.Usage
	log.Info("deep dive: batch extracted",
		zap.Int("pages", len(scraped.Results)),
		zap.Int("failed_pages", len(res.Errors)),
		zap.Int("offerings", len(res.Offerings)),
	)
	return res, nil
}

// detailLinks returns the offering detail pages the extractor asked for,
// without pages already selected, capped at MaxDetailPages.
func (o *Orchestrator) detailLinks(dd *model.DeepDiveData, selected []string) []string {
	if o.cfg.MaxDetailPages == 0 {
		return nil
	}
	seen := make(map[string]bool, len(selected))
	for _, u := range selected {
		seen[strings.TrimSuffix(u, "/")] = true
	}
	var links []string
	for _, b := range dd.Batches {
		if !b.NeedsDetailScraping {
			continue
		}
		for _, l := range b.OfferingDetailLinks {
			key := strings.TrimSuffix(l, "/")
			if seen[key] {
				continue
			}
			seen[key] = true
			links = append(links, l)
			if len(links) == o.cfg.MaxDetailPages {
				return links
			}
		}
	}
	return links
}

// mergeOfferings deduplicates the extracted offerings, folds company
// updates into the discovered company info and hands the job to review.
func (o *Orchestrator) mergeOfferings(ctx context.Context, job *model.Job, dd *model.DeepDiveData, disc *model.DiscoveryData) (*model.Job, error) {
	b := newPatch(job)
	if job.Step(model.PhaseBatchDeepDive) != model.StepOfferingsMerged {
		all := dd.AllOfferings()
		res := o.detector.Detect(ctx, all)

		var company model.CompanyInfo
		if disc.CompanyInfo != nil {
			company = *disc.CompanyInfo
		}
		for _, br := range dd.Batches {
			if br.CompanyInfoUpdates != nil {
				company = company.Merge(*br.CompanyInfoUpdates)
			}
		}

		dd.Offerings = res.UniqueOfferings
		dd.Duplicates = res.Duplicates
		dd.CompanyInfo = &company
		b.put(model.PhaseBatchDeepDive, dd).step(model.PhaseBatchDeepDive, model.StepOfferingsMerged)

		zap.L().Info("deep dive: offerings merged",
			zap.String("job_id", job.ID),
			zap.Int("extracted", len(all)),
			zap.Int("unique", len(res.UniqueOfferings)),
			zap.Int("duplicate_groups", len(res.Duplicates)),
			zap.Int("failed_pages", len(dd.FailedPages)),
		)
	}

	b.step(model.PhaseCompanyInfoReview, model.StepAwaitingReview).moveTo(model.PhaseCompanyInfoReview)
	return o.save(ctx, job, b)
}
