package onboarding

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/extract"
	"github.com/sells-group/onboarding-cli/internal/model"
)

// runDiscovery scrapes the homepage and asks the extractor for the sector,
// company details and pages worth a deep dive. The homepage is stored
// before the extraction call so a retry does not fetch it again.
func (o *Orchestrator) runDiscovery(ctx context.Context, job *model.Job) (*model.Job, error) {
	var data model.DiscoveryData
	if err := decode(job, model.PhaseSmartDiscovery, &data); err != nil {
		return nil, err
	}

	step := job.Step(model.PhaseSmartDiscovery)
	if step == model.StepNone || data.Homepage == nil {
		page, err := o.scrapePage(ctx, job.URL)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: scrape homepage %s", job.URL)
		}
		data.Homepage = page

		b := newPatch(job).
			put(model.PhaseSmartDiscovery, data).
			step(model.PhaseSmartDiscovery, model.StepHomepageScraped)
		if job, err = o.save(ctx, job, b); err != nil {
			return nil, err
		}
		step = model.StepHomepageScraped
	}

	b := newPatch(job)
	if step != model.StepDiscoveryExtracted {
		found, err := callLLM(ctx, o, "smart_discovery", func(ctx context.Context) (*extract.Discovery, error) {
			return o.extractor.SmartDiscovery(ctx, data.Homepage.Markdown, data.Homepage.Links)
		})
		if err != nil {
			return nil, eris.Wrap(err, "discovery: extract")
		}

		company := found.CompanyInfo
		if company.Website == "" {
			company.Website = job.URL
		}
		data.SectorAnalysis = &found.SectorAnalysis
		data.CompanyInfo = &company
		data.SuggestedPages = found.SuggestedPages
		b.put(model.PhaseSmartDiscovery, data).addUsage(found.Usage)

		zap.L().Info("discovery: pages suggested",
			zap.String("job_id", job.ID),
			zap.String("sector", found.SectorAnalysis.Sector),
			zap.Int("suggested_pages", len(found.SuggestedPages)),
		)
	}

	b.step(model.PhaseSmartDiscovery, model.StepDiscoveryExtracted).
		step(model.PhaseSmartPageSelection, model.StepAwaitingSelection).
		moveTo(model.PhaseSmartPageSelection)
	return o.save(ctx, job, b)
}
