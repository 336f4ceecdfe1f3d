package onboarding

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/onboarding-cli/internal/extract"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

func ptr[T any](v T) *T { return &v }

func offeringNames(offerings []model.Offering) []string {
	names := make([]string, len(offerings))
	for i, o := range offerings {
		names[i] = o.Name
	}
	return names
}

// expectSitePages answers scrapes of the three suggested pages.
func (e *testEnv) expectSitePages() {
	for _, p := range []*model.ScrapedPage{
		page("/hizmetler", "## Hizmetler\nSaç kesimi 250 TL"),
		page("/fiyatlar", "## Fiyatlar"),
		page("/iletisim", "## İletişim\nKadıköy"),
	} {
		e.sc.On("Scrape", mock.Anything, p.URL).Return(p, nil)
	}
}

func TestOnboarding_FullFlow(t *testing.T) {
	env := newTestEnv(t, Config{BatchSize: 2})
	env.expectDiscovery()
	env.expectSitePages()
	env.sc.On("Scrape", mock.Anything, site+"/kampanyalar").
		Return(nil, resilience.HTTPError("local", 404, eris.New("page not found")))
	detail := page("/hizmetler/sac-kesimi", "## Saç Kesimi\nKadın saç kesimi 400 TL")
	env.sc.On("Scrape", mock.Anything, detail.URL).Return(detail, nil)

	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(site+"/hizmetler", site+"/fiyatlar"), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings: []model.Offering{
				{Name: "Saç Kesimi", Type: model.OfferingTypeService, Price: ptr(250.0), Currency: "TRY", SourceURL: site + "/hizmetler"},
				{Name: "Sakal Tıraşı", Type: model.OfferingTypeService, SourceURL: site + "/hizmetler"},
			},
			CompanyInfoUpdates:  &model.CompanyInfo{WorkingHours: "09:00-20:00"},
			OfferingDetailLinks: []string{detail.URL, site + "/fiyatlar"},
			NeedsDetailScraping: true,
			Usage:               model.Usage{Calls: 1, Cost: 0.02},
		}, nil)
	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(site+"/iletisim"), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings:          []model.Offering{{Name: "saç kesimi", Type: model.OfferingTypeService, SourceURL: site + "/iletisim"}},
			CompanyInfoUpdates: &model.CompanyInfo{Phone: "0216 000 00 00", Address: "Kadıköy, İstanbul"},
			Usage:              model.Usage{Calls: 1, Cost: 0.02},
		}, nil)
	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(detail.URL), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings: []model.Offering{{Name: "Saç Kesimi Kadın", Type: model.OfferingTypeService, Price: ptr(400.0), SourceURL: detail.URL}},
			Usage:     model.Usage{Calls: 1, Cost: 0.02},
		}, nil)

	ctx := context.Background()
	job := env.start(t)

	job, err := env.o.SelectPages(ctx, job.ID, []string{
		site + "/hizmetler", site + "/fiyatlar", site + "/iletisim", site + "/kampanyalar", site + "/hizmetler/",
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, job.Status)
	assert.Equal(t, model.PhaseCompanyInfoReview, job.CurrentPhase)
	assert.Equal(t, model.StepPagesSelected, job.Step(model.PhaseSmartPageSelection))
	assert.Equal(t, model.StepOfferingsMerged, job.Step(model.PhaseBatchDeepDive))
	assert.Equal(t, model.StepAwaitingReview, job.Step(model.PhaseCompanyInfoReview))

	sel := decodePhase[model.PageSelectionData](t, job, model.PhaseSmartPageSelection)
	require.Len(t, sel.SelectedPages, 4)
	assert.Equal(t, model.PriorityCritical, sel.SelectedPages[0].Priority)
	assert.Equal(t, "added by user", sel.SelectedPages[3].Reason)

	dd := decodePhase[model.DeepDiveData](t, job, model.PhaseBatchDeepDive)
	assert.Equal(t, 2, dd.TotalBatches)
	assert.Len(t, dd.Batches, 3)
	assert.True(t, dd.DetailPagesDone)
	assert.Equal(t, 4, dd.ExtractedPages)
	require.Len(t, dd.FailedPages, 1)
	assert.Equal(t, site+"/kampanyalar", dd.FailedPages[0].URL)
	assert.Equal(t, string(resilience.KindNotFound), dd.FailedPages[0].Kind)

	assert.Equal(t, []string{"Saç Kesimi", "Sakal Tıraşı", "Saç Kesimi Kadın"}, offeringNames(dd.Offerings))
	require.NotNil(t, dd.Offerings[0].Price)
	assert.InDelta(t, 250.0, *dd.Offerings[0].Price, 1e-9)
	require.Len(t, dd.Duplicates, 1)
	assert.Len(t, dd.Duplicates[0].Members, 2)
	assert.Equal(t, model.RecommendationMerge, dd.Duplicates[0].Recommendation)

	require.NotNil(t, dd.CompanyInfo)
	assert.Equal(t, "Berber Ali", dd.CompanyInfo.Name)
	assert.Equal(t, "0555 111 22 33", dd.CompanyInfo.Phone)
	assert.Equal(t, "Kadıköy, İstanbul", dd.CompanyInfo.Address)
	assert.Equal(t, "09:00-20:00", dd.CompanyInfo.WorkingHours)

	usage, err := job.PhaseData.Usage()
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Calls)
	assert.InDelta(t, 0.07, usage.Cost, 1e-9)

	company := *dd.CompanyInfo
	company.Name = "<b>Berber Ali</b>"
	company.Website = ""
	job, err = env.o.ApproveCompany(ctx, job.ID, company)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseOfferingSelection, job.CurrentPhase)
	review := decodePhase[model.CompanyReviewData](t, job, model.PhaseCompanyInfoReview)
	assert.Equal(t, "Berber Ali", review.CompanyInfo.Name)
	assert.Equal(t, site, review.CompanyInfo.Website)

	chosen := append([]model.Offering{}, dd.Offerings[:2]...)
	chosen = append(chosen, model.Offering{Name: " Çocuk Tıraşı ", Currency: "try", Price: ptr(150.0)})
	job, err = env.o.SelectOfferings(ctx, job.ID, chosen)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, model.PhaseCompletion, job.CurrentPhase)
	assert.Equal(t, model.StepOfferingsSaved, job.Step(model.PhaseOfferingSelection))
	assert.Equal(t, model.StepDone, job.Step(model.PhaseCompletion))

	done := decodePhase[model.CompletionData](t, job, model.PhaseCompletion)
	assert.Equal(t, 3, done.OfferingCount)
	assert.NotEmpty(t, done.TenantID)

	saved, err := env.o.GetOfferings(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	for _, o := range saved {
		assert.NotEmpty(t, o.ID)
		assert.Equal(t, done.TenantID, o.TenantID)
	}
	assert.Equal(t, "Çocuk Tıraşı", saved[2].Name)
	assert.Equal(t, model.OfferingTypeService, saved[2].Type)
	assert.Equal(t, "TRY", saved[2].Currency)
	assert.Equal(t, site, saved[2].SourceURL)

	tenant, err := env.st.GetTenantByJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, done.TenantID, tenant.ID)
	assert.Equal(t, "Berber Ali", tenant.Name)
	assert.Equal(t, "user-1", tenant.UserID)
	assert.Contains(t, tenant.Prompt, "Sakal Tıraşı")

	// A completed job resumes to itself without new work.
	resumed, err := env.o.ResumeOnboarding(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, resumed.Status)
	env.sc.AssertNumberOfCalls(t, "Scrape", 6)
	env.ex.AssertNumberOfCalls(t, "SmartDiscovery", 1)
	env.ex.AssertNumberOfCalls(t, "DeepDiveExtraction", 3)

	again, err := env.st.ListOfferings(ctx, done.TenantID)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.ElementsMatch(t, offeringNames(saved), offeringNames(again))
	tenantAgain, err := env.st.GetTenantByJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, tenantAgain)
	assert.Equal(t, tenant.ID, tenantAgain.ID)
	assert.Equal(t, tenant.CreatedAt.Unix(), tenantAgain.CreatedAt.Unix())
}

func TestDeepDive_RetrySkipsFinishedBatches(t *testing.T) {
	env := newTestEnv(t, Config{BatchSize: 2})
	env.expectDiscovery()
	env.expectSitePages()

	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(site+"/hizmetler", site+"/fiyatlar"), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings: []model.Offering{{Name: "Saç Kesimi", Type: model.OfferingTypeService}},
			Usage:     model.Usage{Calls: 1, Cost: 0.02},
		}, nil)
	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(site+"/iletisim"), mock.Anything, mock.Anything).
		Return(nil, resilience.HTTPError("anthropic", 401, eris.New("invalid api key"))).Once()

	ctx := context.Background()
	job := env.start(t)

	job, err := env.o.SelectPages(ctx, job.ID, []string{site + "/hizmetler", site + "/fiyatlar", site + "/iletisim"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, model.PhaseBatchDeepDive, job.CurrentPhase)
	assert.Equal(t, model.StepBatchesRunning, job.Step(model.PhaseBatchDeepDive))

	dd := decodePhase[model.DeepDiveData](t, job, model.PhaseBatchDeepDive)
	assert.Equal(t, 2, dd.TotalBatches)
	require.Len(t, dd.Batches, 1)
	assert.Equal(t, 1, dd.Batches[0].BatchNumber)

	errs, err := job.PhaseData.Errors()
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, model.PhaseBatchDeepDive, errs[0].Phase)
	assert.Equal(t, string(resilience.KindAuth), errs[0].Kind)

	count, err := env.st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(site+"/iletisim"), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings: []model.Offering{{Name: "Sakal Tıraşı", Type: model.OfferingTypeService}},
			Usage:     model.Usage{Calls: 1, Cost: 0.02},
		}, nil)

	job, err = env.o.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, job.Status)
	assert.Equal(t, model.PhaseCompanyInfoReview, job.CurrentPhase)

	dd = decodePhase[model.DeepDiveData](t, job, model.PhaseBatchDeepDive)
	assert.Equal(t, []string{"Saç Kesimi", "Sakal Tıraşı"}, offeringNames(dd.Offerings))

	assert.Equal(t, 1, scrapeCount(env.sc, site+"/hizmetler"))
	assert.Equal(t, 1, scrapeCount(env.sc, site+"/fiyatlar"))
	assert.Equal(t, 2, scrapeCount(env.sc, site+"/iletisim"))
	env.ex.AssertNumberOfCalls(t, "DeepDiveExtraction", 3)

	// Errors stay on record after recovery.
	errs, err = job.PhaseData.Errors()
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	count, err = env.st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeepDive_NothingScrapedFailsPhase(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.expectDiscovery()
	env.sc.On("Scrape", mock.Anything, site+"/hizmetler").
		Return(nil, resilience.HTTPError("local", 410, eris.New("gone")))

	job := env.start(t)
	job, err := env.o.SelectPages(context.Background(), job.ID, []string{site + "/hizmetler"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)

	errs, err := job.PhaseData.Errors()
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, string(resilience.KindScrape), errs[0].Kind)
	env.ex.AssertNotCalled(t, "DeepDiveExtraction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	dd := decodePhase[model.DeepDiveData](t, job, model.PhaseBatchDeepDive)
	assert.Empty(t, dd.Batches, "a retry must fetch the pages again")
}

func TestDeepDive_DetailPagesCapped(t *testing.T) {
	env := newTestEnv(t, Config{BatchSize: 5, MaxDetailPages: 1})
	env.expectDiscovery()
	env.expectSitePages()
	first := page("/hizmetler/sac-kesimi", "detay")
	env.sc.On("Scrape", mock.Anything, first.URL).Return(first, nil)

	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(site+"/hizmetler"), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings:           []model.Offering{{Name: "Saç Kesimi", Type: model.OfferingTypeService}},
			OfferingDetailLinks: []string{first.URL, site + "/hizmetler/sakal"},
			NeedsDetailScraping: true,
		}, nil)
	env.ex.On("DeepDiveExtraction", mock.Anything, pagesAre(first.URL), mock.Anything, mock.Anything).
		Return(&extract.DeepDive{
			Offerings:           []model.Offering{{Name: "Saç Kesimi Kadın", Type: model.OfferingTypeService}},
			OfferingDetailLinks: []string{site + "/hizmetler/sac-kesimi/kisa"},
			NeedsDetailScraping: true,
		}, nil)

	job := env.start(t)
	job, err := env.o.SelectPages(context.Background(), job.ID, []string{site + "/hizmetler"})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompanyInfoReview, job.CurrentPhase)

	dd := decodePhase[model.DeepDiveData](t, job, model.PhaseBatchDeepDive)
	require.Len(t, dd.Batches, 2)
	assert.Equal(t, 2, dd.Batches[1].BatchNumber)
	assert.Equal(t, []string{first.URL}, dd.Batches[1].Pages)
	// Links found on detail pages are not followed.
	assert.Equal(t, 0, scrapeCount(env.sc, site+"/hizmetler/sac-kesimi/kisa"))
	assert.Equal(t, 0, scrapeCount(env.sc, site+"/hizmetler/sakal"))
}

func TestDeepDive_AsyncRunsInBackground(t *testing.T) {
	env := newTestEnv(t, Config{Async: true})
	env.expectDiscovery()
	env.expectSitePages()
	env.ex.On("DeepDiveExtraction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&extract.DeepDive{Offerings: []model.Offering{{Name: "Saç Kesimi", Type: model.OfferingTypeService}}}, nil)

	ctx := context.Background()
	job := env.start(t)
	job, err := env.o.SelectPages(ctx, job.ID, []string{site + "/hizmetler", site + "/fiyatlar"})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseBatchDeepDive, job.CurrentPhase)

	env.o.Wait()

	stored, err := env.o.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, stored.Status)
	assert.Equal(t, model.PhaseCompanyInfoReview, stored.CurrentPhase)
}
