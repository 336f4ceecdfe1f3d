// Package onboarding drives a website onboarding job through its phases:
// discovery, page selection, batched deep dive, company review, offering
// selection and completion. Every step is persisted before the job moves
// on, so an interrupted or failed job resumes where it stopped.
package onboarding

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/batch"
	"github.com/sells-group/onboarding-cli/internal/cache"
	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/dedupe"
	"github.com/sells-group/onboarding-cli/internal/extract"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
	"github.com/sells-group/onboarding-cli/internal/scrape"
	"github.com/sells-group/onboarding-cli/internal/store"
)

var (
	ErrJobNotFound      = resilience.NewError(resilience.KindNotFound, "onboarding", eris.New("job not found"))
	ErrOfferingNotFound = resilience.NewError(resilience.KindNotFound, "onboarding", eris.New("offering not found"))
	ErrWrongPhase       = resilience.NewError(resilience.KindConflict, "onboarding", eris.New("job is not in the expected phase"))
	ErrJobNotFailed     = resilience.NewError(resilience.KindConflict, "onboarding", eris.New("job has not failed"))
	ErrInvalidURL       = resilience.NewError(resilience.KindValidation, "onboarding", eris.New("url must be an absolute http or https URL"))
	ErrInvalidSelection = resilience.NewError(resilience.KindValidation, "onboarding", eris.New("invalid selection"))
)

// Config holds orchestrator settings.
type Config struct {
	BatchSize      int
	BatchMinDelay  time.Duration
	BatchMaxDelay  time.Duration
	MaxDetailPages int
	ScrapePolicy   resilience.Policy
	LLMPolicy      resilience.Policy
	Circuit        resilience.CircuitBreakerConfig
	DLQMaxRetries  int
	ActivityTTL    time.Duration

	// Async runs automatic phase work (the deep dive after page selection)
	// in the background instead of inside the calling request.
	Async bool
}

// ConfigFrom builds an orchestrator Config from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BatchSize:      cfg.Batch.Size,
		BatchMinDelay:  time.Duration(cfg.Batch.MinDelayMs) * time.Millisecond,
		BatchMaxDelay:  time.Duration(cfg.Batch.MaxDelayMs) * time.Millisecond,
		MaxDetailPages: cfg.Discovery.MaxDetailPages,
		ScrapePolicy:   resilience.FromRetryConfig(resilience.ScrapePolicy(), cfg.Retry.Scrape.MaxRetries, cfg.Retry.Scrape.DelaysMs),
		LLMPolicy:      resilience.FromRetryConfig(resilience.LLMPolicy(), cfg.Retry.LLM.MaxRetries, cfg.Retry.LLM.DelaysMs),
		Circuit:        resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		DLQMaxRetries:  cfg.DLQ.MaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize < 1 {
		c.BatchSize = batch.DefaultSize
	}
	if c.MaxDetailPages < 0 {
		c.MaxDetailPages = 0
	}
	if c.ScrapePolicy.MaxRetries == 0 && len(c.ScrapePolicy.Delays) == 0 {
		c.ScrapePolicy = resilience.ScrapePolicy()
	}
	if c.LLMPolicy.MaxRetries == 0 && len(c.LLMPolicy.Delays) == 0 {
		c.LLMPolicy = resilience.LLMPolicy()
	}
	if c.DLQMaxRetries <= 0 {
		c.DLQMaxRetries = 3
	}
	if c.ActivityTTL <= 0 {
		c.ActivityTTL = 24 * time.Hour
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDetector replaces the default duplicate detector.
func WithDetector(d *dedupe.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithCache records job activity in c.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithPromptBuilder sets the builder for the tenant's chatbot prompt.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(o *Orchestrator) { o.prompts = b }
}

// WithScheduler replaces the batch scheduler built from Config.
func WithScheduler(s *batch.Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// Orchestrator owns the onboarding state machine.
type Orchestrator struct {
	store     store.Store
	scraper   scrape.Scraper
	extractor extract.Extractor
	detector  *dedupe.Detector
	cache     cache.Cache
	prompts   PromptBuilder
	scheduler *batch.Scheduler
	breakers  *resilience.ServiceBreakers
	cfg       Config

	locks   *keyedMutex
	wg      sync.WaitGroup
	nowFunc func() time.Time
	newID   func() string
}

// New creates an Orchestrator.
func New(st store.Store, scraper scrape.Scraper, ex extract.Extractor, cfg Config, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		store:     st,
		scraper:   scraper,
		extractor: ex,
		detector:  dedupe.NewDetector(),
		prompts:   StructuredPrompt{},
		scheduler: batch.NewScheduler(cfg.BatchMinDelay, cfg.BatchMaxDelay),
		breakers:  resilience.NewServiceBreakers(cfg.Circuit),
		cfg:       cfg,
		locks:     newKeyedMutex(),
		nowFunc:   time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Wait blocks until background phase work has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) now() time.Time {
	return o.nowFunc().UTC()
}

// StartOnboarding validates rawURL, persists a new job and runs discovery.
// A discovery failure leaves the job stored as FAILED and is reported
// through the returned job, not as an error.
func (o *Orchestrator) StartOnboarding(ctx context.Context, rawURL, userID string) (*model.Job, error) {
	siteURL, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:           o.newID(),
		URL:          siteURL,
		UserID:       strings.TrimSpace(userID),
		CurrentPhase: model.PhaseSmartDiscovery,
		Status:       model.JobStatusInProgress,
		PhaseData:    model.PhaseData{},
	}

	unlock := o.locks.Lock(job.ID)
	defer unlock()

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "onboarding: create job")
	}
	o.touch(ctx, job.ID)
	zap.L().Info("onboarding: job created",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("user_id", job.UserID),
	)

	return o.drive(ctx, job)
}

// GetJobStatus returns the stored job, or nil when there is none.
func (o *Orchestrator) GetJobStatus(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "onboarding: get job %s", id)
	}
	return job, nil
}

// ListJobs returns stored jobs matching filter.
func (o *Orchestrator) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	jobs, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "onboarding: list jobs")
	}
	return jobs, nil
}

// LastActivity returns when the job was last written, if the activity
// cache still holds it.
func (o *Orchestrator) LastActivity(ctx context.Context, id string) (time.Time, bool) {
	if o.cache == nil {
		return time.Time{}, false
	}
	var at time.Time
	ok, err := cache.GetJSON(ctx, o.cache, cache.JobActivityKey(id), &at)
	if err != nil || !ok {
		return time.Time{}, false
	}
	return at, true
}

// GetOfferings returns the offerings saved for the job's tenant.
func (o *Orchestrator) GetOfferings(ctx context.Context, jobID string) ([]model.Offering, error) {
	tenant, err := o.store.GetTenantByJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "onboarding: get tenant of job %s", jobID)
	}
	if tenant == nil {
		return nil, nil
	}
	offerings, err := o.store.ListOfferings(ctx, tenant.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "onboarding: list offerings of tenant %s", tenant.ID)
	}
	return offerings, nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(ErrInvalidURL, "parse %q: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", eris.Wrapf(ErrInvalidURL, "url %q", raw)
	}
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

// load fetches a job or fails with ErrJobNotFound.
func (o *Orchestrator) load(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "onboarding: get job %s", id)
	}
	if job == nil {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return job, nil
}

// save writes a patch and returns the stored job.
func (o *Orchestrator) save(ctx context.Context, job *model.Job, b *patchBuilder) (*model.Job, error) {
	patch, err := b.build()
	if err != nil {
		return nil, err
	}
	updated, err := o.store.UpdateJob(ctx, job.ID, patch)
	if err != nil {
		return nil, eris.Wrapf(err, "onboarding: update job %s", job.ID)
	}
	if updated == nil {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", job.ID)
	}
	o.touch(ctx, job.ID)
	return updated, nil
}

// touch records job activity. Cache failures are logged only.
func (o *Orchestrator) touch(ctx context.Context, id string) {
	if o.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, o.cache, cache.JobActivityKey(id), o.now(), o.cfg.ActivityTTL); err != nil {
		zap.L().Debug("onboarding: record activity failed", zap.String("job_id", id), zap.Error(err))
	}
}
