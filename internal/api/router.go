// Package api exposes onboarding operations over HTTP. Responses use a
// {"data": ...} or {"error": {...}} envelope; error status codes follow the
// error kind.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/store"
)

// Service is the onboarding surface the handlers call.
type Service interface {
	StartOnboarding(ctx context.Context, rawURL, userID string) (*model.Job, error)
	GetJobStatus(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	LastActivity(ctx context.Context, id string) (time.Time, bool)
	ResumeOnboarding(ctx context.Context, id string) (*model.Job, error)
	RetryJob(ctx context.Context, id string) (*model.Job, error)
	SelectPages(ctx context.Context, id string, urls []string) (*model.Job, error)
	SkipPageSelection(ctx context.Context, id string) (*model.Job, error)
	ApproveCompany(ctx context.Context, id string, info model.CompanyInfo) (*model.Job, error)
	SelectOfferings(ctx context.Context, id string, offerings []model.Offering) (*model.Job, error)
	GetOfferings(ctx context.Context, jobID string) ([]model.Offering, error)
	AddCustomField(ctx context.Context, offeringID, key string, value any, typ model.FieldType, label string) (*model.Offering, error)
	UpdateCustomField(ctx context.Context, offeringID, key string, value any) (*model.Offering, error)
	RemoveCustomField(ctx context.Context, offeringID, key string) (*model.Offering, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the onboarding API.
type Handler struct {
	svc      Service
	validate *validator.Validate
	maxBody  int64
}

// NewRouter builds the chi router with middleware and every route.
func NewRouter(svc Service, opts Options) http.Handler {
	h := &Handler{svc: svc, validate: validator.New(), maxBody: opts.MaxBodyBytes}
	if h.maxBody <= 0 {
		h.maxBody = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.startJob)
		r.Get("/jobs", h.listJobs)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", h.getJob)
			r.Post("/resume", h.resumeJob)
			r.Post("/retry", h.retryJob)
			r.Post("/pages", h.selectPages)
			r.Post("/pages/skip", h.skipPages)
			r.Post("/company", h.approveCompany)
			r.Post("/offerings", h.selectOfferings)
			r.Get("/offerings", h.listOfferings)
		})
		r.Route("/offerings/{offeringID}/fields", func(r chi.Router) {
			r.Post("/", h.addField)
			r.Patch("/{key}", h.updateField)
			r.Delete("/{key}", h.removeField)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route", nil)
	})
	return r
}
