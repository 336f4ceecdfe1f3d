package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// ErrNotFound is returned by updates that match no row.
var ErrNotFound = &resilience.Error{Kind: resilience.KindNotFound, Op: "store", Err: eris.New("not found")}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for onboarding jobs and their
// outputs. Lookups return nil, nil when nothing matches.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Tenants, one per job
	SaveTenant(ctx context.Context, tenant *model.Tenant) error
	GetTenantByJob(ctx context.Context, jobID string) (*model.Tenant, error)

	// Offerings. SaveOfferings replaces every offering of the tenant.
	SaveOfferings(ctx context.Context, tenantID string, offerings []model.Offering) ([]model.Offering, error)
	ListOfferings(ctx context.Context, tenantID string) ([]model.Offering, error)
	GetOffering(ctx context.Context, id string) (*model.Offering, error)
	UpdateOffering(ctx context.Context, offering *model.Offering) error

	// Dead letter queue, one entry per job
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, jobID string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, jobID string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// prepareOfferings assigns ids, owner and timestamps before a save.
func prepareOfferings(tenantID string, offerings []model.Offering, now time.Time, newID func() string) []model.Offering {
	out := make([]model.Offering, len(offerings))
	for i, o := range offerings {
		o = o.Clone()
		if o.ID == "" {
			o.ID = newID()
		}
		o.TenantID = tenantID
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		out[i] = o
	}
	return out
}
