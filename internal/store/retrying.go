package store

import (
	"context"
	"time"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// Retrying wraps a Store so every call runs under a retry policy. Only
// retryable failures (network, timeout, server) are retried.
type Retrying struct {
	next   Store
	policy resilience.Policy
}

// NewRetrying wraps next with policy.
func NewRetrying(next Store, policy resilience.Policy) *Retrying {
	if policy.OnRetry == nil {
		policy = policy.WithOnRetry(resilience.RetryLogger("store", "query"))
	}
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.RetryWithCondition(ctx, r.policy, resilience.IsRetryable, fn)
}

func retryVal[T any](ctx context.Context, r *Retrying, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.RetryValWithCondition(ctx, r.policy, resilience.IsRetryable, fn)
}

func (r *Retrying) CreateJob(ctx context.Context, job *model.Job) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.CreateJob(ctx, job) })
}

func (r *Retrying) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return retryVal(ctx, r, func(ctx context.Context) (*model.Job, error) { return r.next.GetJob(ctx, id) })
}

// UpdateJob is safe to repeat: phase data merges are idempotent.
func (r *Retrying) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	return retryVal(ctx, r, func(ctx context.Context) (*model.Job, error) { return r.next.UpdateJob(ctx, id, patch) })
}

func (r *Retrying) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	return retryVal(ctx, r, func(ctx context.Context) ([]model.Job, error) { return r.next.ListJobs(ctx, filter) })
}

func (r *Retrying) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.SaveTenant(ctx, tenant) })
}

func (r *Retrying) GetTenantByJob(ctx context.Context, jobID string) (*model.Tenant, error) {
	return retryVal(ctx, r, func(ctx context.Context) (*model.Tenant, error) { return r.next.GetTenantByJob(ctx, jobID) })
}

func (r *Retrying) SaveOfferings(ctx context.Context, tenantID string, offerings []model.Offering) ([]model.Offering, error) {
	return retryVal(ctx, r, func(ctx context.Context) ([]model.Offering, error) {
		return r.next.SaveOfferings(ctx, tenantID, offerings)
	})
}

func (r *Retrying) ListOfferings(ctx context.Context, tenantID string) ([]model.Offering, error) {
	return retryVal(ctx, r, func(ctx context.Context) ([]model.Offering, error) { return r.next.ListOfferings(ctx, tenantID) })
}

func (r *Retrying) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return retryVal(ctx, r, func(ctx context.Context) (*model.Offering, error) { return r.next.GetOffering(ctx, id) })
}

func (r *Retrying) UpdateOffering(ctx context.Context, offering *model.Offering) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.UpdateOffering(ctx, offering) })
}

func (r *Retrying) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.EnqueueDLQ(ctx, entry) })
}

func (r *Retrying) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return retryVal(ctx, r, func(ctx context.Context) ([]resilience.DLQEntry, error) { return r.next.ListDLQ(ctx, filter) })
}

// IncrementDLQRetry is not retried; a repeat would count twice.
func (r *Retrying) IncrementDLQRetry(ctx context.Context, jobID string, nextRetryAt time.Time, lastErr string) error {
	return r.next.IncrementDLQRetry(ctx, jobID, nextRetryAt, lastErr)
}

func (r *Retrying) RemoveDLQ(ctx context.Context, jobID string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.next.RemoveDLQ(ctx, jobID) })
}

func (r *Retrying) CountDLQ(ctx context.Context) (int, error) {
	return retryVal(ctx, r, func(ctx context.Context) (int, error) { return r.next.CountDLQ(ctx) })
}

func (r *Retrying) Ping(ctx context.Context) error    { return r.next.Ping(ctx) }
func (r *Retrying) Migrate(ctx context.Context) error { return r.next.Migrate(ctx) }
func (r *Retrying) Close() error                      { return r.next.Close() }

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*Retrying)(nil)
)
