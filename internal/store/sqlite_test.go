package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestJob(t *testing.T, st Store) *model.Job {
	t.Helper()
	job := &model.Job{
		URL:          "https://berber.example",
		UserID:       "user-1",
		CurrentPhase: model.PhaseSmartDiscovery,
		Status:       model.JobStatusInProgress,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// --- Jobs ---

func TestSQLite_CreateAndGetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := newTestJob(t, st)
	assert.NotEmpty(t, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.URL, got.URL)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, model.PhaseSmartDiscovery, got.CurrentPhase)
	assert.Equal(t, model.JobStatusInProgress, got.Status)
	assert.Empty(t, got.PhaseData)
}

func TestSQLite_CreateJob_Repeatable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := newTestJob(t, st)
	require.NoError(t, st.CreateJob(ctx, job))

	jobs, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSQLite_GetJob_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_UpdateJob_MergesPhaseData(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := newTestJob(t, st)

	_, err := st.UpdateJob(ctx, job.ID, model.JobPatch{
		PhaseData: model.PhaseData{string(model.PhaseSmartDiscovery): rawJSON(t, map[string]string{"a": "1"})},
	})
	require.NoError(t, err)

	updated, err := st.UpdateJob(ctx, job.ID, model.JobPatch{
		CurrentPhase: model.PhasePtr(model.PhaseSmartPageSelection),
		PhaseData:    model.PhaseData{string(model.PhaseSmartPageSelection): rawJSON(t, map[string]string{"b": "2"})},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSmartPageSelection, updated.CurrentPhase)
	assert.Equal(t, model.JobStatusInProgress, updated.Status)
	assert.True(t, updated.PhaseData.Has(string(model.PhaseSmartDiscovery)))
	assert.True(t, updated.PhaseData.Has(string(model.PhaseSmartPageSelection)))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.PhaseData, 2)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestSQLite_UpdateJob_StatusOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := newTestJob(t, st)

	updated, err := st.UpdateJob(ctx, job.ID, model.JobPatch{Status: model.StatusPtr(model.JobStatusFailed)})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, updated.Status)
	assert.Equal(t, model.PhaseSmartDiscovery, updated.CurrentPhase)
}

func TestSQLite_UpdateJob_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.UpdateJob(context.Background(), "nope", model.JobPatch{Status: model.StatusPtr(model.JobStatusFailed)})
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.KindOf(err))
}

func TestSQLite_ListJobs_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := newTestJob(t, st)
	newTestJob(t, st)
	_, err := st.UpdateJob(ctx, a.ID, model.JobPatch{Status: model.StatusPtr(model.JobStatusFailed)})
	require.NoError(t, err)

	failed, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)

	mine, err := st.ListJobs(ctx, JobFilter{UserID: "user-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := st.ListJobs(ctx, JobFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Tenants ---

func TestSQLite_SaveTenant_UpsertsByJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := newTestJob(t, st)

	first := &model.Tenant{
		JobID:       job.ID,
		UserID:      job.UserID,
		Name:        "Berber Ali",
		CompanyInfo: model.CompanyInfo{Name: "Berber Ali", Phone: "+90 555"},
		Sector:      &model.SectorAnalysis{Sector: "beauty", Confidence: 0.9},
	}
	require.NoError(t, st.SaveTenant(ctx, first))

	second := &model.Tenant{JobID: job.ID, UserID: job.UserID, Name: "Berber Ali Kuaför"}
	require.NoError(t, st.SaveTenant(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := st.GetTenantByJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Berber Ali Kuaför", got.Name)
	assert.Nil(t, got.Sector)
}

// tenantSaveCounter counts SaveTenant calls reaching the wrapped store.
type tenantSaveCounter struct {
	Store
	saves int
}

func (c *tenantSaveCounter) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
	c.saves++
	return c.Store.SaveTenant(ctx, tenant)
}

func TestSQLite_SaveTenant_DuplicateIDIsConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	tenant := newTestTenant(t, st)
	other := newTestJob(t, st)

	err := st.SaveTenant(ctx, &model.Tenant{ID: tenant.ID, JobID: other.ID, UserID: other.UserID, Name: "Kopya"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindConflict, resilience.KindOf(err))
	assert.False(t, resilience.IsRetryable(err))

	counter := &tenantSaveCounter{Store: st}
	err = NewRetrying(counter, fastPolicy()).SaveTenant(ctx, &model.Tenant{ID: tenant.ID, JobID: other.ID, UserID: other.UserID, Name: "Kopya"})
	require.Error(t, err)
	assert.Equal(t, 1, counter.saves)
	var exhausted *resilience.RetryExhaustedError
	assert.NotErrorAs(t, err, &exhausted)
}

func TestSQLite_GetTenantByJob_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetTenantByJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Offerings ---

func newTestTenant(t *testing.T, st Store) *model.Tenant {
	t.Helper()
	job := newTestJob(t, st)
	tenant := &model.Tenant{JobID: job.ID, UserID: job.UserID, Name: "Acme"}
	require.NoError(t, st.SaveTenant(context.Background(), tenant))
	return tenant
}

func TestSQLite_SaveOfferings_ReplaceIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	tenant := newTestTenant(t, st)

	price := 250.0
	offerings := []model.Offering{
		{Name: "Saç Kesimi", Type: model.OfferingTypeService, Price: &price, Currency: "TRY"},
		{Name: "Sakal Tıraşı", Type: model.OfferingTypeService},
	}

	saved, err := st.SaveOfferings(ctx, tenant.ID, offerings)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.NotEmpty(t, saved[0].ID)
	assert.Equal(t, tenant.ID, saved[0].TenantID)

	// Saving the same input again leaves the same number of rows.
	_, err = st.SaveOfferings(ctx, tenant.ID, offerings)
	require.NoError(t, err)

	got, err := st.ListOfferings(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Saç Kesimi", got[0].Name)
	require.NotNil(t, got[0].Price)
	assert.InDelta(t, 250.0, *got[0].Price, 0.001)
	assert.Nil(t, got[1].Price)
}

func TestSQLite_MetaInfoRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	tenant := newTestTenant(t, st)

	meta := map[string]any{
		"duration": float64(45),
		"tags":     []any{"a", "b"},
		"nested":   map[string]any{"ok": true, "none": nil},
	}
	saved, err := st.SaveOfferings(ctx, tenant.ID, []model.Offering{
		{Name: "Boya", Type: model.OfferingTypeService, MetaInfo: meta},
	})
	require.NoError(t, err)

	got, err := st.GetOffering(ctx, saved[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta, got.MetaInfo)
}

func TestSQLite_SaveOfferings_RejectsInvalidMeta(t *testing.T) {
	st := newTestSQLiteStore(t)
	tenant := newTestTenant(t, st)

	_, err := st.SaveOfferings(context.Background(), tenant.ID, []model.Offering{
		{Name: "Bad", Type: model.OfferingTypeProduct, MetaInfo: map[string]any{"ch": make(chan int)}},
	})
	require.Error(t, err)
	assert.Equal(t, resilience.KindValidation, resilience.KindOf(err))
}

func TestSQLite_UpdateOffering(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	tenant := newTestTenant(t, st)

	saved, err := st.SaveOfferings(ctx, tenant.ID, []model.Offering{{Name: "Kesim", Type: model.OfferingTypeService}})
	require.NoError(t, err)

	o := saved[0]
	o.MetaInfo = map[string]any{"duration": "30 dk"}
	require.NoError(t, st.UpdateOffering(ctx, &o))

	got, err := st.GetOffering(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "30 dk", got.MetaInfo["duration"])

	missing := model.Offering{ID: "nope", Name: "x", Type: model.OfferingTypeService}
	err = st.UpdateOffering(ctx, &missing)
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.KindOf(err))
}

func TestSQLite_GetOffering_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetOffering(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Dead letter queue ---

func TestSQLite_DLQ_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	entry := resilience.DLQEntry{
		JobID:       "job-1",
		URL:         "https://acme.example",
		Error:       "503 Service Unavailable",
		ErrorType:   "transient",
		ErrorKind:   resilience.KindServer,
		FailedPhase: string(model.PhaseBatchDeepDive),
		MaxRetries:  3,
		NextRetryAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	// A second failure for the same job updates the entry in place.
	entry.Error = "timeout"
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, err := st.ListDLQ(ctx, resilience.DLQFilter{Due: true})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "job-1", due[0].JobID)
	assert.Equal(t, "timeout", due[0].Error)
	assert.Equal(t, resilience.KindServer, due[0].ErrorKind)

	require.NoError(t, st.IncrementDLQRetry(ctx, "job-1", time.Now().Add(time.Hour), "still down"))
	due, err = st.ListDLQ(ctx, resilience.DLQFilter{Due: true})
	require.NoError(t, err)
	assert.Empty(t, due)

	all, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].RetryCount)

	require.NoError(t, st.RemoveDLQ(ctx, "job-1"))
	n, err = st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = st.IncrementDLQRetry(ctx, "job-1", time.Now(), "x")
	assert.Equal(t, resilience.KindNotFound, resilience.KindOf(err))
}

func TestSQLite_DLQ_FilterErrorType(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, e := range []resilience.DLQEntry{
		{JobID: "t", URL: "https://t.example", Error: "timeout", ErrorType: "transient", MaxRetries: 3, NextRetryAt: time.Now()},
		{JobID: "p", URL: "https://p.example", Error: "bad input", ErrorType: "permanent", MaxRetries: 3, NextRetryAt: time.Now()},
	} {
		require.NoError(t, st.EnqueueDLQ(ctx, e))
	}

	permanent, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "permanent"})
	require.NoError(t, err)
	require.Len(t, permanent, 1)
	assert.Equal(t, "p", permanent[0].JobID)
}
