package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, nowFunc: func() time.Time { return fixedNow }}
	return s, mock
}

func jobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "url", "user_id", "current_phase", "status", "phase_data", "created_at", "updated_at"})
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO onboarding_jobs .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "https://acme.example", "user-1", "SMART_DISCOVERY", "IN_PROGRESS",
			[]byte(`{}`), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := &model.Job{
		URL:          "https://acme.example",
		UserID:       "user-1",
		CurrentPhase: model.PhaseSmartDiscovery,
		Status:       model.JobStatusInProgress,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, fixedNow, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, url, user_id, current_phase, status, phase_data, created_at, updated_at FROM onboarding_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRows().AddRow("job-1", "https://acme.example", "user-1", "SMART_PAGE_SELECTION", "IN_PROGRESS",
			[]byte(`{"SMART_DISCOVERY":{"suggested_pages":[]}}`), fixedNow, fixedNow))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.PhaseSmartPageSelection, job.CurrentPhase)
	assert.True(t, job.PhaseData.Has(string(model.PhaseSmartDiscovery)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM onboarding_jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	job, err := s.GetJob(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_UsesJSONBConcat(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	phase := "BATCH_DEEP_DIVE"
	mock.ExpectQuery(`UPDATE onboarding_jobs SET .*phase_data = phase_data \|\| \$4::jsonb.*RETURNING`).
		WithArgs("job-1", &phase, (*string)(nil), []byte(`{"_progress":{"BATCH_DEEP_DIVE":"batches_running"}}`), fixedNow).
		WillReturnRows(jobRows().AddRow("job-1", "https://acme.example", "user-1", "BATCH_DEEP_DIVE", "IN_PROGRESS",
			[]byte(`{"_progress":{"BATCH_DEEP_DIVE":"batches_running"}}`), fixedNow, fixedNow))

	patch := model.JobPatch{
		CurrentPhase: model.PhasePtr(model.PhaseBatchDeepDive),
		PhaseData:    model.PhaseData{model.KeyProgress: []byte(`{"BATCH_DEEP_DIVE":"batches_running"}`)},
	}
	job, err := s.UpdateJob(context.Background(), "job-1", patch)
	require.NoError(t, err)
	assert.Equal(t, model.StepBatchesRunning, job.Step(model.PhaseBatchDeepDive))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE onboarding_jobs`).
		WithArgs("nope", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.UpdateJob(context.Background(), "nope", model.JobPatch{Status: model.StatusPtr(model.JobStatusFailed)})
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.KindOf(err))
}

func TestPostgresStore_UpdateJob_ConnectionErrorIsRetryable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE onboarding_jobs`).
		WithArgs("job-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := s.UpdateJob(context.Background(), "job-1", model.JobPatch{})
	require.Error(t, err)
	assert.True(t, resilience.IsRetryable(err))
}

func TestPostgresStore_SaveTenant(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO "tenants" .* ON CONFLICT \("job_id"\) DO UPDATE SET .* RETURNING "id", "created_at"`).
		WithArgs(pgxmock.AnyArg(), "job-1", "user-1", "Acme", "https://acme.example",
			pgxmock.AnyArg(), []byte(nil), "", fixedNow, fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("tenant-existing", fixedNow.Add(-time.Hour)))

	tenant := &model.Tenant{JobID: "job-1", UserID: "user-1", Name: "Acme", Website: "https://acme.example"}
	require.NoError(t, s.SaveTenant(context.Background(), tenant))
	assert.Equal(t, "tenant-existing", tenant.ID)
	assert.Equal(t, fixedNow.Add(-time.Hour), tenant.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOfferings_ReplacesInTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "offerings" WHERE "tenant_id" = \$1`).
		WithArgs("tenant-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"offerings"}, offeringColumns).WillReturnResult(2)
	mock.ExpectCommit()

	saved, err := s.SaveOfferings(context.Background(), "tenant-1", []model.Offering{
		{Name: "Kesim", Type: model.OfferingTypeService},
		{ID: "keep-id", Name: "Boya", Type: model.OfferingTypeService, MetaInfo: map[string]any{"duration": "45 dk"}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.NotEmpty(t, saved[0].ID)
	assert.Equal(t, "keep-id", saved[1].ID)
	assert.Equal(t, "tenant-1", saved[1].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOfferings_InvalidMetaSkipsDatabase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.SaveOfferings(context.Background(), "tenant-1", []model.Offering{
		{Name: "Bad", Type: model.OfferingTypeService, MetaInfo: map[string]any{"fn": func() {}}},
	})
	require.Error(t, err)
	assert.Equal(t, resilience.KindValidation, resilience.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateOffering_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE offerings SET`).
		WithArgs("nope", "x", "", "SERVICE", (*float64)(nil), "", "", []byte(nil), "", "", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	o := &model.Offering{ID: "nope", Name: "x", Type: model.OfferingTypeService}
	err := s.UpdateOffering(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDLQ_Due(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM dead_letter_queue WHERE true AND next_retry_at <= \$1 AND retry_count < max_retries ORDER BY next_retry_at LIMIT \$2`).
		WithArgs(fixedNow, 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_id", "url", "error", "error_type", "error_kind", "failed_phase",
			"retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at",
		}).AddRow("d1", "job-1", "https://acme.example", "timeout", "transient", "timeout", "BATCH_DEEP_DIVE",
			0, 3, fixedNow, fixedNow, fixedNow))

	entries, err := s.ListDLQ(context.Background(), resilience.DLQFilter{Due: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, resilience.KindTimeout, entries[0].ErrorKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS onboarding_jobs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))
	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: migrate")
}
