package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/db"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: defaultNow}, nil
}

func defaultNow() time.Time { return time.Now().UTC() }

const postgresMigration = `
CREATE TABLE IF NOT EXISTS onboarding_jobs (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	current_phase TEXT NOT NULL,
	status        TEXT NOT NULL,
	phase_data    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_onboarding_jobs_status ON onboarding_jobs(status);
CREATE INDEX IF NOT EXISTS idx_onboarding_jobs_user ON onboarding_jobs(user_id);

CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL UNIQUE REFERENCES onboarding_jobs(id),
	user_id      TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	company_info JSONB NOT NULL DEFAULT '{}'::jsonb,
	sector       JSONB,
	prompt       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS offerings (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id),
	position    INTEGER NOT NULL DEFAULT 0,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	price       DOUBLE PRECISION,
	currency    TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	meta_info   JSONB,
	source_url  TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_offerings_tenant ON offerings(tenant_id, position);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL UNIQUE,
	url            TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	error_kind     TEXT NOT NULL DEFAULT 'unknown',
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return defaultNow()
	}
	return s.nowFunc()
}

// --- Jobs ---

const jobColumns = `id, url, user_id, current_phase, status, phase_data, created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.PhaseData == nil {
		job.PhaseData = model.PhaseData{}
	}

	phaseJSON, err := json.Marshal(job.PhaseData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase data")
	}

	// Retried inserts of the same job are no-ops.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO onboarding_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		job.ID, job.URL, job.UserID, string(job.CurrentPhase), string(job.Status), phaseJSON, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM onboarding_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

// UpdateJob merges patch.PhaseData into the stored document with the jsonb
// concatenation operator, so keys written by earlier phases survive.
func (s *PostgresStore) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	var phase, status *string
	if patch.CurrentPhase != nil {
		v := string(*patch.CurrentPhase)
		phase = &v
	}
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	data := patch.PhaseData
	if data == nil {
		data = model.PhaseData{}
	}
	phaseJSON, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal phase data")
	}

	job, err := scanPgJob(s.pool.QueryRow(ctx,
		`UPDATE onboarding_jobs SET
			current_phase = COALESCE($2, current_phase),
			status = COALESCE($3, status),
			phase_data = phase_data || $4::jsonb,
			updated_at = $5
		WHERE id = $1
		RETURNING `+jobColumns,
		id, phase, status, phaseJSON, s.now(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: update job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM onboarding_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var (
		j             model.Job
		phase, status string
		phaseJSON     []byte
	)
	if err := row.Scan(&j.ID, &j.URL, &j.UserID, &phase, &status, &phaseJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.CurrentPhase = model.Phase(phase)
	j.Status = model.JobStatus(status)
	j.PhaseData = model.PhaseData{}
	if len(phaseJSON) > 0 {
		if err := json.Unmarshal(phaseJSON, &j.PhaseData); err != nil {
			return nil, eris.Wrap(err, "unmarshal phase data")
		}
	}
	return &j, nil
}

// --- Tenants ---

var tenantUpsert = mustUpsertSQL(db.UpsertConfig{
	Table:        "tenants",
	Columns:      []string{"id", "job_id", "user_id", "name", "website", "company_info", "sector", "prompt", "created_at", "updated_at"},
	ConflictKeys: []string{"job_id"},
	UpdateCols:   []string{"name", "website", "company_info", "sector", "prompt", "updated_at"},
	Returning:    []string{"id", "created_at"},
})

// SaveTenant upserts the tenant for its job. The stored id and creation time
// are written back into tenant.
func (s *PostgresStore) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := s.now()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	infoJSON, err := json.Marshal(tenant.CompanyInfo)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal company info")
	}
	var sectorJSON []byte
	if tenant.Sector != nil {
		if sectorJSON, err = json.Marshal(tenant.Sector); err != nil {
			return eris.Wrap(err, "postgres: marshal sector")
		}
	}

	err = s.pool.QueryRow(ctx, tenantUpsert,
		tenant.ID, tenant.JobID, tenant.UserID, tenant.Name, tenant.Website,
		infoJSON, sectorJSON, tenant.Prompt, tenant.CreatedAt, tenant.UpdatedAt,
	).Scan(&tenant.ID, &tenant.CreatedAt)
	return eris.Wrapf(err, "postgres: save tenant for job %s", tenant.JobID)
}

func (s *PostgresStore) GetTenantByJob(ctx context.Context, jobID string) (*model.Tenant, error) {
	var (
		t                    model.Tenant
		infoJSON, sectorJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, user_id, name, website, company_info, sector, prompt, created_at, updated_at
		 FROM tenants WHERE job_id = $1`,
		jobID,
	).Scan(&t.ID, &t.JobID, &t.UserID, &t.Name, &t.Website, &infoJSON, &sectorJSON, &t.Prompt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant for job %s", jobID)
	}
	if err := decodeTenantJSON(&t, infoJSON, sectorJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: decode tenant")
	}
	return &t, nil
}

func decodeTenantJSON(t *model.Tenant, infoJSON, sectorJSON []byte) error {
	if len(infoJSON) > 0 {
		if err := json.Unmarshal(infoJSON, &t.CompanyInfo); err != nil {
			return eris.Wrap(err, "unmarshal company info")
		}
	}
	if len(sectorJSON) > 0 && string(sectorJSON) != "null" {
		t.Sector = &model.SectorAnalysis{}
		if err := json.Unmarshal(sectorJSON, t.Sector); err != nil {
			return eris.Wrap(err, "unmarshal sector")
		}
	}
	return nil
}

// --- Offerings ---

var offeringColumns = []string{
	"id", "tenant_id", "position", "name", "description", "type", "price",
	"currency", "category", "meta_info", "source_url", "image_url", "created_at", "updated_at",
}

const offeringSelect = `SELECT id, tenant_id, name, description, type, price, currency, category,
	meta_info, source_url, image_url, created_at, updated_at FROM offerings`

func (s *PostgresStore) SaveOfferings(ctx context.Context, tenantID string, offerings []model.Offering) ([]model.Offering, error) {
	saved := prepareOfferings(tenantID, offerings, s.now(), uuid.NewString)

	rows := make([][]any, len(saved))
	for i, o := range saved {
		metaJSON, err := marshalMeta(o.MetaInfo)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: offering %q", o.Name)
		}
		rows[i] = []any{
			o.ID, o.TenantID, i, o.Name, o.Description, string(o.Type), o.Price,
			o.Currency, o.Category, metaJSON, o.SourceURL, o.ImageURL, o.CreatedAt, o.UpdatedAt,
		}
	}

	if _, err := db.ReplaceScoped(ctx, s.pool, "offerings", "tenant_id", tenantID, offeringColumns, rows); err != nil {
		return nil, eris.Wrapf(err, "postgres: save offerings for tenant %s", tenantID)
	}
	return saved, nil
}

func (s *PostgresStore) ListOfferings(ctx context.Context, tenantID string) ([]model.Offering, error) {
	rows, err := s.pool.Query(ctx, offeringSelect+` WHERE tenant_id = $1 ORDER BY position`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list offerings for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []model.Offering
	for rows.Next() {
		o, err := scanPgOffering(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan offering")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list offerings iterate")
}

func (s *PostgresStore) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	o, err := scanPgOffering(s.pool.QueryRow(ctx, offeringSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get offering %s", id)
	}
	return o, nil
}

func (s *PostgresStore) UpdateOffering(ctx context.Context, o *model.Offering) error {
	metaJSON, err := marshalMeta(o.MetaInfo)
	if err != nil {
		return eris.Wrapf(err, "postgres: offering %s", o.ID)
	}
	o.UpdatedAt = s.now()

	tag, err := s.pool.Exec(ctx,
		`UPDATE offerings SET name = $2, description = $3, type = $4, price = $5, currency = $6,
			category = $7, meta_info = $8, source_url = $9, image_url = $10, updated_at = $11
		 WHERE id = $1`,
		o.ID, o.Name, o.Description, string(o.Type), o.Price, o.Currency,
		o.Category, metaJSON, o.SourceURL, o.ImageURL, o.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update offering %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update offering %s", o.ID)
	}
	return nil
}

func scanPgOffering(row pgx.Row) (*model.Offering, error) {
	var (
		o        model.Offering
		typ      string
		metaJSON []byte
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.Name, &o.Description, &typ, &o.Price, &o.Currency,
		&o.Category, &metaJSON, &o.SourceURL, &o.ImageURL, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Type = model.OfferingType(typ)
	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	o.MetaInfo = meta
	return &o, nil
}

// marshalMeta validates metaInfo against the JSON value union before it is
// stored. A nil map is stored as NULL.
func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	if err := model.ValidateValue(meta); err != nil {
		return nil, err
	}
	b, err := json.Marshal(meta)
	return b, eris.Wrap(err, "marshal meta info")
}

func unmarshalMeta(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, eris.Wrap(err, "unmarshal meta info")
	}
	return meta, nil
}

// --- Dead letter queue ---

const dlqColumns = `id, job_id, url, error, error_type, error_kind, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at`

// EnqueueDLQ records a failed job. A job already queued keeps its retry
// count and takes the newer error.
func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := s.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (job_id) DO UPDATE SET
			error = EXCLUDED.error, error_type = EXCLUDED.error_type, error_kind = EXCLUDED.error_kind,
			failed_phase = EXCLUDED.failed_phase, next_retry_at = EXCLUDED.next_retry_at,
			last_failed_at = EXCLUDED.last_failed_at`,
		entry.ID, entry.JobID, entry.URL, entry.Error, entry.ErrorType, string(entry.ErrorKind),
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: enqueue dlq for job %s", entry.JobID)
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	if filter.Due {
		query += fmt.Sprintf(` AND next_retry_at <= $%d AND retry_count < max_retries`, argIdx)
		args = append(args, s.now())
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY next_retry_at LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e    resilience.DLQEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.URL, &e.Error, &e.ErrorType, &kind, &e.FailedPhase,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.ErrorKind = resilience.Kind(kind)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, jobID string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue SET retry_count = retry_count + 1, next_retry_at = $2, error = $3, last_failed_at = $4
		 WHERE job_id = $1`,
		jobID, nextRetryAt, lastErr, s.now(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: dlq entry for job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE job_id = $1`, jobID)
	return eris.Wrapf(err, "postgres: remove dlq %s", jobID)
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func mustUpsertSQL(cfg db.UpsertConfig) string {
	sql, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return sql
}
