package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local runs
// and tests.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: defaultNow}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS onboarding_jobs (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	current_phase TEXT NOT NULL,
	status        TEXT NOT NULL,
	phase_data    TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_onboarding_jobs_status ON onboarding_jobs(status);
CREATE INDEX IF NOT EXISTS idx_onboarding_jobs_user ON onboarding_jobs(user_id);

CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL UNIQUE REFERENCES onboarding_jobs(id),
	user_id      TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	company_info TEXT NOT NULL DEFAULT '{}',
	sector       TEXT,
	prompt       TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS offerings (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id),
	position    INTEGER NOT NULL DEFAULT 0,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	price       REAL,
	currency    TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	meta_info   TEXT,
	source_url  TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
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
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	if s.nowFunc == nil {
		return defaultNow()
	}
	return s.nowFunc()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
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
		return eris.Wrap(err, "sqlite: marshal phase data")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO onboarding_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		job.ID, job.URL, job.UserID, string(job.CurrentPhase), string(job.Status), string(phaseJSON), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM onboarding_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

// UpdateJob reads, merges and writes the phase data in one transaction.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM onboarding_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: update job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update job %s", id)
	}

	updated := current.Apply(patch, s.now())
	phaseJSON, err := json.Marshal(updated.PhaseData)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal phase data")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE onboarding_jobs SET current_phase = ?, status = ?, phase_data = ?, updated_at = ? WHERE id = ?`,
		string(updated.CurrentPhase), string(updated.Status), string(phaseJSON), updated.UpdatedAt, id,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: update job %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}
	return &updated, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM onboarding_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var (
		j                        model.Job
		phase, status, phaseJSON string
	)
	if err := row.Scan(&j.ID, &j.URL, &j.UserID, &phase, &status, &phaseJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.CurrentPhase = model.Phase(phase)
	j.Status = model.JobStatus(status)
	j.PhaseData = model.PhaseData{}
	if phaseJSON != "" {
		if err := json.Unmarshal([]byte(phaseJSON), &j.PhaseData); err != nil {
			return nil, eris.Wrap(err, "unmarshal phase data")
		}
	}
	return &j, nil
}

// --- Tenants ---

func (s *SQLiteStore) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
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
		return eris.Wrap(err, "sqlite: marshal company info")
	}
	var sector sql.NullString
	if tenant.Sector != nil {
		b, err := json.Marshal(tenant.Sector)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal sector")
		}
		sector = sql.NullString{String: string(b), Valid: true}
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO tenants (id, job_id, user_id, name, website, company_info, sector, prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
			name = excluded.name, website = excluded.website, company_info = excluded.company_info,
			sector = excluded.sector, prompt = excluded.prompt, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		tenant.ID, tenant.JobID, tenant.UserID, tenant.Name, tenant.Website,
		string(infoJSON), sector, tenant.Prompt, tenant.CreatedAt, tenant.UpdatedAt,
	).Scan(&tenant.ID, &tenant.CreatedAt)
	return eris.Wrapf(err, "sqlite: save tenant for job %s", tenant.JobID)
}

func (s *SQLiteStore) GetTenantByJob(ctx context.Context, jobID string) (*model.Tenant, error) {
	var (
		t        model.Tenant
		infoJSON string
		sector   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, user_id, name, website, company_info, sector, prompt, created_at, updated_at
		 FROM tenants WHERE job_id = ?`,
		jobID,
	).Scan(&t.ID, &t.JobID, &t.UserID, &t.Name, &t.Website, &infoJSON, &sector, &t.Prompt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tenant for job %s", jobID)
	}
	if err := decodeTenantJSON(&t, []byte(infoJSON), []byte(sector.String)); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode tenant")
	}
	return &t, nil
}

// --- Offerings ---

func (s *SQLiteStore) SaveOfferings(ctx context.Context, tenantID string, offerings []model.Offering) ([]model.Offering, error) {
	saved := prepareOfferings(tenantID, offerings, s.now(), uuid.NewString)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM offerings WHERE tenant_id = ?`, tenantID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear offerings for tenant %s", tenantID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO offerings (id, tenant_id, position, name, description, type, price, currency, category,
			meta_info, source_url, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare offering insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, o := range saved {
		meta, err := sqliteMeta(o.MetaInfo)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: offering %q", o.Name)
		}
		if _, err := stmt.ExecContext(ctx,
			o.ID, o.TenantID, i, o.Name, o.Description, string(o.Type), nullFloat(o.Price),
			o.Currency, o.Category, meta, o.SourceURL, o.ImageURL, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert offering %q", o.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}
	return saved, nil
}

func (s *SQLiteStore) ListOfferings(ctx context.Context, tenantID string) ([]model.Offering, error) {
	rows, err := s.db.QueryContext(ctx, offeringSelect+` WHERE tenant_id = ? ORDER BY position`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list offerings for tenant %s", tenantID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Offering
	for rows.Next() {
		o, err := scanSQLiteOffering(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan offering")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list offerings iterate")
}

func (s *SQLiteStore) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	o, err := scanSQLiteOffering(s.db.QueryRowContext(ctx, offeringSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get offering %s", id)
	}
	return o, nil
}

func (s *SQLiteStore) UpdateOffering(ctx context.Context, o *model.Offering) error {
	meta, err := sqliteMeta(o.MetaInfo)
	if err != nil {
		return eris.Wrapf(err, "sqlite: offering %s", o.ID)
	}
	o.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE offerings SET name = ?, description = ?, type = ?, price = ?, currency = ?,
			category = ?, meta_info = ?, source_url = ?, image_url = ?, updated_at = ?
		 WHERE id = ?`,
		o.Name, o.Description, string(o.Type), nullFloat(o.Price), o.Currency,
		o.Category, meta, o.SourceURL, o.ImageURL, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update offering %s", o.ID)
	}
	return checkRowsAffected(res, "offering", o.ID)
}

func scanSQLiteOffering(row scannable) (*model.Offering, error) {
	var (
		o     model.Offering
		typ   string
		price sql.NullFloat64
		meta  sql.NullString
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.Name, &o.Description, &typ, &price, &o.Currency,
		&o.Category, &meta, &o.SourceURL, &o.ImageURL, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Type = model.OfferingType(typ)
	if price.Valid {
		p := price.Float64
		o.Price = &p
	}
	m, err := unmarshalMeta([]byte(meta.String))
	if err != nil {
		return nil, err
	}
	o.MetaInfo = m
	return &o, nil
}

func sqliteMeta(meta map[string]any) (sql.NullString, error) {
	b, err := marshalMeta(meta)
	if err != nil || b == nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// --- Dead letter queue ---

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
			error = excluded.error, error_type = excluded.error_type, error_kind = excluded.error_kind,
			failed_phase = excluded.failed_phase, next_retry_at = excluded.next_retry_at,
			last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.JobID, entry.URL, entry.Error, entry.ErrorType, string(entry.ErrorKind),
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue dlq for job %s", entry.JobID)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY next_retry_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	now := s.now()
	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e    resilience.DLQEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.URL, &e.Error, &e.ErrorType, &kind, &e.FailedPhase,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.ErrorKind = resilience.Kind(kind)
		// Due filtering happens here; SQLite compares stored times as text.
		if filter.Due && (e.NextRetryAt.After(now) || !e.CanRetry()) {
			continue
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, jobID string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE job_id = ?`,
		nextRetryAt.UTC(), lastErr, s.now(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", jobID)
	}
	return checkRowsAffected(res, "dlq entry", jobID)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE job_id = ?`, jobID)
	return eris.Wrapf(err, "sqlite: remove dlq %s", jobID)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
