package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of an ingestion job or one of its sources.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScraping  Status = "scraping" // loading source documents
	StatusChunking  Status = "chunking"
	StatusIndexing  Status = "indexing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions happen.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ErrJobNotFound is returned for an unknown job ID.
var ErrJobNotFound = errors.New("ingestion job not found")

// SourceStatus tracks one source document within a job.
type SourceStatus struct {
	Source      string `json:"source"`
	Status      Status `json:"status"`
	ChunksCount int    `json:"chunks_count"`
	Error       string `json:"error,omitempty"`
}

// Job is an ingestion request and its progress.
type Job struct {
	ID          string         `json:"job_id"`
	Namespace   string         `json:"namespace"`
	Status      Status         `json:"status"`
	Sources     []SourceStatus `json:"sources"`
	TotalChunks int            `json:"total_chunks"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewJobID returns "kb-" followed by 12 hex characters.
func NewJobID() string {
	return "kb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// JobStore persists jobs in SQLite.
type JobStore struct {
	db *sql.DB
}

// OpenJobStore opens the database at path and initializes the schema.
func OpenJobStore(ctx context.Context, path string) (*JobStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping job database: %w", err)
	}
	s := &JobStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize job schema: %w", err)
	}
	return s, nil
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

func (s *JobStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS ingest_jobs (
		job_id       TEXT PRIMARY KEY,
		namespace    TEXT NOT NULL,
		status       TEXT NOT NULL,
		total_chunks INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ingest_sources (
		job_id       TEXT NOT NULL,
		position     INTEGER NOT NULL,
		source       TEXT NOT NULL,
		status       TEXT NOT NULL,
		chunks_count INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (job_id, position),
		FOREIGN KEY (job_id) REFERENCES ingest_jobs(job_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);
	`)
	return err
}

// Create records a pending job over sources.
func (s *JobStore) Create(ctx context.Context, namespace string, sources []string) (*Job, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("ingestion job needs at least one source")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        NewJobID(),
		Namespace: namespace,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin job transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_jobs (job_id, namespace, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Namespace, job.Status, now.UnixNano(), now.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	for i, src := range sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingest_sources (job_id, position, source, status) VALUES (?, ?, ?, ?)`,
			job.ID, i, src, StatusPending,
		); err != nil {
			return nil, fmt.Errorf("failed to insert job source: %w", err)
		}
		job.Sources = append(job.Sources, SourceStatus{Source: src, Status: StatusPending})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job: %w", err)
	}
	return job, nil
}

// Get loads a job and its sources.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, namespace, status, total_chunks, error, created_at, updated_at FROM ingest_jobs WHERE job_id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSources(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// List returns the most recent jobs first. limit <= 0 returns all.
func (s *JobStore) List(ctx context.Context, limit int) ([]*Job, error) {
	q := `SELECT job_id, namespace, status, total_chunks, error, created_at, updated_at FROM ingest_jobs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(ctx, q, args...)
}

// Unfinished returns jobs that have not reached a terminal status, oldest
// first.
func (s *JobStore) Unfinished(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT job_id, namespace, status, total_chunks, error, created_at, updated_at FROM ingest_jobs
		 WHERE status NOT IN (?, ?) ORDER BY created_at ASC`, StatusCompleted, StatusFailed)
}

func (s *JobStore) queryJobs(ctx context.Context, q string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, job := range jobs {
		if err := s.loadSources(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// SetStatus moves the job to status.
func (s *JobStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.exec(ctx, `UPDATE ingest_jobs SET status = ?, updated_at = ? WHERE job_id = ?`,
		status, time.Now().UTC().UnixNano(), id)
}

// SetSourceStatus updates one source of a job.
func (s *JobStore) SetSourceStatus(ctx context.Context, id string, position int, st SourceStatus) error {
	return s.exec(ctx,
		`UPDATE ingest_sources SET status = ?, chunks_count = ?, error = ? WHERE job_id = ? AND position = ?`,
		st.Status, st.ChunksCount, st.Error, id, position)
}

// Finish records the terminal status and totals.
func (s *JobStore) Finish(ctx context.Context, id string, status Status, totalChunks int, errText string) error {
	return s.exec(ctx,
		`UPDATE ingest_jobs SET status = ?, total_chunks = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		status, totalChunks, errText, time.Now().UTC().UnixNano(), id)
}

func (s *JobStore) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *JobStore) loadSources(ctx context.Context, job *Job) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, status, chunks_count, error FROM ingest_sources WHERE job_id = ? ORDER BY position`, job.ID)
	if err != nil {
		return fmt.Errorf("failed to query job sources: %w", err)
	}
	defer rows.Close()

	job.Sources = job.Sources[:0]
	for rows.Next() {
		var src SourceStatus
		var status string
		if err := rows.Scan(&src.Source, &status, &src.ChunksCount, &src.Error); err != nil {
			return fmt.Errorf("failed to scan job source: %w", err)
		}
		src.Status = Status(status)
		job.Sources = append(job.Sources, src)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var status string
	var created, updated int64
	if err := row.Scan(&job.ID, &job.Namespace, &status, &job.TotalChunks, &job.Error, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Status = Status(status)
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	return &job, nil
}
