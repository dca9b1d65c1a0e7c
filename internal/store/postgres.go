package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planvista/planvista/pkg/models"
)

const jobColumns = `id, owner_key, kind, status, request, report, charts, retirement_projection, summary, error_message, started_at, completed_at, created_at, updated_at`

// slotColumns whitelists the result-slot columns. Slot names never reach SQL
// text without passing through this map.
var slotColumns = map[models.ResultSlot]string{
	models.SlotReport:     "report",
	models.SlotCharts:     "charts",
	models.SlotRetirement: "retirement_projection",
	models.SlotSummary:    "summary",
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.OwnerKey, &j.Kind, &j.Status, &j.Request,
		&j.Report, &j.Charts, &j.Retirement, &j.Summary, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_key, kind, status, request, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OwnerKey, job.Kind, job.Status, job.Request, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	now := time.Now().UTC()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $2, started_at = $3, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+jobColumns,
		id, models.JobStatusRunning, now, models.JobStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	now := time.Now().UTC()
	// SKIP LOCKED keeps concurrent workers from queueing on the same row;
	// each claims a distinct pending job or finds none.
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, started_at = $2, updated_at = $2
		 WHERE id = (
		   SELECT id FROM jobs WHERE status = $3
		   ORDER BY created_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		models.JobStatusRunning, now, models.JobStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) WriteJobResult(ctx context.Context, id uuid.UUID, slot models.ResultSlot, payload json.RawMessage) error {
	col, ok := slotColumns[slot]
	if !ok {
		return fmt.Errorf("unknown result slot %q", slot)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s = $2, updated_at = $3
		 WHERE id = $1 AND status = $4 AND %s IS NULL`, col, col),
		id, payload, now, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("write job result %s: %w", slot, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) FinalizeJob(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...FinalizeOption) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize to non-terminal status %q", status)
	}

	params := &finalizeParams{}
	for _, opt := range opts {
		opt(params)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, completed_at = $3, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if params.Summary != nil {
		// Write-if-null: a summary already written through the slot path wins.
		query += fmt.Sprintf(", summary = COALESCE(summary, $%d)", argIdx)
		args = append(args, params.Summary)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = $%d", argIdx)
	args = append(args, models.JobStatusRunning)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ListJobsByOwner(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"owner_key = $1"}
	args := []any{filter.OwnerKey}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) ReapStuckJobs(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, completed_at = $3, updated_at = $3
		 WHERE status = $4 AND started_at < $5`,
		models.JobStatusFailed, reason, now, models.JobStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stuck jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// classifyMiss turns a zero-row conditional update into ErrNotFound or
// ErrConflict by checking whether the job exists at all.
func (s *PostgresStore) classifyMiss(ctx context.Context, id uuid.UUID) error {
	var status models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return ErrConflict
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
