// Package syncjobs owns sync job rows: lifecycle transitions, monotone
// progress updates and the accumulated per-item error list.
package syncjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attendlens/backend/internal/models"
)

// Repository handles sync job persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sync jobs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jobColumns = `id, connection_id, kind, status, progress_pct, current_operation, total_items,
	processed_items, started_at, completed_at, errors, metadata, cancel_requested, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.SyncJob, error) {
	var j models.SyncJob
	var errorsRaw []byte
	err := row.Scan(&j.ID, &j.ConnectionID, &j.Kind, &j.Status, &j.ProgressPct, &j.CurrentOperation,
		&j.TotalItems, &j.ProcessedItems, &j.StartedAt, &j.CompletedAt, &errorsRaw, &j.Metadata,
		&j.CancelRequested, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &j.Errors); err != nil {
			return nil, fmt.Errorf("decode job errors: %w", err)
		}
	}
	if j.Errors == nil {
		j.Errors = []models.SyncError{}
	}
	return &j, nil
}

// Create inserts a new pending job row.
func (r *Repository) Create(ctx context.Context, j *models.SyncJob) error {
	const q = `INSERT INTO sync_jobs (id, connection_id, kind, status, metadata)
		VALUES (gen_random_uuid(), $1, $2, 'pending', COALESCE($3, '{}'::jsonb))
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, j.ConnectionID, j.Kind, j.Metadata).
		Scan(&j.ID, &j.Status, &j.CreatedAt, &j.UpdatedAt)
}

// GetByID returns a job by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
}

// ListByConnection returns recent jobs for a connection, newest first.
func (r *Repository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncJob, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE connection_id = $1 ORDER BY created_at DESC LIMIT $2`,
		connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *j)
	}
	return list, rows.Err()
}

// MarkRunning transitions pending → running and stamps started_at.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sync_jobs SET status = 'running', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// UpdateProgress writes a progress milestone. GREATEST keeps progress_pct and
// processed_items monotone within a run, and the status guard makes updates
// after a terminal transition (e.g. cancelled) no-ops.
func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, pct int, operation string, totalItems, processedItems int) error {
	const q = `UPDATE sync_jobs SET
			progress_pct = GREATEST(progress_pct, $1),
			current_operation = $2,
			total_items = GREATEST(total_items, $3),
			processed_items = GREATEST(processed_items, $4),
			updated_at = NOW()
		WHERE id = $5 AND status = 'running'`
	_, err := r.pool.Exec(ctx, q, pct, operation, totalItems, processedItems, id)
	return err
}

// AppendError records one per-item failure on the job's error list.
func (r *Repository) AppendError(ctx context.Context, id uuid.UUID, syncErr models.SyncError) error {
	raw, err := json.Marshal(syncErr)
	if err != nil {
		return fmt.Errorf("marshal sync error: %w", err)
	}
	const q = `UPDATE sync_jobs SET errors = errors || $1::jsonb, updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'running')`
	_, err = r.pool.Exec(ctx, q, raw, id)
	return err
}

// SetMetadata merges keys into the job metadata document.
func (r *Repository) SetMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `UPDATE sync_jobs SET metadata = metadata || $1::jsonb, updated_at = NOW() WHERE id = $2`
	_, err = r.pool.Exec(ctx, q, raw, id)
	return err
}

// Complete transitions running → completed at 100%.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sync_jobs SET status = 'completed', progress_pct = 100,
		current_operation = 'done', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Fail transitions a non-terminal job to failed with a reason.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE sync_jobs SET status = 'failed', current_operation = $1,
		completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'running')`
	_, err := r.pool.Exec(ctx, q, reason, id)
	return err
}

// RequestCancel flags a pending or running job for cooperative cancellation.
// Returns false when the job is already terminal.
func (r *Repository) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE sync_jobs SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CancelRequested reports whether cancellation has been requested; the engine
// polls this between webinars.
func (r *Repository) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := r.pool.QueryRow(ctx, `SELECT cancel_requested FROM sync_jobs WHERE id = $1`, id).Scan(&requested)
	return requested, err
}

// MarkCancelled transitions a non-terminal job to cancelled.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sync_jobs SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// LastCompletedAt returns when the connection's most recent completed job
// finished; nil when none has. Used to compute incremental sync windows.
func (r *Repository) LastCompletedAt(ctx context.Context, connectionID uuid.UUID) (*time.Time, error) {
	const q = `SELECT completed_at FROM sync_jobs
		WHERE connection_id = $1 AND status = 'completed' ORDER BY completed_at DESC LIMIT 1`
	var completedAt *time.Time
	err := r.pool.QueryRow(ctx, q, connectionID).Scan(&completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return completedAt, nil
}
