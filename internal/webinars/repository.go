package webinars

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attendlens/backend/internal/models"
)

// Repository handles webinar persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webinar repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or updates a webinar by its natural key
// (connection_id, provider_webinar_id) and fills in the row id.
func (r *Repository) Upsert(ctx context.Context, w *models.Webinar) error {
	const q = `INSERT INTO webinars (id, connection_id, provider_webinar_id, provider_uuid, topic,
			start_time, duration_min, lifecycle_status, host_email, settings)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (connection_id, provider_webinar_id) DO UPDATE SET
			provider_uuid = EXCLUDED.provider_uuid,
			topic = EXCLUDED.topic,
			start_time = EXCLUDED.start_time,
			duration_min = EXCLUDED.duration_min,
			lifecycle_status = EXCLUDED.lifecycle_status,
			host_email = EXCLUDED.host_email,
			settings = COALESCE(EXCLUDED.settings, webinars.settings),
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, w.ConnectionID, w.ProviderWebinarID, w.ProviderUUID, w.Topic,
		w.StartTime, w.DurationMin, w.LifecycleStatus, w.HostEmail, w.Settings).
		Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
}

// UpdateMetrics overwrites the derived aggregate columns for a webinar.
// Re-running after a later sync replaces prior values, never accumulates.
func (r *Repository) UpdateMetrics(ctx context.Context, webinarID uuid.UUID, m models.WebinarMetrics) error {
	const q = `UPDATE webinars SET total_registrants = $1, total_attendees = $2, total_absentees = $3,
		avg_attendance_sec = $4, avg_camera_on_sec = $5, updated_at = NOW() WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, m.TotalRegistrants, m.TotalAttendees, m.TotalAbsentees,
		m.AvgAttendanceSec, m.AvgCameraOnSec, webinarID)
	return err
}

// GetByID returns a webinar by row ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Webinar, error) {
	const q = `SELECT id, connection_id, provider_webinar_id, provider_uuid, topic, start_time,
		duration_min, lifecycle_status, host_email, settings, total_registrants, total_attendees,
		total_absentees, avg_attendance_sec, avg_camera_on_sec, created_at, updated_at
		FROM webinars WHERE id = $1`
	var w models.Webinar
	err := r.pool.QueryRow(ctx, q, id).Scan(&w.ID, &w.ConnectionID, &w.ProviderWebinarID, &w.ProviderUUID,
		&w.Topic, &w.StartTime, &w.DurationMin, &w.LifecycleStatus, &w.HostEmail, &w.Settings,
		&w.TotalRegistrants, &w.TotalAttendees, &w.TotalAbsentees, &w.AvgAttendanceSec, &w.AvgCameraOnSec,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListByConnection returns all webinars for a connection, most recent first.
func (r *Repository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]models.Webinar, error) {
	const q = `SELECT id, connection_id, provider_webinar_id, provider_uuid, topic, start_time,
		duration_min, lifecycle_status, host_email, settings, total_registrants, total_attendees,
		total_absentees, avg_attendance_sec, avg_camera_on_sec, created_at, updated_at
		FROM webinars WHERE connection_id = $1 ORDER BY start_time DESC NULLS LAST`
	rows, err := r.pool.Query(ctx, q, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Webinar
	for rows.Next() {
		var w models.Webinar
		if err := rows.Scan(&w.ID, &w.ConnectionID, &w.ProviderWebinarID, &w.ProviderUUID, &w.Topic,
			&w.StartTime, &w.DurationMin, &w.LifecycleStatus, &w.HostEmail, &w.Settings,
			&w.TotalRegistrants, &w.TotalAttendees, &w.TotalAbsentees, &w.AvgAttendanceSec,
			&w.AvgCameraOnSec, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}
