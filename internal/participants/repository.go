// Package participants persists reconciled participants, registrants and the
// append-only raw session audit trail.
package participants

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attendlens/backend/internal/models"
)

// Repository handles participant, registrant and raw session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertParticipant inserts or updates a canonical participant by
// (webinar_id, identity_key).
func (r *Repository) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participants (id, webinar_id, identity_key, name, email, provider_user_id,
			session_count, total_duration_sec, first_join, last_leave, chat_count, raised_hand,
			answered_polls, asked_question, camera_on_sec, attentiveness)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (webinar_id, identity_key) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			provider_user_id = EXCLUDED.provider_user_id,
			session_count = EXCLUDED.session_count,
			total_duration_sec = EXCLUDED.total_duration_sec,
			first_join = EXCLUDED.first_join,
			last_leave = EXCLUDED.last_leave,
			chat_count = EXCLUDED.chat_count,
			raised_hand = EXCLUDED.raised_hand,
			answered_polls = EXCLUDED.answered_polls,
			asked_question = EXCLUDED.asked_question,
			camera_on_sec = EXCLUDED.camera_on_sec,
			attentiveness = EXCLUDED.attentiveness,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.WebinarID, p.IdentityKey, p.Name, p.Email, p.ProviderUserID,
		p.SessionCount, p.TotalDurationSec, p.FirstJoin, p.LastLeave, p.ChatCount, p.RaisedHand,
		p.AnsweredPolls, p.AskedQuestion, p.CameraOnSec, p.Attentiveness).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpsertRegistrant inserts or updates a registrant by
// (webinar_id, provider_registrant_id).
func (r *Repository) UpsertRegistrant(ctx context.Context, reg *models.Registrant) error {
	const q = `INSERT INTO registrants (id, webinar_id, provider_registrant_id, email, first_name,
			last_name, attended, join_time, leave_time, duration_sec)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (webinar_id, provider_registrant_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			attended = EXCLUDED.attended,
			join_time = EXCLUDED.join_time,
			leave_time = EXCLUDED.leave_time,
			duration_sec = EXCLUDED.duration_sec,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, reg.WebinarID, reg.ProviderRegistrantID, reg.Email, reg.FirstName,
		reg.LastName, reg.Attended, reg.JoinTime, reg.LeaveTime, reg.DurationSec).
		Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
}

// AppendSession inserts a raw session row; duplicate signatures from a
// re-sync are ignored, keeping the audit trail append-only and idempotent.
func (r *Repository) AppendSession(ctx context.Context, s *models.ParticipantSession) error {
	const q = `INSERT INTO participant_sessions (id, webinar_id, occurrence_id, identity_key_raw,
			join_time, leave_time, duration_sec, source_endpoint, signature)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, s.WebinarID, s.OccurrenceID, s.IdentityKeyRaw,
		s.JoinTime, s.LeaveTime, s.DurationSec, s.SourceEndpoint, s.Signature)
	return err
}

// WebinarAggregates returns the counts and averages the metrics calculator
// derives for one webinar, computed over the already-persisted rows.
func (r *Repository) WebinarAggregates(ctx context.Context, webinarID uuid.UUID) (registrants, attendees int, avgDurationSec, avgCameraSec int64, err error) {
	const regQ = `SELECT COUNT(*) FROM registrants WHERE webinar_id = $1`
	if err = r.pool.QueryRow(ctx, regQ, webinarID).Scan(&registrants); err != nil {
		return
	}
	const partQ = `SELECT COUNT(*), COALESCE(AVG(total_duration_sec), 0)::bigint,
		COALESCE(AVG(camera_on_sec), 0)::bigint FROM participants WHERE webinar_id = $1`
	err = r.pool.QueryRow(ctx, partQ, webinarID).Scan(&attendees, &avgDurationSec, &avgCameraSec)
	return
}

// ListParticipantsByWebinar returns all participants for a webinar.
func (r *Repository) ListParticipantsByWebinar(ctx context.Context, webinarID uuid.UUID) ([]models.Participant, error) {
	const q = `SELECT id, webinar_id, identity_key, name, email, provider_user_id, session_count,
		total_duration_sec, first_join, last_leave, chat_count, raised_hand, answered_polls,
		asked_question, camera_on_sec, attentiveness, created_at, updated_at
		FROM participants WHERE webinar_id = $1 ORDER BY total_duration_sec DESC`
	rows, err := r.pool.Query(ctx, q, webinarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.WebinarID, &p.IdentityKey, &p.Name, &p.Email, &p.ProviderUserID,
			&p.SessionCount, &p.TotalDurationSec, &p.FirstJoin, &p.LastLeave, &p.ChatCount,
			&p.RaisedHand, &p.AnsweredPolls, &p.AskedQuestion, &p.CameraOnSec, &p.Attentiveness,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListRegistrantsByWebinar returns all registrants for a webinar.
func (r *Repository) ListRegistrantsByWebinar(ctx context.Context, webinarID uuid.UUID) ([]models.Registrant, error) {
	const q = `SELECT id, webinar_id, provider_registrant_id, email, first_name, last_name, attended,
		join_time, leave_time, duration_sec, created_at, updated_at
		FROM registrants WHERE webinar_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, webinarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Registrant
	for rows.Next() {
		var reg models.Registrant
		if err := rows.Scan(&reg.ID, &reg.WebinarID, &reg.ProviderRegistrantID, &reg.Email,
			&reg.FirstName, &reg.LastName, &reg.Attended, &reg.JoinTime, &reg.LeaveTime,
			&reg.DurationSec, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, reg)
	}
	return list, rows.Err()
}
