package sync

import (
	"context"

	"github.com/google/uuid"

	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/internal/participants"
	"github.com/attendlens/backend/internal/webinars"
)

// PgStore adapts the pgx repositories to the engine's persistence gateway.
type PgStore struct {
	webinars     *webinars.Repository
	participants *participants.Repository
}

// NewPgStore creates the production store over the given repositories.
func NewPgStore(w *webinars.Repository, p *participants.Repository) *PgStore {
	return &PgStore{webinars: w, participants: p}
}

func (s *PgStore) UpsertWebinar(ctx context.Context, w *models.Webinar) error {
	return s.webinars.Upsert(ctx, w)
}

func (s *PgStore) UpdateWebinarMetrics(ctx context.Context, webinarID uuid.UUID, m models.WebinarMetrics) error {
	return s.webinars.UpdateMetrics(ctx, webinarID, m)
}

func (s *PgStore) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	return s.participants.UpsertParticipant(ctx, p)
}

func (s *PgStore) UpsertRegistrant(ctx context.Context, reg *models.Registrant) error {
	return s.participants.UpsertRegistrant(ctx, reg)
}

func (s *PgStore) AppendSession(ctx context.Context, sess *models.ParticipantSession) error {
	return s.participants.AppendSession(ctx, sess)
}

func (s *PgStore) WebinarAggregates(ctx context.Context, webinarID uuid.UUID) (int, int, int64, int64, error) {
	return s.participants.WebinarAggregates(ctx, webinarID)
}

var _ Store = (*PgStore)(nil)
