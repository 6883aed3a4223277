// Package sync implements the webinar data synchronization engine: webinar
// enumeration, participant/registrant reconciliation, derived metrics and the
// job state machine driving them. All collaborators are injected as
// interfaces so the engine runs unchanged against pgx repositories in
// production and in-memory fakes in tests.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/internal/provider"
)

// Store is the persistence gateway for synced records. All writes are
// idempotent upserts keyed by natural keys; concurrent jobs converge instead
// of duplicating rows.
type Store interface {
	UpsertWebinar(ctx context.Context, w *models.Webinar) error
	UpdateWebinarMetrics(ctx context.Context, webinarID uuid.UUID, m models.WebinarMetrics) error
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	UpsertRegistrant(ctx context.Context, reg *models.Registrant) error
	AppendSession(ctx context.Context, s *models.ParticipantSession) error
	WebinarAggregates(ctx context.Context, webinarID uuid.UUID) (registrants, attendees int, avgDurationSec, avgCameraSec int64, err error)
}

// JobStore mutates the sync job row. Only the engine writes job state while
// a run is in flight.
type JobStore interface {
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, pct int, operation string, totalItems, processedItems int) error
	AppendError(ctx context.Context, id uuid.UUID, syncErr models.SyncError) error
	SetMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	LastCompletedAt(ctx context.Context, connectionID uuid.UUID) (*time.Time, error)
}

// ConnectionSource loads the connection a job runs against.
type ConnectionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, error)
}

// TokenSource supplies valid bearer tokens for a connection.
type TokenSource interface {
	EnsureToken(ctx context.Context, conn *models.Connection) (string, error)
	Refresh(ctx context.Context, conn *models.Connection) (string, error)
}

// Provider is the upstream webinar API surface the engine consumes.
type Provider interface {
	ListWebinars(ctx context.Context, token string, from, to time.Time, types []string) ([]provider.Webinar, error)
	GetWebinar(ctx context.Context, token, webinarID string) (*provider.Webinar, error)
	ListOccurrences(ctx context.Context, token, webinarID string) ([]provider.Occurrence, error)
	ListRegistrants(ctx context.Context, token, webinarID string) ([]provider.Registrant, error)
	ListReportParticipants(ctx context.Context, token, webinarID, occurrenceID string) ([]provider.AttendanceRecord, error)
	ListBasicParticipants(ctx context.Context, token, webinarID, occurrenceID string) ([]provider.AttendanceRecord, error)
}

// ProgressSink observes progress milestones. The engine guarantees the
// ordering (monotone, milestone-based); sinks just record or forward.
type ProgressSink interface {
	Progress(jobID uuid.UUID, pct int, operation string, totalItems, processedItems int)
}
