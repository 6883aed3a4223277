package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/attendlens/backend/internal/models"
)

// ComputeMetrics derives the aggregate columns for a webinar as a pure
// function of the already-persisted participant and registrant rows.
// totalAbsentees is clamped at zero: walk-ins can push attendees above
// registrants. Re-running after a later sync overwrites prior values.
func ComputeMetrics(ctx context.Context, store Store, webinarID uuid.UUID) (models.WebinarMetrics, error) {
	registrants, attendees, avgDurationSec, avgCameraSec, err := store.WebinarAggregates(ctx, webinarID)
	if err != nil {
		return models.WebinarMetrics{}, fmt.Errorf("load aggregates for webinar %s: %w", webinarID, err)
	}
	absentees := registrants - attendees
	if absentees < 0 {
		absentees = 0
	}
	return models.WebinarMetrics{
		TotalRegistrants: registrants,
		TotalAttendees:   attendees,
		TotalAbsentees:   absentees,
		AvgAttendanceSec: avgDurationSec,
		AvgCameraOnSec:   avgCameraSec,
	}, nil
}
