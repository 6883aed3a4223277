package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webinar lifecycle statuses as reported by the provider listing endpoints.
const (
	WebinarStatusScheduled = "scheduled"
	WebinarStatusLive      = "live"
	WebinarStatusEnded     = "ended"
)

// Webinar is the synced record of one provider webinar, unique per
// (connection_id, provider_webinar_id). Metrics columns are recomputed
// and overwritten on every sync.
type Webinar struct {
	ID                uuid.UUID       `json:"id"`
	ConnectionID      uuid.UUID       `json:"connection_id"`
	ProviderWebinarID string          `json:"provider_webinar_id"`
	ProviderUUID      string          `json:"provider_uuid,omitempty"`
	Topic             string          `json:"topic"`
	StartTime         *time.Time      `json:"start_time,omitempty"`
	DurationMin       int             `json:"duration_min"`
	LifecycleStatus   string          `json:"lifecycle_status"`
	HostEmail         string          `json:"host_email,omitempty"`
	Settings          json.RawMessage `json:"settings,omitempty"`
	TotalRegistrants  int             `json:"total_registrants"`
	TotalAttendees    int             `json:"total_attendees"`
	TotalAbsentees    int             `json:"total_absentees"`
	AvgAttendanceSec  int64           `json:"avg_attendance_sec"`
	AvgCameraOnSec    int64           `json:"avg_camera_on_sec"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// WebinarMetrics are the derived aggregates written back onto the webinar row.
type WebinarMetrics struct {
	TotalRegistrants int   `json:"total_registrants"`
	TotalAttendees   int   `json:"total_attendees"`
	TotalAbsentees   int   `json:"total_absentees"`
	AvgAttendanceSec int64 `json:"avg_attendance_sec"`
	AvgCameraOnSec   int64 `json:"avg_camera_on_sec"`
}
