package models

import (
	"time"

	"github.com/google/uuid"
)

// Registrant is a synced webinar registration, unique per
// (webinar_id, provider_registrant_id). Attendance fields are back-filled
// from the reconciled participants of the same webinar.
type Registrant struct {
	ID                    uuid.UUID  `json:"id"`
	WebinarID             uuid.UUID  `json:"webinar_id"`
	ProviderRegistrantID  string     `json:"provider_registrant_id"`
	Email                 string     `json:"email"`
	FirstName             string     `json:"first_name,omitempty"`
	LastName              string     `json:"last_name,omitempty"`
	Attended              bool       `json:"attended"`
	JoinTime              *time.Time `json:"join_time,omitempty"`
	LeaveTime             *time.Time `json:"leave_time,omitempty"`
	DurationSec           int64      `json:"duration_sec"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
