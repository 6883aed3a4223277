package models

import (
	"time"

	"github.com/google/uuid"
)

// Raw session source endpoints.
const (
	SessionSourceReport = "report"
	SessionSourceBasic  = "basic"
)

// Participant is the canonical reconciled attendance record of one person
// for one webinar, unique per (webinar_id, identity_key). It is produced by
// merging all raw sessions that resolve to the same identity key.
type Participant struct {
	ID               uuid.UUID  `json:"id"`
	WebinarID        uuid.UUID  `json:"webinar_id"`
	IdentityKey      string     `json:"identity_key"`
	Name             string     `json:"name,omitempty"`
	Email            string     `json:"email,omitempty"`
	ProviderUserID   string     `json:"provider_user_id,omitempty"`
	SessionCount     int        `json:"session_count"`
	TotalDurationSec int64      `json:"total_duration_sec"`
	FirstJoin        *time.Time `json:"first_join,omitempty"`
	LastLeave        *time.Time `json:"last_leave,omitempty"`
	ChatCount        int        `json:"chat_count"`
	RaisedHand       bool       `json:"raised_hand"`
	AnsweredPolls    int        `json:"answered_polls"`
	AskedQuestion    bool       `json:"asked_question"`
	CameraOnSec      int64      `json:"camera_on_sec"`
	Attentiveness    string     `json:"attentiveness,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ParticipantSession is one raw join/leave interval reported by the provider,
// kept append-only for audit. Signature dedupes re-synced rows.
type ParticipantSession struct {
	ID             uuid.UUID `json:"id"`
	WebinarID      uuid.UUID `json:"webinar_id"`
	OccurrenceID   string    `json:"occurrence_id,omitempty"`
	IdentityKeyRaw string    `json:"identity_key_raw"`
	JoinTime       time.Time `json:"join_time"`
	LeaveTime      time.Time `json:"leave_time"`
	DurationSec    int64     `json:"duration_sec"`
	SourceEndpoint string    `json:"source_endpoint"`
	Signature      string    `json:"signature"`
	CreatedAt      time.Time `json:"created_at"`
}
