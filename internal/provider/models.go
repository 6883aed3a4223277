package provider

import "time"

// Webinar is one entry from the webinar listing, optionally enriched by the
// detail endpoint.
type Webinar struct {
	ID        string         `json:"id"`
	UUID      string         `json:"uuid"`
	Topic     string         `json:"topic"`
	StartTime time.Time      `json:"start_time"`
	Duration  int            `json:"duration"` // minutes
	Status    string         `json:"status"`   // lifecycle type it was listed under
	HostEmail string         `json:"host_email"`
	Settings  map[string]any `json:"settings"`
}

// Occurrence is one concrete session of a recurring webinar.
type Occurrence struct {
	OccurrenceID string    `json:"occurrence_id"`
	StartTime    time.Time `json:"start_time"`
	Duration     int       `json:"duration"`
	Status       string    `json:"status"`
}

// Registrant is one entry from the registrants listing.
type Registrant struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status"`
}

// Interval is one nested join/leave pair inside a report attendance entry.
type Interval struct {
	JoinTime    time.Time `json:"join_time"`
	LeaveTime   time.Time `json:"leave_time"`
	DurationSec int64     `json:"duration_sec"`
}

// AttendanceRecord is the canonical raw attendance shape both participant
// endpoints normalize into at the fetch boundary. Downstream reconciliation
// never branches on which endpoint produced a record; Source is kept for the
// audit trail only.
type AttendanceRecord struct {
	UserID        string // stable provider user id, empty for guests
	ParticipantID string // per-meeting participant id
	RegistrantID  string
	Email         string
	Name          string
	JoinTime      time.Time
	LeaveTime     time.Time
	DurationSec   int64
	OccurrenceID  string
	Source        string // models.SessionSourceReport or models.SessionSourceBasic

	// Engagement, report endpoint only.
	ChatCount     int
	RaisedHand    bool
	AnsweredPolls int
	AskedQuestion bool
	CameraOnSec   int64
	Attentiveness string

	// SubSessions holds nested rejoin intervals some report entries carry
	// instead of separate rows.
	SubSessions []Interval
}

// listWebinarsPage is the page-number-paginated webinar listing payload.
type listWebinarsPage struct {
	PageNumber int            `json:"page_number"`
	PageCount  int            `json:"page_count"`
	PageSize   int            `json:"page_size"`
	Webinars   []webinarEntry `json:"webinars"`
}

type webinarEntry struct {
	ID        string `json:"id"`
	UUID      string `json:"uuid"`
	Topic     string `json:"topic"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
}

// webinarDetail is the richer single-webinar payload.
type webinarDetail struct {
	ID          string            `json:"id"`
	UUID        string            `json:"uuid"`
	Topic       string            `json:"topic"`
	StartTime   string            `json:"start_time"`
	Duration    int               `json:"duration"`
	HostEmail   string            `json:"host_email"`
	Settings    map[string]any    `json:"settings"`
	Occurrences []occurrenceEntry `json:"occurrences"`
}

type occurrenceEntry struct {
	OccurrenceID string `json:"occurrence_id"`
	StartTime    string `json:"start_time"`
	Duration     int    `json:"duration"`
	Status       string `json:"status"`
}

// listRegistrantsPage is the page-number-paginated registrants payload.
type listRegistrantsPage struct {
	PageNumber  int          `json:"page_number"`
	PageCount   int          `json:"page_count"`
	Registrants []Registrant `json:"registrants"`
}

// reportParticipantsPage is the cursor-paginated report endpoint payload.
type reportParticipantsPage struct {
	NextPageToken string                   `json:"next_page_token"`
	Participants  []reportParticipantEntry `json:"participants"`
}

type reportParticipantEntry struct {
	ID                string `json:"id"`      // registrant id when registered
	UserID            string `json:"user_id"` // stable user id for signed-in users
	ParticipantUserID string `json:"participant_user_id"`
	Name              string `json:"name"`
	UserEmail         string `json:"user_email"`
	JoinTime          string `json:"join_time"`
	LeaveTime         string `json:"leave_time"`
	Duration          int64  `json:"duration"` // seconds
	Attentiveness     string `json:"attentiveness_score"`
	SendsChat         int    `json:"sends_chat"`
	RaisedHand        bool   `json:"raised_hand"`
	AnsweredPolling   int    `json:"answered_polling"`
	AskedQuestion     bool   `json:"asked_question"`
	CameraDuration    int64  `json:"camera_duration"`
	Details           []struct {
		JoinTime  string `json:"join_time"`
		LeaveTime string `json:"leave_time"`
		Duration  int64  `json:"duration"`
	} `json:"details"`
}

// basicParticipantsPage is the page-number-paginated basic endpoint payload.
type basicParticipantsPage struct {
	PageNumber   int                     `json:"page_number"`
	PageCount    int                     `json:"page_count"`
	Participants []basicParticipantEntry `json:"participants"`
}

type basicParticipantEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	UserEmail string `json:"user_email"`
	JoinTime  string `json:"join_time"`
	LeaveTime string `json:"leave_time"`
	Duration  int64  `json:"duration"`
}

// parseProviderTime handles the two timestamp layouts the provider emits.
func parseProviderTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z0700", s); err == nil {
		return t
	}
	return time.Time{}
}

func (e reportParticipantEntry) normalize(occurrenceID string) AttendanceRecord {
	rec := AttendanceRecord{
		UserID:        e.UserID,
		ParticipantID: e.ParticipantUserID,
		RegistrantID:  e.ID,
		Email:         e.UserEmail,
		Name:          e.Name,
		JoinTime:      parseProviderTime(e.JoinTime),
		LeaveTime:     parseProviderTime(e.LeaveTime),
		DurationSec:   e.Duration,
		OccurrenceID:  occurrenceID,
		Source:        "report",
		ChatCount:     e.SendsChat,
		RaisedHand:    e.RaisedHand,
		AnsweredPolls: e.AnsweredPolling,
		AskedQuestion: e.AskedQuestion,
		CameraOnSec:   e.CameraDuration,
		Attentiveness: e.Attentiveness,
	}
	for _, d := range e.Details {
		rec.SubSessions = append(rec.SubSessions, Interval{
			JoinTime:    parseProviderTime(d.JoinTime),
			LeaveTime:   parseProviderTime(d.LeaveTime),
			DurationSec: d.Duration,
		})
	}
	return rec
}

func (e basicParticipantEntry) normalize(occurrenceID string) AttendanceRecord {
	return AttendanceRecord{
		UserID:        e.UserID,
		ParticipantID: e.ID,
		Email:         e.UserEmail,
		Name:          e.Name,
		JoinTime:      parseProviderTime(e.JoinTime),
		LeaveTime:     parseProviderTime(e.LeaveTime),
		DurationSec:   e.Duration,
		OccurrenceID:  occurrenceID,
		Source:        "basic",
	}
}
