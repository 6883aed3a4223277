package sync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/attendlens/backend/internal/provider"
)

// fakeProvider implements Provider with per-method function hooks. Methods
// without a hook return empty results.
type fakeProvider struct {
	listWebinars           func(ctx context.Context, token string, from, to time.Time, types []string) ([]provider.Webinar, error)
	getWebinar             func(ctx context.Context, token, webinarID string) (*provider.Webinar, error)
	listOccurrences        func(ctx context.Context, token, webinarID string) ([]provider.Occurrence, error)
	listRegistrants        func(ctx context.Context, token, webinarID string) ([]provider.Registrant, error)
	listReportParticipants func(ctx context.Context, token, webinarID, occurrenceID string) ([]provider.AttendanceRecord, error)
	listBasicParticipants  func(ctx context.Context, token, webinarID, occurrenceID string) ([]provider.AttendanceRecord, error)
}

func (f *fakeProvider) ListWebinars(ctx context.Context, token string, from, to time.Time, types []string) ([]provider.Webinar, error) {
	if f.listWebinars != nil {
		return f.listWebinars(ctx, token, from, to, types)
	}
	return nil, nil
}

func (f *fakeProvider) GetWebinar(ctx context.Context, token, webinarID string) (*provider.Webinar, error) {
	if f.getWebinar != nil {
		return f.getWebinar(ctx, token, webinarID)
	}
	return &provider.Webinar{ID: webinarID}, nil
}

func (f *fakeProvider) ListOccurrences(ctx context.Context, token, webinarID string) ([]provider.Occurrence, error) {
	if f.listOccurrences != nil {
		return f.listOccurrences(ctx, token, webinarID)
	}
	return nil, nil
}

func (f *fakeProvider) ListRegistrants(ctx context.Context, token, webinarID string) ([]provider.Registrant, error) {
	if f.listRegistrants != nil {
		return f.listRegistrants(ctx, token, webinarID)
	}
	return nil, nil
}

func (f *fakeProvider) ListReportParticipants(ctx context.Context, token, webinarID, occurrenceID string) ([]provider.AttendanceRecord, error) {
	if f.listReportParticipants != nil {
		return f.listReportParticipants(ctx, token, webinarID, occurrenceID)
	}
	return nil, nil
}

func (f *fakeProvider) ListBasicParticipants(ctx context.Context, token, webinarID, occurrenceID string) ([]provider.AttendanceRecord, error) {
	if f.listBasicParticipants != nil {
		return f.listBasicParticipants(ctx, token, webinarID, occurrenceID)
	}
	return nil, nil
}

func apiErr(status int) error {
	return &provider.APIError{StatusCode: status, Message: http.StatusText(status)}
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		name string
		rec  provider.AttendanceRecord
		want string
	}{
		{
			name: "user id wins over everything",
			rec:  provider.AttendanceRecord{UserID: "u1", Email: "A@b.com", RegistrantID: "r1", ParticipantID: "p1"},
			want: "uid:u1",
		},
		{
			name: "email lowercased",
			rec:  provider.AttendanceRecord{Email: "Jane@Example.COM", RegistrantID: "r1"},
			want: "email:jane@example.com",
		},
		{
			name: "registrant id before participant id",
			rec:  provider.AttendanceRecord{RegistrantID: "r1", ParticipantID: "p1"},
			want: "reg:r1",
		},
		{
			name: "participant id as last real key",
			rec:  provider.AttendanceRecord{ParticipantID: "p1"},
			want: "pid:p1",
		},
		{
			name: "synthesized when nothing usable",
			rec:  provider.AttendanceRecord{Name: "Guest", JoinTime: ts("2026-01-10T15:00:00Z")},
			want: fmt.Sprintf("synth:Guest|w1|%d", ts("2026-01-10T15:00:00Z").Unix()),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := identityKey(tt.rec, "w1"); got != tt.want {
				t.Errorf("identityKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeSessionsGroupsByIdentity(t *testing.T) {
	webinarRowID := uuid.New()
	raw := []provider.AttendanceRecord{
		{
			Email: "jane@example.com", Name: "Jane",
			JoinTime: ts("2026-01-10T15:00:00Z"), LeaveTime: ts("2026-01-10T15:20:00Z"),
			DurationSec: 1200, Source: "report",
			ChatCount: 2, AnsweredPolls: 1, CameraOnSec: 600,
		},
		{
			Email: "JANE@example.com", Name: "Jane D",
			JoinTime: ts("2026-01-10T15:25:00Z"), LeaveTime: ts("2026-01-10T15:55:00Z"),
			DurationSec: 1800, Source: "report",
			ChatCount: 1, RaisedHand: true,
		},
		{
			Email: "bob@example.com", Name: "Bob",
			JoinTime: ts("2026-01-10T15:05:00Z"), LeaveTime: ts("2026-01-10T15:50:00Z"),
			DurationSec: 2700, Source: "report",
		},
	}

	participants, sessions, _ := mergeSessions(webinarRowID, "w1", raw)

	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 session rows, got %d", len(sessions))
	}

	foundJane := false
	for _, p := range participants {
		if p.IdentityKey != "email:jane@example.com" {
			continue
		}
		foundJane = true
		if p.SessionCount != 2 {
			t.Errorf("jane session count = %d, want 2", p.SessionCount)
		}
		if p.TotalDurationSec != 3000 {
			t.Errorf("jane total duration = %d, want 3000", p.TotalDurationSec)
		}
		if p.ChatCount != 3 {
			t.Errorf("jane chat count = %d, want 3", p.ChatCount)
		}
		if !p.RaisedHand {
			t.Error("jane raised hand not carried over from second session")
		}
		if p.CameraOnSec != 600 {
			t.Errorf("jane camera seconds = %d, want 600", p.CameraOnSec)
		}
		if p.FirstJoin == nil || !p.FirstJoin.Equal(ts("2026-01-10T15:00:00Z")) {
			t.Errorf("jane first join = %v, want 15:00", p.FirstJoin)
		}
		if p.LastLeave == nil || !p.LastLeave.Equal(ts("2026-01-10T15:55:00Z")) {
			t.Errorf("jane last leave = %v, want 15:55", p.LastLeave)
		}
		if p.Name != "Jane" {
			t.Errorf("jane name = %q, want first-seen name", p.Name)
		}
	}
	if !foundJane {
		t.Fatal("merged participant for jane@example.com not found")
	}
}

func TestMergeSessionsUnifiesCrossEndpointIdentifiers(t *testing.T) {
	webinarRowID := uuid.New()
	raw := []provider.AttendanceRecord{
		{
			UserID: "u1", Email: "jane@example.com", Name: "Jane",
			JoinTime: ts("2026-01-10T15:00:00Z"), LeaveTime: ts("2026-01-10T15:30:00Z"),
			DurationSec: 1800, Source: "report",
		},
		{
			Email: "jane@example.com", Name: "Jane",
			JoinTime: ts("2026-01-10T15:40:00Z"), LeaveTime: ts("2026-01-10T15:50:00Z"),
			DurationSec: 600, Source: "basic",
		},
	}

	participants, sessions, _ := mergeSessions(webinarRowID, "w1", raw)

	if len(participants) != 1 {
		t.Fatalf("expected 1 participant across identifier sets, got %d", len(participants))
	}
	p := participants[0]
	if p.IdentityKey != "uid:u1" {
		t.Errorf("identity key = %q, want strongest identifier uid:u1", p.IdentityKey)
	}
	if p.SessionCount != 2 {
		t.Errorf("session count = %d, want 2", p.SessionCount)
	}
	if p.TotalDurationSec != 2400 {
		t.Errorf("total duration = %d, want 2400", p.TotalDurationSec)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 session rows, got %d", len(sessions))
	}
}

func TestMergeSessionsUnifiesTransitively(t *testing.T) {
	webinarRowID := uuid.New()
	raw := []provider.AttendanceRecord{
		{UserID: "u1", Email: "jane@example.com", JoinTime: ts("2026-01-10T15:00:00Z"), LeaveTime: ts("2026-01-10T15:10:00Z"), DurationSec: 600, Source: "report"},
		{Email: "jane@example.com", RegistrantID: "reg-1", JoinTime: ts("2026-01-10T15:15:00Z"), LeaveTime: ts("2026-01-10T15:20:00Z"), DurationSec: 300, Source: "basic"},
		{RegistrantID: "reg-1", JoinTime: ts("2026-01-10T15:25:00Z"), LeaveTime: ts("2026-01-10T15:30:00Z"), DurationSec: 300, Source: "basic"},
	}

	participants, _, index := mergeSessions(webinarRowID, "w1", raw)

	if len(participants) != 1 {
		t.Fatalf("expected 1 participant after transitive linking, got %d", len(participants))
	}
	if participants[0].IdentityKey != "uid:u1" {
		t.Errorf("identity key = %q, want uid:u1", participants[0].IdentityKey)
	}
	if participants[0].SessionCount != 3 {
		t.Errorf("session count = %d, want 3", participants[0].SessionCount)
	}
	if index["reg:reg-1"] != "uid:u1" {
		t.Errorf("index[reg:reg-1] = %q, want uid:u1", index["reg:reg-1"])
	}

	registrants := backfillAttendance(webinarRowID, []provider.Registrant{
		{ID: "reg-1", Email: "other@example.com", FirstName: "Jane"},
	}, participants, index)
	if len(registrants) != 1 || !registrants[0].Attended {
		t.Fatal("registrant linked through the merged group should be marked attended")
	}
	if registrants[0].DurationSec != 1200 {
		t.Errorf("registrant duration = %d, want 1200", registrants[0].DurationSec)
	}
}

func TestMergeSessionsFlattensSubSessions(t *testing.T) {
	webinarRowID := uuid.New()
	raw := []provider.AttendanceRecord{
		{
			UserID: "u1", Name: "Jane",
			JoinTime: ts("2026-01-10T15:00:00Z"), LeaveTime: ts("2026-01-10T16:00:00Z"),
			DurationSec: 3600, Source: "report",
			ChatCount: 5,
			SubSessions: []provider.Interval{
				{JoinTime: ts("2026-01-10T15:00:00Z"), LeaveTime: ts("2026-01-10T15:20:00Z"), DurationSec: 1200},
				{JoinTime: ts("2026-01-10T15:30:00Z"), LeaveTime: ts("2026-01-10T16:00:00Z"), DurationSec: 1800},
			},
		},
	}

	participants, sessions, _ := mergeSessions(webinarRowID, "w1", raw)

	if len(participants) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(participants))
	}
	p := participants[0]
	if p.SessionCount != 2 {
		t.Errorf("session count = %d, want 2 (sub-sessions, not the envelope)", p.SessionCount)
	}
	if p.TotalDurationSec != 3000 {
		t.Errorf("total duration = %d, want 3000 (sum of sub-sessions)", p.TotalDurationSec)
	}
	if p.ChatCount != 5 {
		t.Errorf("chat count = %d, want 5 (engagement counted once per record)", p.ChatCount)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 session rows, got %d", len(sessions))
	}
	if sessions[0].Signature == sessions[1].Signature {
		t.Error("distinct intervals produced identical signatures")
	}
}

func TestSessionSignatureDeterministic(t *testing.T) {
	id := uuid.New()
	join := ts("2026-01-10T15:00:00Z")
	leave := ts("2026-01-10T15:30:00Z")
	a := sessionSignature(id, "occ1", "email:a@b.com", join, leave, "report")
	b := sessionSignature(id, "occ1", "email:a@b.com", join, leave, "report")
	if a != b {
		t.Error("same inputs produced different signatures")
	}
	c := sessionSignature(id, "occ1", "email:a@b.com", join, leave, "basic")
	if a == c {
		t.Error("different source endpoints produced the same signature")
	}
}

func TestBackfillAttendance(t *testing.T) {
	webinarRowID := uuid.New()
	join := ts("2026-01-10T15:00:00Z")
	leave := ts("2026-01-10T15:45:00Z")

	participants, _, index := mergeSessions(webinarRowID, "w1", []provider.AttendanceRecord{
		{RegistrantID: "reg-1", Name: "Jane", JoinTime: join, LeaveTime: leave, DurationSec: 2700, Source: "report"},
		{Email: "bob@example.com", Name: "Bob", JoinTime: join, LeaveTime: leave, DurationSec: 1000, Source: "report"},
	})

	registrants := backfillAttendance(webinarRowID, []provider.Registrant{
		{ID: "reg-1", Email: "jane@example.com", FirstName: "Jane"},
		{ID: "reg-2", Email: "BOB@example.com", FirstName: "Bob"},
		{ID: "reg-3", Email: "absent@example.com", FirstName: "Ann"},
	}, participants, index)

	if len(registrants) != 3 {
		t.Fatalf("expected 3 registrants, got %d", len(registrants))
	}
	byID := map[string]int{}
	for i, r := range registrants {
		byID[r.ProviderRegistrantID] = i
	}

	jane := registrants[byID["reg-1"]]
	if !jane.Attended {
		t.Error("registrant matched by registrant id not marked attended")
	}
	if jane.DurationSec != 2700 {
		t.Errorf("jane duration = %d, want 2700", jane.DurationSec)
	}
	if jane.JoinTime == nil || !jane.JoinTime.Equal(join) {
		t.Errorf("jane join time = %v, want %v", jane.JoinTime, join)
	}

	bob := registrants[byID["reg-2"]]
	if !bob.Attended {
		t.Error("registrant matched by email (case-insensitive) not marked attended")
	}

	ann := registrants[byID["reg-3"]]
	if ann.Attended {
		t.Error("absent registrant marked attended")
	}
}

func TestReconcileFallsBackToBasicEndpoint(t *testing.T) {
	join := ts("2026-01-10T15:00:00Z")
	p := &fakeProvider{
		listReportParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return nil, apiErr(http.StatusBadRequest)
		},
		listBasicParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return []provider.AttendanceRecord{
				{ParticipantID: "p1", Name: "Jane", JoinTime: join, DurationSec: 900, Source: "basic"},
			}, nil
		},
	}
	r := NewReconciler(p, nil)

	result, err := r.Reconcile(context.Background(), "tok", uuid.New(), "w1", nil)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(result.Participants) != 1 {
		t.Fatalf("expected 1 participant via basic fallback, got %d", len(result.Participants))
	}
	if result.Sessions[0].SourceEndpoint != "basic" {
		t.Errorf("session source = %q, want basic", result.Sessions[0].SourceEndpoint)
	}
}

func TestReconcileTransientReportErrorDoesNotFallBack(t *testing.T) {
	basicCalled := false
	p := &fakeProvider{
		listReportParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return nil, apiErr(http.StatusInternalServerError)
		},
		listBasicParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			basicCalled = true
			return nil, nil
		},
	}
	r := NewReconciler(p, nil)

	_, err := r.Reconcile(context.Background(), "tok", uuid.New(), "w1", nil)
	if err == nil {
		t.Fatal("expected error when the only attendance target fails")
	}
	if basicCalled {
		t.Error("basic endpoint called for a non-fallback error class")
	}
}

func TestReconcileRegistrantFailureIsWarning(t *testing.T) {
	p := &fakeProvider{
		listRegistrants: func(_ context.Context, _, _ string) ([]provider.Registrant, error) {
			return nil, apiErr(http.StatusForbidden)
		},
		listReportParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return []provider.AttendanceRecord{
				{UserID: "u1", Name: "Jane", JoinTime: ts("2026-01-10T15:00:00Z"), DurationSec: 600, Source: "report"},
			}, nil
		},
	}
	r := NewReconciler(p, nil)

	result, err := r.Reconcile(context.Background(), "tok", uuid.New(), "w1", nil)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(result.Registrants) != 0 {
		t.Errorf("expected empty registrant set, got %d", len(result.Registrants))
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Stage != "registrants" {
		t.Errorf("expected one registrants warning, got %+v", result.Warnings)
	}
	if len(result.Participants) != 1 {
		t.Errorf("participant reconciliation should proceed without registrants")
	}
}

func TestReconcilePerOccurrenceIsolation(t *testing.T) {
	p := &fakeProvider{
		listReportParticipants: func(_ context.Context, _, _, occurrenceID string) ([]provider.AttendanceRecord, error) {
			if occurrenceID == "occ-bad" {
				return nil, apiErr(http.StatusBadRequest)
			}
			return []provider.AttendanceRecord{
				{UserID: "u1", JoinTime: ts("2026-01-10T15:00:00Z"), DurationSec: 600, OccurrenceID: occurrenceID, Source: "report"},
			}, nil
		},
		listBasicParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return nil, apiErr(http.StatusNotFound)
		},
	}
	r := NewReconciler(p, nil)

	occurrences := []provider.Occurrence{{OccurrenceID: "occ-good"}, {OccurrenceID: "occ-bad"}}
	result, err := r.Reconcile(context.Background(), "tok", uuid.New(), "w1", occurrences)
	if err != nil {
		t.Fatalf("Reconcile() error = %v, want partial success", err)
	}
	if len(result.Participants) != 1 {
		t.Errorf("expected the good occurrence's participant, got %d", len(result.Participants))
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0].Message, "occ-bad") {
		t.Errorf("expected a warning naming the failed occurrence, got %+v", result.Warnings)
	}
}

func TestReconcileAllOccurrencesFailed(t *testing.T) {
	p := &fakeProvider{
		listReportParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return nil, apiErr(http.StatusNotFound)
		},
		listBasicParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return nil, apiErr(http.StatusNotFound)
		},
	}
	r := NewReconciler(p, nil)

	occurrences := []provider.Occurrence{{OccurrenceID: "o1"}, {OccurrenceID: "o2"}}
	if _, err := r.Reconcile(context.Background(), "tok", uuid.New(), "w1", occurrences); err == nil {
		t.Fatal("expected error when every occurrence exhausted both endpoints")
	}
}

func TestReconcileAuthExpiredSurfacesImmediately(t *testing.T) {
	p := &fakeProvider{
		listReportParticipants: func(_ context.Context, _, _, _ string) ([]provider.AttendanceRecord, error) {
			return nil, apiErr(http.StatusUnauthorized)
		},
	}
	r := NewReconciler(p, nil)

	_, err := r.Reconcile(context.Background(), "tok", uuid.New(), "w1", nil)
	if !provider.IsAuthExpired(err) {
		t.Fatalf("expected auth-expired error to surface, got %v", err)
	}
}
