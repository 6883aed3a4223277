package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/attendlens/backend/config"
	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/internal/provider"
)

// fakeStore records writes in memory with the same natural-key upsert
// semantics as the pgx-backed store.
type fakeStore struct {
	webinars     []*models.Webinar
	metrics      map[uuid.UUID]models.WebinarMetrics
	participants []*models.Participant
	registrants  []*models.Registrant
	sessions     []*models.ParticipantSession

	upsertWebinarErr error
	appendSessionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{metrics: make(map[uuid.UUID]models.WebinarMetrics)}
}

func (s *fakeStore) UpsertWebinar(_ context.Context, w *models.Webinar) error {
	if s.upsertWebinarErr != nil {
		return s.upsertWebinarErr
	}
	for _, existing := range s.webinars {
		if existing.ProviderWebinarID == w.ProviderWebinarID && existing.ConnectionID == w.ConnectionID {
			w.ID = existing.ID
			*existing = *w
			return nil
		}
	}
	w.ID = uuid.New()
	s.webinars = append(s.webinars, w)
	return nil
}

func (s *fakeStore) UpdateWebinarMetrics(_ context.Context, webinarID uuid.UUID, m models.WebinarMetrics) error {
	s.metrics[webinarID] = m
	return nil
}

func (s *fakeStore) UpsertParticipant(_ context.Context, p *models.Participant) error {
	for i, existing := range s.participants {
		if existing.WebinarID == p.WebinarID && existing.IdentityKey == p.IdentityKey {
			s.participants[i] = p
			return nil
		}
	}
	s.participants = append(s.participants, p)
	return nil
}

func (s *fakeStore) UpsertRegistrant(_ context.Context, r *models.Registrant) error {
	for i, existing := range s.registrants {
		if existing.WebinarID == r.WebinarID && existing.ProviderRegistrantID == r.ProviderRegistrantID {
			s.registrants[i] = r
			return nil
		}
	}
	s.registrants = append(s.registrants, r)
	return nil
}

func (s *fakeStore) AppendSession(_ context.Context, sess *models.ParticipantSession) error {
	if s.appendSessionErr != nil {
		return s.appendSessionErr
	}
	for _, existing := range s.sessions {
		if existing.Signature == sess.Signature {
			return nil
		}
	}
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *fakeStore) WebinarAggregates(_ context.Context, webinarID uuid.UUID) (int, int, int64, int64, error) {
	registrants, attendees := 0, 0
	var totalDur, totalCam int64
	for _, r := range s.registrants {
		if r.WebinarID == webinarID {
			registrants++
		}
	}
	for _, p := range s.participants {
		if p.WebinarID == webinarID {
			attendees++
			totalDur += p.TotalDurationSec
			totalCam += p.CameraOnSec
		}
	}
	if attendees == 0 {
		return registrants, 0, 0, 0, nil
	}
	return registrants, attendees, totalDur / int64(attendees), totalCam / int64(attendees), nil
}

// fakeJobStore tracks the job state machine in memory.
type fakeJobStore struct {
	status          string
	progress        []int
	operations      []string
	errs            []models.SyncError
	metadata        map[string]any
	cancelRequested bool
	failReason      string
	lastCompleted   *time.Time

	// onProgress lets a test flip state mid-run, keyed on processed items.
	onProgress func(processed int)
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{status: models.SyncStatusPending}
}

func (j *fakeJobStore) MarkRunning(context.Context, uuid.UUID) error {
	if j.status == models.SyncStatusPending {
		j.status = models.SyncStatusRunning
	}
	return nil
}

func (j *fakeJobStore) UpdateProgress(_ context.Context, _ uuid.UUID, pct int, operation string, _, processed int) error {
	if j.status != models.SyncStatusRunning {
		return nil
	}
	j.progress = append(j.progress, pct)
	j.operations = append(j.operations, operation)
	if j.onProgress != nil {
		j.onProgress(processed)
	}
	return nil
}

func (j *fakeJobStore) AppendError(_ context.Context, _ uuid.UUID, syncErr models.SyncError) error {
	j.errs = append(j.errs, syncErr)
	return nil
}

func (j *fakeJobStore) SetMetadata(_ context.Context, _ uuid.UUID, metadata map[string]any) error {
	if j.metadata == nil {
		j.metadata = make(map[string]any)
	}
	for k, v := range metadata {
		j.metadata[k] = v
	}
	return nil
}

func (j *fakeJobStore) Complete(context.Context, uuid.UUID) error {
	if j.status != models.SyncStatusRunning {
		return errors.New("complete: job not running")
	}
	j.status = models.SyncStatusCompleted
	return nil
}

func (j *fakeJobStore) Fail(_ context.Context, _ uuid.UUID, reason string) error {
	j.status = models.SyncStatusFailed
	j.failReason = reason
	return nil
}

func (j *fakeJobStore) CancelRequested(context.Context, uuid.UUID) (bool, error) {
	return j.cancelRequested, nil
}

func (j *fakeJobStore) MarkCancelled(context.Context, uuid.UUID) error {
	j.status = models.SyncStatusCancelled
	return nil
}

func (j *fakeJobStore) LastCompletedAt(context.Context, uuid.UUID) (*time.Time, error) {
	return j.lastCompleted, nil
}

// fakeTokens returns a fixed token and counts refreshes.
type fakeTokens struct {
	token      string
	ensureErr  error
	refreshErr error
	refreshes  int
}

func (t *fakeTokens) EnsureToken(context.Context, *models.Connection) (string, error) {
	if t.ensureErr != nil {
		return "", t.ensureErr
	}
	return t.token, nil
}

func (t *fakeTokens) Refresh(context.Context, *models.Connection) (string, error) {
	t.refreshes++
	if t.refreshErr != nil {
		return "", t.refreshErr
	}
	return t.token + "-refreshed", nil
}

type fakeConnSource struct {
	conn *models.Connection
	err  error
}

func (c *fakeConnSource) GetByID(context.Context, uuid.UUID) (*models.Connection, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.conn, nil
}

// sinkRecorder captures every progress emission in order.
type sinkRecorder struct {
	pcts []int
	ops  []string
}

func (s *sinkRecorder) Progress(_ uuid.UUID, pct int, operation string, _, _ int) {
	s.pcts = append(s.pcts, pct)
	s.ops = append(s.ops, operation)
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{LookbackDays: 90, LookaheadDays: 30, IncrementalOverlap: 24 * time.Hour}
}

func testConnection() *models.Connection {
	return &models.Connection{ID: uuid.New(), AuthKind: models.AuthKindMachine, Status: models.ConnectionStatusActive}
}

// twoWebinarProvider serves two webinars with one attendee each.
func twoWebinarProvider() *fakeProvider {
	return &fakeProvider{
		listWebinars: func(context.Context, string, time.Time, time.Time, []string) ([]provider.Webinar, error) {
			return []provider.Webinar{
				{ID: "w1", Topic: "First", StartTime: ts("2026-01-10T15:00:00Z")},
				{ID: "w2", Topic: "Second", StartTime: ts("2026-01-11T15:00:00Z")},
			}, nil
		},
		listReportParticipants: func(_ context.Context, _, webinarID, _ string) ([]provider.AttendanceRecord, error) {
			return []provider.AttendanceRecord{
				{UserID: "u-" + webinarID, Name: "Attendee", JoinTime: ts("2026-01-10T15:00:00Z"), DurationSec: 1800, Source: "report"},
			}, nil
		},
	}
}

func TestRunCompletesJob(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobStore()
	tokens := &fakeTokens{token: "tok"}
	sink := &sinkRecorder{}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, tokens, twoWebinarProvider(), store, jobs, testSyncConfig(), 0, nil)
	e.AddProgressSink(sink)

	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if jobs.status != models.SyncStatusCompleted {
		t.Errorf("job status = %q, want completed", jobs.status)
	}
	if len(store.webinars) != 2 {
		t.Errorf("persisted webinars = %d, want 2", len(store.webinars))
	}
	if len(store.participants) != 2 {
		t.Errorf("persisted participants = %d, want 2", len(store.participants))
	}
	if len(store.metrics) != 2 {
		t.Errorf("metrics computed for %d webinars, want 2", len(store.metrics))
	}
	if jobs.metadata["window_from"] == nil || jobs.metadata["window_to"] == nil {
		t.Error("sync window not recorded in job metadata")
	}

	for i := 1; i < len(sink.pcts); i++ {
		if sink.pcts[i] < sink.pcts[i-1] {
			t.Fatalf("progress regressed: %v", sink.pcts)
		}
	}
	last := sink.pcts[len(sink.pcts)-1]
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
	for _, pct := range sink.pcts[:len(sink.pcts)-1] {
		if pct >= 100 {
			t.Errorf("progress hit %d before completion: %v", pct, sink.pcts)
		}
	}
}

func TestRunIsolatesPerWebinarFailure(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobStore()

	p := twoWebinarProvider()
	p.listReportParticipants = func(_ context.Context, _, webinarID, _ string) ([]provider.AttendanceRecord, error) {
		if webinarID == "w1" {
			return nil, apiErr(http.StatusInternalServerError)
		}
		return []provider.AttendanceRecord{
			{UserID: "u2", JoinTime: ts("2026-01-11T15:00:00Z"), DurationSec: 600, Source: "report"},
		}, nil
	}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, &fakeTokens{token: "tok"}, p, store, jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err != nil {
		t.Fatalf("Run() error = %v, want nil despite per-webinar failure", err)
	}

	if jobs.status != models.SyncStatusCompleted {
		t.Errorf("job status = %q, want completed", jobs.status)
	}
	if len(jobs.errs) == 0 {
		t.Fatal("expected accumulated errors for the failed webinar")
	}
	found := false
	for _, se := range jobs.errs {
		if se.WebinarID == "w1" {
			found = true
		}
	}
	if !found {
		t.Errorf("no accumulated error names webinar w1: %+v", jobs.errs)
	}
	if len(store.participants) != 1 {
		t.Errorf("persisted participants = %d, want 1 from the healthy webinar", len(store.participants))
	}
}

func TestRunFailsWhenTokenUnobtainable(t *testing.T) {
	jobs := newFakeJobStore()
	tokens := &fakeTokens{ensureErr: provider.ErrReconnectRequired}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, tokens, twoWebinarProvider(), newFakeStore(), jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err == nil {
		t.Fatal("expected error when token cannot be obtained")
	}
	if jobs.status != models.SyncStatusFailed {
		t.Errorf("job status = %q, want failed", jobs.status)
	}
}

func TestRunFailsWhenEnumerationFails(t *testing.T) {
	jobs := newFakeJobStore()
	p := &fakeProvider{
		listWebinars: func(context.Context, string, time.Time, time.Time, []string) ([]provider.Webinar, error) {
			return nil, errors.New("all webinar listings failed")
		},
	}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, &fakeTokens{token: "tok"}, p, newFakeStore(), jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err == nil {
		t.Fatal("expected error when enumeration fails")
	}
	if jobs.status != models.SyncStatusFailed {
		t.Errorf("job status = %q, want failed", jobs.status)
	}
}

func TestRunRefreshesTokenOnceOnMidRunExpiry(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobStore()
	tokens := &fakeTokens{token: "tok"}

	rejected := false
	p := twoWebinarProvider()
	p.listReportParticipants = func(_ context.Context, token, webinarID, _ string) ([]provider.AttendanceRecord, error) {
		if webinarID == "w1" && !rejected {
			rejected = true
			return nil, apiErr(http.StatusUnauthorized)
		}
		return []provider.AttendanceRecord{
			{UserID: "u-" + webinarID, JoinTime: ts("2026-01-10T15:00:00Z"), DurationSec: 600, Source: "report"},
		}, nil
	}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, tokens, p, store, jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if tokens.refreshes != 1 {
		t.Errorf("refreshes = %d, want exactly 1", tokens.refreshes)
	}
	if jobs.status != models.SyncStatusCompleted {
		t.Errorf("job status = %q, want completed after refresh and retry", jobs.status)
	}
	if len(store.participants) != 2 {
		t.Errorf("persisted participants = %d, want 2 (retried webinar included)", len(store.participants))
	}
}

func TestRunFailsWhenRefreshFailsMidRun(t *testing.T) {
	jobs := newFakeJobStore()
	tokens := &fakeTokens{token: "tok", refreshErr: provider.ErrReconnectRequired}

	p := twoWebinarProvider()
	p.listReportParticipants = func(context.Context, string, string, string) ([]provider.AttendanceRecord, error) {
		return nil, apiErr(http.StatusUnauthorized)
	}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, tokens, p, newFakeStore(), jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); !errors.Is(err, provider.ErrReconnectRequired) {
		t.Fatalf("Run() error = %v, want ErrReconnectRequired", err)
	}
	if jobs.status != models.SyncStatusFailed {
		t.Errorf("job status = %q, want failed", jobs.status)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobStore()
	// Request cancellation once the first webinar has been processed.
	jobs.onProgress = func(processed int) {
		if processed >= 1 {
			jobs.cancelRequested = true
		}
	}

	e := NewEngine(&fakeConnSource{conn: testConnection()}, &fakeTokens{token: "tok"}, twoWebinarProvider(), store, jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if jobs.status != models.SyncStatusCancelled {
		t.Errorf("job status = %q, want cancelled", jobs.status)
	}
	if len(store.webinars) != 1 {
		t.Errorf("persisted webinars = %d, want 1 (second webinar not started)", len(store.webinars))
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobStore()
	jobs.cancelRequested = true

	e := NewEngine(&fakeConnSource{conn: testConnection()}, &fakeTokens{token: "tok"}, twoWebinarProvider(), store, jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if jobs.status != models.SyncStatusCancelled {
		t.Errorf("job status = %q, want cancelled", jobs.status)
	}
	if len(store.webinars) != 0 {
		t.Errorf("persisted webinars = %d, want 0", len(store.webinars))
	}
}

func TestRunFailsFastOnUnreachableStore(t *testing.T) {
	store := newFakeStore()
	store.appendSessionErr = errors.New("failed to connect to `host=localhost`")
	jobs := newFakeJobStore()

	e := NewEngine(&fakeConnSource{conn: testConnection()}, &fakeTokens{token: "tok"}, twoWebinarProvider(), store, jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindManual); err == nil {
		t.Fatal("expected error when the store is unreachable")
	}
	if jobs.status != models.SyncStatusFailed {
		t.Errorf("job status = %q, want failed", jobs.status)
	}
}

func TestIsStoreUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped deadline", fmt.Errorf("upsert webinar: %w", context.DeadlineExceeded), true},
		{"typed connect error", &pgconn.ConnectError{Config: &pgconn.Config{}}, true},
		{"refused text", errors.New("dial tcp 127.0.0.1:5432: connection refused"), true},
		{"closed pool text", errors.New("acquire: closed pool"), true},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
		{"bad record", errors.New("invalid input syntax for type timestamp"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isStoreUnreachable(tt.err); got != tt.want {
				t.Errorf("isStoreUnreachable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunIncrementalWindowUsesLastCompletedSync(t *testing.T) {
	jobs := newFakeJobStore()
	last := time.Now().Add(-48 * time.Hour)
	jobs.lastCompleted = &last

	e := NewEngine(&fakeConnSource{conn: testConnection()}, &fakeTokens{token: "tok"}, &fakeProvider{}, newFakeStore(), jobs, testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), uuid.New(), models.SyncKindIncremental); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	raw, ok := jobs.metadata["window_from"].(string)
	if !ok {
		t.Fatal("window_from missing from job metadata")
	}
	from, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("window_from not RFC3339: %v", err)
	}
	want := last.Add(-24 * time.Hour)
	if diff := from.Sub(want); diff > time.Second || diff < -time.Second {
		t.Errorf("window_from = %v, want last completed minus overlap (%v)", from, want)
	}
}

func TestRunRerunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	conn := testConnection()
	connID := conn.ID
	p := twoWebinarProvider()

	e := NewEngine(&fakeConnSource{conn: conn}, &fakeTokens{token: "tok"}, p, store, newFakeJobStore(), testSyncConfig(), 0, nil)
	if err := e.Run(context.Background(), uuid.New(), connID, models.SyncKindManual); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	webinars, participants, sessions := len(store.webinars), len(store.participants), len(store.sessions)

	e2 := NewEngine(&fakeConnSource{conn: conn}, &fakeTokens{token: "tok"}, p, store, newFakeJobStore(), testSyncConfig(), 0, nil)
	if err := e2.Run(context.Background(), uuid.New(), connID, models.SyncKindManual); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if len(store.webinars) != webinars {
		t.Errorf("webinar rows after re-run = %d, want %d", len(store.webinars), webinars)
	}
	if len(store.participants) != participants {
		t.Errorf("participant rows after re-run = %d, want %d", len(store.participants), participants)
	}
	if len(store.sessions) != sessions {
		t.Errorf("session rows after re-run = %d, want %d (signatures must dedupe)", len(store.sessions), sessions)
	}
}
