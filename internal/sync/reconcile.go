package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/internal/provider"
)

// ReconcileResult is the output of reconciling one webinar: canonical
// participants, registrants with attendance back-filled, the raw session
// audit rows, and any non-fatal warnings collected along the way.
type ReconcileResult struct {
	Participants []models.Participant
	Registrants  []models.Registrant
	Sessions     []models.ParticipantSession
	Warnings     []models.SyncError
}

// Reconciler fetches attendance data for one webinar and merges raw sessions
// into canonical per-person records.
type Reconciler struct {
	provider Provider
	logger   *zap.Logger
}

// NewReconciler creates a reconciler over the given provider.
func NewReconciler(p Provider, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{provider: p, logger: logger}
}

// Reconcile fetches registrants and raw attendance for the webinar (per
// occurrence when it recurs), resolves identities, merges sessions and
// back-fills registrant attendance. A registrant fetch failure yields an
// empty registrant set, not an error. An error is returned only when every
// attendance target exhausted both endpoints; partial occurrence failures
// become warnings.
func (r *Reconciler) Reconcile(ctx context.Context, token string, webinarRowID uuid.UUID, providerWebinarID string, occurrences []provider.Occurrence) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	registrants, err := r.provider.ListRegistrants(ctx, token, providerWebinarID)
	if err != nil {
		r.logger.Warn("registrant fetch failed, continuing without registrants",
			zap.String("webinar", providerWebinarID), zap.Error(err))
		result.Warnings = append(result.Warnings, models.SyncError{
			WebinarID: providerWebinarID,
			Stage:     "registrants",
			Message:   err.Error(),
			At:        time.Now(),
		})
		registrants = nil
	}

	// One attendance-fetch target per occurrence; a single target with an
	// empty occurrence id for non-recurring webinars.
	targets := []string{""}
	if len(occurrences) > 0 {
		targets = targets[:0]
		for _, o := range occurrences {
			targets = append(targets, o.OccurrenceID)
		}
	}

	var raw []provider.AttendanceRecord
	failedTargets := 0
	for _, occurrenceID := range targets {
		records, fetchErr := r.fetchAttendance(ctx, token, providerWebinarID, occurrenceID)
		if fetchErr != nil {
			failedTargets++
			result.Warnings = append(result.Warnings, models.SyncError{
				WebinarID: providerWebinarID,
				Stage:     "attendance",
				Message:   fmt.Sprintf("occurrence %q: %v", occurrenceID, fetchErr),
				At:        time.Now(),
			})
			if provider.IsAuthExpired(fetchErr) {
				// Surface immediately so the caller can refresh and retry.
				return nil, fetchErr
			}
			continue
		}
		raw = append(raw, records...)
	}
	if failedTargets == len(targets) && len(targets) > 0 {
		return nil, fmt.Errorf("attendance unavailable on both endpoints for webinar %s", providerWebinarID)
	}

	participants, sessions, index := mergeSessions(webinarRowID, providerWebinarID, raw)
	result.Participants = participants
	result.Sessions = sessions
	result.Registrants = backfillAttendance(webinarRowID, registrants, participants, index)
	return result, nil
}

// fetchAttendance tries the detailed report endpoint first and falls back to
// the basic endpoint when the report endpoint rejects the request.
func (r *Reconciler) fetchAttendance(ctx context.Context, token, providerWebinarID, occurrenceID string) ([]provider.AttendanceRecord, error) {
	records, err := r.provider.ListReportParticipants(ctx, token, providerWebinarID, occurrenceID)
	if err == nil {
		return records, nil
	}
	if !provider.IsEndpointUnsupported(err) {
		return nil, err
	}
	r.logger.Info("report endpoint unavailable, falling back to basic endpoint",
		zap.String("webinar", providerWebinarID),
		zap.String("occurrence", occurrenceID),
		zap.Error(err))
	records, basicErr := r.provider.ListBasicParticipants(ctx, token, providerWebinarID, occurrenceID)
	if basicErr != nil {
		return nil, fmt.Errorf("report endpoint: %v; basic endpoint: %w", err, basicErr)
	}
	return records, nil
}

// identityKey resolves the strongest single identifier carried by a raw
// attendance record. Priority: stable user id, email, registrant id,
// per-meeting participant id, then a synthesized key. Every record resolves
// to some key even when upstream fields are missing.
func identityKey(rec provider.AttendanceRecord, providerWebinarID string) string {
	return recordIdentifiers(rec, providerWebinarID)[0]
}

// recordIdentifiers lists every identifier a record carries, strongest first.
func recordIdentifiers(rec provider.AttendanceRecord, providerWebinarID string) []string {
	var ids []string
	if rec.UserID != "" {
		ids = append(ids, "uid:"+rec.UserID)
	}
	if rec.Email != "" {
		ids = append(ids, "email:"+strings.ToLower(rec.Email))
	}
	if rec.RegistrantID != "" {
		ids = append(ids, "reg:"+rec.RegistrantID)
	}
	if rec.ParticipantID != "" {
		ids = append(ids, "pid:"+rec.ParticipantID)
	}
	if len(ids) == 0 {
		ids = append(ids, fmt.Sprintf("synth:%s|%s|%d", rec.Name, providerWebinarID, rec.JoinTime.Unix()))
	}
	return ids
}

func keyRank(key string) int {
	switch {
	case strings.HasPrefix(key, "uid:"):
		return 0
	case strings.HasPrefix(key, "email:"):
		return 1
	case strings.HasPrefix(key, "reg:"):
		return 2
	case strings.HasPrefix(key, "pid:"):
		return 3
	}
	return 4
}

// identityUnifier links identifiers that co-occur on a record. The report
// endpoint may key a person by user id while the basic endpoint only carries
// their email; any record seen with both ties the two identifiers together so
// the person collapses into a single group.
type identityUnifier struct {
	parent map[string]string
}

func newIdentityUnifier() *identityUnifier {
	return &identityUnifier{parent: make(map[string]string)}
}

func (u *identityUnifier) find(key string) string {
	root, ok := u.parent[key]
	if !ok || root == key {
		u.parent[key] = key
		return key
	}
	root = u.find(root)
	u.parent[key] = root
	return root
}

func (u *identityUnifier) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// sessionSignature dedupes raw session rows across re-syncs.
func sessionSignature(webinarRowID uuid.UUID, occurrenceID, key string, join, leave time.Time, source string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d|%s",
		webinarRowID, occurrenceID, key, join.Unix(), leave.Unix(), source)))
	return hex.EncodeToString(sum[:])
}

// mergeSessions groups raw records by unified identity and folds each group
// into one canonical participant. Identifiers that ever co-occur on a record
// are treated as the same person before grouping, so a row keyed only by
// email still merges with one keyed by the matching user id. Nested
// sub-session lists are flattened into the group before counting, so
// sessionCount and totalDuration reflect actual join/leave intervals.
// Engagement is OR/sum'd per upstream record, not per flattened interval, to
// avoid double counting. The returned index maps every identifier seen to
// its group's canonical key.
func mergeSessions(webinarRowID uuid.UUID, providerWebinarID string, raw []provider.AttendanceRecord) ([]models.Participant, []models.ParticipantSession, map[string]string) {
	u := newIdentityUnifier()
	recordIDs := make([][]string, len(raw))
	for i, rec := range raw {
		ids := recordIdentifiers(rec, providerWebinarID)
		recordIDs[i] = ids
		u.find(ids[0])
		for _, id := range ids[1:] {
			u.union(ids[0], id)
		}
	}

	// Canonical key per group: the strongest identifier anywhere in the
	// component, smallest on ties so re-syncs land on the same key.
	canonical := make(map[string]string)
	for _, ids := range recordIDs {
		for _, id := range ids {
			root := u.find(id)
			best, ok := canonical[root]
			if !ok || keyRank(id) < keyRank(best) || (keyRank(id) == keyRank(best) && id < best) {
				canonical[root] = id
			}
		}
	}
	index := make(map[string]string, len(u.parent))
	for id := range u.parent {
		index[id] = canonical[u.find(id)]
	}

	grouped := make(map[string]*models.Participant)
	var order []string
	var sessions []models.ParticipantSession

	for i, rec := range raw {
		rawKey := recordIDs[i][0]
		key := index[rawKey]
		p, ok := grouped[key]
		if !ok {
			p = &models.Participant{WebinarID: webinarRowID, IdentityKey: key}
			grouped[key] = p
			order = append(order, key)
		}

		if p.Name == "" {
			p.Name = rec.Name
		}
		if p.Email == "" {
			p.Email = strings.ToLower(rec.Email)
		}
		if p.ProviderUserID == "" {
			p.ProviderUserID = rec.UserID
		}
		if p.Attentiveness == "" {
			p.Attentiveness = rec.Attentiveness
		}
		p.ChatCount += rec.ChatCount
		p.RaisedHand = p.RaisedHand || rec.RaisedHand
		p.AnsweredPolls += rec.AnsweredPolls
		p.AskedQuestion = p.AskedQuestion || rec.AskedQuestion
		p.CameraOnSec += rec.CameraOnSec

		intervals := []provider.Interval{{JoinTime: rec.JoinTime, LeaveTime: rec.LeaveTime, DurationSec: rec.DurationSec}}
		if len(rec.SubSessions) > 0 {
			intervals = rec.SubSessions
		}
		for _, iv := range intervals {
			p.SessionCount++
			p.TotalDurationSec += iv.DurationSec
			if !iv.JoinTime.IsZero() && (p.FirstJoin == nil || iv.JoinTime.Before(*p.FirstJoin)) {
				join := iv.JoinTime
				p.FirstJoin = &join
			}
			if !iv.LeaveTime.IsZero() && (p.LastLeave == nil || iv.LeaveTime.After(*p.LastLeave)) {
				leave := iv.LeaveTime
				p.LastLeave = &leave
			}
			sessions = append(sessions, models.ParticipantSession{
				WebinarID:      webinarRowID,
				OccurrenceID:   rec.OccurrenceID,
				IdentityKeyRaw: rawKey,
				JoinTime:       iv.JoinTime,
				LeaveTime:      iv.LeaveTime,
				DurationSec:    iv.DurationSec,
				SourceEndpoint: rec.Source,
				Signature:      sessionSignature(webinarRowID, rec.OccurrenceID, rawKey, iv.JoinTime, iv.LeaveTime, rec.Source),
			})
		}
	}

	sort.Strings(order)
	participants := make([]models.Participant, 0, len(order))
	for _, key := range order {
		participants = append(participants, *grouped[key])
	}
	return participants, sessions, index
}

// backfillAttendance marks registrants whose identity resolves to a merged
// participant as attended and copies join/leave/duration onto them. Lookups
// go through the identifier index from mergeSessions, so a registrant still
// links when their group merged under a stronger key.
func backfillAttendance(webinarRowID uuid.UUID, registrants []provider.Registrant, participants []models.Participant, index map[string]string) []models.Registrant {
	byKey := make(map[string]*models.Participant, len(participants))
	byEmail := make(map[string]*models.Participant)
	for i := range participants {
		p := &participants[i]
		byKey[p.IdentityKey] = p
		if p.Email != "" {
			byEmail[p.Email] = p
		}
	}

	out := make([]models.Registrant, 0, len(registrants))
	for _, pr := range registrants {
		reg := models.Registrant{
			WebinarID:            webinarRowID,
			ProviderRegistrantID: pr.ID,
			Email:                strings.ToLower(pr.Email),
			FirstName:            pr.FirstName,
			LastName:             pr.LastName,
		}
		p := byKey[index["reg:"+pr.ID]]
		if p == nil {
			p = byKey[index["email:"+reg.Email]]
		}
		if p == nil {
			p = byEmail[reg.Email]
		}
		if p != nil {
			reg.Attended = true
			reg.JoinTime = p.FirstJoin
			reg.LeaveTime = p.LastLeave
			reg.DurationSec = p.TotalDurationSec
		}
		out = append(out, reg)
	}
	return out
}
