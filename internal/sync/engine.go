package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/attendlens/backend/config"
	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/internal/provider"
)

// Progress milestones. Authentication and enumeration take the first fifth;
// the webinar loop spreads over the remaining 75 points; 100 is reached only
// on completion.
const (
	pctAuthenticating = 5
	pctWindowComputed = 10
	pctEnumerated     = 20
	pctFinalizing     = 95
)

// Engine runs sync jobs: one strictly sequential webinar loop per job, with
// per-item error isolation and cooperative cancellation between webinars.
type Engine struct {
	conns    ConnectionSource
	tokens   TokenSource
	provider Provider
	store    Store
	jobs     JobStore
	recon    *Reconciler
	syncCfg  config.SyncConfig
	delay    time.Duration
	logger   *zap.Logger
	sinks    []ProgressSink
}

// NewEngine wires an engine from its collaborators. delay is the pause
// inserted between webinars to respect upstream rate limits.
func NewEngine(conns ConnectionSource, tokens TokenSource, p Provider, store Store, jobs JobStore, syncCfg config.SyncConfig, delay time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conns:    conns,
		tokens:   tokens,
		provider: p,
		store:    store,
		jobs:     jobs,
		recon:    NewReconciler(p, logger),
		syncCfg:  syncCfg,
		delay:    delay,
		logger:   logger,
	}
}

// AddProgressSink registers an observer for progress milestones.
func (e *Engine) AddProgressSink(s ProgressSink) {
	e.sinks = append(e.sinks, s)
}

// Run executes one sync job to a terminal status. The returned error reports
// unrecoverable conditions only; per-webinar failures are accumulated on the
// job row and never abort the run.
func (e *Engine) Run(ctx context.Context, jobID uuid.UUID, connectionID uuid.UUID, kind string) (err error) {
	log := e.logger.With(zap.String("job_id", jobID.String()), zap.String("connection_id", connectionID.String()))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync orchestration panic: %v", r)
			log.Error("sync job panicked", zap.Any("panic", r))
			_ = e.jobs.Fail(ctx, jobID, "internal error")
		}
	}()

	conn, err := e.conns.GetByID(ctx, connectionID)
	if err != nil {
		_ = e.jobs.Fail(ctx, jobID, "connection not found")
		return fmt.Errorf("load connection %s: %w", connectionID, err)
	}

	if err := e.jobs.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if e.cancelled(ctx, jobID) {
		log.Info("job cancelled before start")
		return nil
	}
	progress := e.newProgress(ctx, jobID)
	progress.emit(pctAuthenticating, "authenticating", 0, 0)

	token, err := e.tokens.EnsureToken(ctx, conn)
	if err != nil {
		_ = e.jobs.Fail(ctx, jobID, "reconnection required: token refresh failed")
		return fmt.Errorf("ensure token: %w", err)
	}

	from, to := e.computeWindow(ctx, conn, kind)
	_ = e.jobs.SetMetadata(ctx, jobID, map[string]any{
		"window_from": from.Format(time.RFC3339),
		"window_to":   to.Format(time.RFC3339),
	})
	progress.emit(pctWindowComputed, "date range computed", 0, 0)
	log.Info("sync window computed", zap.Time("from", from), zap.Time("to", to), zap.String("kind", kind))

	webinars, err := e.provider.ListWebinars(ctx, token, from, to, provider.LifecycleTypes)
	if err != nil {
		_ = e.jobs.Fail(ctx, jobID, "webinar enumeration failed")
		return fmt.Errorf("enumerate webinars: %w", err)
	}
	total := len(webinars)
	progress.emit(pctEnumerated, "enumeration complete", total, 0)
	log.Info("webinars enumerated", zap.Int("count", total))

	for i, pw := range webinars {
		if e.cancelled(ctx, jobID) {
			log.Info("cancellation observed, stopping", zap.Int("processed", i))
			return nil
		}

		token, err = e.processWithAuthRetry(ctx, jobID, conn, token, pw)
		if err != nil {
			if errors.Is(err, provider.ErrReconnectRequired) {
				_ = e.jobs.Fail(ctx, jobID, "reconnection required: token refresh failed")
				return err
			}
			if isStoreUnreachable(err) {
				_ = e.jobs.Fail(ctx, jobID, "persistent store unreachable")
				return err
			}
			log.Warn("webinar sync failed", zap.String("webinar", pw.ID), zap.Error(err))
			_ = e.jobs.AppendError(ctx, jobID, models.SyncError{
				WebinarID: pw.ID,
				Stage:     "webinar",
				Message:   err.Error(),
				At:        time.Now(),
			})
		}

		processed := i + 1
		pct := pctEnumerated
		if total > 0 {
			pct = pctEnumerated + processed*(pctFinalizing-pctEnumerated)/total
		}
		progress.emit(pct, fmt.Sprintf("processed webinar %d/%d", processed, total), total, processed)

		if e.delay > 0 && processed < total {
			select {
			case <-ctx.Done():
				_ = e.jobs.Fail(ctx, jobID, "context cancelled")
				return ctx.Err()
			case <-time.After(e.delay):
			}
		}
	}

	if e.cancelled(ctx, jobID) {
		return nil
	}
	progress.emit(pctFinalizing, "finalizing", total, total)
	if err := e.jobs.Complete(ctx, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	for _, s := range e.sinks {
		s.Progress(jobID, 100, "done", total, total)
	}
	log.Info("sync job completed", zap.Int("webinars", total))
	return nil
}

// processWithAuthRetry runs one webinar, refreshing the token once and
// retrying when the provider rejects it as expired mid-run. Returns the
// (possibly rotated) token.
func (e *Engine) processWithAuthRetry(ctx context.Context, jobID uuid.UUID, conn *models.Connection, token string, pw provider.Webinar) (string, error) {
	err := e.processWebinar(ctx, jobID, conn.ID, token, pw)
	if err == nil || !provider.IsAuthExpired(err) {
		return token, err
	}
	refreshed, refreshErr := e.tokens.Refresh(ctx, conn)
	if refreshErr != nil {
		return token, refreshErr
	}
	return refreshed, e.processWebinar(ctx, jobID, conn.ID, refreshed, pw)
}

// processWebinar syncs a single webinar end to end: detail merge, upsert,
// occurrence expansion, reconciliation, persistence and metrics.
func (e *Engine) processWebinar(ctx context.Context, jobID, connectionID uuid.UUID, token string, pw provider.Webinar) error {
	w := &models.Webinar{
		ConnectionID:      connectionID,
		ProviderWebinarID: pw.ID,
		ProviderUUID:      pw.UUID,
		Topic:             pw.Topic,
		DurationMin:       pw.Duration,
		LifecycleStatus:   pw.Status,
	}
	if !pw.StartTime.IsZero() {
		start := pw.StartTime
		w.StartTime = &start
	}

	// Detail fetch enriches the listing entry; a failure here is not worth
	// skipping the webinar over.
	if detail, err := e.provider.GetWebinar(ctx, token, pw.ID); err != nil {
		if provider.IsAuthExpired(err) {
			return err
		}
		e.logger.Debug("webinar detail fetch failed", zap.String("webinar", pw.ID), zap.Error(err))
	} else {
		w.HostEmail = detail.HostEmail
		if detail.UUID != "" {
			w.ProviderUUID = detail.UUID
		}
		if detail.Topic != "" {
			w.Topic = detail.Topic
		}
		if len(detail.Settings) > 0 {
			if raw, err := json.Marshal(detail.Settings); err == nil {
				w.Settings = raw
			}
		}
	}

	if err := e.store.UpsertWebinar(ctx, w); err != nil {
		return fmt.Errorf("persist webinar %s: %w", pw.ID, err)
	}

	occurrences, err := e.provider.ListOccurrences(ctx, token, pw.ID)
	if err != nil {
		if provider.IsAuthExpired(err) {
			return err
		}
		e.logger.Debug("occurrence lookup failed, treating as single event",
			zap.String("webinar", pw.ID), zap.Error(err))
		occurrences = nil
	}

	result, err := e.recon.Reconcile(ctx, token, w.ID, pw.ID, occurrences)
	if err != nil {
		return err
	}
	for _, warn := range result.Warnings {
		_ = e.jobs.AppendError(ctx, jobID, warn)
	}

	for i := range result.Sessions {
		if err := e.store.AppendSession(ctx, &result.Sessions[i]); err != nil {
			if isStoreUnreachable(err) {
				return err
			}
			_ = e.jobs.AppendError(ctx, jobID, models.SyncError{
				WebinarID: pw.ID, Stage: "session", Message: err.Error(), At: time.Now(),
			})
		}
	}
	for i := range result.Participants {
		if err := e.store.UpsertParticipant(ctx, &result.Participants[i]); err != nil {
			if isStoreUnreachable(err) {
				return err
			}
			_ = e.jobs.AppendError(ctx, jobID, models.SyncError{
				WebinarID: pw.ID, Stage: "participant", Message: err.Error(), At: time.Now(),
			})
		}
	}
	for i := range result.Registrants {
		if err := e.store.UpsertRegistrant(ctx, &result.Registrants[i]); err != nil {
			if isStoreUnreachable(err) {
				return err
			}
			_ = e.jobs.AppendError(ctx, jobID, models.SyncError{
				WebinarID: pw.ID, Stage: "registrant", Message: err.Error(), At: time.Now(),
			})
		}
	}

	metrics, err := ComputeMetrics(ctx, e.store, w.ID)
	if err != nil {
		return err
	}
	if err := e.store.UpdateWebinarMetrics(ctx, w.ID, metrics); err != nil {
		return fmt.Errorf("persist metrics for webinar %s: %w", pw.ID, err)
	}
	return nil
}

// computeWindow derives the enumeration date range for the job kind.
// Incremental and scheduled runs start from the last completed sync minus an
// overlap; without one they fall back to the manual lookback.
func (e *Engine) computeWindow(ctx context.Context, conn *models.Connection, kind string) (time.Time, time.Time) {
	now := time.Now()
	to := now.AddDate(0, 0, e.syncCfg.LookaheadDays)
	from := now.AddDate(0, 0, -e.syncCfg.LookbackDays)
	if kind == models.SyncKindIncremental || kind == models.SyncKindScheduled {
		if last, err := e.jobs.LastCompletedAt(ctx, conn.ID); err == nil && last != nil {
			from = last.Add(-e.syncCfg.IncrementalOverlap)
		}
	}
	return from, to
}

// cancelled polls the cooperative cancellation flag and, when set, moves the
// job to its terminal cancelled status. No further writes happen after this
// returns true.
func (e *Engine) cancelled(ctx context.Context, jobID uuid.UUID) bool {
	requested, err := e.jobs.CancelRequested(ctx, jobID)
	if err != nil || !requested {
		return false
	}
	if err := e.jobs.MarkCancelled(ctx, jobID); err != nil {
		e.logger.Error("mark cancelled", zap.Error(err), zap.String("job_id", jobID.String()))
	}
	return true
}

// progressTracker clamps milestone emissions monotone before they reach the
// job store and any registered sinks.
type progressTracker struct {
	engine  *Engine
	ctx     context.Context
	jobID   uuid.UUID
	lastPct int
}

func (e *Engine) newProgress(ctx context.Context, jobID uuid.UUID) *progressTracker {
	return &progressTracker{engine: e, ctx: ctx, jobID: jobID}
}

func (p *progressTracker) emit(pct int, operation string, total, processed int) {
	if pct < p.lastPct {
		pct = p.lastPct
	}
	if pct > 99 {
		// 100 is reserved for the completed transition.
		pct = 99
	}
	p.lastPct = pct
	if err := p.engine.jobs.UpdateProgress(p.ctx, p.jobID, pct, operation, total, processed); err != nil {
		p.engine.logger.Error("progress update failed", zap.Error(err), zap.String("job_id", p.jobID.String()))
	}
	for _, s := range p.engine.sinks {
		s.Progress(p.jobID, pct, operation, total, processed)
	}
}

// isStoreUnreachable distinguishes a dead persistence backend (fatal) from a
// single bad record (recorded and skipped). Typed pgconn errors are checked
// first; the message patterns cover wrapped errors that lost their type.
func isStoreUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "closed pool", "failed to connect", "broken pipe"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
