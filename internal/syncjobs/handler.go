package syncjobs

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attendlens/backend/internal/connections"
	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/pkg/queue"
	"github.com/attendlens/backend/pkg/response"
)

// Handler exposes the sync job API: start, status, cancel, history.
type Handler struct {
	repo     *Repository
	connRepo *connections.Repository
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewHandler creates a sync jobs handler.
func NewHandler(repo *Repository, connRepo *connections.Repository, q *queue.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, connRepo: connRepo, queue: q, logger: logger}
}

// StartRequest is the body for POST /connections/:id/sync.
type StartRequest struct {
	Kind string `json:"kind"`
}

// Start handles POST /connections/:id/sync: creates a pending job row,
// enqueues it and returns immediately. Processing happens on the worker.
func (h *Handler) Start(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}
	var body StartRequest
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	switch body.Kind {
	case "":
		body.Kind = models.SyncKindManual
	case models.SyncKindManual, models.SyncKindIncremental, models.SyncKindScheduled:
	default:
		response.BadRequest(c, "kind must be manual, incremental or scheduled")
		return
	}

	ctx := c.Request.Context()
	conn, err := h.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		response.NotFound(c, "connection not found")
		return
	}

	job := &models.SyncJob{ConnectionID: conn.ID, Kind: body.Kind}
	if err := h.repo.Create(ctx, job); err != nil {
		h.logger.Error("create sync job failed", zap.Error(err), zap.String("connection_id", conn.ID.String()))
		response.Internal(c, "failed to create sync job")
		return
	}
	if err := h.queue.EnqueueSync(ctx, queue.SyncPayload{
		JobID:        job.ID,
		ConnectionID: conn.ID,
		Kind:         body.Kind,
	}); err != nil {
		h.logger.Error("enqueue sync job failed", zap.Error(err), zap.String("job_id", job.ID.String()))
		_ = h.repo.Fail(ctx, job.ID, "failed to enqueue")
		response.Internal(c, "failed to enqueue sync job")
		return
	}

	h.logger.Info("sync job accepted",
		zap.String("job_id", job.ID.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("kind", body.Kind),
	)
	response.Created(c, gin.H{"job_id": job.ID})
}

// GetByID handles GET /sync-jobs/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return
	}
	job, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "sync job not found")
		return
	}
	response.OK(c, job)
}

// Cancel handles POST /sync-jobs/:id/cancel: requests cooperative
// cancellation. The running engine observes the flag between webinars.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return
	}
	ctx := c.Request.Context()
	accepted, err := h.repo.RequestCancel(ctx, id)
	if err != nil {
		h.logger.Error("cancel request failed", zap.Error(err), zap.String("job_id", id.String()))
		response.Internal(c, "failed to request cancellation")
		return
	}
	if !accepted {
		response.Conflict(c, "job is already in a terminal state")
		return
	}
	// A job still pending never reaches the engine loop, so it is finalized
	// here instead of waiting for a poll that will not happen.
	if job, err := h.repo.GetByID(ctx, id); err == nil && job.Status == models.SyncStatusPending {
		_ = h.repo.MarkCancelled(ctx, id)
	}
	response.OK(c, gin.H{"job_id": id, "cancel_requested": true})
}

// ListByConnection handles GET /connections/:id/sync-jobs?limit=.
func (h *Handler) ListByConnection(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs, err := h.repo.ListByConnection(c.Request.Context(), connectionID, limit)
	if err != nil {
		response.Internal(c, "failed to list sync jobs")
		return
	}
	if jobs == nil {
		jobs = []models.SyncJob{}
	}
	response.OK(c, jobs)
}
