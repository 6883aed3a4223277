package webinars

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attendlens/backend/internal/models"
	"github.com/attendlens/backend/internal/participants"
	"github.com/attendlens/backend/pkg/response"
)

// Handler exposes read access to synced webinar data.
type Handler struct {
	repo            *Repository
	participantRepo *participants.Repository
}

// NewHandler creates a webinars handler.
func NewHandler(repo *Repository, participantRepo *participants.Repository) *Handler {
	return &Handler{repo: repo, participantRepo: participantRepo}
}

// List handles GET /webinars?connection_id=.
func (h *Handler) List(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Query("connection_id"))
	if err != nil {
		response.BadRequest(c, "connection_id query parameter required")
		return
	}
	list, err := h.repo.ListByConnection(c.Request.Context(), connectionID)
	if err != nil {
		response.Internal(c, "failed to list webinars")
		return
	}
	if list == nil {
		list = []models.Webinar{}
	}
	response.OK(c, list)
}

// GetByID handles GET /webinars/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	w, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "webinar not found")
		return
	}
	response.OK(c, w)
}

// ListParticipants handles GET /webinars/:id/participants.
func (h *Handler) ListParticipants(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	list, err := h.participantRepo.ListParticipantsByWebinar(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to list participants")
		return
	}
	if list == nil {
		list = []models.Participant{}
	}
	response.OK(c, list)
}

// ListRegistrants handles GET /webinars/:id/registrants.
func (h *Handler) ListRegistrants(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	list, err := h.participantRepo.ListRegistrantsByWebinar(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to list registrants")
		return
	}
	if list == nil {
		list = []models.Registrant{}
	}
	response.OK(c, list)
}
