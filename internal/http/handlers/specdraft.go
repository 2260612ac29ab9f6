package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/http/response"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/specgen"
)

// SpecDraftHandler turns a free-text design brief into a structured
// building spec via the LLM drafting client.
type SpecDraftHandler struct {
	log    *logger.Logger
	drafts specgen.Client
}

func NewSpecDraftHandler(log *logger.Logger, drafts specgen.Client) *SpecDraftHandler {
	return &SpecDraftHandler{
		log:    log.With("handler", "SpecDraftHandler"),
		drafts: drafts,
	}
}

type draftRequest struct {
	Brief string `json:"brief" binding:"required"`
}

func (h *SpecDraftHandler) Draft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	raw, err := h.drafts.GenerateBuildingSpec(c.Request.Context(), req.Brief)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "draft_failed", err)
		return
	}

	// Round-trip through the parser so callers get back a spec that will
	// be accepted verbatim by the generate endpoint.
	spec, err := domain.ParseBuildingSpec(raw)
	if err != nil {
		h.log.Warn("drafted spec failed validation", "error", err)
		response.RespondError(c, http.StatusUnprocessableEntity, "draft_invalid", err)
		return
	}
	response.RespondOK(c, gin.H{"spec": spec})
}
