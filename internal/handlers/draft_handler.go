package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// DraftHandler serves the caller's own autosave draft of a copy. Drafts are
// always scoped to the X-Actor-ID of the request.
type DraftHandler struct {
	BaseHandler
	draftService services.DraftService
}

func NewDraftHandler(draftService services.DraftService, logger utils.Logger) *DraftHandler {
	return &DraftHandler{
		BaseHandler:  NewBaseHandler(logger),
		draftService: draftService,
	}
}

func (h *DraftHandler) GetDraft(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	draft, err := h.draftService.Get(c.Request.Context(), copyID, actorID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *DraftHandler) PutDraft(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var req services.PutDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	draft, err := h.draftService.Put(c.Request.Context(), copyID, actorID, leaseToken(c), &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *DraftHandler) DeleteDraft(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	if err := h.draftService.Delete(c.Request.Context(), copyID, actorID); err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
