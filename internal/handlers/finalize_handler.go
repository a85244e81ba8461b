package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type FinalizeHandler struct {
	BaseHandler
	finalizeService services.FinalizeService
}

func NewFinalizeHandler(finalizeService services.FinalizeService, logger utils.Logger) *FinalizeHandler {
	return &FinalizeHandler{
		BaseHandler:     NewBaseHandler(logger),
		finalizeService: finalizeService,
	}
}

// Finalize grades the copy synchronously
// @Router /copies/{id}/finalize [post]
func (h *FinalizeHandler) Finalize(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	h.LogRequest(c, "Finalizing copy", "copy_id", copyID)
	result, err := h.finalizeService.Finalize(c.Request.Context(), copyID, actorID, leaseToken(c))
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitFinalize queues a finalize job and answers 202 with the job
// @Router /copies/{id}/finalize-jobs [post]
func (h *FinalizeHandler) SubmitFinalize(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	job, err := h.finalizeService.Submit(c.Request.Context(), copyID, actorID, leaseToken(c))
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *FinalizeHandler) JobStatus(c *gin.Context) {
	jobID := ParseStringIDParam(c, "id")
	if jobID == "" {
		return
	}

	job, err := h.finalizeService.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
