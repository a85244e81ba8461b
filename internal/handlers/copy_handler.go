package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type CopyHandler struct {
	BaseHandler
	copyService services.CopyService
}

type IdentifyStudentBody struct {
	StudentID string `json:"student_id"`
}

type AppreciationBody struct {
	Text string `json:"text"`
}

func NewCopyHandler(copyService services.CopyService, logger utils.Logger) *CopyHandler {
	return &CopyHandler{
		BaseHandler: NewBaseHandler(logger),
		copyService: copyService,
	}
}

// ImportCopy creates a Staging copy from scanned booklets
// @Router /copies [post]
func (h *CopyHandler) ImportCopy(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.ImportCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	cp, err := h.copyService.ImportCopy(c.Request.Context(), actorID, &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *CopyHandler) GetCopy(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	cp, err := h.copyService.GetCopy(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *CopyHandler) AttachBooklet(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var req services.BookletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	booklet, err := h.copyService.AttachBooklet(c.Request.Context(), actorID, copyID, &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booklet)
}

// ValidateCopy moves a Staging copy to Ready
// @Router /copies/{id}/validate [post]
func (h *CopyHandler) ValidateCopy(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	cp, err := h.copyService.ValidateCopy(c.Request.Context(), actorID, copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *CopyHandler) DeleteCopy(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	if err := h.copyService.DeleteStagingCopy(c.Request.Context(), actorID, copyID); err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CopyHandler) IdentifyStudent(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var body IdentifyStudentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	cp, err := h.copyService.IdentifyStudent(c.Request.Context(), actorID, copyID, body.StudentID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// SetAppreciation replaces the global appreciation. Requires the lease token.
// @Router /copies/{id}/appreciation [put]
func (h *CopyHandler) SetAppreciation(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var body AppreciationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	cp, err := h.copyService.SetAppreciation(c.Request.Context(), copyID, actorID, leaseToken(c), body.Text)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *CopyHandler) ClearAssignment(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	cp, err := h.copyService.ClearAssignment(c.Request.Context(), actorID, copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}
