package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// AnnotationHandler serves annotations, per-question scores and remarks.
// Every mutation needs the lease token in X-Lease-Token.
type AnnotationHandler struct {
	BaseHandler
	annotationService services.AnnotationService
}

func NewAnnotationHandler(annotationService services.AnnotationService, logger utils.Logger) *AnnotationHandler {
	return &AnnotationHandler{
		BaseHandler:       NewBaseHandler(logger),
		annotationService: annotationService,
	}
}

func (h *AnnotationHandler) ListAnnotations(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	annotations, err := h.annotationService.List(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, annotations)
}

// CreateAnnotation places an annotation on a page of the copy
// @Router /copies/{id}/annotations [post]
func (h *AnnotationHandler) CreateAnnotation(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var req services.CreateAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	annotation, err := h.annotationService.Create(c.Request.Context(), copyID, actorID, leaseToken(c), &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, annotation)
}

// UpdateAnnotation applies a partial update. The body is decoded loosely so
// an explicit null can clear content or score_delta.
// @Router /annotations/{id} [patch]
func (h *AnnotationHandler) UpdateAnnotation(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	annotationID := ParseStringIDParam(c, "id")
	if annotationID == "" {
		return
	}

	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	annotation, err := h.annotationService.Update(c.Request.Context(), annotationID, actorID, leaseToken(c), raw)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, annotation)
}

func (h *AnnotationHandler) DeleteAnnotation(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	annotationID := ParseStringIDParam(c, "id")
	if annotationID == "" {
		return
	}

	if err := h.annotationService.Delete(c.Request.Context(), annotationID, actorID, leaseToken(c)); err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AnnotationHandler) SetQuestionScore(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var req services.QuestionScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	score, err := h.annotationService.SetQuestionScore(c.Request.Context(), copyID, actorID, leaseToken(c), &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (h *AnnotationHandler) ListScores(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	scores, err := h.annotationService.ListScores(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, scores)
}

func (h *AnnotationHandler) SetQuestionRemark(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	var req services.QuestionRemarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	remark, err := h.annotationService.SetQuestionRemark(c.Request.Context(), copyID, actorID, leaseToken(c), &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, remark)
}

func (h *AnnotationHandler) ListRemarks(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	remarks, err := h.annotationService.ListRemarks(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, remarks)
}

// ScoreSummary returns the running totals shown while grading
// @Router /copies/{id}/score [get]
func (h *AnnotationHandler) ScoreSummary(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	summary, err := h.annotationService.ScoreSummary(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
