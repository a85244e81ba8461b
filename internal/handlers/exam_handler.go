package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// ExamHandler serves exam registration, the per-exam copy listing and
// dispatch runs.
type ExamHandler struct {
	BaseHandler
	copyService     services.CopyService
	dispatchService services.DispatchService
}

type DispatchBody struct {
	CorrectorIDs []string `json:"corrector_ids"`
}

func NewExamHandler(copyService services.CopyService, dispatchService services.DispatchService, logger utils.Logger) *ExamHandler {
	return &ExamHandler{
		BaseHandler:     NewBaseHandler(logger),
		copyService:     copyService,
		dispatchService: dispatchService,
	}
}

// RegisterExam creates an exam and its grading structure
// @Router /exams [post]
func (h *ExamHandler) RegisterExam(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	exam, err := h.copyService.RegisterExam(c.Request.Context(), actorID, &req)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exam)
}

func (h *ExamHandler) GetExam(c *gin.Context) {
	examID := ParseStringIDParam(c, "id")
	if examID == "" {
		return
	}

	exam, err := h.copyService.GetExam(c.Request.Context(), examID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// ListCopies lists the copies of an exam
// @Param status query string false "Staging, Ready, Locked or Graded"
// @Param assigned_to query string false "Corrector id"
// @Router /exams/{id}/copies [get]
func (h *ExamHandler) ListCopies(c *gin.Context) {
	examID := ParseStringIDParam(c, "id")
	if examID == "" {
		return
	}

	filters := repositories.CopyFilters{ExamID: examID}
	filters.Limit, filters.Offset = parsePaging(c)
	if status := c.Query("status"); status != "" {
		s := models.CopyStatus(status)
		filters.Status = &s
	}
	if corrector := c.Query("assigned_to"); corrector != "" {
		filters.AssignedTo = &corrector
	}

	copies, total, err := h.copyService.ListCopies(c.Request.Context(), filters)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	limit, offset := repositories.NormalizePaging(filters.Limit, filters.Offset)
	c.JSON(http.StatusOK, ListResponse{Items: copies, Total: total, Limit: limit, Offset: offset})
}

// Dispatch assigns every Ready, unassigned copy of the exam
// @Router /exams/{id}/dispatch [post]
func (h *ExamHandler) Dispatch(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	examID := ParseStringIDParam(c, "id")
	if examID == "" {
		return
	}

	var body DispatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	h.LogRequest(c, "Dispatching copies", "exam_id", examID, "correctors", len(body.CorrectorIDs))
	result, err := h.dispatchService.Dispatch(c.Request.Context(), actorID, &services.DispatchRequest{
		ExamID:       examID,
		CorrectorIDs: body.CorrectorIDs,
	})
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ExamHandler) GetDispatchRun(c *gin.Context) {
	runID := ParseStringIDParam(c, "id")
	if runID == "" {
		return
	}

	run, err := h.dispatchService.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
