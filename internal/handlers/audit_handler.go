package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AuditHandler struct {
	BaseHandler
	auditService services.AuditService
}

func NewAuditHandler(auditService services.AuditService, logger utils.Logger) *AuditHandler {
	return &AuditHandler{
		BaseHandler:  NewBaseHandler(logger),
		auditService: auditService,
	}
}

func (h *AuditHandler) History(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	trail, err := h.auditService.History(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, trail)
}

// VerifyChain re-hashes the copy's audit trail
// @Router /copies/{id}/audit/verify [get]
func (h *AuditHandler) VerifyChain(c *gin.Context) {
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	result, err := h.auditService.VerifyChain(c.Request.Context(), copyID)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseAuditFilters reads copy_id, exam_id, actor_id, action and an
// RFC 3339 from/to window from the query string.
func (h *AuditHandler) parseAuditFilters(c *gin.Context) (repositories.AuditFilters, bool) {
	filters := repositories.AuditFilters{
		CopyID:  c.Query("copy_id"),
		ExamID:  c.Query("exam_id"),
		ActorID: c.Query("actor_id"),
	}
	filters.Limit, filters.Offset = parsePaging(c)
	if action := c.Query("action"); action != "" {
		a := models.AuditAction(action)
		filters.Action = &a
	}
	for param, target := range map[string]**time.Time{"from": &filters.From, "to": &filters.To} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.RespondWithError(c, http.StatusBadRequest, "Invalid "+param, err, "must be an RFC 3339 timestamp")
			return filters, false
		}
		t = t.UTC()
		*target = &t
	}
	return filters, true
}

// Query searches the audit log
// @Router /audit [get]
func (h *AuditHandler) Query(c *gin.Context) {
	filters, ok := h.parseAuditFilters(c)
	if !ok {
		return
	}

	page, err := h.auditService.Query(c.Request.Context(), filters)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Export streams the matching audit rows as a workbook
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	filters, ok := h.parseAuditFilters(c)
	if !ok {
		return
	}

	data, err := h.auditService.ExportXLSX(c.Request.Context(), filters)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	filename := fmt.Sprintf("audit-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
