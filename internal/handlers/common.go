package handlers

import (
	"errors"
	"net/http"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message       string      `json:"message"`
	Code          string      `json:"code,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Details       interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse wraps a page of results
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ===== BASE HANDLER STRUCT =====

// BaseHandler provides common logging functionality for all handlers
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) requestFields(c *gin.Context, additionalFields ...interface{}) []interface{} {
	fields := []interface{}{
		"correlation_id", requestctx.CorrelationID(c.Request.Context()),
		"actor_id", c.GetString(actorKey),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	}
	return append(fields, additionalFields...)
}

// LogRequest logs incoming HTTP requests with context information
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...interface{}) {
	h.logger.Debug(message, h.requestFields(c, additionalFields...)...)
}

// LogError logs error details with context information
func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	h.logger.LogError(err, message, h.requestFields(c, additionalFields...)...)
}

// LogWarn logs warning messages with context
func (h *BaseHandler) LogWarn(c *gin.Context, message string, additionalFields ...interface{}) {
	h.logger.Warn(message, h.requestFields(c, additionalFields...)...)
}

// RespondWithError sends a consistent error response and logs it
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, message string, err error, details ...interface{}) {
	errorResp := ErrorResponse{
		Message:       message,
		CorrelationID: requestctx.CorrelationID(c.Request.Context()),
	}
	if len(details) > 0 {
		errorResp.Details = details[0]
	}

	if err != nil && statusCode >= http.StatusInternalServerError {
		h.LogError(c, err, message, "status_code", statusCode)
	} else {
		h.LogWarn(c, message, "status_code", statusCode)
	}

	c.AbortWithStatusJSON(statusCode, errorResp)
}

// RespondWithWorkflowError maps a workflow error code onto an HTTP status.
func (h *BaseHandler) RespondWithWorkflowError(c *gin.Context, err error) {
	werr := apperrors.Normalize(err, requestctx.CorrelationID(c.Request.Context()))
	status := StatusForCode(werr.Code)

	resp := ErrorResponse{
		Message:       werr.Message,
		Code:          string(werr.Code),
		CorrelationID: werr.CorrelationID,
	}
	var validationErrors apperrors.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		resp.Details = validationErrors
	case len(werr.Context) > 0:
		resp.Details = werr.Context
	}

	if status >= http.StatusInternalServerError {
		h.LogError(c, err, "Workflow operation failed", "code", werr.Code, "status_code", status)
	} else {
		h.LogWarn(c, "Workflow operation rejected", "code", werr.Code, "status_code", status, "error", err)
	}

	c.AbortWithStatusJSON(status, resp)
}

// StatusForCode is the HTTP status for each workflow error code.
func StatusForCode(code apperrors.Code) int {
	switch code {
	case apperrors.CodeLockConflict, apperrors.CodeVersionConflict, apperrors.CodeDraftConflict:
		return http.StatusConflict
	case apperrors.CodeLeaseExpired:
		return http.StatusGone
	case apperrors.CodeOwnerMismatch:
		return http.StatusForbidden
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeTransition, apperrors.CodeAlreadyGraded, apperrors.CodeNoCorrectors:
		return http.StatusUnprocessableEntity
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeFlattenFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithSuccess sends a consistent success response
func (h *BaseHandler) RespondWithSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, SuccessResponse{Message: message, Data: data})
}
