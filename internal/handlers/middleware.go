package handlers

import (
	"net/http"
	"strings"

	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContextMiddleware stamps every request with a correlation id and
// the calling actor. The correlation id is echoed back in X-Request-ID.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if correlationID == "" || len(correlationID) > 64 {
			correlationID = uuid.NewString()
		}
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))

		ctx := requestctx.WithRequestData(c.Request.Context(), &requestctx.RequestData{
			CorrelationID: correlationID,
			ActorID:       actorID,
		})
		c.Request = c.Request.WithContext(ctx)
		if actorID != "" {
			c.Set(actorKey, actorID)
		}
		c.Header(HeaderRequestID, correlationID)
		c.Next()
	}
}

// RecoveryMiddleware turns a handler panic into a 500 carrying the
// correlation id instead of dropping the connection.
func RecoveryMiddleware(logger utils.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		correlationID := requestctx.CorrelationID(c.Request.Context())
		logger.Error("Handler panic", "panic", recovered, "correlation_id", correlationID, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Message:       "internal error",
			Code:          "InternalError",
			CorrelationID: correlationID,
		})
	})
}
