package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	actorKey = "actor_id"

	HeaderRequestID  = "X-Request-ID"
	HeaderActorID    = "X-Actor-ID"
	HeaderLeaseToken = "X-Lease-Token"
)

func ParseStringIDParam(c *gin.Context, param string) string {
	idStr := strings.TrimSpace(c.Param(param))
	if idStr == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID cannot be empty",
		})
		return ""
	}
	return idStr
}

// requireActor returns the caller set by ActorMiddleware, answering 401
// when the request carried none.
func requireActor(c *gin.Context) (string, bool) {
	actorID := c.GetString(actorKey)
	if actorID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Missing " + HeaderActorID + " header",
		})
		return "", false
	}
	return actorID, true
}

func leaseToken(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderLeaseToken))
}

func parsePaging(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	return limit, offset
}
