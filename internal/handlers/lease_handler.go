package handlers

import (
	"net/http"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type LeaseHandler struct {
	BaseHandler
	leaseService services.LeaseService
}

// LeaseBody carries an optional TTL; zero means the configured default.
type LeaseBody struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func NewLeaseHandler(leaseService services.LeaseService, logger utils.Logger) *LeaseHandler {
	return &LeaseHandler{
		BaseHandler:  NewBaseHandler(logger),
		leaseService: leaseService,
	}
}

func bindLeaseBody(c *gin.Context) (time.Duration, error) {
	var body LeaseBody
	if c.Request.ContentLength == 0 {
		return 0, nil
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return 0, err
	}
	return time.Duration(body.TTLSeconds) * time.Second, nil
}

// Acquire locks the copy for the caller and returns the lease token
// @Router /copies/{id}/lease [post]
func (h *LeaseHandler) Acquire(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}
	ttl, err := bindLeaseBody(c)
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	grant, err := h.leaseService.Acquire(c.Request.Context(), copyID, actorID, ttl)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	status := http.StatusOK
	if grant.Created {
		status = http.StatusCreated
	}
	c.JSON(status, grant)
}

// Heartbeat extends the caller's lease
// @Router /copies/{id}/lease [put]
func (h *LeaseHandler) Heartbeat(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}
	ttl, err := bindLeaseBody(c)
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	grant, err := h.leaseService.Heartbeat(c.Request.Context(), copyID, actorID, leaseToken(c), ttl)
	if err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *LeaseHandler) Release(c *gin.Context) {
	actorID, ok := requireActor(c)
	if !ok {
		return
	}
	copyID := ParseStringIDParam(c, "id")
	if copyID == "" {
		return
	}

	if err := h.leaseService.Release(c.Request.Context(), copyID, actorID, leaseToken(c)); err != nil {
		h.RespondWithWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
