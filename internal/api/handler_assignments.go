package api

import (
	"github.com/gin-gonic/gin"

	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/mw"
)

// PostComplete handles POST /api/assignments/{assignment_id}/complete.
func (h *Handler) PostComplete(c *gin.Context) {
	id, ok := idParam(c, "assignment_id")
	if !ok {
		return
	}
	res, err := h.lifecycle.CompleteOrRelease(c.Request.Context(), id, lifecycle.TriggerManual, mw.ActorFrom(c))
	writeResult(c, res, err)
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PostCancel handles POST /api/assignments/{assignment_id}/cancel.
func (h *Handler) PostCancel(c *gin.Context) {
	id, ok := idParam(c, "assignment_id")
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "a cancellation reason is required")
		return
	}
	res, err := h.lifecycle.CancelService(c.Request.Context(), id, mw.ActorFrom(c), req.Reason)
	writeResult(c, res, err)
}

type statusRequest struct {
	Status model.AssignmentStatus `json:"status" binding:"required"`
}

// PostStatus handles POST /api/assignments/{assignment_id}/status.
func (h *Handler) PostStatus(c *gin.Context) {
	id, ok := idParam(c, "assignment_id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "a target status is required")
		return
	}
	res, err := h.lifecycle.ForceStatus(c.Request.Context(), id, req.Status, mw.ActorFrom(c))
	writeResult(c, res, err)
}
