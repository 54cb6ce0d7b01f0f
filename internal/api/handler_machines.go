package api

import (
	"github.com/gin-gonic/gin"

	"laundry-branch-backend/internal/mw"
)

type brokenRequest struct {
	Reason string `json:"reason"`
}

// PostBroken handles POST /api/machines/{machine_id}/broken.
func (h *Handler) PostBroken(c *gin.Context) {
	machineID, ok := idParam(c, "machine_id")
	if !ok {
		return
	}
	var req brokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalid(c, "invalid request")
			return
		}
	}

	res, err := h.lifecycle.MarkMachineBroken(c.Request.Context(), machineID, mw.ActorFrom(c), req.Reason)
	writeResult(c, res, err)
}

// PostRepaired handles POST /api/machines/{machine_id}/repaired.
func (h *Handler) PostRepaired(c *gin.Context) {
	machineID, ok := idParam(c, "machine_id")
	if !ok {
		return
	}
	res, err := h.lifecycle.MarkMachineRepaired(c.Request.Context(), machineID, mw.ActorFrom(c))
	writeResult(c, res, err)
}

// PostRetire handles POST /api/machines/{machine_id}/retire.
func (h *Handler) PostRetire(c *gin.Context) {
	machineID, ok := idParam(c, "machine_id")
	if !ok {
		return
	}
	res, err := h.lifecycle.RetireMachine(c.Request.Context(), machineID, mw.ActorFrom(c))
	writeResult(c, res, err)
}
