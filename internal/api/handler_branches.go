package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/reconcile"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

// ListBranches handles GET /api/branches.
func (h *Handler) ListBranches(c *gin.Context) {
	branches, err := h.store.ListBranches(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, branches)
}

// ListServiceTypes handles GET /api/service_types.
func (h *Handler) ListServiceTypes(c *gin.Context) {
	types, err := h.catalog.List(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

// GetBoard handles GET /api/branches/{branch_id}/machines. Viewing the board
// completes whatever has expired first.
func (h *Handler) GetBoard(c *gin.Context) {
	branchID, ok := idParam(c, "branch_id")
	if !ok {
		return
	}

	filter := registry.Filter{
		Type:   model.MachineType(c.Query("type")),
		Status: model.MachineStatus(c.Query("status")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		invalid(c, "unknown machine type "+string(filter.Type))
		return
	}
	switch filter.Status {
	case "", model.MachineAvailable, model.MachineInUse, model.MachineBroken:
	default:
		invalid(c, "unknown machine status "+string(filter.Status))
		return
	}

	board, err := h.lifecycle.Board(c.Request.Context(), branchID, filter)
	if err != nil {
		notFoundOr(c, err, "branch not found")
		return
	}
	c.JSON(http.StatusOK, board)
}

// GetQueue handles GET /api/branches/{branch_id}/queue.
func (h *Handler) GetQueue(c *gin.Context) {
	branchID, ok := idParam(c, "branch_id")
	if !ok {
		return
	}
	machineType := model.MachineType(c.Query("type"))
	if machineType != "" && !machineType.Valid() {
		invalid(c, "unknown machine type "+string(machineType))
		return
	}

	queue, err := h.lifecycle.Queue(c.Request.Context(), branchID, machineType)
	if err != nil {
		notFoundOr(c, err, "branch not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"branchId": branchID, "type": machineType, "assignments": queue})
}

type sweepResponse struct {
	Sweep     lifecycle.SweepReport `json:"sweep"`
	Reconcile reconcile.Report      `json:"reconcile"`
}

// PostSweep handles POST /api/branches/{branch_id}/sweep.
func (h *Handler) PostSweep(c *gin.Context) {
	branchID, ok := idParam(c, "branch_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetBranch(ctx, branchID); err != nil {
		notFoundOr(c, err, "branch not found")
		return
	}

	sweep, err := h.lifecycle.SweepExpired(ctx, branchID)
	if err != nil {
		internalError(c, err)
		return
	}
	rec, err := h.sweeper.Reconcile(ctx, branchID)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sweepResponse{Sweep: sweep, Reconcile: rec})
}

// GetEvents handles GET /api/branches/{branch_id}/events, the audit trail.
func (h *Handler) GetEvents(c *gin.Context) {
	branchID, ok := idParam(c, "branch_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.store.ListEvents(c.Request.Context(), store.EventFilter{
		BranchID: branchID,
		Limit:    limit,
	})
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}
