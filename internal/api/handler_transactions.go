package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/mw"
)

type openTransactionRequest struct {
	BranchID       int64   `json:"branchId" binding:"required"`
	ServiceTypeIDs []int64 `json:"serviceTypeIds"`
}

type openTransactionResponse struct {
	Transaction *model.Transaction `json:"transaction"`
	Services    []lifecycle.Result `json:"services"`
	Total       *int64             `json:"total"`
}

// PostTransaction handles POST /api/transactions: it opens a ticket and
// schedules every requested service on it, in order.
func (h *Handler) PostTransaction(c *gin.Context) {
	var req openTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	ctx := c.Request.Context()
	actor := mw.ActorFrom(c)

	opened, err := h.lifecycle.OpenTransaction(ctx, req.BranchID, actor)
	if err != nil {
		internalError(c, err)
		return
	}
	if opened.Rejected() {
		c.JSON(statusFor(opened, true), opened)
		return
	}

	resp := openTransactionResponse{
		Transaction: opened.Transaction,
		Services:    make([]lifecycle.Result, 0, len(req.ServiceTypeIDs)),
		Total:       opened.Total,
	}
	for _, serviceTypeID := range req.ServiceTypeIDs {
		res, err := h.lifecycle.ScheduleService(ctx, opened.Transaction.ID, serviceTypeID, actor)
		if err != nil {
			internalError(c, err)
			return
		}
		resp.Services = append(resp.Services, res)
		if res.Total != nil {
			resp.Total = res.Total
		}
	}
	resp.Transaction.Total = *resp.Total
	c.JSON(http.StatusCreated, resp)
}

// GetTransaction handles GET /api/transactions/{tx_id}.
func (h *Handler) GetTransaction(c *gin.Context) {
	txID, ok := idParam(c, "tx_id")
	if !ok {
		return
	}
	tx, err := h.lifecycle.Transaction(c.Request.Context(), txID)
	if err != nil {
		notFoundOr(c, err, "transaction not found")
		return
	}
	c.JSON(http.StatusOK, tx)
}

type addServiceRequest struct {
	ServiceTypeID int64  `json:"serviceTypeId" binding:"required"`
	Reason        string `json:"reason"`
}

// PostService handles POST /api/transactions/{tx_id}/services.
func (h *Handler) PostService(c *gin.Context) {
	txID, ok := idParam(c, "tx_id")
	if !ok {
		return
	}
	var req addServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}

	res, err := h.lifecycle.AddService(c.Request.Context(), txID, req.ServiceTypeID, mw.ActorFrom(c), req.Reason)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(statusFor(res, true), res)
}

type addProductRequest struct {
	Name      string `json:"name" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	UnitPrice int64  `json:"unitPrice"`
}

// PostProduct handles POST /api/transactions/{tx_id}/products.
func (h *Handler) PostProduct(c *gin.Context) {
	txID, ok := idParam(c, "tx_id")
	if !ok {
		return
	}
	var req addProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}

	res, err := h.lifecycle.AddProduct(c.Request.Context(), txID, req.Name, req.Quantity, req.UnitPrice, mw.ActorFrom(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(statusFor(res, true), res)
}

// PostClose handles POST /api/transactions/{tx_id}/close.
func (h *Handler) PostClose(c *gin.Context) {
	txID, ok := idParam(c, "tx_id")
	if !ok {
		return
	}
	res, err := h.lifecycle.CloseTransaction(c.Request.Context(), txID, mw.ActorFrom(c))
	writeResult(c, res, err)
}
