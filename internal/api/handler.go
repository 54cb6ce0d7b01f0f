package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"laundry-branch-backend/internal/catalog"
	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/reconcile"
	"laundry-branch-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	lifecycle *lifecycle.Manager
	sweeper   *reconcile.Sweeper
	store     store.Store
	catalog   catalog.Catalog
	webpush   *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(lc *lifecycle.Manager, sweeper *reconcile.Sweeper, s store.Store, cat catalog.Catalog, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		lifecycle: lc,
		sweeper:   sweeper,
		store:     s,
		catalog:   cat,
		webpush:   webpushOptions,
	}
}

// statusFor maps a lifecycle outcome to an HTTP status.
func statusFor(res lifecycle.Result, created bool) int {
	switch res.Outcome {
	case lifecycle.OutcomeQueued:
		return http.StatusAccepted
	case lifecycle.OutcomeRejected:
		switch res.Reason {
		case lifecycle.ReasonNotFound:
			return http.StatusNotFound
		case lifecycle.ReasonInvalidRequest:
			return http.StatusUnprocessableEntity
		}
		return http.StatusConflict
	}
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func writeResult(c *gin.Context, res lifecycle.Result, err error) {
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(statusFor(res, false), res)
}

func internalError(c *gin.Context, err error) {
	log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func invalid(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, lifecycle.Result{
		Outcome: lifecycle.OutcomeRejected,
		Reason:  lifecycle.ReasonInvalidRequest,
		Message: message,
	})
}

// notFoundOr writes 404 for store.ErrNotFound and 500 for anything else.
func notFoundOr(c *gin.Context, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, lifecycle.Result{
			Outcome: lifecycle.OutcomeRejected,
			Reason:  lifecycle.ReasonNotFound,
			Message: message,
		})
		return
	}
	internalError(c, err)
}

// idParam parses a positive integer path parameter, answering 422 otherwise.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		invalid(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
