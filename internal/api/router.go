package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateBurst))

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	api := r.Group("/api")
	api.Use(rateLimiter, mw.Actor(cfg.ActorHeader))
	{
		api.GET("/branches", caching, h.ListBranches)
		api.GET("/service_types", caching, h.ListServiceTypes)

		api.GET("/branches/:branch_id/machines", h.GetBoard)
		api.GET("/branches/:branch_id/queue", h.GetQueue)
		api.GET("/branches/:branch_id/events", h.GetEvents)
		api.POST("/branches/:branch_id/sweep", h.PostSweep)

		api.POST("/machines/:machine_id/broken", h.PostBroken)
		api.POST("/machines/:machine_id/repaired", h.PostRepaired)
		api.POST("/machines/:machine_id/retire", h.PostRetire)

		api.POST("/transactions", h.PostTransaction)
		api.GET("/transactions/:tx_id", h.GetTransaction)
		api.POST("/transactions/:tx_id/services", h.PostService)
		api.POST("/transactions/:tx_id/products", h.PostProduct)
		api.POST("/transactions/:tx_id/close", h.PostClose)

		api.POST("/assignments/:assignment_id/complete", h.PostComplete)
		api.POST("/assignments/:assignment_id/cancel", h.PostCancel)
		api.POST("/assignments/:assignment_id/status", h.PostStatus)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
