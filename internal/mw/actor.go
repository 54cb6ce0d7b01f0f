package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Actor reads the staff identity from header. The identity is supplied by the
// front end and not authenticated here. Mutating requests without it are
// refused.
func Actor(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(header))
		if actor == "" && c.Request.Method != http.MethodGet {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"outcome": "rejected",
				"reason":  "invalid_request",
				"message": header + " header is required",
			})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the identity stored by Actor.
func ActorFrom(c *gin.Context) string {
	return c.GetString(actorKey)
}
