package middlewares

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/gin-gonic/gin"
)

// ActorMiddleware lifts the identity headers set by the auth gateway into
// the request context. Mutating verbs are rejected without a full identity;
// reads only need the tenant.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.Request.Header.Get("x-business-id")
		actorId := c.Request.Header.Get("x-actor-id")
		actorName := c.Request.Header.Get("x-actor-name")

		if businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "x-business-id header is required"})
			c.Abort()
			return
		}

		mutating := c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead
		if mutating && (actorId == "" || actorName == "") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "x-actor-id and x-actor-name headers are required"})
			c.Abort()
			return
		}

		userId := 0
		if actorId != "" {
			parsed, err := strconv.Atoi(actorId)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "x-actor-id must be an integer"})
				c.Abort()
				return
			}
			userId = parsed
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		ctx = utils.SetUserIdInContext(ctx, userId)
		ctx = utils.SetUserNameInContext(ctx, actorName)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
