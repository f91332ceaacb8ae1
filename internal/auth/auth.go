package auth

import (
	"errors"
	"net/http"
	"time"

	"keygate/internal/db"
	"keygate/internal/model"

	"github.com/gin-gonic/gin"
)

const userContextKey = "keygate.user"

// KeyMiddleware authenticates the X-API-Key header and charges one request
// against the key's daily quota. On success the resolved user record,
// including the post-increment usage count, is stored on the gin context.
func KeyMiddleware(database db.Service, dailyLimit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}

		user, err := database.ConsumeDailyQuota(key, dailyLimit, time.Now())
		switch {
		case errors.Is(err, db.ErrKeyNotFound):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		case errors.Is(err, db.ErrQuotaExceeded):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Daily limit reached",
				"usage": gin.H{"usedToday": user.UsageCount, "limit": dailyLimit},
			})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// UserFrom returns the user stored by KeyMiddleware.
func UserFrom(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// AdminMiddleware guards operator routes with HTTP basic auth.
func AdminMiddleware(adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if !hasAuth || user != "admin" || password != adminPassword {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
