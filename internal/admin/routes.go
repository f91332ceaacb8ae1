package admin

import (
	"keygate/internal/auth"
	"keygate/internal/config"
	"keygate/internal/db"

	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the operator routes behind basic auth. Routes are not
// registered when no admin password is configured.
func SetupRoutes(router *gin.Engine, dbService db.Service, cfg *config.Config) bool {
	if cfg.Admin.Password == "" {
		return false
	}

	handler := NewHandler(dbService)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminMiddleware(cfg.Admin.Password))
	{
		usersGroup := adminGroup.Group("/users")
		{
			usersGroup.GET("", handler.ListUsersHandler)
			usersGroup.GET("/:id", handler.GetUserHandler)
		}
	}
	return true
}
