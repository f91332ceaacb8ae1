package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"keygate/internal/auth"
	"keygate/internal/config"
	"keygate/internal/db"
	"keygate/internal/ratelimit"
	"keygate/internal/upstream"

	"github.com/gin-gonic/gin"
)

// Server owns the HTTP surface of the gateway: registration, the metered
// chat endpoints, liveness, and the operator routes.
type Server struct {
	router    *gin.Engine
	cfg       *config.Config
	database  db.Service
	client    *upstream.Client
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	startedAt time.Time
}

// New builds the router with the canonical route table.
func New(cfg *config.Config, database db.Service, client *upstream.Client, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		database:  database,
		client:    client,
		limiter:   limiter,
		logger:    logger.With("component", "server"),
		startedAt: time.Now(),
	}

	router := gin.New()
	router.Use(recovery(s.logger))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/register", s.handleRegister)

	ai := api.Group("/ai")
	ai.Use(rateLimitMiddleware(s.limiter))
	ai.Use(auth.KeyMiddleware(s.database, cfg.Quota.DailyLimit))
	ai.POST("/chat", s.handleChat)
	ai.POST("/quiz", s.handleQuiz)
	ai.POST("/flashcards", s.handleFlashcards)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})

	s.router = router
	return s
}

// Router returns the underlying gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// recovery keeps panics from killing the listening process and handles
// http.ErrAbortHandler gracefully.
func recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// rateLimitMiddleware applies the per-IP fixed window before any key auth
// runs. Client IP comes from forwarded-for headers with a socket fallback.
func rateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
