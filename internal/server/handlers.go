package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"keygate/internal/auth"
	"keygate/internal/chat"
	"keygate/internal/db"
	"keygate/internal/upstream"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and email required"})
		return
	}

	user, err := s.database.RegisterUser(req.Name, req.Email)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "User exists"})
			return
		}
		s.logger.Error("Registration failed", "email", req.Email, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	s.logger.Info("Registered new API key", "name", user.Name, "key_suffix", user.KeySuffix())
	// The key is returned here exactly once and never re-displayed.
	c.JSON(http.StatusCreated, gin.H{"apiKey": user.Key})
}

func (s *Server) handleChat(c *gin.Context) {
	user, ok := auth.UserFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req chat.Request
	// A malformed or empty body is treated the same as empty input.
	_ = c.ShouldBindJSON(&req)

	messages, err := chat.Normalize(req, s.cfg.Chat.Persona)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	reply, err := s.client.Complete(c.Request.Context(), messages)
	if err != nil {
		s.respondUpstreamError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply": reply,
		"usage": gin.H{"usedToday": user.UsageCount, "limit": s.cfg.Quota.DailyLimit},
	})
}

type quizRequest struct {
	Topic string `json:"topic"`
	Level string `json:"level"`
	Count int    `json:"count"`
}

func (s *Server) handleQuiz(c *gin.Context) {
	var req quizRequest
	_ = c.ShouldBindJSON(&req)
	if req.Topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Topic is required"})
		return
	}
	if req.Level == "" {
		req.Level = "beginner"
	}
	if req.Count <= 0 {
		req.Count = 8
	}

	system := "You generate study quizzes. Reply with a JSON object of the form " +
		`{"questions": [{"question": "...", "options": ["..."], "answer": "..."}]}.`
	prompt := fmt.Sprintf("Create a %s-level quiz with %d questions about: %s", req.Level, req.Count, req.Topic)

	data, err := s.client.CompleteJSON(c.Request.Context(), system, prompt)
	if err != nil {
		s.respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

type flashcardsRequest struct {
	Notes string `json:"notes"`
	Count int    `json:"count"`
}

func (s *Server) handleFlashcards(c *gin.Context) {
	var req flashcardsRequest
	_ = c.ShouldBindJSON(&req)
	if req.Notes == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Notes are required"})
		return
	}
	if req.Count <= 0 {
		req.Count = 12
	}

	system := "You turn study notes into flashcards. Reply with a JSON object of the form " +
		`{"cards": [{"front": "...", "back": "..."}]}.`
	prompt := fmt.Sprintf("Create %d flashcards from these notes:\n%s", req.Count, req.Notes)

	data, err := s.client.CompleteJSON(c.Request.Context(), system, prompt)
	if err != nil {
		s.respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"statusCode":    http.StatusOK,
		"service":       "keygate",
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondUpstreamError maps completion-proxy failures to structured 500
// bodies with enough detail for operators, never the credential.
func (s *Server) respondUpstreamError(c *gin.Context, err error) {
	var upErr *upstream.Error
	switch {
	case errors.Is(err, upstream.ErrCredentialMissing):
		s.logger.Error("Chat request with no upstream credential configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upstream credential not configured"})
	case errors.As(err, &upErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "Upstream error",
			"upstream": gin.H{"status": upErr.StatusCode, "message": upErr.Message},
		})
	default:
		s.logger.Error("Upstream call failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upstream unavailable"})
	}
}
