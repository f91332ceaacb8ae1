package admin

import (
	"net/http"
	"strconv"
	"time"

	"keygate/internal/db"
	"keygate/internal/model"

	"github.com/gin-gonic/gin"
)

// Handler serves the operator views over the registered users. Full keys are
// never exposed here; only a suffix for correlation with logs.
type Handler struct {
	db db.Service
}

func NewHandler(dbService db.Service) *Handler {
	return &Handler{db: dbService}
}

type userView struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	KeySuffix   string    `json:"keySuffix"`
	UsageCount  int       `json:"usageCount"`
	LastResetAt time.Time `json:"lastResetAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

func viewOf(u *model.User) userView {
	return userView{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		KeySuffix:   u.KeySuffix(),
		UsageCount:  u.UsageCount,
		LastResetAt: u.LastResetAt,
		CreatedAt:   u.CreatedAt,
	}
}

func (h *Handler) ListUsersHandler(c *gin.Context) {
	users, err := h.db.ListUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	views := make([]userView, len(users))
	for i := range users {
		views[i] = viewOf(&users[i])
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) GetUserHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}
	user, err := h.db.GetUser(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(user))
}
