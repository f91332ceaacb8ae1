package model

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered caller of the gateway. The key is the opaque bearer
// credential issued at registration; it is shown to the caller exactly once
// and never re-displayed.
type User struct {
	gorm.Model
	Key         string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"-"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Email       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	UsageCount  int       `gorm:"default:0;not null" json:"usageCount"`
	LastResetAt time.Time `json:"lastResetAt"`
}

// KeySuffix returns the last 4 characters of the key for log and admin
// output. The full key never leaves the registration response.
func (u *User) KeySuffix() string {
	if len(u.Key) > 4 {
		return u.Key[len(u.Key)-4:]
	}
	return u.Key
}
