package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"keygate/internal/config"
	"keygate/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateEmail is returned when registering an email that already
	// has a key. Matching is exact; no case normalization is applied.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrKeyNotFound is returned when no user record matches the presented key.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrQuotaExceeded is returned when a key has no remaining daily quota.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
)

// Service is the persistence surface of the gateway.
type Service interface {
	// RegisterUser creates a user record with a freshly generated API key.
	RegisterUser(name, email string) (*model.User, error)
	// FindUserByKey returns the record for a key, or ErrKeyNotFound.
	FindUserByKey(key string) (*model.User, error)
	// ConsumeDailyQuota charges one request against the key's daily quota.
	// See the method documentation on gormService for the full contract.
	ConsumeDailyQuota(key string, limit int, now time.Time) (*model.User, error)
	ListUsers() ([]model.User, error)
	GetUser(id uint) (*model.User, error)
	GetDB() *gorm.DB
}

type gormService struct {
	db *gorm.DB
}

// NewService initializes the database connection based on the provided
// configuration and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := gormDB.AutoMigrate(&model.User{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &gormService{db: gormDB}, nil
}

// GetDB exposes the underlying gorm handle, mainly for tests.
func (s *gormService) GetDB() *gorm.DB {
	return s.db
}

// generateKey returns a 48-character hex token (192 bits of entropy).
func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *gormService) RegisterUser(name, email string) (*model.User, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Key:         key,
		Name:        name,
		Email:       email,
		LastResetAt: time.Now(),
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateEmail
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *gormService) FindUserByKey(key string) (*model.User, error) {
	var user model.User
	if err := s.db.Where("key = ?", key).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return &user, nil
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ConsumeDailyQuota charges one request against the key's daily quota.
//
// The usage counter is lazily reset when now falls on a different calendar
// date than the key's last reset; there is no background timer. When the
// counter has already reached limit the call returns ErrQuotaExceeded
// together with the current record, and the counter is NOT incremented.
// Otherwise the counter is incremented with a conditional update so that two
// requests racing at the ceiling cannot both pass the check.
func (s *gormService) ConsumeDailyQuota(key string, limit int, now time.Time) (*model.User, error) {
	var user model.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", key).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		if !sameCalendarDay(user.LastResetAt, now) {
			if err := tx.Model(&user).Updates(map[string]interface{}{
				"usage_count":   0,
				"last_reset_at": now,
			}).Error; err != nil {
				return err
			}
			user.UsageCount = 0
			user.LastResetAt = now
		}

		result := tx.Model(&model.User{}).
			Where("key = ? AND usage_count < ?", key, limit).
			UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrQuotaExceeded
		}
		user.UsageCount++
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			// The record is still meaningful to the caller for usage reporting.
			return &user, err
		}
		if errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to consume quota for key: %w", err)
	}
	return &user, nil
}

func (s *gormService) ListUsers() ([]model.User, error) {
	var users []model.User
	if err := s.db.Order("id asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *gormService) GetUser(id uint) (*model.User, error) {
	var user model.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}
