// Package quota - deployment quota and TTL policy for LAUNCHPAD.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"launchpad/internal/config"
	"launchpad/internal/models"

	"gorm.io/gorm"
)

// ErrQuotaExceeded rejects a create that would pass the caller's ceiling.
var ErrQuotaExceeded = errors.New("deployment quota exceeded")

// Manager evaluates quota and TTL policy against the relational store.
type Manager struct {
	db  *gorm.DB
	cfg *config.Config
}

// NewManager creates a quota manager.
func NewManager(db *gorm.DB, cfg *config.Config) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// EffectiveMax is base_for_tier + add_on_packs * per_pack. Free tier
// never has add-ons.
func (m *Manager) EffectiveMax(user *models.User) int {
	if user.IsPro() {
		return m.cfg.ProMaxDeployments + user.AddOnPacks*m.cfg.DeploymentsPerPack
	}
	return m.cfg.FreeMaxDeployments
}

// TTLFor returns the expiry for a deployment created now, or nil for
// callers whose tier carries no TTL. Anonymous callers get the free TTL.
func (m *Manager) TTLFor(user *models.User, createdAt time.Time) *time.Time {
	if user != nil && user.IsPro() {
		return nil
	}
	expires := createdAt.Add(m.cfg.FreeTTL)
	return &expires
}

// CheckCreate enforces the ceiling before a deployment row is inserted.
// Anonymous callers bypass quota but still receive a TTL.
func (m *Manager) CheckCreate(ctx context.Context, user *models.User) error {
	if user == nil {
		return nil
	}
	var count int64
	err := m.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("user_id = ?", user.ID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("count deployments for user %d: %w", user.ID, err)
	}
	if int(count) >= m.EffectiveMax(user) {
		return ErrQuotaExceeded
	}
	return nil
}

// Usage returns current count and ceiling for the auth surface.
func (m *Manager) Usage(ctx context.Context, user *models.User) (used, max int, err error) {
	var count int64
	err = m.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("user_id = ?", user.ID).
		Count(&count).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count deployments for user %d: %w", user.ID, err)
	}
	return int(count), m.EffectiveMax(user), nil
}

// ApplyUpgrade clears the TTL from every non-failed deployment of a user
// who moved free -> pro.
func (m *Manager) ApplyUpgrade(ctx context.Context, userID uint) error {
	err := m.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("user_id = ? AND status NOT IN ?", userID,
			[]models.DeploymentStatus{models.StatusFailed, models.StatusExpired}).
		Update("expires_at", nil).Error
	if err != nil {
		return fmt.Errorf("clear TTLs for user %d: %w", userID, err)
	}
	return nil
}
