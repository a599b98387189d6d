// Package sessions - opaque server-side sessions for LAUNCHPAD.
//
// Session ids carry no claims; everything lives in the relational store
// and a single joined read authenticates a request. Rotation caps how
// long a stolen cookie stays useful, and the absolute ceiling caps it
// regardless of rotation.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"launchpad/internal/logging"
	"launchpad/internal/models"

	"gorm.io/gorm"
)

const (
	// CookieName is the fixed session cookie name.
	CookieName = "lp_session"

	// Duration is the sliding lifetime of one session row.
	Duration = 7 * 24 * time.Hour
	// RotationInterval is how often an active session gets a fresh id.
	RotationInterval = 24 * time.Hour
	// AbsoluteCeiling caps a session's total life across rotations.
	AbsoluteCeiling = 30 * 24 * time.Hour
)

var ErrUnauthenticated = errors.New("session absent or expired")

// sessionUserRow is the scan target for the session+user join.
type sessionUserRow struct {
	SID              string `gorm:"column:sid"`
	UserID           uint
	SessionCreatedAt time.Time
	ExpiresAt        time.Time
	LastRotatedAt    time.Time
	RotationCount    int
	Email            string
	DisplayName      string
	AvatarURL        string
	Role             models.Role
	Tier             models.Tier
	TierStatus       models.TierStatus
	AddOnPacks       int
	CustomApex       string
	UserCreatedAt    time.Time
}

// Manager persists and validates sessions.
type Manager struct {
	db *gorm.DB
}

// NewManager creates a session manager.
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create mints a session for a user after identity assertion.
func (m *Manager) Create(ctx context.Context, userID uint) (*models.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:            id,
		UserID:        userID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(Duration),
		LastRotatedAt: now,
	}
	if err := m.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return session, nil
}

// Validate authenticates a session id and applies the rotation policy.
// The returned session is the live one; when rotated is true its id
// differs from the input and the caller must re-emit the cookie. A
// session past the absolute ceiling is invalidated outright.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*models.User, *models.Session, bool, error) {
	if sessionID == "" {
		return nil, nil, false, ErrUnauthenticated
	}

	now := time.Now().UTC()
	var row sessionUserRow
	err := m.db.WithContext(ctx).Table("sessions").
		Select(`sessions.id AS sid, sessions.user_id, sessions.created_at AS session_created_at,
			sessions.expires_at, sessions.last_rotated_at, sessions.rotation_count,
			users.email, users.display_name, users.avatar_url, users.role,
			users.tier, users.tier_status, users.add_on_packs, users.custom_apex,
			users.created_at AS user_created_at`).
		Joins("JOIN users ON users.id = sessions.user_id").
		Where("sessions.id = ? AND sessions.expires_at > ?", sessionID, now).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, false, ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("validate session: %w", err)
	}

	session := models.Session{
		ID:            row.SID,
		UserID:        row.UserID,
		CreatedAt:     row.SessionCreatedAt,
		ExpiresAt:     row.ExpiresAt,
		LastRotatedAt: row.LastRotatedAt,
		RotationCount: row.RotationCount,
	}
	user := models.User{
		ID:          row.UserID,
		CreatedAt:   row.UserCreatedAt,
		Email:       row.Email,
		DisplayName: row.DisplayName,
		AvatarURL:   row.AvatarURL,
		Role:        row.Role,
		Tier:        row.Tier,
		TierStatus:  row.TierStatus,
		AddOnPacks:  row.AddOnPacks,
		CustomApex:  row.CustomApex,
	}

	if now.Sub(session.CreatedAt) > AbsoluteCeiling {
		if err := m.Delete(ctx, session.ID); err != nil {
			logging.S().Warnw("stale session delete failed", "error", err)
		}
		return nil, nil, false, ErrUnauthenticated
	}

	if now.Sub(session.LastRotatedAt) > RotationInterval {
		rotated, err := m.rotate(ctx, &session)
		if err != nil {
			// Rotation failure is not an auth failure; the old
			// session stays valid until its next window.
			logging.S().Warnw("session rotation failed", "user_id", user.ID, "error", err)
			return &user, &session, false, nil
		}
		return &user, rotated, true, nil
	}
	return &user, &session, false, nil
}

// rotate mints a new id preserving created_at, writes the new row, then
// deletes the old. Write-before-delete so a crash leaves a valid session.
func (m *Manager) rotate(ctx context.Context, old *models.Session) (*models.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	next := &models.Session{
		ID:            id,
		UserID:        old.UserID,
		CreatedAt:     old.CreatedAt,
		ExpiresAt:     now.Add(Duration),
		LastRotatedAt: now,
		RotationCount: old.RotationCount + 1,
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", old.ID).Delete(&models.Session{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return next, nil
}

// Delete removes a session row. Logout path.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&models.Session{}).Error
}
