package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"launchpad/internal/models"

	"gorm.io/gorm"
)

// Service resolves identities to users.
type Service struct {
	db              *gorm.DB
	superAdminEmail string
}

// NewService creates the auth service.
func NewService(db *gorm.DB, superAdminEmail string) *Service {
	return &Service{db: db, superAdminEmail: strings.ToLower(superAdminEmail)}
}

// UpsertUser finds or creates the user for a verified identity. The
// configured super-admin email is promoted on every login so the role
// survives a database rebuild.
func (s *Service) UpsertUser(ctx context.Context, id *Identity) (*models.User, error) {
	email := strings.ToLower(id.Email)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Email:       email,
			DisplayName: id.Name,
			AvatarURL:   id.Picture,
			Role:        models.RoleUser,
			Tier:        models.TierFree,
			TierStatus:  models.TierStatusActive,
		}
		if s.superAdminEmail != "" && email == s.superAdminEmail {
			user.Role = models.RoleSuperAdmin
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	updates := map[string]any{}
	if id.Name != "" && id.Name != user.DisplayName {
		updates["display_name"] = id.Name
	}
	if id.Picture != "" && id.Picture != user.AvatarURL {
		updates["avatar_url"] = id.Picture
	}
	if s.superAdminEmail != "" && email == s.superAdminEmail && user.Role != models.RoleSuperAdmin {
		updates["role"] = models.RoleSuperAdmin
		user.Role = models.RoleSuperAdmin
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return &user, nil
}
