// Package models - relational store models for LAUNCHPAD.
// Users, sessions, and deployment metadata; the source of truth for
// quota and ownership.
package models

import (
	"time"
)

// Role is the authorization role of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleSuperAdmin Role = "super_admin"
)

// Tier is a user's service level; it determines quota ceiling and TTL policy.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierStatus tracks the billing state of a tier.
type TierStatus string

const (
	TierStatusActive   TierStatus = "active"
	TierStatusCanceled TierStatus = "canceled"
	TierStatusPastDue  TierStatus = "past_due"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusUploading DeploymentStatus = "uploading"
	StatusAnalyzing DeploymentStatus = "analyzing"
	StatusBuilding  DeploymentStatus = "building"
	StatusDeploying DeploymentStatus = "deploying"
	StatusActive    DeploymentStatus = "active"
	StatusFailed    DeploymentStatus = "failed"
	StatusExpired   DeploymentStatus = "expired"
)

// Terminal reports whether the status admits no further forward transition.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusFailed || s == StatusExpired
}

// Framework is the closed set of framework labels the classifier emits.
type Framework string

const (
	FrameworkStreamlit Framework = "streamlit"
	FrameworkGradio    Framework = "gradio"
	FrameworkFlask     Framework = "flask"
	FrameworkFastAPI   Framework = "fastapi"
	FrameworkReact     Framework = "react"
	FrameworkNextJS    Framework = "nextjs"
	FrameworkExpress   Framework = "express"
	FrameworkStatic    Framework = "static"
	FrameworkUnknown   Framework = "unknown"
)

// Known reports whether the label is one the build templater can handle.
func (f Framework) Known() bool {
	switch f {
	case FrameworkStreamlit, FrameworkGradio, FrameworkFlask, FrameworkFastAPI,
		FrameworkReact, FrameworkNextJS, FrameworkExpress, FrameworkStatic:
		return true
	}
	return false
}

// LanguageFamily returns the detected language family for a framework label.
func (f Framework) LanguageFamily() string {
	switch f {
	case FrameworkStreamlit, FrameworkGradio, FrameworkFlask, FrameworkFastAPI:
		return "python"
	case FrameworkReact, FrameworkNextJS, FrameworkExpress:
		return "node"
	case FrameworkStatic:
		return "static"
	}
	return "unknown"
}

// User is created on first federated login and never destroyed in-band.
type User struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Email       string    `json:"email" gorm:"uniqueIndex;not null;type:varchar(255)"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	AvatarURL   string    `json:"avatar_url" gorm:"type:varchar(512)"`

	Role       Role       `json:"role" gorm:"type:varchar(20);default:'user'"`
	Tier       Tier       `json:"tier" gorm:"type:varchar(10);default:'free'"`
	TierStatus TierStatus `json:"tier_status" gorm:"type:varchar(20);default:'active'"`

	// Billing provider references are opaque to the control plane.
	StripeCustomerID     string `json:"-" gorm:"type:varchar(64);index"`
	StripeSubscriptionID string `json:"-" gorm:"type:varchar(64)"`
	AddOnPacks           int    `json:"add_on_packs" gorm:"default:0"`

	CustomApex string `json:"custom_apex,omitempty" gorm:"type:varchar(253)"`
}

// IsSuperAdmin reports whether the user carries the super_admin role.
func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// IsPro reports whether the user's effective tier removes TTL and raises quota.
func (u *User) IsPro() bool {
	return u.Tier == TierPro && u.TierStatus == TierStatusActive
}

// Session is an opaque, unpredictable server-side session.
type Session struct {
	ID            string    `json:"id" gorm:"primarykey;type:varchar(64)"`
	UserID        uint      `json:"user_id" gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null;index"`
	LastRotatedAt time.Time `json:"last_rotated_at"`
	RotationCount int       `json:"rotation_count" gorm:"default:0"`
}

// Deployment is a single user-initiated act of publishing an archive
// at a subdomain.
type Deployment struct {
	ID        string    `json:"id" gorm:"primarykey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Null for legacy anonymous deployments.
	UserID *uint `json:"user_id,omitempty" gorm:"index"`

	Subdomain string           `json:"subdomain" gorm:"not null;index;type:varchar(63)"`
	Framework Framework        `json:"framework,omitempty" gorm:"type:varchar(20)"`
	Language  string           `json:"language,omitempty" gorm:"type:varchar(20)"`
	Status    DeploymentStatus `json:"status" gorm:"not null;type:varchar(20);default:'pending';index"`

	// Set once the runtime service reports a URL.
	OriginURL    string `json:"origin_url,omitempty" gorm:"type:varchar(512)"`
	BuildID      string `json:"build_id,omitempty" gorm:"type:varchar(64)"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`

	// Null iff the owner's effective tier had no TTL at creation.
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`

	// Narrative artifacts shown on the dashboard; not used by the core.
	Praise      string `json:"praise,omitempty" gorm:"type:text"`
	CharacterID string `json:"character_id,omitempty" gorm:"type:varchar(20)"`
}

// TableName specifies the table name for User.
func (User) TableName() string { return "users" }

// TableName specifies the table name for Session.
func (Session) TableName() string { return "sessions" }

// TableName specifies the table name for Deployment.
func (Deployment) TableName() string { return "deployments" }
