// Package subdomains - subdomain claim and release protocol for LAUNCHPAD.
//
// A subdomain belongs to at most one live deployment. Claims are won by
// the first writer of the routing store's secondary key; everything else
// here is classification: deciding whether an occupied label is truly in
// use or stale enough to release.
package subdomains

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"launchpad/internal/logging"
	"launchpad/internal/models"
	"launchpad/internal/routing"

	"gorm.io/gorm"
)

var (
	ErrInvalidLabel = errors.New("subdomain must be 3-63 characters of lowercase letters, digits, and hyphens")
	ErrReserved     = errors.New("subdomain is reserved")
	ErrInUse        = errors.New("subdomain is in use")
	ErrNotReleased  = errors.New("subdomain release denied")
)

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// reserved labels route to the apex site or are kept for the platform.
var reserved = map[string]bool{
	"www": true, "api": true, "app": true, "admin": true,
	"mail": true, "ftp": true, "smtp": true, "ns1": true, "ns2": true,
	"status": true, "docs": true, "blog": true, "dev": true, "staging": true,
	"launchpad": true,
}

const (
	// Occupancy is stale when the deployment never finished moving.
	pendingStaleAfter      = 30 * time.Minute
	transitioningStale     = 60 * time.Minute
	thirdPartyCooldown     = 24 * time.Hour
	anonymousStaleCooldown = time.Hour
)

// Reserved reports whether the label belongs to the platform.
func Reserved(label string) bool {
	return reserved[strings.ToLower(label)]
}

// Normalize lowercases and validates a label.
func Normalize(label string) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if len(label) < 3 || len(label) > 63 || !labelPattern.MatchString(label) {
		return "", ErrInvalidLabel
	}
	return label, nil
}

// Availability is the classification returned by a subdomain check.
type Availability struct {
	Label        string `json:"label"`
	Available    bool   `json:"available"`
	Reason       string `json:"reason,omitempty"` // reserved | in_use | stale_failed
	CanRelease   bool   `json:"can_release"`
	DeploymentID string `json:"-"`
}

// Manager applies the claim and release protocol over the routing ledger
// and the relational store.
type Manager struct {
	ledger *routing.Ledger
	db     *gorm.DB
}

// NewManager creates a subdomain manager.
func NewManager(ledger *routing.Ledger, db *gorm.DB) *Manager {
	return &Manager{ledger: ledger, db: db}
}

// Check classifies a label without mutating anything, except for the
// dangling-secondary self-heal.
func (m *Manager) Check(ctx context.Context, rawLabel string) (*Availability, error) {
	label, err := Normalize(rawLabel)
	if err != nil {
		return nil, err
	}
	if Reserved(label) {
		return &Availability{Label: label, Reason: "reserved"}, nil
	}

	rec, err := m.ledger.Resolve(ctx, label)
	if errors.Is(err, routing.ErrNotFound) {
		// Resolve self-heals a dangling secondary before reporting
		// not found, so absence here means genuinely free.
		return &Availability{Label: label, Available: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if stale, _ := m.staleReason(ctx, rec); stale {
		return &Availability{
			Label:        label,
			Reason:       "stale_failed",
			CanRelease:   true,
			DeploymentID: rec.DeploymentID,
		}, nil
	}
	return &Availability{
		Label:        label,
		Reason:       "in_use",
		DeploymentID: rec.DeploymentID,
	}, nil
}

// Claim normalizes and claims the label for a deployment. The secondary
// key SETNX linearizes contenders; on loss the classification is rerun
// so a dangling secondary gets healed and retried.
func (m *Manager) Claim(ctx context.Context, rec *routing.Record) error {
	label, err := Normalize(rec.Subdomain)
	if err != nil {
		return err
	}
	if Reserved(label) {
		return ErrReserved
	}
	rec.Subdomain = label

	for attempt := 0; attempt < 3; attempt++ {
		err := m.ledger.Claim(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, routing.ErrSubdomainTaken) {
			return err
		}

		if _, resolveErr := m.ledger.Resolve(ctx, label); errors.Is(resolveErr, routing.ErrNotFound) {
			// The loser observed a dangling secondary; Resolve
			// healed it, so the claim is worth retrying.
			continue
		}
		return routing.ErrSubdomainTaken
	}
	return routing.ErrSubdomainTaken
}

// Release applies the release protocol for an authenticated caller, or
// rejects. On success the routing record and deployment row are removed
// and an audit entry written.
func (m *Manager) Release(ctx context.Context, rawLabel string, caller *models.User) error {
	label, err := Normalize(rawLabel)
	if err != nil {
		return err
	}
	if caller == nil {
		return fmt.Errorf("%w: authentication required", ErrNotReleased)
	}

	rec, err := m.ledger.Resolve(ctx, label)
	if errors.Is(err, routing.ErrNotFound) {
		return routing.ErrNotFound
	}
	if err != nil {
		return err
	}

	dep, _ := m.loadRow(ctx, rec.DeploymentID)

	isOwner := dep != nil && dep.UserID != nil && *dep.UserID == caller.ID
	if caller.IsSuperAdmin() {
		isOwner = true
	}

	if isOwner {
		if transitioning(rec.Status) && time.Since(rec.UpdatedAt) < transitioningStale {
			return fmt.Errorf("%w: deployment is still %s; try again once it settles",
				ErrNotReleased, rec.Status)
		}
	} else {
		stale, anonymous := m.classifyForRelease(rec, dep)
		if !stale {
			return fmt.Errorf("%w: subdomain is in use", ErrNotReleased)
		}
		cooldown := thirdPartyCooldown
		if anonymous && rec.Status.Terminal() {
			cooldown = anonymousStaleCooldown
		}
		if age := time.Since(rec.UpdatedAt); age < cooldown {
			return fmt.Errorf("%w: stale subdomain can be released in %s",
				ErrNotReleased, (cooldown - age).Round(time.Minute))
		}
	}

	if err := m.ledger.Delete(ctx, rec.DeploymentID, label); err != nil {
		return fmt.Errorf("release %s: %w", label, err)
	}
	if dep != nil {
		if err := m.db.WithContext(ctx).Where("id = ?", dep.ID).
			Delete(&models.Deployment{}).Error; err != nil {
			logging.S().Errorw("deployment row delete on release failed",
				"deployment_id", dep.ID, "error", err)
		}
	}

	reason := "owner_release"
	if !isOwner {
		reason = "stale_release"
	}
	audit := &routing.ReleaseAudit{
		Subdomain:    label,
		ReleasedBy:   fmt.Sprintf("%d", caller.ID),
		DeploymentID: rec.DeploymentID,
		Reason:       reason,
	}
	if err := m.ledger.AppendReleaseAudit(ctx, audit); err != nil {
		logging.S().Errorw("release audit write failed", "subdomain", label, "error", err)
	}
	return nil
}

func transitioning(s models.DeploymentStatus) bool {
	return s == models.StatusUploading || s == models.StatusBuilding || s == models.StatusDeploying
}

// staleReason classifies an occupied label. A deployment is stale when
// it terminated, or when it has sat too long in a state it should have
// left.
func (m *Manager) staleReason(ctx context.Context, rec *routing.Record) (stale bool, anonymous bool) {
	dep, _ := m.loadRow(ctx, rec.DeploymentID)
	return m.classifyForRelease(rec, dep)
}

func (m *Manager) classifyForRelease(rec *routing.Record, dep *models.Deployment) (stale bool, anonymous bool) {
	anonymous = dep == nil || dep.UserID == nil

	switch {
	case rec.Status.Terminal():
		stale = true
	case rec.Status == models.StatusPending && time.Since(rec.CreatedAt) > pendingStaleAfter:
		stale = true
	case (rec.Status == models.StatusUploading || rec.Status == models.StatusBuilding) &&
		time.Since(rec.UpdatedAt) > transitioningStale:
		stale = true
	}
	return stale, anonymous
}

func (m *Manager) loadRow(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	var dep models.Deployment
	err := m.db.WithContext(ctx).Where("id = ?", deploymentID).First(&dep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dep, nil
}
