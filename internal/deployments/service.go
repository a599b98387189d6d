package deployments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"launchpad/internal/analyzer"
	"launchpad/internal/builder"
	"launchpad/internal/config"
	"launchpad/internal/logging"
	"launchpad/internal/models"
	"launchpad/internal/quota"
	"launchpad/internal/recipe"
	"launchpad/internal/routing"
	"launchpad/internal/subdomains"

	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("deployment not found")
	ErrArchiveMissing  = errors.New("no archive has been uploaded for this deployment")
	ErrUnknownLanguage = errors.New("could not determine a supported framework")
)

// SecretVault is the slice of the vault adapter the service uses.
type SecretVault interface {
	Store(ctx context.Context, deploymentID, secret string) (string, error)
	Destroy(ctx context.Context, deploymentID string) error
}

// BuildExecutor submits pipelines and reports build status.
type BuildExecutor interface {
	Submit(ctx context.Context, req *builder.SubmitRequest) (string, error)
	Poll(ctx context.Context, buildID string) (builder.Status, error)
}

// RuntimeService exposes deployed services.
type RuntimeService interface {
	OriginURL(ctx context.Context, subdomain string) (string, error)
	DeleteService(ctx context.Context, subdomain string) error
}

// ArchiveStore holds uploaded archives and their build mirrors.
type ArchiveStore interface {
	Get(ctx context.Context, deploymentID string) ([]byte, error)
	Exists(ctx context.Context, deploymentID string) bool
	Mirror(ctx context.Context, deploymentID string) error
	Delete(ctx context.Context, deploymentID string) error
}

// Service owns the deployment lifecycle end to end. The archive, vault
// secret, runtime service, routing record, and relational row form a
// bundle owned by the deployment; provisioning and teardown of the
// bundle are centralized here.
type Service struct {
	db        *gorm.DB
	ledger    *routing.Ledger
	subdomain *subdomains.Manager
	archive   ArchiveStore
	vault     SecretVault
	builds    BuildExecutor
	runtime   RuntimeService
	quota     *quota.Manager
	cfg       *config.Config
}

// NewService wires the deployment service.
func NewService(db *gorm.DB, ledger *routing.Ledger, subdomain *subdomains.Manager,
	archive ArchiveStore, vault SecretVault, builds BuildExecutor, runtime RuntimeService,
	qm *quota.Manager, cfg *config.Config) *Service {
	return &Service{
		db:        db,
		ledger:    ledger,
		subdomain: subdomain,
		archive:   archive,
		vault:     vault,
		builds:    builds,
		runtime:   runtime,
		quota:     qm,
		cfg:       cfg,
	}
}

// Get loads a deployment row by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Deployment, error) {
	var dep models.Deployment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&dep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load deployment %s: %w", id, err)
	}
	return &dep, nil
}

// ListForUser returns the caller's deployments, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]models.Deployment, error) {
	var deps []models.Deployment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("list deployments for user %d: %w", userID, err)
	}
	return deps, nil
}

// ListAll returns every deployment for the admin surface.
func (s *Service) ListAll(ctx context.Context) ([]models.Deployment, error) {
	var deps []models.Deployment
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return deps, nil
}

// Create validates quota and archive presence, claims the subdomain, and
// inserts the pending deployment. The subdomain must already be claimed
// by the caller through the subdomain ledger; Create assumes the claim
// holds and rolls it back on insert failure.
func (s *Service) Create(ctx context.Context, user *models.User, deploymentID, subdomain string) (*models.Deployment, error) {
	if err := s.quota.CheckCreate(ctx, user); err != nil {
		return nil, err
	}
	if !s.archive.Exists(ctx, deploymentID) {
		return nil, ErrArchiveMissing
	}

	now := time.Now().UTC()
	rec := &routing.Record{
		DeploymentID: deploymentID,
		Subdomain:    subdomain,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.subdomain.Claim(ctx, rec); err != nil {
		return nil, err
	}

	dep := &models.Deployment{
		ID:        deploymentID,
		Subdomain: rec.Subdomain,
		Status:    models.StatusPending,
		ExpiresAt: s.quota.TTLFor(user, now),
	}
	if user != nil {
		uid := user.ID
		dep.UserID = &uid
	}
	if err := s.db.WithContext(ctx).Create(dep).Error; err != nil {
		// Roll the claim back so the label is not wedged on a row
		// that never existed.
		if delErr := s.ledger.Delete(ctx, deploymentID, subdomain); delErr != nil {
			logging.S().Errorw("rollback routing claim failed",
				"deployment_id", deploymentID, "error", delErr)
		}
		return nil, fmt.Errorf("insert deployment %s: %w", deploymentID, err)
	}
	return dep, nil
}

// Orchestrate drives a pending deployment through archive handoff,
// classification, secret provisioning, and build submission. It runs in
// its own goroutine; the deploy handler returns 202 as soon as the row
// exists. All progress is visible through status reads.
func (s *Service) Orchestrate(ctx context.Context, dep *models.Deployment, apiKey string, hint models.Framework) {
	log := logging.S().With("deployment_id", dep.ID, "subdomain", dep.Subdomain)

	if err := s.setStatus(ctx, dep.ID, models.StatusUploading, nil); err != nil {
		log.Errorw("advance to uploading failed", "error", err)
		s.fail(ctx, dep.ID, "internal error during archive handoff")
		return
	}
	if err := s.archive.Mirror(ctx, dep.ID); err != nil {
		log.Errorw("archive mirror failed", "error", err)
		s.fail(ctx, dep.ID, "failed to hand the archive to the build system")
		return
	}

	if err := s.setStatus(ctx, dep.ID, models.StatusAnalyzing, nil); err != nil {
		log.Errorw("advance to analyzing failed", "error", err)
		s.fail(ctx, dep.ID, "internal error during analysis")
		return
	}
	data, err := s.archive.Get(ctx, dep.ID)
	if err != nil {
		log.Errorw("archive fetch for analysis failed", "error", err)
		s.fail(ctx, dep.ID, "failed to read the uploaded archive")
		return
	}
	result, err := analyzer.Analyze(data, hint)
	if err != nil {
		log.Warnw("archive rejected by analyzer", "error", err)
		s.fail(ctx, dep.ID, err.Error())
		return
	}
	if !result.Framework.Known() {
		s.fail(ctx, dep.ID, ErrUnknownLanguage.Error())
		return
	}
	log.Infow("archive classified",
		"framework", result.Framework,
		"entrypoint", result.DetectedEntrypoint,
		"files", len(result.FileList))

	secretRef, err := s.vault.Store(ctx, dep.ID, apiKey)
	if err != nil {
		log.Errorw("vault store failed", "error", err)
		s.fail(ctx, dep.ID, "failed to provision the API key")
		return
	}

	rcp, err := recipe.For(result.Framework)
	if err != nil {
		s.destroySecret(ctx, dep.ID)
		s.fail(ctx, dep.ID, err.Error())
		return
	}

	buildID, err := s.builds.Submit(ctx, &builder.SubmitRequest{
		DeploymentID:    dep.ID,
		Subdomain:       dep.Subdomain,
		SecretReference: secretRef,
		Recipe:          rcp,
		InjectManifest:  !result.HasDependencyManifest && result.Framework.LanguageFamily() == "python",
		SourceBucket:    s.cfg.BuildSourceBucket,
	})
	if err != nil {
		log.Errorw("build submit failed", "error", err)
		s.destroySecret(ctx, dep.ID)
		s.fail(ctx, dep.ID, "failed to start the build")
		return
	}

	err = s.setStatus(ctx, dep.ID, models.StatusBuilding, func(rec *routing.Record, row map[string]any) {
		rec.Framework = result.Framework
		rec.BuildID = buildID
		row["framework"] = result.Framework
		row["language"] = result.Framework.LanguageFamily()
		row["build_id"] = buildID
	})
	if err != nil {
		log.Errorw("advance to building failed", "error", err)
		return
	}
	log.Infow("build submitted", "build_id", buildID, "framework", result.Framework)
}

// ApplyBuildEvent advances the deployment per an executor status event.
// The routing store linearizes concurrent deliveries; duplicates and
// late events are no-ops. Returns the applied target state, or the
// current state when nothing changed.
func (s *Service) ApplyBuildEvent(ctx context.Context, deploymentID, buildID string, event builder.Status) (models.DeploymentStatus, error) {
	var next models.DeploymentStatus
	var changed bool

	rec, err := s.ledger.Update(ctx, deploymentID, func(r *routing.Record) (bool, error) {
		next, changed = NextForBuildEvent(r.Status, event)
		if !changed {
			return false, nil
		}
		r.Status = next
		if buildID != "" && r.BuildID == "" {
			r.BuildID = buildID
		}
		if next == models.StatusFailed {
			r.Error = fmt.Sprintf("build %s: %s", buildID, event)
		}
		return true, nil
	})
	if errors.Is(err, routing.ErrNotFound) {
		// Deployment deleted mid-build; the event is discarded.
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return rec.Status, nil
	}

	updates := map[string]any{"status": next}
	if buildID != "" {
		updates["build_id"] = buildID
	}
	if next == models.StatusFailed {
		updates["error_message"] = fmt.Sprintf("build failed with status %s", event)
	}
	if err := s.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ?", deploymentID).Updates(updates).Error; err != nil {
		logging.S().Errorw("persist build event failed",
			"deployment_id", deploymentID, "status", next, "error", err)
	}

	if next == models.StatusFailed {
		s.destroySecret(ctx, deploymentID)
	}
	return next, nil
}

// Refresh implements convergent polling: a status read may advance the
// deployment by querying the executor or the runtime directly, so a lost
// webhook only delays progress instead of wedging it.
func (s *Service) Refresh(ctx context.Context, deploymentID string) (*routing.Record, error) {
	rec, err := s.ledger.Get(ctx, deploymentID)
	if errors.Is(err, routing.ErrNotFound) {
		return s.recordFromRow(ctx, deploymentID)
	}
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case models.StatusBuilding:
		if rec.BuildID == "" {
			return rec, nil
		}
		status, err := s.builds.Poll(ctx, rec.BuildID)
		if err != nil {
			logging.S().Warnw("build poll failed",
				"deployment_id", deploymentID, "build_id", rec.BuildID, "error", err)
			return rec, nil
		}
		if _, err := s.ApplyBuildEvent(ctx, deploymentID, rec.BuildID, status); err != nil {
			return rec, nil
		}
		return s.ledger.Get(ctx, deploymentID)

	case models.StatusDeploying:
		origin, err := s.runtime.OriginURL(ctx, rec.Subdomain)
		if err != nil || origin == "" {
			return rec, nil
		}
		updated, err := s.ledger.Update(ctx, deploymentID, func(r *routing.Record) (bool, error) {
			if !CanAdvance(r.Status, models.StatusActive) {
				return false, nil
			}
			r.Status = models.StatusActive
			r.OriginURL = origin
			return true, nil
		})
		if err != nil {
			return rec, nil
		}
		if updated.Status == models.StatusActive {
			if err := s.db.WithContext(ctx).Model(&models.Deployment{}).
				Where("id = ?", deploymentID).
				Updates(map[string]any{"status": models.StatusActive, "origin_url": origin}).Error; err != nil {
				logging.S().Errorw("persist activation failed",
					"deployment_id", deploymentID, "error", err)
			}
		}
		return updated, nil
	}
	return rec, nil
}

// recordFromRow serves status for deployments whose routing record has
// aged out of the ledger but whose row survives.
func (s *Service) recordFromRow(ctx context.Context, deploymentID string) (*routing.Record, error) {
	dep, err := s.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return &routing.Record{
		DeploymentID: dep.ID,
		Subdomain:    dep.Subdomain,
		Status:       dep.Status,
		OriginURL:    dep.OriginURL,
		Error:        dep.ErrorMessage,
		Framework:    dep.Framework,
		BuildID:      dep.BuildID,
		CreatedAt:    dep.CreatedAt,
		UpdatedAt:    dep.UpdatedAt,
	}, nil
}

// Delete tears down the deployment bundle and audits the release.
// Authorization is the caller's responsibility.
func (s *Service) Delete(ctx context.Context, dep *models.Deployment, releasedBy, reason string) error {
	s.Deprovision(ctx, dep)

	audit := &routing.ReleaseAudit{
		Subdomain:    dep.Subdomain,
		ReleasedBy:   releasedBy,
		DeploymentID: dep.ID,
		Reason:       reason,
	}
	if err := s.ledger.AppendReleaseAudit(ctx, audit); err != nil {
		logging.S().Errorw("release audit write failed",
			"deployment_id", dep.ID, "error", err)
	}
	return nil
}

// Expire marks a deployment expired in both stores, then tears down its
// serving resources. The routing record and relational row survive so
// the wildcard proxy renders the expired page instead of a 404; the
// label frees up later through release or record expiry. The status
// flip happens first, so a partial teardown still leaves the
// deployment expired rather than serving as active.
func (s *Service) Expire(ctx context.Context, dep *models.Deployment) {
	log := logging.S().With("deployment_id", dep.ID, "subdomain", dep.Subdomain)

	_, err := s.ledger.Update(ctx, dep.ID, func(rec *routing.Record) (bool, error) {
		if rec.Status == models.StatusExpired {
			return false, nil
		}
		rec.Status = models.StatusExpired
		rec.OriginURL = ""
		return true, nil
	})
	if err != nil && !errors.Is(err, routing.ErrNotFound) {
		log.Errorw("mark expired in routing store failed", "error", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ?", dep.ID).
		Updates(map[string]any{"status": models.StatusExpired, "origin_url": ""}).Error; err != nil {
		log.Errorw("mark expired in relational store failed", "error", err)
	}

	if err := s.runtime.DeleteService(ctx, dep.Subdomain); err != nil {
		log.Warnw("runtime service delete failed", "error", err)
	}
	if err := s.archive.Delete(ctx, dep.ID); err != nil {
		log.Warnw("archive delete failed", "error", err)
	}
	if err := s.vault.Destroy(ctx, dep.ID); err != nil {
		log.Warnw("vault destroy failed", "error", err)
	}
}

// Deprovision takes best-effort teardown steps in a fixed order: runtime
// service, archive, vault secret, routing record, relational row. Each
// failure is logged and does not abort the rest; teardown is idempotent
// so the reaper can retry.
func (s *Service) Deprovision(ctx context.Context, dep *models.Deployment) {
	log := logging.S().With("deployment_id", dep.ID, "subdomain", dep.Subdomain)

	if err := s.runtime.DeleteService(ctx, dep.Subdomain); err != nil {
		log.Warnw("runtime service delete failed", "error", err)
	}
	if err := s.archive.Delete(ctx, dep.ID); err != nil {
		log.Warnw("archive delete failed", "error", err)
	}
	if err := s.vault.Destroy(ctx, dep.ID); err != nil {
		log.Warnw("vault destroy failed", "error", err)
	}
	if err := s.ledger.Delete(ctx, dep.ID, dep.Subdomain); err != nil {
		log.Warnw("routing record delete failed", "error", err)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", dep.ID).
		Delete(&models.Deployment{}).Error; err != nil {
		log.Errorw("deployment row delete failed", "error", err)
	}
}

// rowMutator lets setStatus carry extra fields into both stores.
type rowMutator func(rec *routing.Record, row map[string]any)

// setStatus advances both the routing record and the relational row.
// The routing store is the arbiter; a retrograde target is rejected there.
func (s *Service) setStatus(ctx context.Context, deploymentID string, target models.DeploymentStatus, extra rowMutator) error {
	row := map[string]any{"status": target}
	_, err := s.ledger.Update(ctx, deploymentID, func(rec *routing.Record) (bool, error) {
		if !CanAdvance(rec.Status, target) {
			return false, fmt.Errorf("cannot advance %s from %s to %s", deploymentID, rec.Status, target)
		}
		rec.Status = target
		if extra != nil {
			extra(rec, row)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ?", deploymentID).Updates(row).Error
}

// fail marks the deployment failed with a user-facing reason. Safe to
// call from any non-terminal state.
func (s *Service) fail(ctx context.Context, deploymentID, reason string) {
	_, err := s.ledger.Update(ctx, deploymentID, func(rec *routing.Record) (bool, error) {
		if rec.Status.Terminal() {
			return false, nil
		}
		rec.Status = models.StatusFailed
		rec.Error = reason
		return true, nil
	})
	if err != nil && !errors.Is(err, routing.ErrNotFound) {
		logging.S().Errorw("mark failed in routing store failed",
			"deployment_id", deploymentID, "error", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ? AND status NOT IN ?", deploymentID,
			[]models.DeploymentStatus{models.StatusFailed, models.StatusExpired}).
		Updates(map[string]any{"status": models.StatusFailed, "error_message": reason}).Error; err != nil {
		logging.S().Errorw("mark failed in relational store failed",
			"deployment_id", deploymentID, "error", err)
	}
}

func (s *Service) destroySecret(ctx context.Context, deploymentID string) {
	if err := s.vault.Destroy(ctx, deploymentID); err != nil {
		logging.S().Warnw("compensating vault destroy failed",
			"deployment_id", deploymentID, "error", err)
	}
}
