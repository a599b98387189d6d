package deployments

import (
	"context"
	"time"

	"launchpad/internal/logging"
	"launchpad/internal/models"
)

// Reaper expires deployments whose TTL has passed and sweeps expired
// sessions in the same cycle. Per-deployment errors are logged and do
// not halt the batch.
type Reaper struct {
	service  *Service
	interval time.Duration
}

// NewReaper creates the TTL reaper.
func NewReaper(service *Service, interval time.Duration) *Reaper {
	return &Reaper{service: service, interval: interval}
}

// Run blocks until ctx is cancelled, firing one cycle per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logging.S().Infow("reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			logging.S().Info("reaper stopped")
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce runs a single reap cycle.
func (r *Reaper) ReapOnce(ctx context.Context) {
	now := time.Now().UTC()

	var expired []models.Deployment
	err := r.service.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND status <> ?", now, models.StatusExpired).
		Find(&expired).Error
	if err != nil {
		logging.S().Errorw("reaper enumeration failed", "error", err)
		return
	}

	for i := range expired {
		dep := &expired[i]
		logging.S().Infow("expiring deployment",
			"deployment_id", dep.ID, "subdomain", dep.Subdomain, "expired_at", dep.ExpiresAt)
		r.service.Expire(ctx, dep)
	}

	res := r.service.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.Session{})
	if res.Error != nil {
		logging.S().Errorw("session cleanup failed", "error", res.Error)
	} else if res.RowsAffected > 0 {
		logging.S().Infow("expired sessions removed", "count", res.RowsAffected)
	}

	if len(expired) > 0 {
		logging.S().Infow("reap cycle complete", "deployments", len(expired))
	}
}
