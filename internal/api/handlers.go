// Package api - HTTP API surface for LAUNCHPAD.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"launchpad/internal/archive"
	"launchpad/internal/auth"
	"launchpad/internal/billing"
	"launchpad/internal/config"
	"launchpad/internal/db"
	"launchpad/internal/deployments"
	"launchpad/internal/logging"
	"launchpad/internal/metrics"
	"launchpad/internal/middleware"
	"launchpad/internal/models"
	"launchpad/internal/quota"
	"launchpad/internal/routing"
	"launchpad/internal/sessions"
	"launchpad/internal/subdomains"
	"launchpad/internal/vault"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// archiveStore is the slice of the archive adapter the API needs beyond
// what the deployment service already holds.
type archiveStore interface {
	Put(ctx context.Context, deploymentID string, body io.Reader) error
	Health(ctx context.Context) error
}

// Handler carries every dependency the API surface uses. Handlers hold
// no state of their own.
type Handler struct {
	cfg        *config.Config
	database   *db.Database
	ledger     *routing.Ledger
	subdomains *subdomains.Manager
	service    *deployments.Service
	sessions   *sessions.Manager
	oauth      *auth.GoogleProvider
	users      *auth.Service
	billing    *billing.Service
	archive    archiveStore
	quota      *quota.Manager
	limiter    *middleware.RateLimiter
}

// NewHandler wires the API handler.
func NewHandler(cfg *config.Config, database *db.Database, ledger *routing.Ledger,
	sub *subdomains.Manager, service *deployments.Service, sess *sessions.Manager,
	oauth *auth.GoogleProvider, users *auth.Service, bill *billing.Service,
	archive archiveStore, qm *quota.Manager, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		cfg:        cfg,
		database:   database,
		ledger:     ledger,
		subdomains: sub,
		service:    service,
		sessions:   sess,
		oauth:      oauth,
		users:      users,
		billing:    bill,
		archive:    archive,
		quota:      qm,
		limiter:    limiter,
	}
}

// RegisterRoutes mounts the /api/v1 surface.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	secure := h.cfg.IsProduction()
	requireAuth := middleware.SessionAuth(h.sessions, secure, false)
	optionalAuth := middleware.SessionAuth(h.sessions, secure, true)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.SecurityHeaders(true))
	v1.Use(middleware.CORS(h.cfg.AllowedOrigins))

	v1.POST("/prepare", requireAuth, h.limiter.Limit(middleware.ClassPrepare), h.prepare)
	v1.PUT("/upload/:deployment_id", h.limiter.Limit(middleware.ClassUpload), h.upload)
	v1.POST("/deploy", requireAuth, h.limiter.Limit(middleware.ClassDeploy), h.deploy)
	// Optional auth keys the status/check buckets by user when present.
	v1.GET("/status/:deployment_id", optionalAuth, h.limiter.Limit(middleware.ClassStatus), h.status)
	v1.GET("/ws/status/:deployment_id", h.statusStream)

	v1.GET("/subdomain/check/:label", optionalAuth, h.limiter.Limit(middleware.ClassSubdomain), h.checkSubdomain)
	v1.POST("/subdomain/release/:label", requireAuth, h.limiter.Limit(middleware.ClassSubdomain), h.releaseSubdomain)

	v1.POST("/webhook/cloudbuild", middleware.WebhookGuard(50, 100), h.buildWebhook)
	v1.POST("/webhook/billing", middleware.WebhookGuard(50, 100), h.billingWebhook)

	v1.GET("/deployments", requireAuth, h.listDeployments)
	v1.DELETE("/deployments/:id", requireAuth, h.deleteDeployment)

	admin := v1.Group("/admin", requireAuth, middleware.RequireSuperAdmin())
	admin.GET("/deployments", h.adminListDeployments)
	admin.DELETE("/deployments/:id", h.adminDeleteDeployment)

	v1.GET("/health", h.health)

	authGroup := v1.Group("/auth")
	authGroup.POST("/login", h.limiter.Limit(middleware.ClassAuth), h.login)
	authGroup.GET("/callback", h.limiter.Limit(middleware.ClassAuth), h.callback)
	authGroup.GET("/me", requireAuth, h.me)
	authGroup.POST("/logout", requireAuth, h.logout)

	billingGroup := v1.Group("/billing", requireAuth)
	billingGroup.POST("/checkout", h.checkout)
	billingGroup.POST("/portal", h.portal)
}

// --- deployment flow ---

func (h *Handler) prepare(c *gin.Context) {
	deploymentID := uuid.NewString()
	expiresAt := time.Now().UTC().Add(UploadTokenTTL)

	token, err := signUploadToken(deploymentID, "source.zip", expiresAt, []byte(h.cfg.UploadTokenSecret))
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	scheme := "https"
	if !h.cfg.IsProduction() {
		scheme = "http"
	}
	uploadURL := fmt.Sprintf("%s://api.%s/api/v1/upload/%s?token=%s",
		scheme, h.cfg.ApexDomain, deploymentID, token)

	c.JSON(200, gin.H{
		"deployment_id": deploymentID,
		"upload_url":    uploadURL,
		"expires_at":    expiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) upload(c *gin.Context) {
	deploymentID := c.Param("deployment_id")
	token := c.Query("token")

	if err := verifyUploadToken(token, deploymentID, []byte(h.cfg.UploadTokenSecret)); err != nil {
		forbidden(c, "upload token invalid or expired")
		return
	}
	if ct := c.ContentType(); ct != "application/zip" && ct != "application/x-zip-compressed" {
		badRequest(c, "archive must be uploaded as application/zip")
		return
	}

	if err := h.archive.Put(c.Request.Context(), deploymentID, c.Request.Body); err != nil {
		if errors.Is(err, archive.ErrArchiveTooLarge) {
			apiError(c, 413, "validation", err.Error())
			return
		}
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, gin.H{"success": true, "deployment_id": deploymentID})
}

type deployRequest struct {
	DeploymentID string `json:"deployment_id" binding:"required"`
	Subdomain    string `json:"subdomain" binding:"required"`
	APIKey       string `json:"api_key" binding:"required"`
	Framework    string `json:"framework"`
}

func (h *Handler) deploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "deployment_id, subdomain, and api_key are required")
		return
	}
	if err := vault.ValidateKey(req.APIKey); err != nil {
		badRequest(c, err.Error())
		return
	}
	if _, err := uuid.Parse(req.DeploymentID); err != nil {
		badRequest(c, "deployment_id is not a valid id")
		return
	}

	user := middleware.CurrentUser(c)
	dep, err := h.service.Create(c.Request.Context(), user, req.DeploymentID, req.Subdomain)
	switch {
	case errors.Is(err, subdomains.ErrInvalidLabel):
		badRequest(c, err.Error())
		return
	case errors.Is(err, subdomains.ErrReserved):
		conflict(c, fmt.Sprintf("subdomain %q is reserved", strings.ToLower(req.Subdomain)))
		return
	case errors.Is(err, routing.ErrSubdomainTaken):
		conflict(c, fmt.Sprintf("subdomain %q is already taken", strings.ToLower(req.Subdomain)))
		return
	case errors.Is(err, quota.ErrQuotaExceeded):
		conflict(c, "deployment quota exceeded; delete a deployment or upgrade")
		return
	case errors.Is(err, deployments.ErrArchiveMissing):
		badRequest(c, "upload an archive before deploying")
		return
	case err != nil:
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	praise, characterID := generatePraise(dep.Subdomain)
	if err := h.database.GetDB().WithContext(c.Request.Context()).
		Model(&models.Deployment{}).Where("id = ?", dep.ID).
		Updates(map[string]any{"praise": praise, "character_id": characterID}).Error; err != nil {
		logging.S().Warnw("praise persist failed", "deployment_id", dep.ID, "error", err)
	}

	// Orchestration outlives the request.
	hint := models.Framework(strings.ToLower(req.Framework))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		h.service.Orchestrate(ctx, dep, req.APIKey, hint)
	}()

	c.JSON(202, gin.H{
		"deployment_id": dep.ID,
		"subdomain":     dep.Subdomain,
		"status":        dep.Status,
		"message":       praise,
	})
}

func (h *Handler) status(c *gin.Context) {
	deploymentID := c.Param("deployment_id")

	rec, err := h.service.Refresh(c.Request.Context(), deploymentID)
	if errors.Is(err, deployments.ErrNotFound) || errors.Is(err, routing.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, statusBody(rec))
}

func statusBody(rec *routing.Record) gin.H {
	body := gin.H{
		"deployment_id": rec.DeploymentID,
		"subdomain":     rec.Subdomain,
		"status":        rec.Status,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
		"updated_at":    rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.OriginURL != "" {
		body["origin"] = rec.OriginURL
	}
	if rec.Error != "" {
		body["error"] = rec.Error
	}
	if rec.BuildID != "" {
		body["build_handle"] = rec.BuildID
	}
	return body
}

// --- subdomains ---

func (h *Handler) checkSubdomain(c *gin.Context) {
	avail, err := h.subdomains.Check(c.Request.Context(), c.Param("label"))
	if errors.Is(err, subdomains.ErrInvalidLabel) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	message := fmt.Sprintf("%s.%s is available", avail.Label, h.cfg.ApexDomain)
	switch avail.Reason {
	case "reserved":
		message = fmt.Sprintf("%q is reserved by the platform", avail.Label)
	case "in_use":
		message = fmt.Sprintf("%s.%s is taken", avail.Label, h.cfg.ApexDomain)
	case "stale_failed":
		message = fmt.Sprintf("%s.%s is held by a stale deployment and can be released", avail.Label, h.cfg.ApexDomain)
	}

	c.JSON(200, gin.H{
		"label":       avail.Label,
		"available":   avail.Available,
		"reason":      avail.Reason,
		"can_release": avail.CanRelease,
		"message":     message,
	})
}

func (h *Handler) releaseSubdomain(c *gin.Context) {
	label := c.Param("label")
	user := middleware.CurrentUser(c)

	err := h.subdomains.Release(c.Request.Context(), label, user)
	switch {
	case errors.Is(err, subdomains.ErrInvalidLabel):
		badRequest(c, err.Error())
		return
	case errors.Is(err, routing.ErrNotFound):
		notFound(c)
		return
	case errors.Is(err, subdomains.ErrNotReleased):
		forbidden(c, err.Error())
		return
	case err != nil:
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"label":   strings.ToLower(label),
		"message": "subdomain released",
	})
}

// --- webhooks ---

func (h *Handler) buildWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		// Ack regardless; redelivery of an unreadable body helps nobody.
		c.JSON(200, gin.H{"received": false})
		return
	}

	ev, err := deployments.DecodeBuildEvent(body)
	if err != nil {
		logging.S().Warnw("undecodable build event acked", "error", err)
		c.JSON(200, gin.H{"received": false})
		return
	}

	metrics.ObserveBuildEvent(string(ev.Status))
	h.service.Reconcile(c.Request.Context(), ev)

	c.JSON(200, gin.H{
		"received": true,
		"build_id": ev.BuildID,
		"status":   ev.Status,
	})
}

func (h *Handler) billingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		badRequest(c, "unreadable payload")
		return
	}

	err = h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, billing.ErrBadSignature) {
		badRequest(c, "signature verification failed")
		return
	}
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, gin.H{"received": true})
}

// --- deployment management ---

func (h *Handler) listDeployments(c *gin.Context) {
	user := middleware.CurrentUser(c)
	deps, err := h.service.ListForUser(c.Request.Context(), user.ID)
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, gin.H{"deployments": deps})
}

func (h *Handler) deleteDeployment(c *gin.Context) {
	user := middleware.CurrentUser(c)
	dep, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, deployments.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	if dep.UserID == nil || *dep.UserID != user.ID {
		forbidden(c, "")
		return
	}

	if err := h.service.Delete(c.Request.Context(), dep, fmt.Sprintf("%d", user.ID), "owner_delete"); err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func (h *Handler) adminListDeployments(c *gin.Context) {
	deps, err := h.service.ListAll(c.Request.Context())
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	stats := gin.H{"total": len(deps)}
	byStatus := map[models.DeploymentStatus]int{}
	for i := range deps {
		byStatus[deps[i].Status]++
	}
	stats["by_status"] = byStatus

	c.JSON(200, gin.H{"deployments": deps, "stats": stats})
}

func (h *Handler) adminDeleteDeployment(c *gin.Context) {
	user := middleware.CurrentUser(c)
	dep, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, deployments.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), dep, fmt.Sprintf("%d", user.ID), "admin_delete"); err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

// --- health ---

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if err := h.ledger.Health(ctx); err != nil {
		checks["routing"] = "unavailable"
		healthy = false
	} else {
		checks["routing"] = "ok"
	}
	if err := h.archive.Health(ctx); err != nil {
		checks["archive"] = "unavailable"
		healthy = false
	} else {
		checks["archive"] = "ok"
	}
	if err := h.database.Health(); err != nil {
		checks["relational"] = "unavailable"
		healthy = false
	} else {
		checks["relational"] = "ok"
	}

	status := "ok"
	code := 200
	if !healthy {
		status = "degraded"
		code = 503
	}
	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- auth ---

func (h *Handler) login(c *gin.Context) {
	url, err := h.oauth.LoginURL()
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (h *Handler) callback(c *gin.Context) {
	if err := h.oauth.VerifyState(c.Query("state")); err != nil {
		badRequest(c, "login state invalid or expired; start over")
		return
	}
	code := c.Query("code")
	if code == "" {
		badRequest(c, "missing authorization code")
		return
	}

	identity, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		logging.S().Warnw("oauth exchange failed", "error", err)
		apiError(c, 401, "unauthenticated", "login failed")
		return
	}

	user, err := h.users.UpsertUser(c.Request.Context(), identity)
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), user.ID)
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}

	auth.SetSessionCookie(c, session.ID, h.cfg.IsProduction())
	c.Redirect(http.StatusFound, fmt.Sprintf("https://%s/dashboard", h.cfg.ApexDomain))
}

func (h *Handler) me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	used, max, err := h.quota.Usage(c.Request.Context(), user)
	if err != nil {
		internalError(c, h.cfg.IsProduction(), err)
		return
	}
	c.JSON(200, gin.H{
		"user": user,
		"quota": gin.H{
			"used": used,
			"max":  max,
			"tier": user.Tier,
		},
	})
}

func (h *Handler) logout(c *gin.Context) {
	if sessionID := c.GetString("session_id"); sessionID != "" {
		if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
			logging.S().Warnw("session delete on logout failed", "error", err)
		}
	}
	auth.ClearSessionCookie(c, h.cfg.IsProduction())
	c.JSON(200, gin.H{"success": true})
}

// --- billing ---

func (h *Handler) checkout(c *gin.Context) {
	var req struct {
		Pack bool `json:"pack"`
	}
	_ = c.ShouldBindJSON(&req)

	user := middleware.CurrentUser(c)
	url, err := h.billing.CreateCheckout(c.Request.Context(), user, req.Pack)
	if err != nil {
		apiError(c, 409, "conflict", err.Error())
		return
	}
	c.JSON(200, gin.H{"url": url})
}

func (h *Handler) portal(c *gin.Context) {
	user := middleware.CurrentUser(c)
	url, err := h.billing.CreatePortal(c.Request.Context(), user)
	if err != nil {
		apiError(c, 409, "conflict", err.Error())
		return
	}
	c.JSON(200, gin.H{"url": url})
}
