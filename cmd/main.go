// LAUNCHPAD control plane.
//
// A single listener serves two personalities split by host: the apex and
// its reserved hosts get the API, every other subdomain gets the
// wildcard proxy.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"launchpad/internal/api"
	"launchpad/internal/archive"
	"launchpad/internal/auth"
	"launchpad/internal/billing"
	"launchpad/internal/builder"
	"launchpad/internal/config"
	"launchpad/internal/db"
	"launchpad/internal/deployments"
	"launchpad/internal/logging"
	"launchpad/internal/metrics"
	"launchpad/internal/middleware"
	"launchpad/internal/proxy"
	"launchpad/internal/quota"
	"launchpad/internal/routing"
	"launchpad/internal/runtime"
	"launchpad/internal/sessions"
	"launchpad/internal/subdomains"
	"launchpad/internal/vault"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()
	log := logging.S()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalw("configuration invalid", "error", err)
	}

	database, err := db.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatalw("relational store unavailable", "error", err)
	}
	defer database.Close()

	redisClient, err := db.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalw("routing store unavailable", "error", err)
	}
	defer redisClient.Close()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	archiveStore, err := archive.NewStore(startCtx, cfg.AWSRegion, cfg.ArchiveBucket, cfg.BuildSourceBucket)
	startCancel()
	if err != nil {
		log.Fatalw("archive store unavailable", "error", err)
	}

	ledger := routing.NewLedger(redisClient)
	subdomainMgr := subdomains.NewManager(ledger, database.GetDB())
	quotaMgr := quota.NewManager(database.GetDB(), cfg)
	vaultClient := vault.NewClient(cfg.VaultURL, cfg.VaultToken)
	buildClient := builder.NewClient(cfg.BuildExecutorURL, cfg.BuildExecutorToken)
	runtimeClient := runtime.NewClient(cfg.RuntimeAPIURL, cfg.RuntimeAPIToken)

	deployService := deployments.NewService(database.GetDB(), ledger, subdomainMgr,
		archiveStore, vaultClient, buildClient, runtimeClient, quotaMgr, cfg)

	sessionMgr := sessions.NewManager(database.GetDB())
	oauthProvider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret,
		cfg.OAuthRedirectURL, cfg.UploadTokenSecret)
	userService := auth.NewService(database.GetDB(), cfg.SuperAdminEmail)

	frontendURL := "https://" + cfg.ApexDomain
	billingService := billing.NewService(database.GetDB(), quotaMgr,
		cfg.StripeSecretKey, cfg.StripeWebhookSecret,
		cfg.StripePriceProID, cfg.StripePricePackID, frontendURL)

	limiter := middleware.NewRateLimiter(redisClient)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(middleware.Recovery())
	engine.Use(metrics.HTTPMiddleware())
	engine.GET("/metrics", metrics.Handler())

	apiHandler := api.NewHandler(cfg, database, ledger, subdomainMgr, deployService,
		sessionMgr, oauthProvider, userService, billingService, archiveStore, quotaMgr, limiter)
	apiHandler.RegisterRoutes(engine)

	proxyHandler := proxy.NewHandler(ledger, cfg.ApexDomain, 30*time.Second)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	reaper := deployments.NewReaper(deployService, cfg.ReapInterval)
	go reaper.Run(rootCtx)

	collector := metrics.NewCollector(database.GetDB(), time.Minute)
	go collector.Run(rootCtx.Done())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           hostDispatch(cfg.ApexDomain, engine, proxyHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("control plane listening",
			"port", cfg.Port, "apex", cfg.ApexDomain, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listener failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown incomplete", "error", err)
	}
}

// hostDispatch routes by host: the apex, its www/api aliases, and
// loopback go to the API; every other subdomain goes to the proxy.
func hostDispatch(apexDomain string, apiHandler http.Handler, proxyHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		host = strings.ToLower(host)

		switch host {
		case apexDomain, "www." + apexDomain, "api." + apexDomain,
			"localhost", "127.0.0.1", "::1":
			apiHandler.ServeHTTP(w, r)
		default:
			proxyHandler.ServeHTTP(w, r)
		}
	})
}
