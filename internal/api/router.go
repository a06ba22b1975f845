package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/app"
	iauth "github.com/finbase/revrec/internal/auth"
	"github.com/finbase/revrec/internal/auth/mfa"
	"github.com/finbase/revrec/internal/handlers"
	"github.com/finbase/revrec/internal/middleware"
	"github.com/finbase/revrec/internal/services"
)

// Deps bundles the constructed services the router wires into handlers.
type Deps struct {
	DB        *gorm.DB
	JWT       *iauth.JWTService
	Sessions  *iauth.SessionService
	TOTP      *mfa.TOTPService
	RateStore middleware.RateStore

	Licenses  *services.LicenseService
	Contracts *services.ContractService
	Schedules *services.ScheduleService
	Journal   *services.JournalService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps, cfg *app.Config) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.Licenses == nil {
		return nil, fmt.Errorf("license service must be provided")
	}
	if deps.Contracts == nil || deps.Schedules == nil || deps.Journal == nil {
		return nil, fmt.Errorf("contract, schedule, and journal services must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	r.NoRoute(middleware.NotFoundHandler)

	// Health endpoint (public)
	r.GET("/health", handlers.Health(deps.DB))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Sessions, deps.TOTP)
	licenseHandler := handlers.NewLicenseHandler(deps.Licenses)
	contractHandler := handlers.NewContractHandler(deps.Contracts, deps.Schedules)
	journalHandler := handlers.NewJournalHandler(deps.Journal)
	auditHandler, err := handlers.NewAuditHandler(deps.DB)
	if err != nil {
		return nil, err
	}

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	// License check-in protocol. Unauthenticated: the key is the credential.
	protocol := r.Group("/api/license")
	{
		protocol.POST("/validate", licenseHandler.Validate)
		protocol.POST("/heartbeat", licenseHandler.Heartbeat)
	}

	requireAuth := middleware.Auth(deps.JWT)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Authenticated auth routes
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	// Licenses (self-service)
	licenses := api.Group("/licenses")
	{
		licenses.POST("/activate", licenseHandler.Activate)
		licenses.GET("", licenseHandler.List)
		licenses.GET("/active", licenseHandler.ListActive)
		licenses.GET("/:id", licenseHandler.Get)
		licenses.GET("/:id/sessions", licenseHandler.Sessions)
		licenses.POST("/:id/release", licenseHandler.Release)
		licenses.POST("/:id/suspend", licenseHandler.Suspend)
		licenses.POST("/:id/revoke", licenseHandler.Revoke)
	}

	// Contracts and revenue schedules
	contracts := api.Group("/contracts")
	{
		contracts.POST("", contractHandler.Create)
		contracts.GET("", contractHandler.List)
		contracts.GET("/:id", contractHandler.Get)
		contracts.POST("/:id/status", contractHandler.SetStatus)
		contracts.POST("/:id/obligations/:obligationId/satisfy", contractHandler.SatisfyObligation)
		contracts.POST("/:id/schedule", contractHandler.GenerateSchedule)
		contracts.GET("/:id/outlook", contractHandler.Outlook)
	}
	api.POST("/revenue/recognize", contractHandler.RecognizeDue)

	// Journal
	journal := api.Group("/journal")
	{
		journal.POST("/entries", journalHandler.Post)
		journal.GET("/entries", journalHandler.List)
		journal.GET("/trial-balance", journalHandler.TrialBalance)
	}

	// Admin surface: fresh DB check on every request
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin(deps.DB))
	{
		admin.POST("/licenses", licenseHandler.AdminCreate)
		admin.POST("/licenses/:id/release", licenseHandler.AdminRelease)
		admin.POST("/licenses/:id/suspend", licenseHandler.AdminSuspend)
		admin.POST("/licenses/:id/activate", licenseHandler.AdminActivate)
		admin.POST("/licenses/:id/revoke", licenseHandler.AdminRevoke)
		admin.POST("/licenses/:id/grace", licenseHandler.AdminGrantGrace)

		admin.GET("/audit", auditHandler.List)
		admin.GET("/audit/export", auditHandler.Export)
	}

	return r, nil
}
