package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/api/handler"
	"github.com/tiersync/tiersync/internal/api/middleware"
	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
)

// RoleAdmin is the JWT role allowed to use the admin API.
const RoleAdmin = "admin"

// Deps is everything the ops server needs. Audit may be nil and JWTSecret
// empty; the routes depending on them are then left out. A nil Registry
// means the default Prometheus registry.
type Deps struct {
	Log       zerolog.Logger
	Registry  *prometheus.Registry
	JWTSecret string
	Ready     map[string]handler.Pinger
	Sweeps    handler.SweepTrigger
	Directory ports.Directory
	Reconcile ports.ReconcileService
	Audit     ports.AuditRepository
	Roles     domain.PolicyRoles
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if d.Registry != nil {
		registerer, gatherer = d.Registry, d.Registry
	}

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "tiersync",
		Subsystem:  "http",
		Registerer: registerer,
	}))

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(d.Ready)

	e.GET("/health", healthHandler.Liveness)           // liveness: is the process alive?
	e.GET("/health/ready", readinessHandler.Readiness) // readiness: are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))

	if d.JWTSecret == "" {
		d.Log.Info().Msg("ADMIN_JWT_SECRET not set; admin API disabled")
		return e
	}

	// --- Admin routes ---
	admin := e.Group("/v1", middleware.Auth(d.JWTSecret), middleware.RBAC(RoleAdmin))

	sweepHandler := handler.NewSweepHandler(d.Sweeps)
	admin.POST("/sweeps/:kind", sweepHandler.Trigger)

	memberHandler := handler.NewMemberHandler(d.Directory, d.Reconcile, d.Audit, d.Roles)
	admin.POST("/members/:id/reconcile", memberHandler.Reconcile)
	if d.Audit != nil {
		admin.GET("/members/:id/outcomes", memberHandler.Outcomes)
	}

	return e
}
