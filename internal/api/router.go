// Package api exposes the SandboxManager over HTTP using echo, the
// same framework the teacher repo's collaborator surface is built on.
// Handlers translate apierrors.Kind into HTTP status codes; the core
// packages never know about HTTP.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/sandboxd/internal/capacity"
	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/internal/metrics"
	"github.com/opensandbox/sandboxd/internal/sandbox"
	"github.com/opensandbox/sandboxd/internal/security"
)

// Server is the HTTP collaborator around a SandboxManager.
type Server struct {
	echo       *echo.Echo
	manager    *sandbox.Manager
	accountant *capacity.Accountant
	cfg        *config.Config
}

// NewServer builds the echo instance and registers every route from
// SPEC_FULL.md §6.
func NewServer(mgr *sandbox.Manager, acct *capacity.Accountant, cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, manager: mgr, accountant: acct, cfg: cfg}

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.CORSOrigins}))
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(security.BodyLimitString(cfg.MaxRequestSizeBytes)))

	if cfg.RateLimitEnabled {
		e.Use(security.RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindowSeconds))
	}

	e.GET("/health", s.health)
	e.GET("/capacity", s.capacityReport)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	grp := e.Group("")
	if cfg.APIKeyEnabled {
		grp.Use(security.APIKeyMiddleware(cfg.APIKeys, cfg.APIKeyHeader))
	}

	grp.POST("/sandboxes", s.createSandbox)
	grp.GET("/sandboxes", s.listSandboxes)
	grp.GET("/sandboxes/:id", s.getSandbox)
	grp.DELETE("/sandboxes/:id", s.destroySandbox)
	grp.POST("/sandboxes/:id/pause", s.pauseSandbox)
	grp.POST("/sandboxes/:id/resume", s.resumeSandbox)
	grp.POST("/sandboxes/:id/exec", s.execSandbox)

	fsGroup := grp.Group("/sandboxes/:id/files")
	if cfg.AllowedPathPrefixes != nil {
		fsGroup.Use(security.PathValidationMiddleware(cfg.AllowedPathPrefixes))
	}
	fsGroup.POST("/write", s.writeFile)
	fsGroup.GET("/read", s.readFile)
	fsGroup.GET("/list", s.listFiles)
	fsGroup.POST("/upload", s.uploadFile)

	return s
}

func (s *Server) Start(addr string) error { return s.echo.Start(addr) }
func (s *Server) Close() error            { return s.echo.Close() }
func (s *Server) Echo() *echo.Echo        { return s.echo }

func (s *Server) health(c echo.Context) error {
	r := s.accountant.Report()
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            version,
		"active_sandboxes":   r.ActiveSandboxes,
		"max_sandboxes":      r.MaxSandboxes,
		"memory_used_mb":     r.MemoryUsedMB,
		"memory_available_mb": r.MemoryAvailableMB,
		"memory_budget_mb":   r.MemoryBudgetMB,
	})
}

func (s *Server) capacityReport(c echo.Context) error {
	r := s.accountant.Report()
	canCreate, _ := s.accountant.CanAdmit(s.cfg.DefaultMemoryMB)
	return c.JSON(http.StatusOK, map[string]any{
		"active_sandboxes":     r.ActiveSandboxes,
		"max_sandboxes":        r.MaxSandboxes,
		"memory_used_mb":       r.MemoryUsedMB,
		"memory_available_mb":  r.MemoryAvailableMB,
		"memory_budget_mb":     r.MemoryBudgetMB,
		"can_create_default":   canCreate,
		"default_memory_mb":    s.cfg.DefaultMemoryMB,
		"default_vcpu_count":   s.cfg.DefaultVCPUCount,
	})
}

// version is stamped at build time in a real release pipeline; the
// daemon has no version-injection flow of its own, so this is a
// constant placeholder consistent with SPEC_FULL.md's health contract.
const version = "dev"
