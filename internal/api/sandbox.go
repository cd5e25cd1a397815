package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/sandboxd/internal/apierrors"
	"github.com/opensandbox/sandboxd/internal/capacity"
	"github.com/opensandbox/sandboxd/pkg/types"
)

func (s *Server) createSandbox(c echo.Context) error {
	var cfg types.SandboxConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}

	mem := cfg.MemoryMB
	if mem == 0 {
		mem = s.cfg.DefaultMemoryMB
	}
	if ok, reason := s.accountant.CanAdmit(mem); !ok {
		kind := apierrors.CapacityExceeded
		if reason == capacity.ReasonMemoryTooLow || reason == capacity.ReasonMemoryTooHigh {
			kind = apierrors.ValidationError
		}
		return respondError(c, apierrors.New(kind, reason))
	}

	sb, err := s.manager.Create(c.Request().Context(), cfg)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sb)
}

func (s *Server) listSandboxes(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Snapshot())
}

func (s *Server) getSandbox(c echo.Context) error {
	sb, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sb)
}

func (s *Server) destroySandbox(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.Destroy(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "destroyed", "sandbox_id": id})
}

func (s *Server) pauseSandbox(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.Pause(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused", "sandbox_id": id})
}

func (s *Server) resumeSandbox(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.Resume(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	sb, err := s.manager.Get(id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sb)
}

func (s *Server) execSandbox(c echo.Context) error {
	id := c.Param("id")
	var req types.ProcessConfig
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}

	result, err := s.manager.Exec(c.Request().Context(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
