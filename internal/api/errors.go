package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/sandboxd/internal/apierrors"
)

// respondError maps a core apierrors.Kind to the HTTP status SPEC_FULL.md
// §7 assigns it. Non-core errors fall back to 500.
func respondError(c echo.Context, err error) error {
	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case apierrors.ValidationError:
		status = http.StatusBadRequest
	case apierrors.CapacityExceeded:
		status = http.StatusServiceUnavailable
	case apierrors.NotFound:
		status = http.StatusNotFound
	case apierrors.MissingArtifact, apierrors.HypervisorError, apierrors.GuestUnreachable, apierrors.InvalidState:
		status = http.StatusInternalServerError
	}
	return c.JSON(status, map[string]string{"error": apiErr.Error()})
}
