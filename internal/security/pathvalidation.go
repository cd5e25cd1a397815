package security

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

var suspiciousPrefixes = []string{"/etc/", "/proc/", "/sys/", "/dev/", "/root/"}

// PathValidationMiddleware rejects guest filesystem requests whose
// "path" query or form parameter escapes the allowed prefixes, mirroring
// validate_path's traversal and prefix checks.
func PathValidationMiddleware(allowedPrefixes []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.QueryParam("path")
			if path == "" {
				var body struct {
					Path string `json:"path"`
				}
				if err := c.Bind(&body); err == nil {
					path = body.Path
				}
			}
			if path == "" {
				return next(c)
			}
			if err := ValidatePath(path, allowedPrefixes); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return next(c)
		}
	}
}

// ValidatePath rejects null bytes, ".." traversal, and absolute paths
// outside allowedPrefixes.
func ValidatePath(path string, allowedPrefixes []string) error {
	if strings.ContainsRune(path, 0) {
		return errPath("path contains null bytes")
	}
	if strings.Contains(path, "..") {
		return errPath("path traversal attempt detected")
	}

	normalized := filepath.Clean(path)
	if filepath.IsAbs(normalized) {
		allowed := false
		for _, prefix := range allowedPrefixes {
			if strings.HasPrefix(normalized, strings.TrimSpace(prefix)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errPath("path outside allowed directories: " + normalized)
		}
	}

	for _, prefix := range suspiciousPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return errPath("suspicious path pattern detected: " + normalized)
		}
	}
	return nil
}

type pathError string

func (e pathError) Error() string { return string(e) }

func errPath(msg string) error { return pathError(msg) }
