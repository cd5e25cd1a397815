// Package security is the thin ambient guard layer in front of the
// sandbox API: API-key auth, a sliding-window rate limiter, a body
// size cap, and guest path validation. Grounded on the Python
// SecurityMiddleware this daemon's surface is modeled after, expressed
// as echo middleware instead of a single dispatch() method.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIKeyMiddleware rejects requests whose header value does not hash
// to one of the configured keys. Keys are compared as SHA-256 digests
// in constant time, never as raw strings.
func APIKeyMiddleware(keys []string, header string) echo.MiddlewareFunc {
	hashes := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		hashes[hashKey(k)] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			provided := c.Request().Header.Get(header)
			if provided == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
			}
			digest := hashKey(provided)
			for h := range hashes {
				if subtle.ConstantTimeCompare([]byte(h), []byte(digest)) == 1 {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
		}
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// BodyLimitString renders a byte count into the string form expected
// by echo's middleware.BodyLimit (which parses "10M", "512K", etc).
// Arbitrary byte counts that don't land on a clean unit are passed
// through with a "B" suffix.
func BodyLimitString(maxBytes int64) string {
	switch {
	case maxBytes%(1024*1024) == 0:
		return itoa(maxBytes/(1024*1024)) + "M"
	case maxBytes%1024 == 0:
		return itoa(maxBytes/1024) + "K"
	default:
		return itoa(maxBytes) + "B"
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
