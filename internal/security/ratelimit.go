package security

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// slidingWindow is an in-memory per-client request log, mirroring the
// sliding-window counter the Python RateLimiter keeps per client_id.
type slidingWindow struct {
	mu        sync.Mutex
	requests  map[string][]time.Time
	maxReq    int
	window    time.Duration
}

// RateLimitMiddleware enforces maxRequests per windowSeconds per
// client, where the client key is the X-Forwarded-For header when
// present and the caller's remote IP otherwise.
func RateLimitMiddleware(maxRequests, windowSeconds int) echo.MiddlewareFunc {
	limiter := &slidingWindow{
		requests: make(map[string][]time.Time),
		maxReq:   maxRequests,
		window:   time.Duration(windowSeconds) * time.Second,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client := clientID(c)
			allowed, remaining, retryAfter := limiter.allow(client)

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func clientID(c echo.Context) string {
	if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + fwd
	}
	return "ip:" + c.RealIP()
}

func (s *slidingWindow) allow(client string) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-s.window)

	kept := s.requests[client][:0]
	for _, ts := range s.requests[client] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.requests[client] = kept

	if len(kept) >= s.maxReq {
		retryAfter := int(kept[0].Add(s.window).Sub(now).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, 0, retryAfter
	}

	s.requests[client] = append(s.requests[client], now)
	return true, s.maxReq - len(s.requests[client]), 0
}
