package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis       *redis.Client
	burstPerMin int
}

func NewRateLimiter(redisClient *redis.Client, burstPerMin int) *RateLimiter {
	return &RateLimiter{redis: redisClient, burstPerMin: burstPerMin}
}

// ScanBurstLimit caps scans per scanner per minute. A stuck or looping
// scanner gets throttled instead of hammering the validator.
func (r *RateLimiter) ScanBurstLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := scannerIdentity(c)
			key := fmt.Sprintf("scanburst:%s", identity)

			count, err := r.redis.Incr(context.Background(), key).Result()
			if err == nil {
				if count == 1 {
					r.redis.Expire(context.Background(), key, time.Minute)
				}
				if count > int64(r.burstPerMin) {
					return c.JSON(429, map[string]string{
						"error": "Too many scans. Please slow down.",
					})
				}
			}

			return next(c)
		}
	}
}

// scannerIdentity prefers the scanner id from the request body, falling back
// to the client IP. The body is re-wrapped so the handler can bind it again.
func scannerIdentity(c echo.Context) string {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.RealIP()
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		ScannerID string `json:"scanner_id"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.ScannerID != "" {
		return fmt.Sprintf("scanner:%s", probe.ScannerID)
	}
	return c.RealIP()
}
