package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sitework-service/internal/observability"
	"github.com/spec-kit/sitework-service/internal/ratelimit"
	apperrors "github.com/spec-kit/sitework-service/pkg/util"
)

// RateLimit gates an endpoint class with the given policy, keyed by
// client IP. Quota headers go out on allowed and denied responses alike.
func RateLimit(limiter *ratelimit.Limiter, metrics *observability.Metrics, class string, policy ratelimit.Policy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := ratelimit.Key(class, c.IP())
		res, err := limiter.Check(c.UserContext(), key, policy)
		if err != nil {
			return apperrors.NewStoreUnavailable(err)
		}

		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			retryAfter := int64((res.RetryAfter + time.Second - 1) / time.Second)
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			metrics.RecordRateLimited(class)
			return apperrors.NewRateLimited(retryAfter)
		}
		return c.Next()
	}
}
