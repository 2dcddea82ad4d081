package http

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/auth"
	"github.com/spec-kit/sitework-service/internal/observability"
	"github.com/spec-kit/sitework-service/internal/security"
	apperrors "github.com/spec-kit/sitework-service/pkg/util"
)

// csrfCookieMaxAge matches the session max lifetime.
const csrfCookieMaxAge = 24 * 60 * 60

// CSRF applies the double-submit check to state-changing requests.
// Requests authenticated with an explicit bearer credential are exempt:
// the pattern defends against cookie-riding, which does not apply there.
// Safe methods receive a fresh token cookie when they have none.
func CSRF(guard *security.CSRFGuard, secureCookie bool, logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			if c.Cookies(security.CSRFCookieName) == "" {
				issueCSRFCookie(c, guard, secureCookie, logger)
			}
			return c.Next()
		}

		if _, ok := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization)); ok {
			return c.Next()
		}

		headerToken := c.Get(security.CSRFHeaderName)
		cookieToken := c.Cookies(security.CSRFCookieName)
		valid, reason := guard.Validate(headerToken, cookieToken)
		if !valid {
			metrics.RecordAuthFailure("csrf_" + reason)
			logger.Info("csrf validation failed",
				zap.String("reason", reason),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return apperrors.NewCSRFMismatch()
		}
		return c.Next()
	}
}

func issueCSRFCookie(c *fiber.Ctx, guard *security.CSRFGuard, secureCookie bool, logger *zap.Logger) {
	token, err := guard.Generate()
	if err != nil {
		logger.Warn("csrf token generation failed", zap.Error(err))
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     security.CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   csrfCookieMaxAge,
		HTTPOnly: false,
		Secure:   secureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}
