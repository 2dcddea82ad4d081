package http

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/api/http/handlers"
	"github.com/spec-kit/sitework-service/internal/auth"
	"github.com/spec-kit/sitework-service/internal/domain"
	"github.com/spec-kit/sitework-service/internal/observability"
	"github.com/spec-kit/sitework-service/internal/ratelimit"
	"github.com/spec-kit/sitework-service/internal/security"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Sessions       *handlers.SessionsHandler
	AuthMiddleware *auth.Middleware
	Limiter        *ratelimit.Limiter
	CSRFGuard      *security.CSRFGuard
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	SecureCookies  bool
}

// RegisterRoutes wires HTTP routes. The global limiter runs before CSRF
// and authentication so abusive traffic never reaches them; health
// probes bypass both.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Use(RateLimit(cfg.Limiter, cfg.Metrics, "api", ratelimit.PolicyAPI))
	app.Use(CSRF(cfg.CSRFGuard, cfg.SecureCookies, cfg.Logger, cfg.Metrics))

	authGroup := app.Group("/auth")
	authGroup.Post("/register",
		RateLimit(cfg.Limiter, cfg.Metrics, "register", ratelimit.PolicyRegistration),
		cfg.Auth.Register)
	authGroup.Post("/login",
		RateLimit(cfg.Limiter, cfg.Metrics, "login", ratelimit.PolicyLogin),
		cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/password/reset/request",
		RateLimit(cfg.Limiter, cfg.Metrics, "password_reset", ratelimit.PolicyPasswordReset),
		cfg.Auth.RequestPasswordReset)
	authGroup.Post("/password/reset/confirm",
		RateLimit(cfg.Limiter, cfg.Metrics, "password_reset", ratelimit.PolicyPasswordReset),
		cfg.Auth.ConfirmPasswordReset)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/logout", cfg.Auth.Logout)
	protected.Get("/sessions", cfg.Sessions.List)
	protected.Delete("/sessions/:id", cfg.Sessions.Revoke)
	protected.Post("/sessions/revoke-all", cfg.Sessions.RevokeAll)

	admin := protected.Group("/admin", auth.RequireRole(domain.RoleAdmin))
	admin.Post("/users/:id/sessions/revoke-all", cfg.Sessions.AdminRevokeUserSessions)
}
