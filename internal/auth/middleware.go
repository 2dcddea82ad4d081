package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/domain"
	"github.com/spec-kit/sitework-service/internal/observability"
	"github.com/spec-kit/sitework-service/internal/session"
	apperrors "github.com/spec-kit/sitework-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	UserID    string
	Email     string
	Role      domain.Role
	CompanyID *string
	SessionID string
}

// Middleware validates bearer tokens and confirms the backing session
// is still live before loading the principal.
type Middleware struct {
	tokens   *TokenManager
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewMiddleware constructs the middleware.
func NewMiddleware(tokens *TokenManager, sessions *session.Manager, metrics *observability.Metrics, logger *zap.Logger) *Middleware {
	return &Middleware{tokens: tokens, sessions: sessions, metrics: metrics, logger: logger}
}

// Handle enforces authentication for protected routes. Token and
// session failures all surface as the same generic rejection; only the
// internal log and metrics keep the distinct failure kind. A durable
// store outage surfaces as 503, never as "not authenticated".
func (m *Middleware) Handle(c *fiber.Ctx) error {
	token, ok := ExtractBearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		m.reject("missing_bearer", c)
		return apperrors.NewUnauthorized(nil)
	}

	claims, err := m.tokens.Verify(token, TokenKindAccess)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			m.reject("token_expired", c)
		case errors.Is(err, ErrWrongTokenType):
			m.reject("wrong_token_type", c)
		default:
			m.reject("token_invalid", c)
		}
		return apperrors.NewUnauthorized(err)
	}

	sess, err := m.sessions.Get(c.UserContext(), claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return apperrors.NewStoreUnavailable(err)
		}
		if errors.Is(err, session.ErrExpired) {
			m.reject("session_expired", c)
		} else {
			m.reject("session_not_found", c)
		}
		return apperrors.NewUnauthorized(err)
	}

	if _, err := m.sessions.Touch(c.UserContext(), sess.ID); err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return apperrors.NewStoreUnavailable(err)
		}
		m.logger.Warn("session activity extension failed", zap.String("session_id", sess.ID), zap.Error(err))
	}

	c.Locals(principalKey, &Principal{
		UserID:    sess.UserID,
		Email:     sess.Email,
		Role:      sess.Role,
		CompanyID: sess.CompanyID,
		SessionID: sess.ID,
	})
	return c.Next()
}

func (m *Middleware) reject(kind string, c *fiber.Ctx) {
	m.metrics.RecordAuthFailure(kind)
	m.logger.Info("authentication rejected",
		zap.String("kind", kind),
		zap.String("path", c.Path()),
		zap.String("ip", c.IP()),
	)
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// RequireRole ensures the principal holds one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized(nil)
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
