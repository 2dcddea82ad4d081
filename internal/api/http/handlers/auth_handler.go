package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/api/dto"
	"github.com/spec-kit/sitework-service/internal/auth"
	"github.com/spec-kit/sitework-service/internal/domain"
	"github.com/spec-kit/sitework-service/internal/ratelimit"
	"github.com/spec-kit/sitework-service/internal/service"
)

// AuthHandler exposes login, refresh, and password reset endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(authService *service.AuthService, limiter *ratelimit.Limiter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, limiter: limiter, logger: logger}
}

// selfRegisterRoles are the only roles an anonymous caller may claim.
// Privileged roles are assigned by an administrator, never at signup.
var selfRegisterRoles = map[domain.Role]struct{}{
	domain.RoleViewer:     {},
	domain.RoleContractor: {},
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return fiber.NewError(http.StatusBadRequest, "name, email, password required")
	}
	role := domain.RoleViewer
	if req.Role != "" {
		role = domain.Role(req.Role)
		if _, ok := selfRegisterRoles[role]; !ok {
			return fiber.NewError(http.StatusBadRequest, "role not available at registration")
		}
	}

	result, err := h.auth.Register(c.Context(), req.Name, req.Email, req.Password, role, req.CompanyID, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(loginPayload(result))
}

// Login handles POST /auth/login. A successful login clears the
// caller's login-attempt entry so earlier failures stop counting.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	result, err := h.auth.Login(c.Context(), req.Email, req.Password, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return err
	}

	if err := h.limiter.Reset(c.Context(), ratelimit.Key("login", c.IP())); err != nil {
		h.logger.Warn("clearing login rate limit entry failed", zap.Error(err))
	}

	return c.JSON(loginPayload(result))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.RefreshToken == "" {
		return fiber.NewError(http.StatusBadRequest, "refresh_token required")
	}

	accessToken, exp, err := h.auth.Refresh(c.Context(), req.RefreshToken)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": dto.AuthResponse{AccessToken: accessToken, ExpiresAt: exp},
	})
}

// Logout handles POST /auth/logout for the authenticated session.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}
	if err := h.auth.Logout(c.Context(), principal.SessionID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

// RequestPasswordReset handles POST /auth/password/reset/request. The
// response never reveals whether the email exists.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" {
		return fiber.NewError(http.StatusBadRequest, "email required")
	}

	token, plaintext, err := h.auth.RequestPasswordReset(c.Context(), req.Email)
	if err != nil {
		return err
	}
	if token != nil {
		// Delivery is out of band; the token never appears in the response.
		h.logger.Info("password reset issued",
			zap.String("token_id", token.ID),
			zap.Int("token_len", len(plaintext)),
		)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"requested": true}})
}

// ConfirmPasswordReset handles POST /auth/password/reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.TokenID == "" || req.Token == "" || req.NewPassword == "" {
		return fiber.NewError(http.StatusBadRequest, "token_id, token, new_password required")
	}

	if err := h.auth.ConfirmPasswordReset(c.Context(), req.TokenID, req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"reset": true}})
}

func loginPayload(result *service.LoginResult) fiber.Map {
	return fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    result.User.ID,
				"name":  result.User.Name,
				"email": result.User.Email,
				"role":  result.User.Role,
			},
			"auth": dto.AuthResponse{
				AccessToken:  result.AccessToken,
				ExpiresAt:    result.AccessExpiresAt,
				RefreshToken: result.RefreshToken,
			},
		},
	}
}
