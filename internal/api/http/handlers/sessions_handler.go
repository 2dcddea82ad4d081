package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sitework-service/internal/api/dto"
	"github.com/spec-kit/sitework-service/internal/auth"
	"github.com/spec-kit/sitework-service/internal/service"
)

// SessionsHandler exposes session self-management endpoints.
type SessionsHandler struct {
	auth *service.AuthService
}

// NewSessionsHandler constructs the handler.
func NewSessionsHandler(authService *service.AuthService) *SessionsHandler {
	return &SessionsHandler{auth: authService}
}

// List handles GET /auth/sessions: the caller's live sessions, newest first.
func (h *SessionsHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	sessions, err := h.auth.ListSessions(c.Context(), principal.UserID)
	if err != nil {
		return err
	}

	out := make([]dto.SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, dto.SessionResponse{
			ID:           sess.ID,
			IPAddress:    sess.IPAddress,
			UserAgent:    sess.UserAgent,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			ExpiresAt:    sess.ExpiresAt,
			Current:      sess.ID == principal.SessionID,
		})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"sessions": out}})
}

// Revoke handles DELETE /auth/sessions/:id for one of the caller's sessions.
func (h *SessionsHandler) Revoke(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	sessionID := c.Params("id")
	if sessionID == "" {
		return fiber.NewError(http.StatusBadRequest, "session id required")
	}

	if err := h.auth.RevokeSession(c.Context(), principal.UserID, sessionID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"revoked": true}})
}

// AdminRevokeUserSessions handles POST /auth/admin/users/:id/sessions/revoke-all.
// Reached only through the ADMIN role gate.
func (h *SessionsHandler) AdminRevokeUserSessions(c *fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user id required")
	}

	count, err := h.auth.AdminRevokeSessions(c.Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"revoked_count": count}})
}

// RevokeAll handles POST /auth/sessions/revoke-all (logout everywhere).
func (h *SessionsHandler) RevokeAll(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	count, err := h.auth.LogoutAll(c.Context(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"revoked_count": count}})
}
