package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/auth"
	"github.com/spec-kit/sitework-service/internal/domain"
	"github.com/spec-kit/sitework-service/internal/repository"
	"github.com/spec-kit/sitework-service/internal/security"
	"github.com/spec-kit/sitework-service/internal/session"
	apperrors "github.com/spec-kit/sitework-service/pkg/util"
)

// LoginResult bundles everything issued at a successful authentication.
type LoginResult struct {
	User            *domain.User
	Session         *domain.Session
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// AuthService coordinates registration, login, refresh, and session
// management flows.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	sessions   *session.Manager
	tokens     *auth.TokenManager
	cipher     *security.TokenCipher
	logger     *zap.Logger
	bcryptCost int
	resetTTL   time.Duration
}

// AuthDependencies encapsulates collaborator requirements.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Sessions          *session.Manager
	Tokens            *auth.TokenManager
	Cipher            *security.TokenCipher
	Logger            *zap.Logger
	BcryptCost        int
	ResetTokenTTL     time.Duration
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		cipher:     deps.Cipher,
		logger:     deps.Logger,
		bcryptCost: deps.BcryptCost,
		resetTTL:   deps.ResetTokenTTL,
	}
}

// Register creates an account and opens its first session.
func (s *AuthService) Register(ctx context.Context, name, email, password string, role domain.Role, companyID *string, ip, userAgent string) (*LoginResult, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewStoreUnavailable(err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CompanyID:    companyID,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}

	return s.openSession(ctx, user, ip, userAgent)
}

// Login authenticates credentials and opens a session. Every credential
// failure maps to the same generic rejection; the cause is logged only.
func (s *AuthService) Login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("login rejected", zap.String("reason", "unknown_email"), zap.String("ip", ip))
			return nil, apperrors.NewUnauthorized(err)
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if user.Status != domain.UserStatusActive {
		s.logger.Info("login rejected", zap.String("reason", "account_suspended"), zap.String("user_id", user.ID))
		return nil, apperrors.NewUnauthorized(nil)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login rejected", zap.String("reason", "bad_password"), zap.String("user_id", user.ID))
		return nil, apperrors.NewUnauthorized(err)
	}

	return s.openSession(ctx, user, ip, userAgent)
}

// openSession mints the session id up front so both tokens are bound to
// it, encrypts the refresh token at rest, and writes the session row.
func (s *AuthService) openSession(ctx context.Context, user *domain.User, ip, userAgent string) (*LoginResult, error) {
	sid, err := session.NewID()
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	refreshToken, _, err := s.tokens.Issue(auth.TokenKindRefresh, sid, user.ID, user.Email, user.Role, user.CompanyID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	storedRefresh, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	sess, err := s.sessions.Create(ctx, session.CreateParams{
		ID:           sid,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		CompanyID:    user.CompanyID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		RefreshToken: storedRefresh,
	})
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}

	accessToken, accessExp, err := s.tokens.Issue(auth.TokenKindAccess, sid, user.ID, user.Email, user.Role, user.CompanyID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	return &LoginResult{
		User:            user,
		Session:         sess,
		AccessToken:     accessToken,
		AccessExpiresAt: accessExp,
		RefreshToken:    refreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new access token, confirming
// the backing session is live and holds the presented token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	claims, err := s.tokens.Verify(refreshToken, auth.TokenKindRefresh)
	if err != nil {
		s.logger.Info("refresh rejected", zap.NamedError("kind", err))
		return "", time.Time{}, apperrors.NewUnauthorized(err)
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return "", time.Time{}, apperrors.NewStoreUnavailable(err)
		}
		s.logger.Info("refresh rejected", zap.NamedError("kind", err))
		return "", time.Time{}, apperrors.NewUnauthorized(err)
	}

	stored, err := s.cipher.Decrypt(sess.RefreshToken)
	if err != nil {
		s.logger.Warn("stored refresh token unreadable", zap.String("session_id", sess.ID), zap.Error(err))
		return "", time.Time{}, apperrors.NewUnauthorized(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		s.logger.Warn("refresh token mismatch", zap.String("session_id", sess.ID))
		return "", time.Time{}, apperrors.NewUnauthorized(nil)
	}

	if _, err := s.sessions.Touch(ctx, sess.ID); err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return "", time.Time{}, apperrors.NewStoreUnavailable(err)
		}
	}

	accessToken, accessExp, err := s.tokens.Issue(auth.TokenKindAccess, sess.ID, sess.UserID, sess.Email, sess.Role, sess.CompanyID)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}
	return accessToken, accessExp, nil
}

// Logout revokes the caller's session.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.Revoke(ctx, sessionID, domain.RevokeReasonLogout); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

// LogoutAll revokes every session belonging to the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.RevokeAll(ctx, userID, domain.RevokeReasonLogoutAll)
	if err != nil {
		return 0, apperrors.NewStoreUnavailable(err)
	}
	return count, nil
}

// AdminRevokeSessions revokes every session of the target user on
// behalf of an administrator.
func (s *AuthService) AdminRevokeSessions(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.RevokeAll(ctx, userID, domain.RevokeReasonAdminRevoked)
	if err != nil {
		return 0, apperrors.NewStoreUnavailable(err)
	}
	s.logger.Info("sessions revoked by administrator",
		zap.String("user_id", userID), zap.Int("count", count))
	return count, nil
}

// ListSessions returns the user's live sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return sessions, nil
}

// RevokeSession revokes one of the user's own sessions.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return apperrors.NewStoreUnavailable(err)
		}
		return apperrors.NewNotFound("session", nil)
	}
	if sess.UserID != userID {
		return apperrors.NewForbidden("session belongs to another user")
	}
	if _, err := s.sessions.Revoke(ctx, sessionID, domain.RevokeReasonAdminRevoked); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

// RequestPasswordReset persists an encrypted reset token and returns the
// id/plaintext pair for out-of-band delivery.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (*repository.PasswordResetToken, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Indistinguishable from success to the caller.
			return nil, "", nil
		}
		return nil, "", apperrors.NewStoreUnavailable(err)
	}

	plaintext := uuid.NewString()
	stored, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, "", apperrors.NewInternalError(err)
	}

	token := &repository.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     stored,
		ExpiresAt: time.Now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return nil, "", apperrors.NewStoreUnavailable(err)
	}
	return token, plaintext, nil
}

// ConfirmPasswordReset validates the reset token, updates the password,
// and revokes all existing sessions for the account.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenID, plaintext, newPassword string) error {
	token, err := s.resets.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized(err)
		}
		return apperrors.NewStoreUnavailable(err)
	}
	if token.UsedAt != nil || time.Now().After(token.ExpiresAt) {
		return apperrors.NewUnauthorized(errors.New("reset token expired or used"))
	}

	stored, err := s.cipher.Decrypt(token.Token)
	if err != nil {
		return apperrors.NewUnauthorized(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(plaintext)) != 1 {
		return apperrors.NewUnauthorized(nil)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	if err := s.resets.MarkUsed(ctx, token.ID); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}

	if _, err := s.sessions.RevokeAll(ctx, token.UserID, domain.RevokeReasonAdminRevoked); err != nil {
		s.logger.Warn("revoking sessions after password reset failed", zap.String("user_id", token.UserID), zap.Error(err))
	}
	return nil
}
