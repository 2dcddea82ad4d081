package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/sitework-service/internal/domain"
)

// TokenKind separates short-lived access tokens from long-lived refresh
// tokens. A token of one kind is never accepted where the other is required.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

var (
	// ErrTokenExpired signals a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid signals a malformed token or bad signature.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrWrongTokenType signals a kind mismatch (refresh where access
	// is required, or vice versa).
	ErrWrongTokenType = errors.New("wrong token type")
)

// TokenManager issues and verifies signed bearer tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager builds a new manager. The secret must already have
// passed ResolveSecret.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Claims describes the JWT payload. SessionID binds the token to the
// server-side session it was minted for.
type Claims struct {
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	CompanyID *string     `json:"company_id,omitempty"`
	Kind      TokenKind   `json:"type"`
	SessionID string      `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Issue builds and signs a token of the given kind for the subject.
func (tm *TokenManager) Issue(kind TokenKind, sessionID, userID, email string, role domain.Role, companyID *string) (string, time.Time, error) {
	ttl := tm.accessTTL
	if kind == TokenKindRefresh {
		ttl = tm.refreshTTL
	}
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(ttl)

	claims := &Claims{
		Email:     email,
		Role:      role,
		CompanyID: companyID,
		Kind:      kind,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify validates signature, expiry, and kind, returning distinct
// errors for each failure so callers can log precisely while still
// surfacing a generic rejection externally.
func (tm *TokenManager) Verify(tokenStr string, expected TokenKind) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != expected {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ExtractBearer parses a "Bearer <token>" Authorization header. A header
// of any other shape yields false, not an error.
func ExtractBearer(headerValue string) (string, bool) {
	parts := strings.SplitN(headerValue, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
