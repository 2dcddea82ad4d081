package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Cookie and header names for the double-submit CSRF pattern. The cookie
// is intentionally script-readable so the client can echo it into the
// header; cross-origin pages cannot read it.
const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"

	csrfSecretBytes = 32
	// csrfClockSkew tolerates minor drift between token issuance and
	// validation hosts.
	csrfClockSkew = time.Minute
)

// CSRFGuard generates and validates double-submit tokens. Tokens are not
// persisted server-side; validity comes from intrinsic structure and
// header/cookie equality.
type CSRFGuard struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewCSRFGuard builds a guard whose tokens expire after maxAge,
// independent of session expiry.
func NewCSRFGuard(maxAge time.Duration) *CSRFGuard {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &CSRFGuard{maxAge: maxAge, now: time.Now}
}

// Generate returns a random secret joined with a base36 issuance timestamp.
func (g *CSRFGuard) Generate() (string, error) {
	secret := make([]byte, csrfSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	ts := strconv.FormatInt(g.now().Unix(), 36)
	return base64.RawURLEncoding.EncodeToString(secret) + "." + ts, nil
}

// ValidateFormat checks structural shape and that the embedded timestamp
// is neither in the future nor older than the validity window.
func (g *CSRFGuard) ValidateFormat(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return false
	}
	secret, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(secret) != csrfSecretBytes {
		return false
	}
	issued, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil {
		return false
	}
	now := g.now()
	issuedAt := time.Unix(issued, 0)
	if issuedAt.After(now.Add(csrfClockSkew)) {
		return false
	}
	return now.Sub(issuedAt) <= g.maxAge
}

// Validate applies the double-submit check. The reason is for internal
// logging only; callers surface a generic rejection.
func (g *CSRFGuard) Validate(headerToken, cookieToken string) (bool, string) {
	if headerToken == "" {
		return false, "missing_header_token"
	}
	if cookieToken == "" {
		return false, "missing_cookie_token"
	}
	if !g.ValidateFormat(headerToken) {
		return false, "malformed_header_token"
	}
	if !g.ValidateFormat(cookieToken) {
		return false, "malformed_cookie_token"
	}
	// Comparison time must not depend on where the first mismatching
	// byte occurs.
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return false, "token_mismatch"
	}
	return true, ""
}
