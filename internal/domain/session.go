package domain

import "time"

// RevokeReason records why a session was terminated. Revocation is a
// terminal state; rows are never physically deleted.
type RevokeReason string

const (
	RevokeReasonLogout       RevokeReason = "logout"
	RevokeReasonLogoutAll    RevokeReason = "logout_all"
	RevokeReasonExpired      RevokeReason = "expired"
	RevokeReasonInactive     RevokeReason = "inactivity_timeout"
	RevokeReasonMaxSessions  RevokeReason = "max_sessions_exceeded"
	RevokeReasonAdminRevoked RevokeReason = "admin_revoked"
)

// Session is a server-side login record. ExpiresAt is fixed at creation
// (CreatedAt + max lifetime) and never recomputed; activity extension
// only moves LastActivity.
type Session struct {
	ID            string
	UserID        string
	Email         string
	Role          Role
	CompanyID     *string
	RefreshToken  string
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
	LastActivity  time.Time
	ExpiresAt     time.Time
	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason *RevokeReason
}

// LiveAt reports whether the session is usable at the given instant:
// not revoked, inside its absolute lifetime, and active within the
// inactivity window.
func (s *Session) LiveAt(now time.Time, inactivityTimeout time.Duration) bool {
	if s == nil || s.IsRevoked {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastActivity) < inactivityTimeout
}

// ExpiredAt reports whether the session has passed its absolute expiry
// or its inactivity cutoff without necessarily being marked revoked yet.
func (s *Session) ExpiredAt(now time.Time, inactivityTimeout time.Duration) (bool, RevokeReason) {
	if !now.Before(s.ExpiresAt) {
		return true, RevokeReasonExpired
	}
	if now.Sub(s.LastActivity) >= inactivityTimeout {
		return true, RevokeReasonInactive
	}
	return false, ""
}
