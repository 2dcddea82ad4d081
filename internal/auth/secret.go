package auth

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// minSecretBytes is the minimum accepted HS256 key length.
const minSecretBytes = 32

// devFallbackSecret is substituted under the relaxed profile when no
// usable secret is configured. Deterministic so restarts keep issued
// tokens verifiable during development.
const devFallbackSecret = "insecure-dev-signing-secret-0000000000000000"

// ErrWeakSecret is fatal at startup under the hardened profile.
var ErrWeakSecret = errors.New("weak secret configuration")

// wellKnownPlaceholders are values that show up in sample configs and
// must never sign production tokens.
var wellKnownPlaceholders = map[string]struct{}{
	"secret":          {},
	"dev-secret":      {},
	"changeme":        {},
	"change-me":       {},
	"password":        {},
	"jwt-secret":      {},
	"your-secret-key": {},
}

// ResolveSecret enforces the startup secret policy. Under the hardened
// profile a missing, short, or well-known placeholder secret is a fatal
// configuration error. Under the relaxed profile the same condition is
// logged and a deterministic development secret is substituted.
func ResolveSecret(secret string, hardened bool, logger *zap.Logger) (string, error) {
	reason := weakness(secret)
	if reason == "" {
		return secret, nil
	}
	if hardened {
		return "", fmt.Errorf("%w: %s", ErrWeakSecret, reason)
	}
	logger.Warn("substituting development signing secret; do not use in production",
		zap.String("reason", reason))
	return devFallbackSecret, nil
}

func weakness(secret string) string {
	if secret == "" {
		return "secret not configured"
	}
	if len(secret) < minSecretBytes {
		return fmt.Sprintf("secret shorter than %d bytes", minSecretBytes)
	}
	if _, known := wellKnownPlaceholders[secret]; known {
		return "secret is a well-known placeholder"
	}
	return ""
}
