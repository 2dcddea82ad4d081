package security

import (
	"strings"
	"testing"
	"time"
)

func newTestGuard(t *testing.T, at time.Time) *CSRFGuard {
	t.Helper()
	g := NewCSRFGuard(24 * time.Hour)
	g.now = func() time.Time { return at }
	return g
}

func TestGenerateValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, now)

	token, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !g.ValidateFormat(token) {
		t.Fatalf("fresh token failed format validation")
	}
	valid, reason := g.Validate(token, token)
	if !valid {
		t.Fatalf("matching tokens rejected: %s", reason)
	}
}

func TestValidateFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, now)

	token, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		cookie     string
		wantReason string
	}{
		{name: "missing header", header: "", cookie: token, wantReason: "missing_header_token"},
		{name: "missing cookie", header: token, cookie: "", wantReason: "missing_cookie_token"},
		{name: "malformed header", header: "junk", cookie: token, wantReason: "malformed_header_token"},
		{name: "malformed cookie", header: token, cookie: "nodot", wantReason: "malformed_cookie_token"},
		{name: "different tokens", header: token, cookie: other, wantReason: "token_mismatch"},
		{name: "first byte differs", header: token, cookie: flipByte(token, 0), wantReason: "token_mismatch"},
		{name: "last byte differs", header: token, cookie: flipByte(token, len(strings.Split(token, ".")[0])-1), wantReason: "token_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, reason := g.Validate(tt.header, tt.cookie)
			if valid {
				t.Fatalf("expected rejection")
			}
			if reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestValidateFormatAge(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, issued)

	token, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Too old: past the validity window.
	g.now = func() time.Time { return issued.Add(24*time.Hour + time.Minute) }
	if g.ValidateFormat(token) {
		t.Fatalf("expired token accepted")
	}

	// From the future beyond clock skew.
	g.now = func() time.Time { return issued.Add(-2 * time.Minute) }
	if g.ValidateFormat(token) {
		t.Fatalf("future token accepted")
	}

	// Inside the window again.
	g.now = func() time.Time { return issued.Add(time.Hour) }
	if !g.ValidateFormat(token) {
		t.Fatalf("valid-age token rejected")
	}
}

// Validation time must not leak the position of the first mismatching
// byte. Measured statistically through Validate itself with a generous
// tolerance; this guards against regressions to a short-circuiting
// comparison inside the double-submit check.
func TestValidateTimingIndependence(t *testing.T) {
	if testing.Short() {
		t.Skip("timing measurement skipped in short mode")
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, now)

	token, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	secretLen := len(strings.Split(token, ".")[0])
	firstDiff := flipByte(token, 0)
	lastDiff := flipByte(token, secretLen-1)

	const rounds = 5000
	measure := func(cookie string) time.Duration {
		start := time.Now()
		for i := 0; i < rounds; i++ {
			if valid, _ := g.Validate(token, cookie); valid {
				t.Fatalf("mismatching pair validated")
			}
		}
		return time.Since(start)
	}

	// Warm up, then take the best of several runs to damp scheduler noise.
	measure(firstDiff)
	best := func(cookie string) time.Duration {
		min := time.Duration(1<<63 - 1)
		for i := 0; i < 5; i++ {
			if d := measure(cookie); d < min {
				min = d
			}
		}
		return min
	}

	tFirst := best(firstDiff)
	tLast := best(lastDiff)

	ratio := float64(tFirst) / float64(tLast)
	if ratio < 0.5 || ratio > 2.0 {
		t.Fatalf("validation timing differs too much: first=%v last=%v", tFirst, tLast)
	}
}

// flipByte alters one byte of the token's secret segment.
func flipByte(token string, i int) string {
	b := []byte(token)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
