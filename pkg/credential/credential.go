// Package credential decodes bearer tokens into credentials with a known
// expiry. Signatures are not verified here; the remote API owns that.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a token cannot be decoded into a
// credential with an expiry. Callers treat it as "no credential".
var ErrMalformed = errors.New("credential is malformed")

// Credential is an immutable bearer token together with its decoded expiry.
type Credential struct {
	raw       string
	subject   string
	expiresAt time.Time
}

// Parse decodes raw as a JWT and extracts its exp claim. Tokens that are
// not JWTs, or that carry no exp claim, yield ErrMalformed.
func Parse(raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if exp == nil {
		return Credential{}, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}

	sub, _ := claims.GetSubject()

	return Credential{
		raw:       raw,
		subject:   sub,
		expiresAt: exp.Time,
	}, nil
}

// Raw returns the bearer string.
func (c Credential) Raw() string {
	return c.raw
}

// Subject returns the sub claim, or "" if absent.
func (c Credential) Subject() string {
	return c.subject
}

// ExpiresAt returns the decoded expiry instant.
func (c Credential) ExpiresAt() time.Time {
	return c.expiresAt
}

// Remaining returns the time left until expiry relative to now.
// The result is negative for expired credentials.
func (c Credential) Remaining(now time.Time) time.Duration {
	return c.expiresAt.Sub(now)
}

// Expired reports whether the credential has expired at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}

// IsZero reports whether c is the zero Credential.
func (c Credential) IsZero() bool {
	return c.raw == ""
}

// String redacts the token so credentials are safe to log.
func (c Credential) String() string {
	if c.raw == "" {
		return "credential(none)"
	}
	return fmt.Sprintf("credential(sub=%q, exp=%s)", c.subject, c.expiresAt.UTC().Format(time.RFC3339))
}
