package cloud

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource hands out the station's bearer token and refuses it once its
// exp claim has passed. The signature is the cloud's business, so the token
// is parsed without verification. Opaque tokens never expire locally.
type TokenSource struct {
	raw       string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenSource wraps raw.
func NewTokenSource(raw string) *TokenSource {
	ts := &TokenSource{raw: raw, now: time.Now}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil && claims.ExpiresAt != nil {
		ts.expiresAt = claims.ExpiresAt.Time
	}
	return ts
}

// Token returns the token, or ErrTokenExpired once it has expired.
func (t *TokenSource) Token() (string, error) {
	if !t.expiresAt.IsZero() && !t.now().Before(t.expiresAt) {
		return "", ErrTokenExpired
	}
	return t.raw, nil
}

// ExpiresAt returns the exp claim, zero for opaque or non-expiring tokens.
func (t *TokenSource) ExpiresAt() time.Time {
	return t.expiresAt
}
