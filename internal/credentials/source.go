// Package credentials supplies bearer tokens to the REST client and the
// transport sessions.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials is returned when no usable bearer token is available.
var ErrNoCredentials = errors.New("no credentials")

// Source supplies the current bearer token on demand. Implementations are
// asked once per request or connection attempt; callers must not cache the
// result beyond that attempt so that token rotation is picked up.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

// Token implements Source.
func (f SourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static returns a Source that always yields token. An empty token yields
// ErrNoCredentials.
func Static(token string) Source {
	return SourceFunc(func(context.Context) (string, error) {
		if strings.TrimSpace(token) == "" {
			return "", ErrNoCredentials
		}
		return token, nil
	})
}

// ExpiresAt returns the expiry encoded in a JWT, if any.
//
// The signature is not verified; the server stays authoritative and will
// reject a bad token. This is only used to avoid connecting with a token
// that is already known to be stale.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether token carries an expiry at or before now. Tokens
// without a parseable expiry are never considered expired.
func Expired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return !now.Before(exp)
}
