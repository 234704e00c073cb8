// Package auth carries the caller's credentials into the sync engine.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is an authenticated principal. The zero value is an absent session.
type Session struct {
	Owner     string
	Token     string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// NewSession builds a session from a bearer token. When owner is empty it is
// taken from the token's "id" or "sub" claim. The token signature is not
// verified here; the remote service does that on every request. A session
// without a token is only accepted by remotes that authorize the connection
// instead of the caller.
func NewSession(token, owner string) (Session, error) {
	s := Session{Owner: owner, Token: token}
	if token == "" {
		if owner == "" {
			return Session{}, errors.New("either a token or an owner is required")
		}
		return s, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("failed to parse session token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Session{}, fmt.Errorf("failed to read token expiry: %w", err)
	}
	if exp != nil {
		s.ExpiresAt = exp.Time
	}
	if s.Owner == "" {
		if id, ok := claims["id"].(string); ok && id != "" {
			s.Owner = id
		} else if sub, err := claims.GetSubject(); err == nil && sub != "" {
			s.Owner = sub
		}
	}
	if s.Owner == "" {
		return Session{}, errors.New("session token does not identify an owner")
	}
	return s, nil
}

// Valid reports whether the session can be used at the given instant
func (s Session) Valid(now time.Time) bool {
	if s.Owner == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
