package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the collaboration backend puts in its access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Identity is who an access token says the local user is.
type Identity struct {
	UserID    string
	TenantID  string
	Name      string
	ExpiresAt time.Time
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IdentityFromToken reads the identity out of a bearer token. The signature
// is not checked here; the server checks it on every call.
func IdentityFromToken(token string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{UserID: claims.Subject, TenantID: claims.TenantID, Name: claims.Name}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(id.ExpiresAt) {
			return id, ErrExpiredToken
		}
	}
	return id, nil
}
