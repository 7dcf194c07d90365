// Package auth validates bearer tokens. Token issuance belongs to the
// account service; Sign exists for local tooling and tests.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meghan/community-chat/internal/apperr"
)

// Roles recognised by the privileged endpoints.
const (
	RoleUser      = "user"
	RoleTherapist = "therapist"
	RoleAdmin     = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Email  string
	Role   string
}

// Privileged reports whether the caller may review crisis events.
func (i Identity) Privileged() bool {
	return i.Role == RoleTherapist || i.Role == RoleAdmin
}

// Claims is the JWT payload. The subject holds the numeric user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenAuth validates HS256 tokens signed with a shared secret.
type TokenAuth struct {
	secret []byte
	issuer string
}

func NewTokenAuth(secret, issuer string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), issuer: issuer}
}

// Authenticate parses and validates token. Every failure maps to
// apperr.ErrInvalidCredentials so callers cannot distinguish causes.
func (a *TokenAuth) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.ErrInvalidCredentials
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: %w: %v", apperr.ErrInvalidCredentials, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, apperr.ErrInvalidCredentials
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, apperr.ErrInvalidCredentials
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: userID, Email: claims.Email, Role: role}, nil
}

// Sign creates a token for the given identity.
func (a *TokenAuth) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}
