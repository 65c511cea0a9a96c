// File: server/auth.go
package server

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/phalanx-mp/phalanx/utils"
)

// Identity is what the auth boundary establishes for a connection. Anonymous
// connections get an empty Identity and identify themselves in queue-join.
type Identity struct {
	PlayerID string
	Username string
}

// Anonymous reports whether no verified identity is bound.
func (i Identity) Anonymous() bool {
	return i.PlayerID == ""
}

// TokenValidator turns a bearer token into a verified Identity. Embedders can
// plug their own implementation; the engine itself never issues tokens.
type TokenValidator interface {
	Validate(token string) (Identity, error)
}

var (
	// ErrTokenRequired is returned when auth is mandatory and no token came.
	ErrTokenRequired = errors.New("auth token required")
	// ErrTokenInvalid is returned for malformed, expired or forged tokens.
	ErrTokenInvalid = errors.New("auth token invalid")
)

// JWTValidator verifies HS256 tokens carrying the player identity in the
// "sub" and "username" claims.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for tokens signed with secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and verifies the token.
func (v *JWTValidator) Validate(token string) (Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return Identity{}, ErrTokenInvalid
	}
	username, _ := claims["username"].(string)
	if username == "" {
		username = sub
	}
	return Identity{PlayerID: sub, Username: username}, nil
}

// Authenticator applies the configured auth policy to a connection's token.
type Authenticator struct {
	enabled        bool
	allowAnonymous bool
	validator      TokenValidator
}

// NewAuthenticator builds the auth boundary from config. A custom validator
// overrides the built-in JWT one.
func NewAuthenticator(cfg utils.Config, validator TokenValidator) *Authenticator {
	if validator == nil && cfg.AuthSecret != "" {
		validator = NewJWTValidator(cfg.AuthSecret)
	}
	return &Authenticator{
		enabled:        cfg.AuthEnabled,
		allowAnonymous: cfg.AllowAnonymous,
		validator:      validator,
	}
}

// Authenticate resolves the connection identity from an optional token.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	if !a.enabled {
		return Identity{}, nil
	}
	if token == "" {
		if a.allowAnonymous {
			return Identity{}, nil
		}
		return Identity{}, ErrTokenRequired
	}
	if a.validator == nil {
		return Identity{}, ErrTokenInvalid
	}
	return a.validator.Validate(token)
}
