package auth

import (
	"context"
	"errors"
	"fmt"

	"supportchat-ws/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier checks storefront-issued HMAC tokens. The chat server only
// verifies credentials; issuing them belongs to the storefront.
type JWTVerifier struct {
	secret []byte
}

type claims struct {
	Role domain.Role `json:"role"`
	Name string      `json:"name"`
	jwt.RegisteredClaims
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

func (v *JWTVerifier) Authenticate(_ context.Context, token string) (domain.Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, domain.Errorf(domain.ErrForbidden, "invalid or expired token")
	}

	identity := domain.Identity{UserID: c.Subject, Role: c.Role, Name: c.Name}
	if err := identity.Validate(); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}
