// Package jwttoken validates the bearer tokens that identify the actor on
// mutating prompt operations. Tokens are HS256-signed with a shared key;
// the subject claim carries the actor identity recorded in the audit trail.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"promptvault/internal/platform/middleware"
	dErrors "promptvault/pkg/domain-errors"
)

// Claims are the JWT claims for vault access tokens.
type Claims struct {
	Actor string `json:"actor"`
	jwt.RegisteredClaims
}

// Service handles token creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey string, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateToken mints a signed token for the given actor. Used by the CLI
// tooling and tests; the server only validates.
func (s *Service) GenerateToken(actor string, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Actor: actor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateToken checks signature, expiry and issuer and returns the claims
// the middleware needs.
func (s *Service) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	actor := claims.Actor
	if actor == "" {
		actor = claims.Subject
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no actor identity")
	}

	return &middleware.TokenClaims{Actor: actor}, nil
}
