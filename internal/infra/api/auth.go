package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.TokenValidator = (*TokenAuth)(nil)

// TokenAuth issues and validates HS256 access tokens whose subject is the user id.
type TokenAuth struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenAuth(secret, issuer string, ttl time.Duration) (*TokenAuth, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: jwt secret must be at least 16 bytes", domain.ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenAuth{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

type UserClaims struct {
	jwt.RegisteredClaims
}

// Issue mints a token for userID. The user CRUD layer owns login; this is its signing half.
func (a *TokenAuth) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.ErrInvalidArgument
	}
	now := a.now()
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TokenAuth) ValidateToken(tok string) (string, error) {
	claims := &UserClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return claims.Subject, nil
}
