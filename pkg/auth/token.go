package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/grantly/grantly/pkg/config"
	grantlyerr "github.com/grantly/grantly/pkg/errors"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/types"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Claims is the JWT payload issued for an authenticated identity
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	GroupID  string `json:"group_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and parses signed session tokens
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	clock  interfaces.Clock
}

// NewTokenIssuer builds an issuer from the auth configuration
func NewTokenIssuer(cfg *config.Config, clock interfaces.Clock) *TokenIssuer {
	if clock == nil {
		clock = realClock{}
	}
	return &TokenIssuer{
		secret: []byte(cfg.Auth.JWTSecret),
		expiry: cfg.Auth.JWTExpiry,
		clock:  clock,
	}
}

// Issue signs a token for an identity
func (t *TokenIssuer) Issue(identity *types.Identity) (string, error) {
	if identity.IsAnonymous() {
		return "", grantlyerr.NewCredentialNotFoundError()
	}
	now := t.clock.Now()
	claims := Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		GroupID:  identity.GroupID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a signed token and returns its claims
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, grantlyerr.NewCredentialMismatchError()
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return nil, grantlyerr.NewCredentialMismatchError()
	}
	if !token.Valid {
		return nil, grantlyerr.NewCredentialMismatchError()
	}
	return claims, nil
}
