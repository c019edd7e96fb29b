package devserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 24 * time.Hour
	tokenIssuer     = "driftwood-devserver"
	tokenAudience   = "driftwood-client"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the dev backend's JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints and validates HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenIssuer validates cfg and applies the default TTL.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{secret: cfg.SigningSecret, ttl: ttl, clock: clock}, nil
}

// Issue produces a signed token for subject and its lifetime in seconds.
func (i *TokenIssuer) Issue(subject string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, registered).SignedString(i.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.ttl.Seconds()), nil
}

// ValidateToken checks signature, issuer, audience and expiry and returns the subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
