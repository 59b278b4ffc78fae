// Package token mints and verifies the role-scoped access tokens derived from
// the signing secret. Tokens are compact HS256 JWTs so that any standard
// verifier in the consuming services accepts them.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/systmms/rekey/pkg/secrets"
)

// Lifetime is the fixed expiry horizon of a derived token (10 years).
const Lifetime = 315360000 * time.Second

// Claims is the token payload.
type Claims struct {
	Role secrets.Role `json:"role"`
	jwt.RegisteredClaims
}

// Token is a minted token together with the claims it carries.
type Token struct {
	Role      secrets.Role
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Value     string
}

// ErrInvalidSignature is returned by Verify when the token was not signed
// with the given secret.
var ErrInvalidSignature = errors.New("token signature does not match signing secret")

// Mint signs a token for role. Output is deterministic for identical inputs.
func Mint(role secrets.Role, signingSecret, issuer string, now time.Time) (Token, error) {
	if signingSecret == "" {
		return Token{}, errors.New("mint token: empty signing secret")
	}

	issuedAt := now.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(Lifetime)

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
	if err != nil {
		return Token{}, fmt.Errorf("mint %s token: %w", role, err)
	}

	return Token{
		Role:      role,
		Issuer:    issuer,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Value:     signed,
	}, nil
}

// MintPair mints the anon and service_role tokens from one now snapshot so
// both carry the same issued-at.
func MintPair(signingSecret, issuer string, now time.Time) (anon, service Token, err error) {
	anon, err = Mint(secrets.Anon, signingSecret, issuer, now)
	if err != nil {
		return Token{}, Token{}, err
	}
	service, err = Mint(secrets.ServiceRole, signingSecret, issuer, now)
	if err != nil {
		return Token{}, Token{}, err
	}
	return anon, service, nil
}

// Verify checks the HS256 signature of value against signingSecret and
// returns its claims. Only the signature and the expiry horizon matter.
func Verify(value, signingSecret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(signingSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}

// Decode returns the claims of value without checking the signature. It is
// only used to describe tokens, never to trust them.
func Decode(value string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return claims, nil
}

// demoIssuers are issuers used by the upstream example tokens.
var demoIssuers = map[string]struct{}{
	"supabase-demo": {},
	"demo":          {},
}

// IsPlaceholder reports whether a stored token is missing, malformed, or one
// of the publicly known demo tokens.
func IsPlaceholder(value string) bool {
	if secrets.IsPlaceholder(value) {
		return true
	}
	claims, err := Decode(value)
	if err != nil {
		return true
	}
	_, demo := demoIssuers[claims.Issuer]
	return demo
}
