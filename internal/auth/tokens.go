// Package auth issues and verifies the session tokens handed out after
// receipt verification, and gates forwarded requests on them.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NoAccountSubject is the token subject used for identities without an
// account token.
const NoAccountSubject = "NO_ACCOUNT"

// DefaultTokenTTL is the session token lifetime.
const DefaultTokenTTL = 12 * time.Hour

// Tokens signs and verifies session tokens with a shared HS256 key.
type Tokens struct {
	key []byte
	ttl time.Duration
}

// NewTokens creates a token signer/verifier. A non-positive ttl falls back
// to the 12 hour default.
func NewTokens(key []byte, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{key: key, ttl: ttl}
}

// Issue signs a session token whose subject is the given account token, or
// the NO_ACCOUNT sentinel when accountToken is nil.
func (t *Tokens) Issue(accountToken *string) (string, error) {
	subject := NoAccountSubject
	if accountToken != nil {
		subject = *accountToken
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its subject.
// Expired tokens, wrong signing methods and bad signatures all fail.
func (t *Tokens) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: verifying session token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("auth: session token has no subject")
	}
	return claims.Subject, nil
}
