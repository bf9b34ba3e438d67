package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyAuthenticator validates the HMAC-SHA256 signature over the token and
// rejects algorithm mismatches, tampered payloads, and expired tokens.
type VerifyAuthenticator struct {
	secret        []byte
	identityClaim string
}

// NewVerifyAuthenticator builds a verify-mode authenticator with the given
// signing key. identityClaim defaults to "sub".
func NewVerifyAuthenticator(secret string, identityClaim string) *VerifyAuthenticator {
	if strings.TrimSpace(identityClaim) == "" {
		identityClaim = "sub"
	}
	return &VerifyAuthenticator{secret: []byte(secret), identityClaim: identityClaim}
}

// Authenticate parses and verifies the token.
func (a *VerifyAuthenticator) Authenticate(r *http.Request) Result {
	token := bearerToken(r)
	if token == "" {
		return Result{Err: ErrNoToken}
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Result{Err: ErrInvalidToken}
	}

	return Result{
		Authenticated: true,
		UserID:        claimString(claims, a.identityClaim),
		Claims:        claims,
	}
}
