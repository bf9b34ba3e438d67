package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// TrustAuthenticator decodes the JWT body without checking the signature.
// Intended for deployments where the embedding application terminates auth
// and the sidecar only needs the identity claim.
type TrustAuthenticator struct {
	identityClaim string
}

// NewTrustAuthenticator builds a trust-mode authenticator. identityClaim
// defaults to "sub".
func NewTrustAuthenticator(identityClaim string) *TrustAuthenticator {
	if strings.TrimSpace(identityClaim) == "" {
		identityClaim = "sub"
	}
	return &TrustAuthenticator{identityClaim: identityClaim}
}

// Authenticate extracts and decodes the token body. An absent token fails
// authentication; a present token with a missing identity claim is
// authenticated with an empty user id.
func (a *TrustAuthenticator) Authenticate(r *http.Request) Result {
	token := bearerToken(r)
	if token == "" {
		return Result{Err: ErrNoToken}
	}
	claims, err := decodeBody(token)
	if err != nil {
		return Result{Err: ErrInvalidToken}
	}
	return Result{
		Authenticated: true,
		UserID:        claimString(claims, a.identityClaim),
		Claims:        claims,
	}
}

// decodeBody splits a compact JWT and decodes its payload segment.
func decodeBody(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}
