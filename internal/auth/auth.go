// Package auth implements user authentication for the agent API and the
// constant-time admin key check for the /forge-admin plane.
//
// Two user modes exist: trust mode decodes the JWT body without verifying
// the signature (the embedding app fronts the sidecar and is trusted), and
// verify mode checks the HMAC-SHA256 signature and expiry.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNoToken means the request carried no bearer token.
	ErrNoToken = errors.New("auth: no token")
	// ErrInvalidToken means the token was present but rejected.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Result is the outcome of authenticating one request.
type Result struct {
	Authenticated bool
	UserID        string
	Claims        map[string]any
	Err           error
}

// Authenticator authenticates inbound user requests.
type Authenticator interface {
	Authenticate(r *http.Request) Result
}

// bearerToken extracts the JWT from the Authorization header, falling back
// to the ?token= query parameter for SSE clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// claimString resolves a dotted claim path ("sub", "user.id") against a
// decoded claims map and returns its string form.
func claimString(claims map[string]any, path string) string {
	parts := strings.Split(path, ".")
	var cur any = claims
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return s
}
