package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrAdminUnavailable means no admin key is configured; the admin plane
	// fails closed.
	ErrAdminUnavailable = errors.New("auth: admin key not configured")
	// ErrAdminForbidden means the presented key did not match.
	ErrAdminForbidden = errors.New("auth: admin key mismatch")
)

// AdminAuthenticator gates the /forge-admin plane on a shared key.
type AdminAuthenticator struct {
	key string
}

// NewAdminAuthenticator builds an admin authenticator. An empty key makes
// every check fail with ErrAdminUnavailable.
func NewAdminAuthenticator(key string) *AdminAuthenticator {
	return &AdminAuthenticator{key: strings.TrimSpace(key)}
}

// Check compares the request's bearer token to the configured key in
// constant time.
func (a *AdminAuthenticator) Check(r *http.Request) error {
	if a == nil || a.key == "" {
		return ErrAdminUnavailable
	}
	presented := bearerToken(r)
	if presented == "" {
		return ErrAdminForbidden
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.key)) != 1 {
		return ErrAdminForbidden
	}
	return nil
}
