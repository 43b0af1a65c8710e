// Package auth verifies bearer tokens issued by the identity provider and turns
// them into an Identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

const DefaultSessionCookie = "__session"

type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (i Identity) HasRole(role string) bool {
	return role != "" && strings.EqualFold(i.Role, role)
}

type Verifier interface {
	Verify(ctx context.Context, raw string) (Identity, error)
}

// TokenFromRequest reads "Authorization: Bearer <token>" and falls back to the
// session cookie when the header is absent.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
