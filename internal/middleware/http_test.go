package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"verifyaura/internal/auth"
	"verifyaura/internal/captcha"
	"verifyaura/internal/rate"
)

type staticVerifier map[string]auth.Identity

func (s staticVerifier) Verify(_ context.Context, raw string) (auth.Identity, error) {
	if raw == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}
	id, ok := s[raw]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

var verifier = staticVerifier{
	"admin-token":  {UserID: "user_admin", Role: "admin"},
	"member-token": {UserID: "user_member", Role: "member"},
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := Identity(r.Context())
	_, _ = w.Write([]byte(id.UserID))
}

func do(h http.Handler, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/admin/participants", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestClientIPTrustProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:12345"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.5")

	if got := ClientIP(r, false); got != "10.0.0.5" {
		t.Fatalf("unexpected direct IP: %s", got)
	}
	if got := ClientIP(r, true); got != "1.2.3.4" {
		t.Fatalf("unexpected proxied IP: %s", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(verifier, "", "admin")(http.HandlerFunc(okHandler))

	rec := do(h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":false`)
	require.Contains(t, rec.Body.String(), "authentication required")

	rec = do(h, "forged")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, "member-token")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user_admin", rec.Body.String())
}

func TestRequireAuthAllowsAnyRole(t *testing.T) {
	h := RequireAuth(verifier, "")(http.HandlerFunc(okHandler))
	require.Equal(t, http.StatusOK, do(h, "member-token").Code)
	require.Equal(t, http.StatusUnauthorized, do(h, "").Code)
}

func TestOptionalAuthNeverRejects(t *testing.T) {
	h := OptionalAuth(verifier, "")(http.HandlerFunc(okHandler))

	rec := do(h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = do(h, "forged")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = do(h, "member-token")
	require.Equal(t, "user_member", rec.Body.String())
}

func TestRateLimitResponseShape(t *testing.T) {
	l := rate.NewLimiter(0.5, 1, 0)
	h := RequestIDMiddleware(RateLimit(l, "verify", false)(http.HandlerFunc(okHandler)))

	require.Equal(t, http.StatusOK, do(h, "").Code)
	rec := do(h, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Equal(t, "Too many requests, please try again later.", body["message"])
	require.EqualValues(t, 2, body["retry_after"])
	require.NotEmpty(t, body["request_id"])
}

func TestRequestIDKeepsValidInbound(t *testing.T) {
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(RequestID(r.Context())))
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "9b2e4f6a-1c3d-4e5f-8a7b-0c1d2e3f4a5b")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, "9b2e4f6a-1c3d-4e5f-8a7b-0c1d2e3f4a5b", rec.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Len(t, rec.Body.String(), 36)
	require.Equal(t, rec.Body.String(), rec.Header().Get("X-Request-ID"))
}

func TestRequestLoggerWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	h := RequestIDMiddleware(RequestLogger(log, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Debug().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	require.Equal(t, "/health/live", entry["path"])
	require.EqualValues(t, http.StatusTeapot, entry["status"])
	require.NotEmpty(t, entry["request_id"])
}

type tokenCaptcha string

func (c tokenCaptcha) Verify(_ context.Context, token, _ string) error {
	switch {
	case string(c) == "down":
		return captcha.ErrCaptchaUnavailable
	case token != string(c):
		return captcha.ErrCaptchaRequired
	}
	return nil
}

func TestRequireCaptcha(t *testing.T) {
	h := OptionalAuth(verifier, "")(RequireCaptcha(tokenCaptcha("human"), false)(http.HandlerFunc(okHandler)))

	require.Equal(t, http.StatusBadRequest, do(h, "").Code)

	r := httptest.NewRequest(http.MethodGet, "/api/verify/WKS24ABCDEF", nil)
	r.Header.Set(CaptchaHeader, "human")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, "member-token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user_member", rec.Body.String())

	down := RequireCaptcha(tokenCaptcha("down"), false)(http.HandlerFunc(okHandler))
	require.Equal(t, http.StatusServiceUnavailable, do(down, "").Code)
}
