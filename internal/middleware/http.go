package middleware

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"verifyaura/internal/auth"
	"verifyaura/internal/captcha"
	"verifyaura/internal/rate"
	"verifyaura/internal/util"
)

const rateLimitMessage = "Too many requests, please try again later."

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without a valid bearer token with 401.
func RequireAuth(v auth.Verifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(r.Context(), auth.TokenFromRequest(r, cookieName))
			if err != nil {
				msg := "invalid or expired token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "authentication required"
				}
				util.WriteError(w, http.StatusUnauthorized, msg, RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuth attaches the identity when a valid token is present and never rejects.
func OptionalAuth(v auth.Verifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := auth.TokenFromRequest(r, cookieName); raw != "" {
				if id, err := v.Verify(r.Context(), raw); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func AdminOnly(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := Identity(r.Context())
			if !ok {
				util.WriteError(w, http.StatusUnauthorized, "authentication required", RequestID(r.Context()))
				return
			}
			if !id.HasRole(role) {
				util.WriteError(w, http.StatusForbidden, "admin role required", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireAuth followed by AdminOnly: 401 first, then 403.
func RequireAdmin(v auth.Verifier, cookieName, role string) func(http.Handler) http.Handler {
	authn := RequireAuth(v, cookieName)
	admin := AdminOnly(role)
	return func(next http.Handler) http.Handler {
		return authn(admin(next))
	}
}

const CaptchaHeader = "X-Captcha-Token"

// RequireCaptcha checks the captcha token of anonymous callers. Requests that
// already carry an identity pass through.
func RequireCaptcha(v captcha.Verifier, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := Identity(r.Context()); ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			err := v.Verify(r.Context(), r.Header.Get(CaptchaHeader), ClientIP(r, trustProxy))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, captcha.ErrCaptchaUnavailable):
				util.WriteError(w, http.StatusServiceUnavailable, "captcha verification unavailable", RequestID(r.Context()))
			default:
				util.WriteError(w, http.StatusBadRequest, "captcha validation failed", RequestID(r.Context()))
			}
		})
	}
}

// RateLimit keys buckets by route and the caller's user id, or client IP when anonymous.
func RateLimit(l *rate.Limiter, route string, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			key := route + ":ip:" + ClientIP(r, trustProxy)
			if id, ok := Identity(r.Context()); ok && id.UserID != "" {
				key = route + ":uid:" + id.UserID
			}
			ok, wait := l.Allow(key)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				util.WriteJSON(w, http.StatusTooManyRequests, util.APIError{
					Message:    rateLimitMessage,
					RequestID:  RequestID(r.Context()),
					RetryAfter: secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request and stores a request-scoped logger
// in the context for zerolog.Ctx.
func RequestLogger(log zerolog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rid := RequestID(r.Context())
			reqLog := log.With().Str("request_id", rid).Logger()
			r = r.WithContext(reqLog.WithContext(r.Context()))

			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			ev := reqLog.Info()
			if sr.status >= http.StatusInternalServerError {
				ev = reqLog.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("remote_ip", ClientIP(r, trustProxy)).
				Msg("request")
		})
	}
}
