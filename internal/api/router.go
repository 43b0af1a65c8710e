package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"verifyaura/internal/auth"
	"verifyaura/internal/captcha"
	"verifyaura/internal/config"
	"verifyaura/internal/middleware"
	"verifyaura/internal/models"
	"verifyaura/internal/query"
	"verifyaura/internal/rate"
	"verifyaura/internal/service"
	"verifyaura/internal/store"
	"verifyaura/internal/util"
	"verifyaura/internal/version"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 4 << 20
	readyTimeout   = 3 * time.Second
)

// Options carries the collaborators the router does not build itself. A nil
// limiter disables rate limiting for its routes.
type Options struct {
	Verifier      auth.Verifier
	Captcha       captcha.Verifier
	AdminLimiter  *rate.Limiter
	VerifyLimiter *rate.Limiter
	Log           zerolog.Logger
}

type Handlers struct {
	cfg config.Config
	svc *service.Service
	log zerolog.Logger
}

func NewRouter(cfg config.Config, svc *service.Service, opts Options) http.Handler {
	h := &Handlers{
		cfg: cfg,
		svc: svc,
		log: opts.Log.With().Str("component", "api").Logger(),
	}
	if opts.Captcha == nil {
		opts.Captcha = captcha.NoopVerifier{}
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(h.log, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", middleware.CaptchaHeader},
			ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusNotFound, "route not found", middleware.RequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", middleware.RequestID(r.Context()))
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.Ready)

	r.Route("/api", func(r chi.Router) {
		r.With(
			middleware.OptionalAuth(opts.Verifier, cfg.SessionCookieName),
			limit(opts.VerifyLimiter, "verify", cfg.TrustProxy),
			middleware.RequireCaptcha(opts.Captcha, cfg.TrustProxy),
		).Get("/verify/{certificateId}", h.VerifyCertificate)

		r.With(middleware.RequireAuth(opts.Verifier, cfg.SessionCookieName)).Get("/me", h.Me)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(opts.Verifier, cfg.SessionCookieName, cfg.AdminRole))
			r.Use(limit(opts.AdminLimiter, "admin", cfg.TrustProxy))

			r.Get("/participants", h.ListParticipants)
			r.Post("/participants", h.IssueCertificate)
			r.Post("/participants/import", h.ImportParticipants)
			r.Get("/participants/{id}", h.GetParticipant)
			r.Post("/participants/{id}/revoke", h.RevokeParticipant)
			r.Post("/participants/{id}/restore", h.RestoreParticipant)

			r.Get("/events", h.ListEvents)
			r.Post("/events", h.CreateEvent)
			r.Get("/events/{id}", h.GetEvent)
			r.Put("/events/{id}", h.UpdateEvent)
			r.Delete("/events/{id}", h.DeleteEvent)

			r.Get("/logs", h.ListLogs)
			r.Get("/stats", h.Stats)
		})
	})

	if dir := strings.TrimSpace(cfg.WebDir); dir != "" {
		r.Get("/*", spaHandler(dir))
	}
	return r
}

func limit(l *rate.Limiter, route string, trustProxy bool) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(l, route, trustProxy)
}

// spaHandler serves the dashboard build. Unknown paths get index.html so
// client-side routes such as /verify/{id} load the app.
func spaHandler(dir string) http.HandlerFunc {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")
	return func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/health/") {
			util.WriteError(w, http.StatusNotFound, "route not found", middleware.RequestID(r.Context()))
			return
		}
		clean := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+p)))
		if st, err := os.Stat(clean); p == "/" || err != nil || st.IsDir() {
			http.ServeFile(w, r, index)
			return
		}
		fs.ServeHTTP(w, r)
	}
}

func (h *Handlers) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if util.StatusOf(err) >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	util.WriteErr(w, err, middleware.RequestID(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return util.NewError(http.StatusRequestEntityTooLarge, "request body too large", err)
	}
	return util.NewError(http.StatusBadRequest, "invalid json", err)
}

func (h *Handlers) actor(r *http.Request) auth.Identity {
	id, _ := middleware.Identity(r.Context())
	return id
}

type listResponse[T any] struct {
	Data       []T                     `json:"data"`
	Pagination store.PageInfo          `json:"pagination"`
	Warnings   []query.ValidationError `json:"warnings,omitempty"`
}

func writePage[T any](w http.ResponseWriter, page store.Page[T], q query.ParseResult) {
	util.WriteJSON(w, http.StatusOK, listResponse[T]{
		Data:       page.Data,
		Pagination: page.Pagination,
		Warnings:   q.Errors,
	})
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	body := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"version":    version.Current(),
	}
	if err := h.svc.Ready(ctx); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
		body["status"] = "degraded"
		body["reason"] = "dependency unavailable"
		util.WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	util.WriteJSON(w, http.StatusOK, body)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id := h.actor(r)
	util.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":  id.UserID,
		"email":    id.Email,
		"role":     id.Role,
		"is_admin": id.HasRole(h.cfg.AdminRole),
	})
}

func (h *Handlers) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.VerifyCertificate(r.Context(), chi.URLParam(r, "certificateId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": v})
}

func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	q := h.svc.ParseQuery(r.URL.Query(), query.Participants)
	page, err := h.svc.ListParticipants(r.Context(), q)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writePage(w, page, q)
}

func (h *Handlers) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req models.ParticipantInput
	if err := decodeJSON(w, r, maxBodyBytes, &req, false); err != nil {
		h.writeErr(w, r, err)
		return
	}
	p, err := h.svc.IssueCertificate(r.Context(), h.actor(r), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handlers) ImportParticipants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID      string                    `json:"event_id"`
		Participants []models.ParticipantInput `json:"participants"`
	}
	if err := decodeJSON(w, r, maxImportBytes, &req, false); err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.svc.ImportParticipants(r.Context(), h.actor(r), req.EventID, req.Participants)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetParticipant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) RevokeParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, maxBodyBytes, &req, true); err != nil {
		h.writeErr(w, r, err)
		return
	}
	p, err := h.svc.RevokeParticipant(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) RestoreParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.RestoreParticipant(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := h.svc.ParseQuery(r.URL.Query(), query.Events)
	page, err := h.svc.ListEvents(r.Context(), q)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writePage(w, page, q)
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.EventInput
	if err := decodeJSON(w, r, maxBodyBytes, &req, false); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ev, err := h.svc.CreateEvent(r.Context(), h.actor(r), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.EventInput
	if err := decodeJSON(w, r, maxBodyBytes, &req, false); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ev, err := h.svc.UpdateEvent(r.Context(), h.actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEvent(r.Context(), h.actor(r), chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := h.svc.ParseQuery(r.URL.Query(), query.Logs)
	page, err := h.svc.ListLogs(r.Context(), q)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writePage(w, page, q)
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, st)
}
