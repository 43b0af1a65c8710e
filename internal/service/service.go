package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"verifyaura/internal/auth"
	"verifyaura/internal/cache"
	"verifyaura/internal/certid"
	"verifyaura/internal/config"
	"verifyaura/internal/models"
	"verifyaura/internal/notify"
	"verifyaura/internal/query"
	"verifyaura/internal/store"
	"verifyaura/internal/util"
)

// maxInsertAttempts bounds certificate inserts that lose a uniqueness race.
const maxInsertAttempts = 3

type Service struct {
	cfg    config.Config
	st     *store.Store
	gen    *certid.Generator
	cache  *cache.Cache
	sender notify.Sender
	parser query.Parser
	log    zerolog.Logger
	now    func() time.Time
}

func New(cfg config.Config, st *store.Store, gen *certid.Generator, c *cache.Cache, sender notify.Sender, log zerolog.Logger) *Service {
	log = log.With().Str("component", "service").Logger()
	if gen == nil {
		gen = certid.New(log)
	}
	if sender == nil {
		sender = notify.LogSender{Log: log}
	}
	return &Service{
		cfg:    cfg,
		st:     st,
		gen:    gen,
		cache:  c,
		sender: sender,
		parser: query.Parser{
			DefaultLimit:    cfg.QueryDefaultLimit,
			MaxLimit:        cfg.QueryMaxLimit,
			MaxSearchLength: cfg.QueryMaxSearchLength,
		},
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Store() *store.Store { return s.st }

// ParseQuery applies the configured limits to raw list parameters.
func (s *Service) ParseQuery(values url.Values, schema query.Schema) query.ParseResult {
	return s.parser.Parse(values, schema)
}

// Ready pings the database and, when the notifier talks to a relay, the relay.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.st.Ping(ctx); err != nil {
		return err
	}
	if p, ok := s.sender.(interface{ Probe(context.Context) error }); ok {
		return p.Probe(ctx)
	}
	return nil
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// record appends an activity log entry. Failures are logged, never returned.
func (s *Service) record(ctx context.Context, actor auth.Identity, action, entityType, entityID string, eventID *string, details map[string]any) {
	raw := "{}"
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			raw = string(b)
		}
	}
	_, err := s.st.InsertLog(ctx, models.ActivityLog{
		Action:     action,
		UserID:     actor.UserID,
		UserEmail:  actor.Email,
		EntityType: entityType,
		EntityID:   entityID,
		EventID:    eventID,
		Details:    raw,
	})
	if err != nil {
		s.logger(ctx).Warn().Err(err).Str("action", action).Str("entity_id", entityID).Msg("activity log write failed")
	}
}

func mapStoreErr(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return util.NotFound(what + " not found")
	case errors.Is(err, store.ErrDuplicateEmail):
		return util.NewError(http.StatusConflict, duplicateParticipantMsg, err)
	case errors.Is(err, store.ErrConflict):
		return util.NewError(http.StatusConflict, what+" conflicts with an existing record", err)
	}
	return err
}
