package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"verifyaura/internal/auth"
	"verifyaura/internal/models"
	"verifyaura/internal/store"
	"verifyaura/internal/util"
)

var eventCodeRx = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

const (
	maxEventNameLength   = 200
	maxDescriptionLength = 2000
	maxTagLength         = 50
)

func normalizeEvent(in models.EventInput) (models.Event, error) {
	e := models.Event{
		EventName:   strings.TrimSpace(in.EventName),
		EventCode:   strings.ToUpper(strings.TrimSpace(in.EventCode)),
		Description: strings.TrimSpace(in.Description),
		EventDate:   strings.TrimSpace(in.EventDate),
		Status:      models.EventStatus(strings.ToLower(strings.TrimSpace(in.Status))),
		Tag:         strings.TrimSpace(in.Tag),
	}
	switch {
	case e.EventName == "":
		return e, util.BadRequest("event_name is required")
	case utf8.RuneCountInString(e.EventName) > maxEventNameLength:
		return e, util.BadRequest("event_name is too long")
	case !eventCodeRx.MatchString(e.EventCode):
		return e, util.BadRequest("event_code must be 2-10 letters or digits")
	case utf8.RuneCountInString(e.Description) > maxDescriptionLength:
		return e, util.BadRequest("description is too long")
	case utf8.RuneCountInString(e.Tag) > maxTagLength:
		return e, util.BadRequest("tag is too long")
	}
	if _, err := time.Parse("2006-01-02", e.EventDate); err != nil {
		return e, util.BadRequest("event_date must be formatted as YYYY-MM-DD")
	}
	switch e.Status {
	case "":
		e.Status = models.EventUpcoming
	case models.EventUpcoming, models.EventOngoing, models.EventEnded:
	default:
		return e, util.BadRequest("status must be one of upcoming, ongoing, ended")
	}
	return e, nil
}

func (s *Service) CreateEvent(ctx context.Context, actor auth.Identity, in models.EventInput) (models.Event, error) {
	e, err := normalizeEvent(in)
	if err != nil {
		return models.Event{}, err
	}
	taken, err := s.st.EventCodeTaken(ctx, e.EventCode, "")
	if err != nil {
		return models.Event{}, err
	}
	if taken {
		return models.Event{}, util.Conflict("event_code is already in use")
	}
	e.CreatedBy = actor.UserID
	created, err := s.st.CreateEvent(ctx, e)
	if err != nil {
		return models.Event{}, mapStoreErr(err, "event")
	}
	s.record(ctx, actor, "event.create", "event", created.ID, &created.ID, map[string]any{
		"event_code": created.EventCode,
		"event_name": created.EventName,
	})
	return created, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (models.Event, error) {
	e, err := s.st.GetEvent(ctx, id)
	if err != nil {
		return models.Event{}, mapStoreErr(err, "event")
	}
	return e, nil
}

func (s *Service) UpdateEvent(ctx context.Context, actor auth.Identity, id string, in models.EventInput) (models.Event, error) {
	current, err := s.GetEvent(ctx, id)
	if err != nil {
		return models.Event{}, err
	}
	e, err := normalizeEvent(in)
	if err != nil {
		return models.Event{}, err
	}
	taken, err := s.st.EventCodeTaken(ctx, e.EventCode, id)
	if err != nil {
		return models.Event{}, err
	}
	if taken {
		return models.Event{}, util.Conflict("event_code is already in use")
	}
	e.ID = id
	e.CreatedBy = current.CreatedBy
	updated, err := s.st.UpdateEvent(ctx, e)
	if err != nil {
		return models.Event{}, mapStoreErr(err, "event")
	}
	s.record(ctx, actor, "event.update", "event", id, &updated.ID, map[string]any{
		"event_code": updated.EventCode,
		"status":     updated.Status,
	})
	return updated, nil
}

func (s *Service) DeleteEvent(ctx context.Context, actor auth.Identity, id string) error {
	e, err := s.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.st.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return util.Conflict("event still has participants")
		}
		return mapStoreErr(err, "event")
	}
	s.record(ctx, actor, "event.delete", "event", id, nil, map[string]any{"event_code": e.EventCode})
	return nil
}
