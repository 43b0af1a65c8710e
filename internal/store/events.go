package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"verifyaura/internal/models"
	"verifyaura/internal/query"
)

func (s *Store) CreateEvent(ctx context.Context, e models.Event) (models.Event, error) {
	now := s.now()
	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err := s.exec(ctx,
		`INSERT INTO events(id,event_name,event_code,description,event_date,status,tag,created_by,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.EventName, e.EventCode, e.Description, e.EventDate, e.Status, e.Tag, e.CreatedBy, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return models.Event{}, err
	}
	return e, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (models.Event, error) {
	var e models.Event
	err := s.get(ctx, query.Events.Table, &e, `SELECT `+query.Events.Columns+` FROM events e WHERE e.id=?`, id)
	return e, err
}

func (s *Store) UpdateEvent(ctx context.Context, e models.Event) (models.Event, error) {
	e.UpdatedAt = s.now()
	res, err := s.exec(ctx,
		`UPDATE events SET event_name=?, event_code=?, description=?, event_date=?, status=?, tag=?, updated_at=? WHERE id=?`,
		e.EventName, e.EventCode, e.Description, e.EventDate, e.Status, e.Tag, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return models.Event{}, err
	}
	if err := affectedOne(res); err != nil {
		return models.Event{}, err
	}
	return s.GetEvent(ctx, e.ID)
}

// DeleteEvent refuses with ErrConflict while participants reference the event.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	n, err := s.CountParticipantsForEvent(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	res, err := s.exec(ctx, `DELETE FROM events WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *Store) EventCodeTaken(ctx context.Context, code, exceptID string) (bool, error) {
	var id string
	err := s.get(ctx, query.Events.Table, &id, `SELECT id FROM events WHERE event_code=? LIMIT 1`, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return id != exceptID, nil
}
