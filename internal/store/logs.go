package store

import (
	"context"

	"github.com/google/uuid"

	"verifyaura/internal/models"
)

func (s *Store) InsertLog(ctx context.Context, l models.ActivityLog) (models.ActivityLog, error) {
	l.ID = uuid.NewString()
	l.CreatedAt = s.now()
	if l.Details == "" {
		l.Details = "{}"
	}
	_, err := s.exec(ctx,
		`INSERT INTO activity_logs(id,action,user_id,user_email,entity_type,entity_id,event_id,details,created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Action, l.UserID, l.UserEmail, l.EntityType, l.EntityID, l.EventID, l.Details, l.CreatedAt,
	)
	return l, err
}

// Stats counts dashboard totals. today is the YYYY-MM-DD date used to decide
// which events are still upcoming.
func (s *Store) Stats(ctx context.Context, today string) (models.Stats, error) {
	var st models.Stats
	err := s.get(ctx, "stats", &st, `SELECT
		(SELECT COUNT(1) FROM events) AS events,
		(SELECT COUNT(1) FROM events WHERE event_date >= ?) AS upcoming_events,
		(SELECT COUNT(1) FROM participants) AS participants,
		(SELECT COUNT(1) FROM participants WHERE status = 'active') AS active_certificates,
		(SELECT COUNT(1) FROM participants WHERE status = 'revoked') AS revoked_certificates`, today)
	return st, err
}
