package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"verifyaura/internal/models"
	"verifyaura/internal/query"
)

var participantSelect = `SELECT ` + query.Participants.Columns + ` FROM ` + query.Participants.From

// CreateParticipant inserts a participant. A duplicate certificate ID surfaces
// as ErrConflict; a duplicate (event, email) pair as ErrDuplicateEmail.
func (s *Store) CreateParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = s.now()
	if p.Status == "" {
		p.Status = models.ParticipantActive
	}
	_, err := s.exec(ctx,
		`INSERT INTO participants(id,event_id,name,email,certificate_id,status,created_by,created_at) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.EventID, p.Name, p.Email, p.CertificateID, p.Status, p.CreatedBy, p.CreatedAt,
	)
	if errors.Is(err, ErrConflict) && violatesEmailIndex(err) {
		return models.Participant{}, fmt.Errorf("%w: %v", ErrDuplicateEmail, err)
	}
	if err != nil {
		return models.Participant{}, err
	}
	return s.GetParticipant(ctx, p.ID)
}

// violatesEmailIndex tells the (event_id, email) index apart from the
// certificate_id one. Postgres and MySQL name the index, SQLite lists columns.
func violatesEmailIndex(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "uq_participants_event_email") || strings.Contains(msg, "participants.email")
}

func (s *Store) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := s.get(ctx, query.Participants.Table, &p, participantSelect+` WHERE p.id=?`, id)
	return p, err
}

func (s *Store) GetParticipantByCertificate(ctx context.Context, certificateID string) (models.Participant, error) {
	var p models.Participant
	err := s.get(ctx, query.Participants.Table, &p, participantSelect+` WHERE p.certificate_id=?`, certificateID)
	return p, err
}

// CertificateIDExists is the existence check used by the identifier generator.
func (s *Store) CertificateIDExists(ctx context.Context, certificateID string) (bool, error) {
	var one int
	err := s.get(ctx, query.Participants.Table, &one, `SELECT 1 FROM participants WHERE certificate_id=? LIMIT 1`, certificateID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ParticipantEmailExists(ctx context.Context, eventID, email string) (bool, error) {
	var one int
	err := s.get(ctx, query.Participants.Table, &one,
		`SELECT 1 FROM participants WHERE event_id=? AND LOWER(email)=? LIMIT 1`, eventID, strings.ToLower(email))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CountParticipantsForEvent(ctx context.Context, eventID string) (int, error) {
	var n int
	err := s.get(ctx, query.Participants.Table, &n, `SELECT COUNT(1) FROM participants WHERE event_id=?`, eventID)
	return n, err
}

func (s *Store) RevokeParticipant(ctx context.Context, id, reason string) error {
	var r *string
	if reason = strings.TrimSpace(reason); reason != "" {
		r = &reason
	}
	res, err := s.exec(ctx,
		`UPDATE participants SET status=?, revoked_at=?, revoke_reason=? WHERE id=?`,
		models.ParticipantRevoked, s.now(), r, id,
	)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *Store) RestoreParticipant(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE participants SET status=?, revoked_at=NULL, revoke_reason=NULL WHERE id=?`,
		models.ParticipantActive, id,
	)
	if err != nil {
		return err
	}
	return affectedOne(res)
}
