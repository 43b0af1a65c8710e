package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	netmail "net/mail"
	"strings"
	"unicode/utf8"

	"verifyaura/internal/auth"
	"verifyaura/internal/models"
	"verifyaura/internal/notify"
	"verifyaura/internal/store"
	"verifyaura/internal/util"
)

const (
	maxNameLength   = 200
	maxImportRows   = 1000
	maxRevokeReason = 500

	duplicateParticipantMsg = "participant is already registered for this event"
)

func normalizeParticipant(in models.ParticipantInput) (models.ParticipantInput, error) {
	in.Name = strings.Join(strings.Fields(in.Name), " ")
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.EventID = strings.ToLower(strings.TrimSpace(in.EventID))
	if in.Name == "" {
		return in, util.BadRequest("name is required")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLength {
		return in, util.BadRequest("name is too long")
	}
	addr, err := netmail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return in, util.BadRequest("email is invalid")
	}
	return in, nil
}

// IssueCertificate registers one participant for an event and issues a fresh
// certificate ID. An email already registered for the event is a conflict.
func (s *Service) IssueCertificate(ctx context.Context, actor auth.Identity, in models.ParticipantInput) (models.Participant, error) {
	in, err := normalizeParticipant(in)
	if err != nil {
		return models.Participant{}, err
	}
	ev, err := s.GetEvent(ctx, in.EventID)
	if err != nil {
		return models.Participant{}, err
	}
	dup, err := s.st.ParticipantEmailExists(ctx, ev.ID, in.Email)
	if err != nil {
		return models.Participant{}, err
	}
	if dup {
		return models.Participant{}, util.Conflict(duplicateParticipantMsg)
	}
	p, err := s.issue(ctx, actor, ev, in)
	if err != nil {
		return models.Participant{}, err
	}
	s.record(ctx, actor, "participant.create", "participant", p.ID, &p.EventID, map[string]any{
		"certificate_id": p.CertificateID,
		"email":          p.Email,
	})
	return p, nil
}

func (s *Service) issue(ctx context.Context, actor auth.Identity, ev models.Event, in models.ParticipantInput) (models.Participant, error) {
	var lastErr error
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		res := s.gen.Resolve(ctx, s.st.CertificateIDExists, ev.EventCode, ev.EventDate, s.cfg.CertIDMaxAttempts)
		p, err := s.st.CreateParticipant(ctx, models.Participant{
			EventID:       ev.ID,
			Name:          in.Name,
			Email:         in.Email,
			CertificateID: res.ID,
			CreatedBy:     actor.UserID,
		})
		if err == nil {
			s.sendNotice(ctx, p)
			return p, nil
		}
		if errors.Is(err, store.ErrDuplicateEmail) {
			return models.Participant{}, util.NewError(http.StatusConflict, duplicateParticipantMsg, err)
		}
		if !errors.Is(err, store.ErrConflict) {
			return models.Participant{}, err
		}
		lastErr = err
		s.logger(ctx).Warn().Str("certificate_id", res.ID).Int("attempt", attempt).Bool("fallback", res.Fallback).
			Msg("certificate id taken at insert, regenerating")
	}
	return models.Participant{}, util.NewError(http.StatusConflict, "could not allocate a unique certificate id", lastErr)
}

func (s *Service) sendNotice(ctx context.Context, p models.Participant) {
	err := s.sender.SendCertificateIssued(ctx, notify.CertificateNotice{
		To:              p.Email,
		ParticipantName: p.Name,
		EventName:       p.EventName,
		EventDate:       p.EventDate,
		CertificateID:   p.CertificateID,
	})
	if err != nil {
		s.logger(ctx).Warn().Err(err).Str("certificate_id", p.CertificateID).Msg("certificate notice failed")
	}
}

// ImportParticipants issues certificates for a batch. Rows whose email is
// already registered for the event, or repeated within the batch, are skipped.
// Invalid rows are reported and do not stop the batch.
func (s *Service) ImportParticipants(ctx context.Context, actor auth.Identity, eventID string, rows []models.ParticipantInput) (models.ImportResult, error) {
	if len(rows) == 0 {
		return models.ImportResult{}, util.BadRequest("no participants to import")
	}
	if len(rows) > maxImportRows {
		return models.ImportResult{}, util.BadRequest(fmt.Sprintf("at most %d participants per import", maxImportRows))
	}
	ev, err := s.GetEvent(ctx, strings.ToLower(strings.TrimSpace(eventID)))
	if err != nil {
		return models.ImportResult{}, err
	}

	res := models.ImportResult{Total: len(rows), Errors: []models.ImportError{}, Participants: []models.Participant{}}
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		row.EventID = ev.ID
		in, err := normalizeParticipant(row)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, models.ImportError{Row: i + 1, Email: in.Email, Message: util.MessageOf(err)})
			continue
		}
		if seen[in.Email] {
			res.Skipped++
			continue
		}
		seen[in.Email] = true
		dup, err := s.st.ParticipantEmailExists(ctx, ev.ID, in.Email)
		if err != nil {
			return res, err
		}
		if dup {
			res.Skipped++
			continue
		}
		p, err := s.issue(ctx, actor, ev, in)
		if errors.Is(err, store.ErrDuplicateEmail) {
			res.Skipped++
			continue
		}
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, models.ImportError{Row: i + 1, Email: in.Email, Message: util.MessageOf(err)})
			continue
		}
		res.Imported++
		res.Participants = append(res.Participants, p)
	}

	s.record(ctx, actor, "participant.import", "event", ev.ID, &ev.ID, map[string]any{
		"total":    res.Total,
		"imported": res.Imported,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
	})
	return res, nil
}

func (s *Service) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	p, err := s.st.GetParticipant(ctx, id)
	if err != nil {
		return models.Participant{}, mapStoreErr(err, "participant")
	}
	return p, nil
}

func (s *Service) RevokeParticipant(ctx context.Context, actor auth.Identity, id, reason string) (models.Participant, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxRevokeReason {
		return models.Participant{}, util.BadRequest("reason is too long")
	}
	p, err := s.GetParticipant(ctx, id)
	if err != nil {
		return models.Participant{}, err
	}
	if p.Status == models.ParticipantRevoked {
		return models.Participant{}, util.Conflict("certificate is already revoked")
	}
	if err := s.st.RevokeParticipant(ctx, id, reason); err != nil {
		return models.Participant{}, mapStoreErr(err, "participant")
	}
	s.record(ctx, actor, "participant.revoke", "participant", id, &p.EventID, map[string]any{
		"certificate_id": p.CertificateID,
		"reason":         reason,
	})
	return s.GetParticipant(ctx, id)
}

func (s *Service) RestoreParticipant(ctx context.Context, actor auth.Identity, id string) (models.Participant, error) {
	p, err := s.GetParticipant(ctx, id)
	if err != nil {
		return models.Participant{}, err
	}
	if p.Status == models.ParticipantActive {
		return models.Participant{}, util.Conflict("certificate is not revoked")
	}
	if err := s.st.RestoreParticipant(ctx, id); err != nil {
		return models.Participant{}, mapStoreErr(err, "participant")
	}
	s.record(ctx, actor, "participant.restore", "participant", id, &p.EventID, map[string]any{
		"certificate_id": p.CertificateID,
	})
	return s.GetParticipant(ctx, id)
}
