package service

import (
	"context"
	"regexp"
	"strings"

	"verifyaura/internal/models"
	"verifyaura/internal/util"
)

var certificateIDRx = regexp.MustCompile(`^[A-Z0-9]{4,40}$`)

// VerifyCertificate is the public lookup. Only active certificates are valid;
// revoked ones are still reported so the holder sees why.
func (s *Service) VerifyCertificate(ctx context.Context, certificateID string) (models.Verification, error) {
	id := strings.ToUpper(strings.TrimSpace(certificateID))
	if !certificateIDRx.MatchString(id) {
		return models.Verification{}, util.BadRequest("certificate id is malformed")
	}
	p, err := s.st.GetParticipantByCertificate(ctx, id)
	if err != nil {
		return models.Verification{}, mapStoreErr(err, "certificate")
	}
	return models.Verification{
		Valid:           p.Status == models.ParticipantActive,
		Status:          p.Status,
		CertificateID:   p.CertificateID,
		ParticipantName: p.Name,
		EventName:       p.EventName,
		EventCode:       p.EventCode,
		EventDate:       p.EventDate,
		IssuedAt:        p.CreatedAt,
		RevokedAt:       p.RevokedAt,
	}, nil
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	return s.st.Stats(ctx, s.now().Format("2006-01-02"))
}
