package models

import "time"

type ParticipantStatus string

const (
	ParticipantActive  ParticipantStatus = "active"
	ParticipantRevoked ParticipantStatus = "revoked"
)

type EventStatus string

const (
	EventUpcoming EventStatus = "upcoming"
	EventOngoing  EventStatus = "ongoing"
	EventEnded    EventStatus = "ended"
)

type Event struct {
	ID          string      `db:"id" json:"id"`
	EventName   string      `db:"event_name" json:"event_name"`
	EventCode   string      `db:"event_code" json:"event_code"`
	Description string      `db:"description" json:"description"`
	EventDate   string      `db:"event_date" json:"event_date"`
	Status      EventStatus `db:"status" json:"status"`
	Tag         string      `db:"tag" json:"tag"`
	CreatedBy   string      `db:"created_by" json:"created_by"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Participant is a certificate holder. EventCode, EventName and EventDate are
// joined from the owning event.
type Participant struct {
	ID            string            `db:"id" json:"id"`
	EventID       string            `db:"event_id" json:"event_id"`
	Name          string            `db:"name" json:"name"`
	Email         string            `db:"email" json:"email"`
	CertificateID string            `db:"certificate_id" json:"certificate_id"`
	Status        ParticipantStatus `db:"status" json:"status"`
	CreatedBy     string            `db:"created_by" json:"created_by"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	RevokedAt     *time.Time        `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokeReason  *string           `db:"revoke_reason" json:"revoke_reason,omitempty"`
	EventCode     string            `db:"event_code" json:"event_code"`
	EventName     string            `db:"event_name" json:"event_name"`
	EventDate     string            `db:"event_date" json:"event_date"`
}

type ActivityLog struct {
	ID         string    `db:"id" json:"id"`
	Action     string    `db:"action" json:"action"`
	UserID     string    `db:"user_id" json:"user_id"`
	UserEmail  string    `db:"user_email" json:"user_email"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	EventID    *string   `db:"event_id" json:"event_id,omitempty"`
	Details    string    `db:"details" json:"details"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type EventInput struct {
	EventName   string `json:"event_name"`
	EventCode   string `json:"event_code"`
	Description string `json:"description"`
	EventDate   string `json:"event_date"`
	Status      string `json:"status"`
	Tag         string `json:"tag"`
}

type ParticipantInput struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

type ImportError struct {
	Row     int    `json:"row"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message"`
}

type ImportResult struct {
	Total        int           `json:"total"`
	Imported     int           `json:"imported"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Errors       []ImportError `json:"errors"`
	Participants []Participant `json:"participants"`
}

// Verification is the public view of a certificate. It never exposes the holder's email.
type Verification struct {
	Valid           bool              `json:"valid"`
	Status          ParticipantStatus `json:"status"`
	CertificateID   string            `json:"certificate_id"`
	ParticipantName string            `json:"participant_name"`
	EventName       string            `json:"event_name"`
	EventCode       string            `json:"event_code"`
	EventDate       string            `json:"event_date"`
	IssuedAt        time.Time         `json:"issued_at"`
	RevokedAt       *time.Time        `json:"revoked_at,omitempty"`
}

type Stats struct {
	Events              int `db:"events" json:"events"`
	UpcomingEvents      int `db:"upcoming_events" json:"upcoming_events"`
	Participants        int `db:"participants" json:"participants"`
	ActiveCertificates  int `db:"active_certificates" json:"active_certificates"`
	RevokedCertificates int `db:"revoked_certificates" json:"revoked_certificates"`
}
