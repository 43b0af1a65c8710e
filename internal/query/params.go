package query

import (
	"fmt"
	"time"
)

const (
	CodeInvalidPage      = "INVALID_PAGE"
	CodeInvalidLimit     = "INVALID_LIMIT"
	CodeInvalidSortField = "INVALID_SORT_FIELD"
	CodeInvalidSortOrder = "INVALID_SORT_ORDER"
	CodeInvalidDate      = "INVALID_DATE"
	CodeInvalidDateRange = "INVALID_DATE_RANGE"
	CodeInvalidStatus    = "INVALID_STATUS"
	CodeInvalidIDFormat  = "INVALID_ID_FORMAT"
)

const (
	StatusAll     = "all"
	StatusActive  = "active"
	StatusRevoked = "revoked"

	EventUpcoming = "upcoming"
	EventOngoing  = "ongoing"
	EventEnded    = "ended"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const dateLayout = "2006-01-02"

type Filters struct {
	Search      string
	Tag         string
	CreatedBy   string
	EventID     string
	Status      string
	EventStatus string
	DateFrom    *time.Time
	DateTo      *time.Time
}

// Value returns the equality value for a filter key, or "" when it imposes no constraint.
func (f Filters) Value(key string) string {
	switch key {
	case FilterEventID:
		return f.EventID
	case FilterCreatedBy:
		return f.CreatedBy
	case FilterTag:
		return f.Tag
	case FilterStatus:
		if f.Status == StatusAll {
			return ""
		}
		return f.Status
	case FilterEventStatus:
		return f.EventStatus
	}
	return ""
}

type Sort struct {
	Field     string
	Direction Direction
}

type Pagination struct {
	Page  int
	Limit int
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ValidationError records one rejected query parameter. Parsing carries on after it.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

type ParseResult struct {
	Filters    Filters
	Sort       Sort
	Pagination Pagination
	Errors     []ValidationError
}

func (r ParseResult) Valid() bool { return len(r.Errors) == 0 }

// Has reports whether an error with the given code was recorded.
func (r ParseResult) Has(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}
