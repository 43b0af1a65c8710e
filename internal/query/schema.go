package query

// Filter keys understood by the parser. Schemas map the subset they support to columns.
const (
	FilterEventID     = "event_id"
	FilterCreatedBy   = "created_by"
	FilterTag         = "tag"
	FilterStatus      = "status"
	FilterEventStatus = "event_status"
)

// Schema describes one logical table for the parser (sortable fields) and the
// paginated query builder (columns, joins, search and filter mappings).
type Schema struct {
	Table    string
	From     string
	Columns  string
	IDColumn string

	// SearchColumns are matched with a case-insensitive OR of LIKE predicates.
	SearchColumns []string

	// SortColumns maps an allowed sort_by value to its column expression.
	SortColumns map[string]string
	DefaultSort string

	// FilterColumns maps a filter key to an equality column. Keys absent here are ignored.
	FilterColumns map[string]string

	DateColumn string
	// DateIsText marks DateColumn as a YYYY-MM-DD text column rather than a timestamp.
	DateIsText bool
}

func (s Schema) Sortable(field string) bool {
	_, ok := s.SortColumns[field]
	return ok
}

func (s Schema) SortColumn(field string) string {
	if c, ok := s.SortColumns[field]; ok {
		return c
	}
	return s.SortColumns[s.DefaultSort]
}

var Participants = Schema{
	Table:    "participants",
	From:     "participants p LEFT JOIN events e ON e.id = p.event_id",
	Columns:  "p.id, p.event_id, p.name, p.email, p.certificate_id, p.status, p.created_by, p.created_at, p.revoked_at, p.revoke_reason, COALESCE(e.event_code, '') AS event_code, COALESCE(e.event_name, '') AS event_name, COALESCE(e.event_date, '') AS event_date",
	IDColumn: "p.id",
	SearchColumns: []string{
		"p.name", "p.email", "p.certificate_id", "e.event_code",
	},
	SortColumns: map[string]string{
		"created_at":     "p.created_at",
		"name":           "p.name",
		"email":          "p.email",
		"certificate_id": "p.certificate_id",
		"status":         "p.status",
	},
	DefaultSort: "created_at",
	FilterColumns: map[string]string{
		FilterEventID:   "p.event_id",
		FilterStatus:    "p.status",
		FilterCreatedBy: "p.created_by",
		FilterTag:       "e.tag",
	},
	DateColumn: "p.created_at",
}

var Events = Schema{
	Table:    "events",
	From:     "events e",
	Columns:  "e.id, e.event_name, e.event_code, e.description, e.event_date, e.status, e.tag, e.created_by, e.created_at, e.updated_at",
	IDColumn: "e.id",
	SearchColumns: []string{
		"e.event_name", "e.event_code", "e.description",
	},
	SortColumns: map[string]string{
		"event_date": "e.event_date",
		"event_name": "e.event_name",
		"event_code": "e.event_code",
		"status":     "e.status",
		"created_at": "e.created_at",
	},
	DefaultSort: "event_date",
	FilterColumns: map[string]string{
		FilterEventStatus: "e.status",
		FilterTag:         "e.tag",
		FilterCreatedBy:   "e.created_by",
	},
	DateColumn: "e.event_date",
	DateIsText: true,
}

var Logs = Schema{
	Table:    "activity_logs",
	From:     "activity_logs l",
	Columns:  "l.id, l.action, l.user_id, l.user_email, l.entity_type, l.entity_id, l.event_id, l.details, l.created_at",
	IDColumn: "l.id",
	SearchColumns: []string{
		"l.action", "l.user_email",
	},
	SortColumns: map[string]string{
		"created_at": "l.created_at",
		"action":     "l.action",
		"user_email": "l.user_email",
	},
	DefaultSort: "created_at",
	FilterColumns: map[string]string{
		FilterCreatedBy: "l.user_id",
		FilterEventID:   "l.event_id",
		FilterTag:       "l.entity_type",
	},
	DateColumn: "l.created_at",
}
