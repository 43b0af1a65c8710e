package store

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"verifyaura/internal/models"
	"verifyaura/internal/query"
)

type PageInfo struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type Page[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageInfo `json:"pagination"`
}

type ListParams struct {
	Filters    query.Filters
	Sort       query.Sort
	Pagination query.Pagination
	// KnownTotal skips the COUNT query when the caller already has it.
	KnownTotal *int
}

// List runs one filtered, sorted page against schema and scans rows into T.
// Identifiers in the statement come only from the schema; every user value is a
// bound argument.
func List[T any](ctx context.Context, q Queryer, schema query.Schema, p ListParams) (Page[T], error) {
	if p.Pagination.Limit < 1 {
		p.Pagination.Limit = query.DefaultLimit
	}
	if p.Pagination.Page < 1 || p.Pagination.Page > query.MaxPage(p.Pagination.Limit) {
		p.Pagination.Page = 1
	}

	where, args := buildWhere(schema, p.Filters)

	var total int
	if p.KnownTotal != nil {
		total = *p.KnownTotal
	} else {
		countSQL := "SELECT COUNT(1) FROM " + schema.From + where
		if err := sqlx.GetContext(ctx, q, &total, q.Rebind(countSQL), args...); err != nil {
			return Page[T]{}, &QueryExecutionError{Table: schema.Table, Op: "count", Err: err}
		}
	}

	dir := "DESC"
	if p.Sort.Direction == query.Asc {
		dir = "ASC"
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(schema.Columns)
	sb.WriteString(" FROM ")
	sb.WriteString(schema.From)
	sb.WriteString(where)
	sb.WriteString(" ORDER BY ")
	sb.WriteString(schema.SortColumn(p.Sort.Field))
	sb.WriteString(" " + dir + ", ")
	sb.WriteString(schema.IDColumn)
	sb.WriteString(" ASC LIMIT ? OFFSET ?")

	pageArgs := append(append([]any{}, args...), p.Pagination.Limit, p.Pagination.Offset())
	data := make([]T, 0, p.Pagination.Limit)
	if err := sqlx.SelectContext(ctx, q, &data, q.Rebind(sb.String()), pageArgs...); err != nil {
		return Page[T]{}, &QueryExecutionError{Table: schema.Table, Op: "select", Err: err}
	}

	return Page[T]{Data: data, Pagination: pageInfo(total, p.Pagination)}, nil
}

func pageInfo(total int, p query.Pagination) PageInfo {
	totalPages := 0
	if total > 0 {
		totalPages = (total + p.Limit - 1) / p.Limit
	}
	return PageInfo{
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: totalPages,
		HasNext:    p.Page < totalPages,
		HasPrev:    p.Page > 1,
	}
}

func buildWhere(schema query.Schema, f query.Filters) (string, []any) {
	var (
		preds []string
		args  []any
	)
	for _, key := range []string{query.FilterEventID, query.FilterCreatedBy, query.FilterTag, query.FilterStatus, query.FilterEventStatus} {
		col, ok := schema.FilterColumns[key]
		if !ok {
			continue
		}
		if v := f.Value(key); v != "" {
			preds = append(preds, col+" = ?")
			args = append(args, v)
		}
	}

	if schema.DateColumn != "" {
		if f.DateFrom != nil {
			preds = append(preds, schema.DateColumn+" >= ?")
			args = append(args, dateArg(schema, *f.DateFrom))
		}
		if f.DateTo != nil {
			if schema.DateIsText {
				preds = append(preds, schema.DateColumn+" <= ?")
				args = append(args, dateArg(schema, *f.DateTo))
			} else {
				preds = append(preds, schema.DateColumn+" < ?")
				args = append(args, f.DateTo.AddDate(0, 0, 1))
			}
		}
	}

	if term := strings.TrimSpace(f.Search); term != "" && len(schema.SearchColumns) > 0 {
		pattern := "%" + strings.ToLower(term) + "%"
		ors := make([]string, 0, len(schema.SearchColumns))
		for _, col := range schema.SearchColumns {
			ors = append(ors, "LOWER(COALESCE("+col+", '')) LIKE ?")
			args = append(args, pattern)
		}
		preds = append(preds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(preds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(preds, " AND "), args
}

func dateArg(schema query.Schema, d time.Time) any {
	if schema.DateIsText {
		return d.Format("2006-01-02")
	}
	return d
}

func (s *Store) QueryParticipants(ctx context.Context, p ListParams) (Page[models.Participant], error) {
	return List[models.Participant](ctx, s.db, query.Participants, p)
}

func (s *Store) QueryEvents(ctx context.Context, p ListParams) (Page[models.Event], error) {
	return List[models.Event](ctx, s.db, query.Events, p)
}

func (s *Store) QueryLogs(ctx context.Context, p ListParams) (Page[models.ActivityLog], error) {
	return List[models.ActivityLog](ctx, s.db, query.Logs, p)
}
