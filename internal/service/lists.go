package service

import (
	"context"

	"verifyaura/internal/cache"
	"verifyaura/internal/models"
	"verifyaura/internal/query"
	"verifyaura/internal/store"
)

func (s *Service) ListParticipants(ctx context.Context, q query.ParseResult) (store.Page[models.Participant], error) {
	return listCached(ctx, s, query.Participants, q, s.st.QueryParticipants)
}

func (s *Service) ListEvents(ctx context.Context, q query.ParseResult) (store.Page[models.Event], error) {
	return listCached(ctx, s, query.Events, q, s.st.QueryEvents)
}

func (s *Service) ListLogs(ctx context.Context, q query.ParseResult) (store.Page[models.ActivityLog], error) {
	return listCached(ctx, s, query.Logs, q, s.st.QueryLogs)
}

// listCached memoizes whole pages by canonical query and totals by filter set,
// so paging through one result set counts rows once per TTL.
func listCached[T any](ctx context.Context, s *Service, schema query.Schema, q query.ParseResult, run func(context.Context, store.ListParams) (store.Page[T], error)) (store.Page[T], error) {
	pageKey := cache.Key(schema.Table, "page", q.Encode().Encode())
	totalKey := cache.Key(schema.Table, "total", q.Filters.Signature())

	return cache.Remember(s.cache, pageKey, func() (store.Page[T], error) {
		params := store.ListParams{Filters: q.Filters, Sort: q.Sort, Pagination: q.Pagination}
		if v, ok := s.cache.Get(totalKey); ok {
			if total, ok := v.(int); ok {
				params.KnownTotal = &total
			}
		}
		page, err := run(ctx, params)
		if err != nil {
			s.logger(ctx).Error().Err(err).Str("table", schema.Table).Msg("list query failed")
			return page, err
		}
		s.cache.Set(totalKey, page.Pagination.Total)
		return page, nil
	})
}
