package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verifyaura/internal/db"
	"verifyaura/internal/models"
	"verifyaura/internal/query"
)

const creator = "0b7f2c1e-3c4d-4e5f-9a8b-7c6d5e4f3a2b"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "store.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqdb.Close() })
	require.NoError(t, db.ApplyMigrations(sqdb, filepath.Join("..", "..", "migrations")))

	st := New(sqdb)
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	st.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return st
}

func seedEvent(t *testing.T, st *Store, code, date, tag string) models.Event {
	t.Helper()
	e, err := st.CreateEvent(context.Background(), models.Event{
		EventName: code + " event", EventCode: code, EventDate: date,
		Status: models.EventUpcoming, Tag: tag, CreatedBy: creator,
	})
	require.NoError(t, err)
	return e
}

func seedParticipant(t *testing.T, st *Store, eventID, name, email, certID string) models.Participant {
	t.Helper()
	p, err := st.CreateParticipant(context.Background(), models.Participant{
		EventID: eventID, Name: name, Email: email, CertificateID: certID, CreatedBy: creator,
	})
	require.NoError(t, err)
	return p
}

func TestQueryParticipantsSearchIsCaseInsensitive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev := seedEvent(t, st, "WKS", "2024-05-01", "workshop")
	seedParticipant(t, st, ev.ID, "Jane Doe", "jd@example.com", "WKS24AAAAAA")
	seedParticipant(t, st, ev.ID, "Bob", "JANE.smith@example.com", "WKS24BBBBBB")
	seedParticipant(t, st, ev.ID, "Carol", "carol@example.com", "WKS24CCCCCC")

	for _, term := range []string{"jane", "JANE", "Jane"} {
		page, err := st.QueryParticipants(ctx, ListParams{
			Filters:    query.Filters{Search: term},
			Pagination: query.Pagination{Page: 1, Limit: 10},
		})
		require.NoError(t, err)
		require.Equal(t, 2, page.Pagination.Total)
		require.Len(t, page.Data, 2)
	}

	page, err := st.QueryParticipants(ctx, ListParams{
		Filters:    query.Filters{Search: "wks24c"},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, "Carol", page.Data[0].Name)
	require.Equal(t, "WKS", page.Data[0].EventCode)
	require.Equal(t, "2024-05-01", page.Data[0].EventDate)
}

func TestQueryParticipantsPaginationFlags(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev := seedEvent(t, st, "PAG", "2024-06-01", "")
	for i := 0; i < 25; i++ {
		seedParticipant(t, st, ev.ID, fmt.Sprintf("P%02d", i), fmt.Sprintf("p%02d@example.com", i), fmt.Sprintf("PAG24%06d", i))
	}

	cases := []struct {
		page, rows      int
		hasNext, hasPrv bool
	}{
		{1, 10, true, false},
		{2, 10, true, true},
		{3, 5, false, true},
		{4, 0, false, true},
	}
	for _, tc := range cases {
		page, err := st.QueryParticipants(ctx, ListParams{Pagination: query.Pagination{Page: tc.page, Limit: 10}})
		require.NoError(t, err)
		require.Len(t, page.Data, tc.rows, "page %d", tc.page)
		require.Equal(t, 25, page.Pagination.Total)
		require.Equal(t, 3, page.Pagination.TotalPages)
		require.Equal(t, tc.hasNext, page.Pagination.HasNext, "page %d", tc.page)
		require.Equal(t, tc.hasPrv, page.Pagination.HasPrev, "page %d", tc.page)
	}

	empty, err := st.QueryParticipants(ctx, ListParams{
		Filters:    query.Filters{Search: "nobody"},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.NotNil(t, empty.Data)
	require.Empty(t, empty.Data)
	require.Equal(t, PageInfo{Total: 0, Page: 1, Limit: 10, TotalPages: 0}, empty.Pagination)
}

func TestQueryParticipantsSortAndFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := seedEvent(t, st, "AAA", "2024-01-10", "talk")
	b := seedEvent(t, st, "BBB", "2024-02-10", "workshop")
	seedParticipant(t, st, a.ID, "Charlie", "c@example.com", "AAA24000001")
	p2 := seedParticipant(t, st, a.ID, "Alice", "a@example.com", "AAA24000002")
	seedParticipant(t, st, b.ID, "Bravo", "b@example.com", "BBB24000001")
	require.NoError(t, st.RevokeParticipant(ctx, p2.ID, "duplicate"))

	page, err := st.QueryParticipants(ctx, ListParams{
		Sort:       query.Sort{Field: "name", Direction: query.Asc},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "Bravo", "Charlie"}, names(page.Data))

	page, err = st.QueryParticipants(ctx, ListParams{
		Filters:    query.Filters{EventID: a.ID, Status: query.StatusActive},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Charlie"}, names(page.Data))

	page, err = st.QueryParticipants(ctx, ListParams{
		Filters:    query.Filters{Status: query.StatusAll, Tag: "workshop"},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Bravo"}, names(page.Data))

	revoked, err := st.GetParticipant(ctx, p2.ID)
	require.NoError(t, err)
	require.Equal(t, models.ParticipantRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
	require.Equal(t, "duplicate", *revoked.RevokeReason)

	require.NoError(t, st.RestoreParticipant(ctx, p2.ID))
	restored, err := st.GetParticipant(ctx, p2.ID)
	require.NoError(t, err)
	require.Equal(t, models.ParticipantActive, restored.Status)
	require.Nil(t, restored.RevokedAt)
}

func TestQueryEventsDateRangeIsInclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, st, "JAN", "2024-01-31", "")
	seedEvent(t, st, "FEB", "2024-02-01", "")
	seedEvent(t, st, "MAR", "2024-03-01", "")

	from := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	page, err := st.QueryEvents(ctx, ListParams{
		Filters:    query.Filters{DateFrom: &from, DateTo: &to},
		Sort:       query.Sort{Field: "event_date", Direction: query.Asc},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.Equal(t, "JAN", page.Data[0].EventCode)
	require.Equal(t, "FEB", page.Data[1].EventCode)
}

func TestQueryLogsTimestampRangeCoversWholeDay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := st.InsertLog(ctx, models.ActivityLog{Action: "event.create", UserID: creator, EntityType: "event", EntityID: "x"})
		require.NoError(t, err)
	}
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	page, err := st.QueryLogs(ctx, ListParams{
		Filters:    query.Filters{DateFrom: &day, DateTo: &day, CreatedBy: creator},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 3, page.Pagination.Total)
	require.Equal(t, "{}", page.Data[0].Details)

	next := day.AddDate(0, 0, 1)
	page, err = st.QueryLogs(ctx, ListParams{
		Filters:    query.Filters{DateFrom: &next},
		Pagination: query.Pagination{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 0, page.Pagination.Total)
}

func TestListResetsOverflowingPage(t *testing.T) {
	st := newTestStore(t)
	ev := seedEvent(t, st, "OVF", "2024-01-01", "")
	seedParticipant(t, st, ev.ID, "One", "one@example.com", "OVF24AAAAAA")

	page, err := st.QueryParticipants(context.Background(), ListParams{
		Pagination: query.Pagination{Page: 92233720368547760, Limit: 100},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, 1, page.Pagination.Page)
	require.False(t, page.Pagination.HasPrev)
}

func TestListKnownTotalSkipsCount(t *testing.T) {
	st := newTestStore(t)
	seedEvent(t, st, "ONE", "2024-01-01", "")
	known := 41
	page, err := st.QueryEvents(context.Background(), ListParams{
		Pagination: query.Pagination{Page: 2, Limit: 20},
		KnownTotal: &known,
	})
	require.NoError(t, err)
	require.Equal(t, 41, page.Pagination.Total)
	require.Equal(t, 3, page.Pagination.TotalPages)
	require.True(t, page.Pagination.HasNext)
}

func TestListReportsQueryExecutionError(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.DB().Close())

	_, err := st.QueryParticipants(context.Background(), ListParams{Pagination: query.Pagination{Page: 1, Limit: 10}})
	require.Error(t, err)
	var qe *QueryExecutionError
	require.True(t, errors.As(err, &qe))
	require.Equal(t, "participants", qe.Table)
	require.Equal(t, 500, qe.HTTPStatus())
}

func TestCertificateIDConflictAndExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev := seedEvent(t, st, "DUP", "2024-01-01", "")
	seedParticipant(t, st, ev.ID, "One", "one@example.com", "DUP24XYZ123")

	exists, err := st.CertificateIDExists(ctx, "DUP24XYZ123")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = st.CertificateIDExists(ctx, "DUP24XYZ999")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = st.CreateParticipant(ctx, models.Participant{
		EventID: ev.ID, Name: "Two", Email: "two@example.com", CertificateID: "DUP24XYZ123", CreatedBy: creator,
	})
	require.ErrorIs(t, err, ErrConflict)

	taken, err := st.ParticipantEmailExists(ctx, ev.ID, "ONE@example.com")
	require.NoError(t, err)
	require.True(t, taken)

	_, err = st.CreateParticipant(ctx, models.Participant{
		EventID: ev.ID, Name: "Again", Email: "one@example.com", CertificateID: "DUP24XYZ456", CreatedBy: creator,
	})
	require.ErrorIs(t, err, ErrDuplicateEmail)
	require.NotErrorIs(t, err, ErrConflict)

	other := seedEvent(t, st, "OTH", "2024-01-01", "")
	seedParticipant(t, st, other.ID, "One", "one@example.com", "OTH24XYZ123")
}

func TestEventLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev := seedEvent(t, st, "LIF", "2030-01-01", "")

	_, err := st.CreateEvent(ctx, models.Event{EventName: "x", EventCode: "LIF", EventDate: "2030-01-01", Status: models.EventUpcoming, CreatedBy: creator})
	require.ErrorIs(t, err, ErrConflict)

	taken, err := st.EventCodeTaken(ctx, "LIF", ev.ID)
	require.NoError(t, err)
	require.False(t, taken)
	taken, err = st.EventCodeTaken(ctx, "LIF", "")
	require.NoError(t, err)
	require.True(t, taken)

	ev.EventName = "Renamed"
	updated, err := st.UpdateEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.EventName)
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	p := seedParticipant(t, st, ev.ID, "Holder", "h@example.com", "LIF30AAAAAA")
	require.ErrorIs(t, st.DeleteEvent(ctx, ev.ID), ErrConflict)

	stats, err := st.Stats(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, models.Stats{Events: 1, UpcomingEvents: 1, Participants: 1, ActiveCertificates: 1}, stats)

	_, err = st.DB().Exec(`DELETE FROM participants WHERE id=?`, p.ID)
	require.NoError(t, err)
	require.NoError(t, st.DeleteEvent(ctx, ev.ID))
	_, err = st.GetEvent(ctx, ev.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.DeleteEvent(ctx, ev.ID), ErrNotFound)
}

func names(ps []models.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}
