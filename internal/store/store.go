package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

// ErrDuplicateEmail reports a participant email already registered for the
// event. It does not match ErrConflict so certificate ID retries skip it.
var ErrDuplicateEmail = errors.New("participant email already registered for event")

// Queryer is satisfied by *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// QueryExecutionError wraps any failure reported by the database while
// running a read. It always maps to HTTP 500.
type QueryExecutionError struct {
	Table string
	Op    string
	Err   error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

func (e *QueryExecutionError) HTTPStatus() int { return http.StatusInternalServerError }

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC().Truncate(time.Second) }}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil && isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return res, err
}

func (s *Store) get(ctx context.Context, table string, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, s.db, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return &QueryExecutionError{Table: table, Op: "get", Err: err}
	}
	return nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
