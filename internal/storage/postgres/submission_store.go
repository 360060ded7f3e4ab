// Package postgres provides Postgres-backed persistence for contact form submissions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
)

// DefaultTable is the table submissions are written to when none is configured.
const DefaultTable = "contact_form"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Querier is the subset of a pgx connection the store needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueryError reports a failed statement. Code carries the SQLSTATE when the server
// returned one.
type QueryError struct {
	Code string
	Err  error
}

func (e *QueryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("insert submission: %v", e.Err)
	}
	return fmt.Sprintf("insert submission (sqlstate %s): %v", e.Code, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// SubmissionStore writes validated submissions. It holds no connection; callers pass the
// leased connection for each insert.
type SubmissionStore struct {
	table string
	query string
}

// NewSubmissionStore validates table and prepares the insert statement.
func NewSubmissionStore(table string) (*SubmissionStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	name,
	email,
	phone,
	message
) VALUES (
	$1, NULLIF($2, ''), NULLIF($3, ''), $4
) RETURNING id`, table)
	return &SubmissionStore{table: table, query: query}, nil
}

// Table returns the destination table name.
func (s *SubmissionStore) Table() string {
	return s.table
}

// Insert persists sub and returns the generated row id. Empty email or phone values are
// stored as NULL.
func (s *SubmissionStore) Insert(ctx context.Context, q Querier, sub form.Submission) (int64, error) {
	if s == nil || q == nil {
		return 0, fmt.Errorf("submission store is not configured")
	}
	var id int64
	err := q.QueryRow(ctx, s.query, sub.Name, sub.Email, sub.Phone, sub.Message).Scan(&id)
	if err != nil {
		return 0, &QueryError{Code: sqlState(err), Err: err}
	}
	return id, nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
