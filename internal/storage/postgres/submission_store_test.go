package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
)

func TestInsertReturnsGeneratedID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	store, err := NewSubmissionStore("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, store.Table())

	sub := form.Submission{
		Name:    "Asha",
		Email:   "asha@example.com",
		Message: "Hello &lt;b&gt;hi&lt;/b&gt;",
	}
	mock.ExpectQuery(`INSERT INTO contact_form`).
		WithArgs("Asha", "asha@example.com", "", "Hello &lt;b&gt;hi&lt;/b&gt;").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.Insert(context.Background(), mock, sub)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCustomTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	store, err := NewSubmissionStore("enquiries")
	require.NoError(t, err)

	mock.ExpectQuery(`INSERT INTO enquiries`).
		WithArgs("Raj", "", "9876543210", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	id, err := store.Insert(context.Background(), mock, form.Submission{Name: "Raj", Phone: "9876543210"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestInsertWrapsServerError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	store, err := NewSubmissionStore("contact_form")
	require.NoError(t, err)

	pgErr := &pgconn.PgError{Code: "42P01", Message: `relation "contact_form" does not exist`}
	mock.ExpectQuery(`INSERT INTO contact_form`).WillReturnError(pgErr)

	_, err = store.Insert(context.Background(), mock, form.Submission{Name: "Asha", Email: "a@b.co"})
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "42P01", qerr.Code)
	assert.ErrorIs(t, err, pgErr)
	assert.Contains(t, err.Error(), "sqlstate 42P01")
}

func TestInsertWrapsTransportError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	store, err := NewSubmissionStore("")
	require.NoError(t, err)

	mock.ExpectQuery(`INSERT INTO contact_form`).WillReturnError(errors.New("conn closed"))

	_, err = store.Insert(context.Background(), mock, form.Submission{Name: "Asha", Email: "a@b.co"})
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Empty(t, qerr.Code)
	assert.Equal(t, "insert submission: conn closed", err.Error())
}

func TestNewSubmissionStoreRejectsInvalidTable(t *testing.T) {
	t.Parallel()

	for _, table := range []string{"contact form", "1table", "forms;DROP TABLE x", "public.contact_form"} {
		_, err := NewSubmissionStore(table)
		assert.Error(t, err, table)
	}
}

func TestInsertRequiresQuerier(t *testing.T) {
	t.Parallel()

	store, err := NewSubmissionStore("")
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), nil, form.Submission{Name: "x"})
	require.Error(t, err)
}
