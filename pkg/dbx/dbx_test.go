package dbx_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestWithinTxCommits(t *testing.T) {
	db, mock := newMock(t)
	tx := dbx.NewSQLTransactor(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE invitations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := dbx.Conn(ctx, db).ExecContext(ctx, "UPDATE users SET x = 1"); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return tx.WithinTx(ctx, func(ctx context.Context) error {
			_, err := dbx.Conn(ctx, db).ExecContext(ctx, "UPDATE invitations SET y = 2")
			return err
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	tx := dbx.NewSQLTransactor(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := dbx.Conn(ctx, db).ExecContext(ctx, "UPDATE users SET x = 1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNopTransactorRunsInline(t *testing.T) {
	called := false
	err := dbx.NopTransactor{}.WithinTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pq.Error{Code: "23505", Constraint: "organizations_domain_key"}

	assert.True(t, dbx.IsUniqueViolation(dup))
	assert.True(t, dbx.IsUniqueViolation(fmt.Errorf("insert: %w", dup)))
	assert.False(t, dbx.IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, dbx.IsUniqueViolation(errors.New("23505")))

	assert.Equal(t, "organizations_domain_key", dbx.ConstraintName(dup))
	assert.Empty(t, dbx.ConstraintName(errors.New("x")))
}
