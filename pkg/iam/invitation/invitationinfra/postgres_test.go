package invitationinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationinfra"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invitationCols = []string{
	"id", "organization_id", "email", "token", "role_id", "invited_by", "status", "type",
	"max_uses", "used_count", "message", "metadata", "accepted_by", "accepted_at",
	"expires_at", "created_at", "updated_at",
}

func newRepo(t *testing.T) (*invitationinfra.PostgresInvitationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return invitationinfra.NewPostgresInvitationRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateMapsTokenCollision(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO invitations").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "invitations_token_key"})

	err := repo.Create(context.Background(), &invitation.Invitation{
		ID: "inv-1", OrganizationID: kernel.NewOrganizationID("org-1"), Token: "tok",
		InvitedBy: kernel.NewUserID("u-1"), Status: invitation.StatusPending, Type: invitation.TypeLink,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	})
	assert.True(t, errx.IsCode(err, invitation.CodeTokenTaken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByToken(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM invitations WHERE token = \\$1").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
			"inv-1", "org-1", "ana@acme.test", "tok", "r-editor", "u-1", "pending", "email",
			nil, 0, nil, `{"source":"admin"}`, nil, nil,
			now.Add(time.Hour), now, now,
		))

	inv, err := repo.FindByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, kernel.NewOrganizationID("org-1"), inv.OrganizationID)
	require.NotNil(t, inv.Email)
	assert.Equal(t, "ana@acme.test", *inv.Email)
	assert.Equal(t, invitation.TypeEmail, inv.Type)
	assert.Equal(t, "admin", inv.Metadata["source"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTokenNotFoundHidesToken(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery("SELECT .* FROM invitations WHERE token").
		WithArgs("secret-token").
		WillReturnRows(sqlmock.NewRows(invitationCols))

	_, err := repo.FindByToken(context.Background(), "secret-token")
	require.True(t, errx.IsCode(err, invitation.CodeNotFound))
	var e *errx.Error
	require.True(t, errx.As(err, &e))
	assert.Empty(t, e.Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeUse(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	by := kernel.NewUserID("u-9")

	mock.ExpectExec("UPDATE invitations SET").
		WithArgs("inv-1", "u-9", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE invitations SET").
		WithArgs("inv-1", "u-9", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ConsumeUse(context.Background(), "inv-1", by, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeUse(context.Background(), "inv-1", by, now)
	require.NoError(t, err)
	assert.False(t, ok, "a lost race consumes nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersByStatus(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	status := invitation.StatusPending

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM invitations WHERE organization_id = \\$1 AND status = \\$2").
		WithArgs("org-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("ORDER BY created_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("org-1", "pending", 2, 2).
		WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
			"inv-3", "org-1", nil, "tok-3", nil, "u-1", "pending", "link",
			5, 1, nil, nil, nil, nil,
			now.Add(time.Hour), now, now,
		))

	page, err := repo.List(context.Background(), kernel.NewOrganizationID("org-1"), &status,
		kernel.PaginationOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page.Total)
	assert.Equal(t, 2, page.Page.Pages)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].MaxUses)
	assert.Equal(t, 5, *page.Items[0].MaxUses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireStale(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE invitations SET status = 'expired'").
		WithArgs("org-1", now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.ExpireStale(context.Background(), kernel.NewOrganizationID("org-1"), now)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeOnlyMatchesPending(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	meta := kernel.JSONMap{invitation.MetaRevokedBy: "u-1"}

	mock.ExpectExec("(?s)UPDATE invitations SET\\s+status = 'revoked'.*WHERE id = \\$1 AND status = 'pending'").
		WithArgs("inv-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE invitations SET\\s+status = 'revoked'").
		WithArgs("inv-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Revoke(context.Background(), "inv-1", meta, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Revoke(context.Background(), "inv-1", meta, now)
	require.NoError(t, err)
	assert.False(t, ok, "an accepted row is left alone")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendOnlyTouchesExpiry(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	until := now.Add(7 * 24 * time.Hour)

	mock.ExpectExec("UPDATE invitations SET expires_at = \\$2, updated_at = \\$3\\s+WHERE id = \\$1 AND status = 'pending' AND type = 'email'").
		WithArgs("inv-1", until, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Extend(context.Background(), "inv-1", until, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
