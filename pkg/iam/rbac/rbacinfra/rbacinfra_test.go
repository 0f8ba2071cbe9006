package rbacinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacinfra"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── caches ──

func newRedisCache(t *testing.T, namespace string) (*rbacinfra.RedisPermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return rbacinfra.NewRedisPermissionCache(client, namespace), mr
}

func TestRedisPermissionCacheRoundTrip(t *testing.T) {
	cache, mr := newRedisCache(t, "tc")
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "user:u1:permission:content.view")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "user:u1:permission:content.view", true, time.Minute))
	require.NoError(t, cache.Set(ctx, "user:u1:permission:content.delete", false, time.Minute))

	assert.True(t, mr.Exists("tc:user:u1:permission:content.view"))

	allowed, found, err := cache.Get(ctx, "user:u1:permission:content.view")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, allowed)

	allowed, found, err = cache.Get(ctx, "user:u1:permission:content.delete")
	require.NoError(t, err)
	assert.True(t, found, "negative decisions are cached too")
	assert.False(t, allowed)
}

func TestRedisPermissionCacheTTL(t *testing.T) {
	cache, mr := newRedisCache(t, "")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user:u1:permission:a", true, 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, found, err := cache.Get(ctx, "user:u1:permission:a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisPermissionCacheDeletePrefix(t *testing.T) {
	cache, mr := newRedisCache(t, "")
	ctx := context.Background()

	u1 := kernel.NewUserID("u1")
	u2 := kernel.NewUserID("u2")
	for _, slug := range []string{"a.view", "b.view", "c.view"} {
		require.NoError(t, cache.Set(ctx, rbac.PermissionKey(u1, slug), true, time.Minute))
		require.NoError(t, cache.Set(ctx, rbac.PermissionKey(u2, slug), true, time.Minute))
	}
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, cache.DeletePrefix(ctx, rbac.UserCachePrefix(u1)))

	for _, slug := range []string{"a.view", "b.view", "c.view"} {
		_, found, err := cache.Get(ctx, rbac.PermissionKey(u1, slug))
		require.NoError(t, err)
		assert.False(t, found)
		_, found, err = cache.Get(ctx, rbac.PermissionKey(u2, slug))
		require.NoError(t, err)
		assert.True(t, found)
	}
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisPermissionCacheReportsOutage(t *testing.T) {
	cache, mr := newRedisCache(t, "")
	mr.Close()

	_, _, err := cache.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errx.IsType(err, errx.TypeExternal))
}

func TestMemoryPermissionCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := rbacinfra.NewMemoryPermissionCache().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user:u1:permission:a", true, time.Minute))
	require.NoError(t, cache.Set(ctx, "user:u2:permission:a", false, time.Minute))

	allowed, found, _ := cache.Get(ctx, "user:u1:permission:a")
	assert.True(t, found)
	assert.True(t, allowed)

	require.NoError(t, cache.DeletePrefix(ctx, "user:u1:"))
	_, found, _ = cache.Get(ctx, "user:u1:permission:a")
	assert.False(t, found)

	now = now.Add(time.Minute)
	_, found, _ = cache.Get(ctx, "user:u2:permission:a")
	assert.False(t, found, "entries expire at their deadline")
	assert.Equal(t, 0, cache.Len())
}

// ── postgres ──

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var roleCols = []string{
	"id", "organization_id", "name", "slug", "description", "permissions", "priority",
	"is_system", "is_assignable", "level", "parent_role_id", "metadata",
	"created_at", "updated_at", "deleted_at",
}

func TestPostgresRoleCreateMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := rbacinfra.NewPostgresRoleRepository(db)
	org := kernel.NewOrganizationID("org-1")

	mock.ExpectExec("INSERT INTO roles").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "roles_org_slug_key"})

	err := repo.Create(context.Background(), &rbac.Role{
		ID: "r-1", OrganizationID: &org, Name: "Editor", Slug: "editor",
		Permissions: []string{"content.view"}, IsAssignable: true,
	})
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, rbac.CodeRoleSlugTaken))
	assert.True(t, errx.IsType(err, errx.TypeConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoleFindByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := rbacinfra.NewPostgresRoleRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM roles WHERE id = \\$1").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow(
			"r-1", "org-1", "Editor", "editor", nil, "{content.view,content.update}", 10,
			false, true, 0, nil, `{"color":"blue"}`,
			now, now, nil,
		))

	role, err := repo.FindByID(context.Background(), "r-1")
	require.NoError(t, err)
	require.NotNil(t, role.OrganizationID)
	assert.Equal(t, kernel.NewOrganizationID("org-1"), *role.OrganizationID)
	assert.Equal(t, []string{"content.view", "content.update"}, []string(role.Permissions))
	assert.Equal(t, "blue", role.Metadata["color"])
	assert.False(t, role.IsDeleted())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoleFindByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := rbacinfra.NewPostgresRoleRepository(db)

	mock.ExpectQuery("SELECT .* FROM roles").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(roleCols))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errx.IsCode(err, rbac.CodeRoleNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoleUpdateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := rbacinfra.NewPostgresRoleRepository(db)

	mock.ExpectExec("UPDATE roles SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &rbac.Role{ID: "r-x", Slug: "x"})
	assert.True(t, errx.IsCode(err, rbac.CodeRoleNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAssignmentCreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := rbacinfra.NewPostgresAssignmentRepository(db)

	mock.ExpectExec("INSERT INTO user_roles").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "user_roles_active_key"})

	err := repo.Create(context.Background(), &rbac.Assignment{
		ID: "a-1", UserID: kernel.NewUserID("u-1"), RoleID: "r-1",
		Scope: rbac.ScopeGlobal, IsActive: true, AssignedAt: time.Now(), UpdatedAt: time.Now(),
	})
	assert.True(t, errx.IsCode(err, rbac.CodeAssignmentExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAssignmentDeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := rbacinfra.NewPostgresAssignmentRepository(db)

	mock.ExpectExec("DELETE FROM user_roles WHERE id = \\$1").
		WithArgs("a-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "a-404")
	assert.True(t, errx.IsCode(err, rbac.CodeAssignmentNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
