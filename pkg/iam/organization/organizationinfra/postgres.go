package organizationinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

const orgColumns = `
	id, name, slug, domain, description, logo_url, plan, settings, branding,
	is_active, created_at, updated_at, deleted_at`

// PostgresOrganizationRepository is the PostgreSQL implementation of organization.Repository
type PostgresOrganizationRepository struct {
	db *sqlx.DB
}

func NewPostgresOrganizationRepository(db *sqlx.DB) *PostgresOrganizationRepository {
	return &PostgresOrganizationRepository{db: db}
}

// Create inserts an organization
func (r *PostgresOrganizationRepository) Create(ctx context.Context, org *organization.Organization) error {
	query := `
		INSERT INTO organizations (
			id, name, slug, domain, description, logo_url, plan, settings, branding,
			is_active, created_at, updated_at
		) VALUES (
			:id, :name, :slug, :domain, :description, :logo_url, :plan, :settings, :branding,
			:is_active, :created_at, :updated_at
		)`

	if _, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, org); err != nil {
		return mapWriteError(err, org, "failed to create organization")
	}
	return nil
}

// Update rewrites a live organization
func (r *PostgresOrganizationRepository) Update(ctx context.Context, org *organization.Organization) error {
	query := `
		UPDATE organizations SET
			name = :name,
			slug = :slug,
			domain = :domain,
			description = :description,
			logo_url = :logo_url,
			plan = :plan,
			settings = :settings,
			branding = :branding,
			is_active = :is_active,
			updated_at = :updated_at
		WHERE id = :id AND deleted_at IS NULL`

	res, err := dbx.Conn(ctx, r.db).NamedExecContext(ctx, query, org)
	if err != nil {
		return mapWriteError(err, org, "failed to update organization")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return organization.ErrNotFound().WithDetail("organization_id", org.ID.String())
	}
	return nil
}

// mapWriteError turns unique violations into the matching Conflict error.
func mapWriteError(err error, org *organization.Organization, msg string) error {
	if dbx.IsUniqueViolation(err) {
		if strings.Contains(dbx.ConstraintName(err), "domain") {
			return organization.ErrDomainTaken().WithDetail("domain", org.DomainOrSlug())
		}
		return organization.ErrSlugTaken().WithDetail("slug", org.Slug)
	}
	return errx.Wrap(err, msg, errx.TypeInternal).WithDetail("slug", org.Slug)
}

// FindByID returns a live organization
func (r *PostgresOrganizationRepository) FindByID(ctx context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	return r.findOne(ctx, `id = $1 AND deleted_at IS NULL`, id.String())
}

// FindByIDIncludingDeleted returns an organization even when tombstoned
func (r *PostgresOrganizationRepository) FindByIDIncludingDeleted(ctx context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	return r.findOne(ctx, `id = $1`, id.String())
}

// FindBySlug returns a live organization
func (r *PostgresOrganizationRepository) FindBySlug(ctx context.Context, slug string) (*organization.Organization, error) {
	return r.findOne(ctx, `slug = $1 AND deleted_at IS NULL`, slug)
}

// FindByDomain matches the domain column exactly
func (r *PostgresOrganizationRepository) FindByDomain(ctx context.Context, domain string) (*organization.Organization, error) {
	return r.findOne(ctx, `domain = $1 AND deleted_at IS NULL`, domain)
}

func (r *PostgresOrganizationRepository) findOne(ctx context.Context, where string, arg string) (*organization.Organization, error) {
	query := `SELECT` + orgColumns + ` FROM organizations WHERE ` + where

	var org organization.Organization
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &org, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, organization.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find organization", errx.TypeInternal)
	}
	return &org, nil
}

// SlugExists checks live organizations other than exclude
func (r *PostgresOrganizationRepository) SlugExists(ctx context.Context, slug string, exclude kernel.OrganizationID) (bool, error) {
	return r.exists(ctx, "slug", slug, exclude)
}

// DomainExists checks live organizations other than exclude
func (r *PostgresOrganizationRepository) DomainExists(ctx context.Context, domain string, exclude kernel.OrganizationID) (bool, error) {
	return r.exists(ctx, "domain", domain, exclude)
}

func (r *PostgresOrganizationRepository) exists(ctx context.Context, column, value string, exclude kernel.OrganizationID) (bool, error) {
	query := `SELECT EXISTS(
		SELECT 1 FROM organizations
		WHERE ` + column + ` = $1 AND deleted_at IS NULL AND id::text <> $2)`

	var exists bool
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &exists, query, value, exclude.String()); err != nil {
		return false, errx.Wrap(err, "failed to check organization "+column, errx.TypeInternal).
			WithDetail(column, value)
	}
	return exists, nil
}

// List pages through organizations ordered by creation time
func (r *PostgresOrganizationRepository) List(ctx context.Context, filter organization.ListFilter, opts kernel.PaginationOptions) (kernel.Paginated[organization.Organization], error) {
	opts = opts.Normalize()

	var (
		conds []string
		args  []interface{}
	)
	if !filter.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+strings.ToLower(s)+"%")
		conds = append(conds, fmt.Sprintf("(lower(name) LIKE $%d OR slug LIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := dbx.Conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM organizations`+where, args...); err != nil {
		return kernel.Paginated[organization.Organization]{}, errx.Wrap(err, "failed to count organizations", errx.TypeInternal)
	}

	query := `SELECT` + orgColumns + ` FROM organizations` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var items []organization.Organization
	if err := dbx.Conn(ctx, r.db).SelectContext(ctx, &items, query, append(args, opts.PageSize, opts.Offset())...); err != nil {
		return kernel.Paginated[organization.Organization]{}, errx.Wrap(err, "failed to list organizations", errx.TypeInternal)
	}
	return kernel.NewPaginated(items, opts.Page, opts.PageSize, total), nil
}

// SoftDelete tombstones a live organization
func (r *PostgresOrganizationRepository) SoftDelete(ctx context.Context, id kernel.OrganizationID) error {
	return r.execOne(ctx, `UPDATE organizations SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, "failed to delete organization")
}

// Restore clears the tombstone. A slug or domain reclaimed in the meantime
// surfaces as a Conflict.
func (r *PostgresOrganizationRepository) Restore(ctx context.Context, id kernel.OrganizationID) error {
	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, `UPDATE organizations SET deleted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NOT NULL`, id.String())
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return organization.ErrSlugTaken().WithDetail("organization_id", id.String())
		}
		return errx.Wrap(err, "failed to restore organization", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return organization.ErrNotDeleted()
	}
	return nil
}

// HardDelete removes the row
func (r *PostgresOrganizationRepository) HardDelete(ctx context.Context, id kernel.OrganizationID) error {
	return r.execOne(ctx, `DELETE FROM organizations WHERE id = $1`, id, "failed to hard delete organization")
}

func (r *PostgresOrganizationRepository) execOne(ctx context.Context, query string, id kernel.OrganizationID, msg string) error {
	res, err := dbx.Conn(ctx, r.db).ExecContext(ctx, query, id.String())
	if err != nil {
		return errx.Wrap(err, msg, errx.TypeInternal).WithDetail("organization_id", id.String())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return organization.ErrNotFound().WithDetail("organization_id", id.String())
	}
	return nil
}
