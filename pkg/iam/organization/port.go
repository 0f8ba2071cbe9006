package organization

import (
	"context"

	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// Repository persists organizations. Lookups ignore soft-deleted rows unless
// the method says otherwise; slug and domain uniqueness is enforced by the
// store and reported as ErrSlugTaken / ErrDomainTaken.
type Repository interface {
	Create(ctx context.Context, org *Organization) error
	Update(ctx context.Context, org *Organization) error

	FindByID(ctx context.Context, id kernel.OrganizationID) (*Organization, error)
	// FindByIDIncludingDeleted also returns tombstoned rows, for Restore.
	FindByIDIncludingDeleted(ctx context.Context, id kernel.OrganizationID) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
	FindByDomain(ctx context.Context, domain string) (*Organization, error)

	SlugExists(ctx context.Context, slug string, exclude kernel.OrganizationID) (bool, error)
	DomainExists(ctx context.Context, domain string, exclude kernel.OrganizationID) (bool, error)

	List(ctx context.Context, filter ListFilter, opts kernel.PaginationOptions) (kernel.Paginated[Organization], error)

	SoftDelete(ctx context.Context, id kernel.OrganizationID) error
	Restore(ctx context.Context, id kernel.OrganizationID) error
	HardDelete(ctx context.Context, id kernel.OrganizationID) error
}
