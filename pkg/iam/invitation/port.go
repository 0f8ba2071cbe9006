package invitation

import (
	"context"
	"time"

	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// Repository persists invitations. Tokens are unique.
type Repository interface {
	Create(ctx context.Context, inv *Invitation) error

	// Revoke moves a pending row to revoked and merges meta into its
	// metadata. It reports false when the row was no longer pending.
	Revoke(ctx context.Context, id string, meta kernel.JSONMap, now time.Time) (bool, error)
	// Extend moves the expiry of a pending email invitation. It reports false
	// when the row was no longer a pending email invitation.
	Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)

	FindByID(ctx context.Context, id string) (*Invitation, error)
	FindByToken(ctx context.Context, token string) (*Invitation, error)
	// FindPendingByEmail returns the newest pending, unexpired email
	// invitation for the address in orgID.
	FindPendingByEmail(ctx context.Context, orgID kernel.OrganizationID, email string, now time.Time) (*Invitation, error)

	List(ctx context.Context, orgID kernel.OrganizationID, status *Status, opts kernel.PaginationOptions) (kernel.Paginated[Invitation], error)

	// ConsumeUse records one acceptance in a single conditional statement.
	// It matches only a pending, unexpired row with uses left, increments
	// used_count, and moves email invitations (and links reaching max_uses)
	// to accepted. It reports false when the row did not match.
	ConsumeUse(ctx context.Context, id string, acceptedBy kernel.UserID, now time.Time) (bool, error)

	// ExpireStale marks pending rows of orgID past their expiry as expired.
	ExpireStale(ctx context.Context, orgID kernel.OrganizationID, now time.Time) (int64, error)
}
