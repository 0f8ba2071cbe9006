package iammemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type InvitationRepository struct {
	mu   sync.Mutex
	invs map[string]invitation.Invitation
}

func NewInvitationRepository() *InvitationRepository {
	return &InvitationRepository{invs: make(map[string]invitation.Invitation)}
}

func (r *InvitationRepository) Create(_ context.Context, inv *invitation.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.invs {
		if o.Token == inv.Token {
			return invitation.ErrTokenTaken()
		}
	}
	r.invs[inv.ID] = *inv
	return nil
}

func (r *InvitationRepository) Revoke(_ context.Context, id string, meta kernel.JSONMap, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invs[id]
	if !ok || inv.Status != invitation.StatusPending {
		return false, nil
	}
	merged := inv.Metadata.Clone()
	for k, v := range meta {
		merged[k] = v
	}
	inv.Metadata = merged
	inv.Status = invitation.StatusRevoked
	inv.UpdatedAt = now
	r.invs[id] = inv
	return true, nil
}

func (r *InvitationRepository) Extend(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invs[id]
	if !ok || inv.Status != invitation.StatusPending || inv.Type != invitation.TypeEmail {
		return false, nil
	}
	inv.ExpiresAt = expiresAt
	inv.UpdatedAt = now
	r.invs[id] = inv
	return true, nil
}

func (r *InvitationRepository) FindByID(_ context.Context, id string) (*invitation.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invs[id]
	if !ok {
		return nil, invitation.ErrNotFound().WithDetail("invitation_id", id)
	}
	return &inv, nil
}

func (r *InvitationRepository) FindByToken(_ context.Context, token string) (*invitation.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invs {
		if inv.Token == token {
			out := inv
			return &out, nil
		}
	}
	return nil, invitation.ErrNotFound()
}

func (r *InvitationRepository) FindPendingByEmail(_ context.Context, orgID kernel.OrganizationID, email string, now time.Time) (*invitation.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *invitation.Invitation
	for _, inv := range r.invs {
		if inv.OrganizationID != orgID || inv.Type != invitation.TypeEmail || inv.Status != invitation.StatusPending {
			continue
		}
		if inv.Email == nil || !strings.EqualFold(*inv.Email, email) || !inv.ExpiresAt.After(now) {
			continue
		}
		if best == nil || inv.CreatedAt.After(best.CreatedAt) {
			cp := inv
			best = &cp
		}
	}
	if best == nil {
		return nil, invitation.ErrNotFound().WithDetail("email", email)
	}
	return best, nil
}

func (r *InvitationRepository) List(_ context.Context, orgID kernel.OrganizationID, status *invitation.Status, opts kernel.PaginationOptions) (kernel.Paginated[invitation.Invitation], error) {
	opts = opts.Normalize()
	r.mu.Lock()
	var all []invitation.Invitation
	for _, inv := range r.invs {
		if inv.OrganizationID != orgID || (status != nil && inv.Status != *status) {
			continue
		}
		all = append(all, inv)
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, opts), nil
}

func (r *InvitationRepository) ConsumeUse(_ context.Context, id string, acceptedBy kernel.UserID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invs[id]
	if !ok || inv.Status != invitation.StatusPending || !inv.ExpiresAt.After(now) {
		return false, nil
	}
	if inv.Type == invitation.TypeLink && inv.MaxUses != nil && inv.UsedCount >= *inv.MaxUses {
		return false, nil
	}

	inv.UsedCount++
	if inv.Type == invitation.TypeEmail || (inv.MaxUses != nil && inv.UsedCount >= *inv.MaxUses) {
		inv.Status = invitation.StatusAccepted
	}
	inv.AcceptedBy = &acceptedBy
	inv.AcceptedAt = &now
	inv.UpdatedAt = now
	r.invs[id] = inv
	return true, nil
}

func (r *InvitationRepository) ExpireStale(_ context.Context, orgID kernel.OrganizationID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, inv := range r.invs {
		if inv.OrganizationID == orgID && inv.Status == invitation.StatusPending && !inv.ExpiresAt.After(now) {
			inv.Status = invitation.StatusExpired
			inv.UpdatedAt = now
			r.invs[id] = inv
			n++
		}
	}
	return n, nil
}
