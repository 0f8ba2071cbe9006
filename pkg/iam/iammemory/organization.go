package iammemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type OrganizationRepository struct {
	mu   sync.RWMutex
	orgs map[kernel.OrganizationID]organization.Organization
}

func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{orgs: make(map[kernel.OrganizationID]organization.Organization)}
}

// conflict must be called with the lock held.
func (r *OrganizationRepository) conflict(org *organization.Organization) error {
	for id, o := range r.orgs {
		if id == org.ID || o.IsDeleted() {
			continue
		}
		if o.Slug == org.Slug {
			return organization.ErrSlugTaken().WithDetail("slug", org.Slug)
		}
		if org.Domain != nil && o.Domain != nil && *o.Domain == *org.Domain {
			return organization.ErrDomainTaken().WithDetail("domain", *org.Domain)
		}
	}
	return nil
}

func (r *OrganizationRepository) Create(_ context.Context, org *organization.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conflict(org); err != nil {
		return err
	}
	r.orgs[org.ID] = *org
	return nil
}

func (r *OrganizationRepository) Update(_ context.Context, org *organization.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orgs[org.ID]
	if !ok || cur.IsDeleted() {
		return organization.ErrNotFound()
	}
	if err := r.conflict(org); err != nil {
		return err
	}
	next := *org
	next.DeletedAt = cur.DeletedAt
	r.orgs[org.ID] = next
	return nil
}

func (r *OrganizationRepository) find(match func(o *organization.Organization) bool) (*organization.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orgs {
		if match(&o) {
			out := o
			return &out, nil
		}
	}
	return nil, organization.ErrNotFound()
}

func (r *OrganizationRepository) FindByID(_ context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	return r.find(func(o *organization.Organization) bool { return o.ID == id && !o.IsDeleted() })
}

func (r *OrganizationRepository) FindByIDIncludingDeleted(_ context.Context, id kernel.OrganizationID) (*organization.Organization, error) {
	return r.find(func(o *organization.Organization) bool { return o.ID == id })
}

func (r *OrganizationRepository) FindBySlug(_ context.Context, slug string) (*organization.Organization, error) {
	return r.find(func(o *organization.Organization) bool { return o.Slug == slug && !o.IsDeleted() })
}

func (r *OrganizationRepository) FindByDomain(_ context.Context, domain string) (*organization.Organization, error) {
	return r.find(func(o *organization.Organization) bool {
		return o.Domain != nil && *o.Domain == domain && !o.IsDeleted()
	})
}

func (r *OrganizationRepository) SlugExists(_ context.Context, slug string, exclude kernel.OrganizationID) (bool, error) {
	_, err := r.find(func(o *organization.Organization) bool {
		return o.Slug == slug && o.ID != exclude && !o.IsDeleted()
	})
	return err == nil, nil
}

func (r *OrganizationRepository) DomainExists(_ context.Context, domain string, exclude kernel.OrganizationID) (bool, error) {
	_, err := r.find(func(o *organization.Organization) bool {
		return o.Domain != nil && *o.Domain == domain && o.ID != exclude && !o.IsDeleted()
	})
	return err == nil, nil
}

func (r *OrganizationRepository) List(_ context.Context, filter organization.ListFilter, opts kernel.PaginationOptions) (kernel.Paginated[organization.Organization], error) {
	opts = opts.Normalize()
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	r.mu.RLock()
	var all []organization.Organization
	for _, o := range r.orgs {
		if o.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.IsActive != nil && o.IsActive != *filter.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(o.Name), search) && !strings.Contains(o.Slug, search) {
			continue
		}
		all = append(all, o)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, opts), nil
}

func (r *OrganizationRepository) SoftDelete(_ context.Context, id kernel.OrganizationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok || o.IsDeleted() {
		return organization.ErrNotFound()
	}
	now := time.Now()
	o.DeletedAt = &now
	r.orgs[id] = o
	return nil
}

func (r *OrganizationRepository) Restore(_ context.Context, id kernel.OrganizationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return organization.ErrNotFound()
	}
	if !o.IsDeleted() {
		return organization.ErrNotDeleted()
	}
	o.DeletedAt = nil
	if err := r.conflict(&o); err != nil {
		return err
	}
	r.orgs[id] = o
	return nil
}

func (r *OrganizationRepository) HardDelete(_ context.Context, id kernel.OrganizationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orgs[id]; !ok {
		return organization.ErrNotFound()
	}
	delete(r.orgs, id)
	return nil
}

func paginate[T any](all []T, opts kernel.PaginationOptions) kernel.Paginated[T] {
	start := opts.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + opts.PageSize
	if end > len(all) {
		end = len(all)
	}
	return kernel.NewPaginated(all[start:end], opts.Page, opts.PageSize, len(all))
}
