package iammemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// ── Roles ──

type RoleRepository struct {
	mu    sync.RWMutex
	roles map[string]rbac.Role
}

func NewRoleRepository() *RoleRepository {
	return &RoleRepository{roles: make(map[string]rbac.Role)}
}

func sameOrg(a, b *kernel.OrganizationID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *RoleRepository) conflict(role *rbac.Role) error {
	for id, o := range r.roles {
		if id != role.ID && !o.IsDeleted() && o.Slug == role.Slug && sameOrg(o.OrganizationID, role.OrganizationID) {
			return rbac.ErrRoleSlugTaken().WithDetail("slug", role.Slug)
		}
	}
	return nil
}

func cloneRole(role rbac.Role) rbac.Role {
	role.Permissions = append(role.Permissions[:0:0], role.Permissions...)
	return role
}

func (r *RoleRepository) Create(_ context.Context, role *rbac.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conflict(role); err != nil {
		return err
	}
	r.roles[role.ID] = cloneRole(*role)
	return nil
}

func (r *RoleRepository) Update(_ context.Context, role *rbac.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.roles[role.ID]
	if !ok || cur.IsDeleted() {
		return rbac.ErrRoleNotFound()
	}
	if err := r.conflict(role); err != nil {
		return err
	}
	r.roles[role.ID] = cloneRole(*role)
	return nil
}

func (r *RoleRepository) FindByID(_ context.Context, id string) (*rbac.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok || role.IsDeleted() {
		return nil, rbac.ErrRoleNotFound().WithDetail("role_id", id)
	}
	out := cloneRole(role)
	return &out, nil
}

func (r *RoleRepository) FindBySlug(_ context.Context, orgID *kernel.OrganizationID, slug string) (*rbac.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if !role.IsDeleted() && role.Slug == slug && sameOrg(role.OrganizationID, orgID) {
			out := cloneRole(role)
			return &out, nil
		}
	}
	return nil, rbac.ErrRoleNotFound().WithDetail("slug", slug)
}

func (r *RoleRepository) FindByIDs(_ context.Context, ids []string) ([]rbac.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rbac.Role, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if role, ok := r.roles[id]; ok && !role.IsDeleted() {
			out = append(out, cloneRole(role))
		}
	}
	return out, nil
}

func (r *RoleRepository) List(_ context.Context, orgID *kernel.OrganizationID, includeSystem bool) ([]rbac.Role, error) {
	r.mu.RLock()
	out := []rbac.Role{}
	for _, role := range r.roles {
		if role.IsDeleted() {
			continue
		}
		if sameOrg(role.OrganizationID, orgID) || (includeSystem && role.OrganizationID == nil) {
			out = append(out, cloneRole(role))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *RoleRepository) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok || role.IsDeleted() {
		return rbac.ErrRoleNotFound().WithDetail("role_id", id)
	}
	now := time.Now()
	role.DeletedAt = &now
	r.roles[id] = role
	return nil
}

// ── Permissions ──

type PermissionRepository struct {
	mu    sync.RWMutex
	perms map[string]rbac.Permission
}

func NewPermissionRepository() *PermissionRepository {
	return &PermissionRepository{perms: make(map[string]rbac.Permission)}
}

func (r *PermissionRepository) Create(_ context.Context, p *rbac.Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.perms {
		if o.Slug == p.Slug {
			return rbac.ErrPermissionSlugTaken().WithDetail("slug", p.Slug)
		}
	}
	r.perms[p.ID] = *p
	return nil
}

func (r *PermissionRepository) Update(_ context.Context, p *rbac.Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.perms[p.ID]; !ok {
		return rbac.ErrPermissionNotFound()
	}
	r.perms[p.ID] = *p
	return nil
}

func (r *PermissionRepository) FindByID(_ context.Context, id string) (*rbac.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.perms[id]
	if !ok {
		return nil, rbac.ErrPermissionNotFound()
	}
	return &p, nil
}

func (r *PermissionRepository) FindBySlug(_ context.Context, slug string) (*rbac.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.perms {
		if p.Slug == slug {
			out := p
			return &out, nil
		}
	}
	return nil, rbac.ErrPermissionNotFound().WithDetail("slug", slug)
}

func (r *PermissionRepository) FindBySlugs(_ context.Context, slugs []string) ([]rbac.Permission, error) {
	want := rbac.NewPermissionSet(slugs...)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []rbac.Permission{}
	for _, p := range r.perms {
		if want.Has(p.Slug) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *PermissionRepository) List(_ context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	r.mu.RLock()
	out := []rbac.Permission{}
	for _, p := range r.perms {
		if filter.Module != "" && p.Module != filter.Module {
			continue
		}
		if filter.Category != "" && (p.Category == nil || *p.Category != filter.Category) {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

// ── Assignments ──

type AssignmentRepository struct {
	mu   sync.RWMutex
	list map[string]rbac.Assignment
}

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{list: make(map[string]rbac.Assignment)}
}

func (r *AssignmentRepository) Create(_ context.Context, a *rbac.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.list {
		if o.SameTuple(a) {
			return rbac.ErrAssignmentExists()
		}
	}
	stored := *a
	stored.Role = nil
	r.list[a.ID] = stored
	return nil
}

func (r *AssignmentRepository) FindByID(_ context.Context, id string) (*rbac.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.list[id]
	if !ok {
		return nil, rbac.ErrAssignmentNotFound().WithDetail("assignment_id", id)
	}
	return &a, nil
}

func (r *AssignmentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.list[id]; !ok {
		return rbac.ErrAssignmentNotFound().WithDetail("assignment_id", id)
	}
	delete(r.list, id)
	return nil
}

// Put stores an assignment as is, bypassing validation. Tests use it to
// seed inactive or expired rows.
func (r *AssignmentRepository) Put(a rbac.Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Role = nil
	r.list[a.ID] = a
}

func (r *AssignmentRepository) filter(match func(a *rbac.Assignment) bool) []rbac.Assignment {
	r.mu.RLock()
	out := []rbac.Assignment{}
	for _, a := range r.list {
		if match(&a) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out
}

func (r *AssignmentRepository) ListEffective(_ context.Context, userID kernel.UserID, now time.Time) ([]rbac.Assignment, error) {
	return r.filter(func(a *rbac.Assignment) bool { return a.UserID == userID && a.IsEffective(now) }), nil
}

func (r *AssignmentRepository) ListByUser(_ context.Context, userID kernel.UserID) ([]rbac.Assignment, error) {
	return r.filter(func(a *rbac.Assignment) bool { return a.UserID == userID }), nil
}

func (r *AssignmentRepository) ListByRole(_ context.Context, roleID string) ([]rbac.Assignment, error) {
	return r.filter(func(a *rbac.Assignment) bool { return a.RoleID == roleID }), nil
}

func (r *AssignmentRepository) UserIDsByRole(ctx context.Context, roleID string) ([]kernel.UserID, error) {
	list, _ := r.ListByRole(ctx, roleID)
	seen := make(map[kernel.UserID]bool, len(list))
	out := make([]kernel.UserID, 0, len(list))
	for _, a := range list {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			out = append(out, a.UserID)
		}
	}
	return out, nil
}
