package rbac

import (
	"context"
	"sort"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/metricsx"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long a cached decision can outlive a missed
// invalidation.
const DefaultCacheTTL = 5 * time.Minute

// PermissionKey is the cache key for one (user, permission) decision.
func PermissionKey(userID kernel.UserID, slug string) string {
	return UserCachePrefix(userID) + slug
}

// UserCachePrefix namespaces every cached decision of one user.
func UserCachePrefix(userID kernel.UserID) string {
	return "user:" + userID.String() + ":permission:"
}

// PermissionSet is a set of permission slugs.
type PermissionSet map[string]struct{}

func NewPermissionSet(slugs ...string) PermissionSet {
	s := make(PermissionSet, len(slugs))
	for _, slug := range slugs {
		s[slug] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(slug string) bool {
	_, ok := s[slug]
	return ok
}

// Slugs returns the members in sorted order.
func (s PermissionSet) Slugs() []string {
	out := make([]string, 0, len(s))
	for slug := range s {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

func (s PermissionSet) clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithHierarchy(h HierarchyExpander) ResolverOption {
	return func(r *Resolver) {
		if h != nil {
			r.hierarchy = h
		}
	}
}

func WithMetrics(m *metricsx.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// Resolver aggregates the permissions a user holds through effective role
// assignments and answers authorization checks against them.
type Resolver struct {
	roles       RoleRepository
	assignments AssignmentRepository
	cache       PermissionCache
	hierarchy   HierarchyExpander
	metrics     *metricsx.Metrics
	ttl         time.Duration
	now         func() time.Time

	flight singleflight.Group
}

func NewResolver(roles RoleRepository, assignments AssignmentRepository, cache PermissionCache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		roles:       roles,
		assignments: assignments,
		cache:       cache,
		hierarchy:   FlatHierarchy{},
		ttl:         DefaultCacheTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectiveAssignments returns the user's active, unexpired assignments,
// newest first, each joined to its role. Assignments whose role was deleted
// are dropped.
func (r *Resolver) EffectiveAssignments(ctx context.Context, userID kernel.UserID) ([]Assignment, error) {
	now := r.now()
	list, err := r.assignments.ListEffective(ctx, userID, now)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list role assignments", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	if len(list) == 0 {
		return []Assignment{}, nil
	}

	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.RoleID)
	}
	roles, err := r.roles.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load roles", errx.TypeInternal)
	}
	byID := make(map[string]*Role, len(roles))
	for i := range roles {
		if !roles[i].IsDeleted() {
			byID[roles[i].ID] = &roles[i]
		}
	}

	out := make([]Assignment, 0, len(list))
	for _, a := range list {
		role, ok := byID[a.RoleID]
		if !ok || !a.IsEffective(now) {
			continue
		}
		a.Role = role
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AssignedAt.After(out[j].AssignedAt)
	})
	return out, nil
}

// EffectivePermissions is the union of the permission slugs of every role
// reachable from the user's effective assignments.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID kernel.UserID) (PermissionSet, error) {
	set, err := r.permissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.clone(), nil
}

// permissions collapses concurrent computations for the same user. The
// returned set is shared and must not be modified.
func (r *Resolver) permissions(ctx context.Context, userID kernel.UserID) (PermissionSet, error) {
	v, err, _ := r.flight.Do(userID.String(), func() (interface{}, error) {
		return r.compute(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

func (r *Resolver) compute(ctx context.Context, userID kernel.UserID) (PermissionSet, error) {
	assignments, err := r.EffectiveAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(assignments))
	for _, a := range assignments {
		roles = append(roles, *a.Role)
	}
	roles, err = r.hierarchy.Expand(ctx, roles)
	if err != nil {
		return nil, errx.Wrap(err, "failed to expand role hierarchy", errx.TypeInternal)
	}

	set := make(PermissionSet)
	for _, role := range roles {
		for _, slug := range role.Permissions {
			set[slug] = struct{}{}
		}
	}
	return set, nil
}

// HasPermission answers from the cache when it can and populates it on a
// miss. Cache failures degrade to a store read.
func (r *Resolver) HasPermission(ctx context.Context, userID kernel.UserID, slug string) (bool, error) {
	key := PermissionKey(userID, slug)

	allowed, found, err := r.cache.Get(ctx, key)
	switch {
	case err != nil:
		r.metrics.CacheLookup(metricsx.CacheErr)
		logx.WithContext(ctx).WithError(err).Warn("permission cache read failed")
	case found:
		r.metrics.CacheLookup(metricsx.CacheHit)
		return allowed, nil
	default:
		r.metrics.CacheLookup(metricsx.CacheMiss)
	}

	set, err := r.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed = set.Has(slug)

	if err := r.cache.Set(ctx, key, allowed, r.ttl); err != nil {
		logx.WithContext(ctx).WithError(err).Warn("permission cache write failed")
	}
	return allowed, nil
}

// HasAll reports whether the user holds every slug. An empty list is true.
func (r *Resolver) HasAll(ctx context.Context, userID kernel.UserID, slugs []string) (bool, error) {
	if len(slugs) == 0 {
		return true, nil
	}
	set, err := r.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, slug := range slugs {
		if !set.Has(slug) {
			return false, nil
		}
	}
	return true, nil
}

// HasAny reports whether the user holds at least one slug.
func (r *Resolver) HasAny(ctx context.Context, userID kernel.UserID, slugs []string) (bool, error) {
	if len(slugs) == 0 {
		return false, nil
	}
	set, err := r.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, slug := range slugs {
		if set.Has(slug) {
			return true, nil
		}
	}
	return false, nil
}

// IsSuperAdmin reads assignments directly and never consults the cache.
func (r *Resolver) IsSuperAdmin(ctx context.Context, userID kernel.UserID) (bool, error) {
	assignments, err := r.EffectiveAssignments(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.Role.IsSuperAdmin() {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateUser drops every cached decision for the user. Write paths call
// it before reporting success.
func (r *Resolver) InvalidateUser(ctx context.Context, userID kernel.UserID) error {
	r.flight.Forget(userID.String())
	if err := r.cache.DeletePrefix(ctx, UserCachePrefix(userID)); err != nil {
		return errx.Wrap(err, "failed to invalidate permission cache", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	return nil
}

// InvalidateUsers invalidates each user and returns the first failure.
func (r *Resolver) InvalidateUsers(ctx context.Context, userIDs []kernel.UserID) error {
	var first error
	for _, id := range userIDs {
		if err := r.InvalidateUser(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
