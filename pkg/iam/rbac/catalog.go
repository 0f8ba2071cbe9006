package rbac

// PermissionSeed describes a catalog permission.
type PermissionSeed struct {
	Slug        string
	Name        string
	Description string
	Category    string
	Risk        RiskLevel
	RequiresMFA bool
	DependsOn   []string
}

// Module is the part of the slug before the first dot.
func (p PermissionSeed) Module() string {
	for i := 0; i < len(p.Slug); i++ {
		if p.Slug[i] == '.' {
			return p.Slug[:i]
		}
	}
	return p.Slug
}

// RoleSeed describes a system role.
type RoleSeed struct {
	Slug        string
	Name        string
	Description string
	Priority    int
	Permissions []string
	// Restricted roles are never granted through the assignable role list.
	Restricted bool
}

// DefaultPermissions is the built-in permission catalog.
func DefaultPermissions() []PermissionSeed {
	return []PermissionSeed{
		// organizations
		{Slug: "organizations.view", Name: "View Organizations", Category: "organizations", Risk: RiskLow},
		{Slug: "organizations.create", Name: "Create Organizations", Category: "organizations", Risk: RiskMedium},
		{Slug: "organizations.update", Name: "Update Organizations", Category: "organizations", Risk: RiskMedium, DependsOn: []string{"organizations.view"}},
		{Slug: "organizations.delete", Name: "Delete Organizations", Category: "organizations", Risk: RiskCritical, RequiresMFA: true, DependsOn: []string{"organizations.view"}},

		// users
		{Slug: "users.view", Name: "View Users", Category: "users", Risk: RiskLow},
		{Slug: "users.create", Name: "Create Users", Category: "users", Risk: RiskMedium},
		{Slug: "users.update", Name: "Update Users", Category: "users", Risk: RiskMedium, DependsOn: []string{"users.view"}},
		{Slug: "users.delete", Name: "Delete Users", Category: "users", Risk: RiskHigh, DependsOn: []string{"users.view"}},
		{Slug: "users.invite", Name: "Invite Users", Category: "users", Risk: RiskMedium},

		// roles
		{Slug: "roles.view", Name: "View Roles", Category: "roles", Risk: RiskLow},
		{Slug: "roles.create", Name: "Create Roles", Category: "roles", Risk: RiskHigh, DependsOn: []string{"roles.view"}},
		{Slug: "roles.update", Name: "Update Roles", Category: "roles", Risk: RiskHigh, DependsOn: []string{"roles.view"}},
		{Slug: "roles.delete", Name: "Delete Roles", Category: "roles", Risk: RiskHigh, DependsOn: []string{"roles.view"}},
		{Slug: "roles.assign", Name: "Assign Roles", Category: "roles", Risk: RiskHigh, DependsOn: []string{"roles.view"}},
		{Slug: "roles.revoke", Name: "Revoke Roles", Category: "roles", Risk: RiskHigh, DependsOn: []string{"roles.view"}},

		// permissions
		{Slug: "permissions.view", Name: "View Permissions", Category: "permissions", Risk: RiskLow},
		{Slug: "permissions.manage", Name: "Manage Permissions", Category: "permissions", Risk: RiskCritical, RequiresMFA: true, DependsOn: []string{"permissions.view"}},

		// content
		{Slug: "content.view", Name: "View Content", Category: "content", Risk: RiskLow},
		{Slug: "content.create", Name: "Create Content", Category: "content", Risk: RiskLow},
		{Slug: "content.update", Name: "Update Content", Category: "content", Risk: RiskLow, DependsOn: []string{"content.view"}},
		{Slug: "content.delete", Name: "Delete Content", Category: "content", Risk: RiskMedium, DependsOn: []string{"content.view"}},
		{Slug: "content.publish", Name: "Publish Content", Category: "content", Risk: RiskMedium, DependsOn: []string{"content.view"}},

		// system
		{Slug: "system.view", Name: "View System", Category: "system", Risk: RiskMedium},
		{Slug: "system.manage", Name: "Manage System", Category: "system", Risk: RiskCritical, RequiresMFA: true, DependsOn: []string{"system.view"}},
	}
}

// DefaultRoles are the system roles every tenant can assign.
func DefaultRoles() []RoleSeed {
	all := make([]string, 0, 32)
	for _, p := range DefaultPermissions() {
		all = append(all, p.Slug)
	}
	return []RoleSeed{
		{
			Slug: SuperAdminSlug, Name: "Super Admin", Priority: 100,
			Description: "Full access across every organization",
			Permissions: all,
			Restricted:  true,
		},
		{
			Slug: AdminSlug, Name: "Admin", Priority: 90,
			Description: "Manages an organization and its members",
			Permissions: []string{
				"organizations.view", "organizations.update",
				"users.view", "users.create", "users.update", "users.delete", "users.invite",
				"roles.view", "roles.create", "roles.update", "roles.delete", "roles.assign", "roles.revoke",
				"permissions.view",
				"content.view", "content.create", "content.update", "content.delete", "content.publish",
			},
		},
		{
			Slug: "editor", Name: "Editor", Priority: 50,
			Description: "Creates, edits and publishes content",
			Permissions: []string{
				"users.view",
				"content.view", "content.create", "content.update", "content.delete", "content.publish",
			},
		},
		{
			Slug: "contributor", Name: "Contributor", Priority: 30,
			Description: "Drafts content for review",
			Permissions: []string{"content.view", "content.create", "content.update"},
		},
		{
			Slug: "viewer", Name: "Viewer", Priority: 10,
			Description: "Read-only access",
			Permissions: []string{"content.view"},
		},
	}
}

// ValidatePermissionSet checks a role's permission slugs against the
// catalog: every slug must exist, its dependencies must be in the set, and
// no two members may conflict.
func ValidatePermissionSet(slugs []string, catalog []Permission) error {
	bySlug := make(map[string]*Permission, len(catalog))
	for i := range catalog {
		bySlug[catalog[i].Slug] = &catalog[i]
	}
	set := NewPermissionSet(slugs...)

	for _, slug := range slugs {
		p, ok := bySlug[slug]
		if !ok {
			return ErrInvalidInput("unknown permission").WithDetail("permission", slug)
		}
		for _, dep := range p.DependsOn {
			if !set.Has(dep) {
				return ErrPermissionDependency().
					WithDetail("permission", slug).
					WithDetail("requires", dep)
			}
		}
		for _, other := range p.ConflictsWith {
			if set.Has(other) {
				return ErrPermissionConflict().
					WithDetail("permission", slug).
					WithDetail("conflicts_with", other)
			}
		}
	}
	return nil
}

// Dedupe drops repeated slugs, keeping first occurrence order.
func Dedupe(slugs []string) []string {
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
