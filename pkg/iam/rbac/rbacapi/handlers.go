package rbacapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/httpx"
	"github.com/mave-cms/tenantcore/pkg/iam"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacsrv"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type Handlers struct {
	roles       *rbacsrv.RoleService
	permissions *rbacsrv.PermissionService
	mw          *auth.TokenMiddleware
}

func NewHandlers(roles *rbacsrv.RoleService, permissions *rbacsrv.PermissionService, mw *auth.TokenMiddleware) *Handlers {
	return &Handlers{roles: roles, permissions: permissions, mw: mw}
}

// RegisterRoutes mounts roles, assignments, user permission queries and
// the permission catalog under /api/v1.
func (h *Handlers) RegisterRoutes(r fiber.Router) {
	guard := []fiber.Handler{h.mw.Authenticate(), h.mw.RequireTenantMatch()}
	need := h.mw.RequirePermissions

	roles := r.Group("/api/v1/roles", guard...)
	roles.Get("/", need("roles.view"), h.listRoles)
	roles.Post("/", need("roles.create"), h.createRole)
	roles.Post("/assign", need("roles.assign"), h.assignRole)
	roles.Delete("/assignments/:id", need("roles.revoke"), h.revokeAssignment)
	roles.Get("/:id", need("roles.view"), h.getRole)
	roles.Patch("/:id", need("roles.update"), h.updateRole)
	roles.Delete("/:id", need("roles.delete"), h.deleteRole)
	roles.Get("/:id/users", need("roles.view"), h.roleUsers)

	users := r.Group("/api/v1/users", guard...)
	users.Get("/:id/roles", need("roles.view"), h.userRoles)
	users.Get("/:id/permissions", need("permissions.view"), h.userPermissions)

	perms := r.Group("/api/v1/permissions", guard...)
	perms.Post("/check", h.checkPermissions)
	perms.Get("/", need("permissions.view"), h.listPermissions)
	perms.Post("/", need("permissions.manage"), h.createPermission)
	perms.Get("/:id", need("permissions.view"), h.getPermission)
	perms.Patch("/:id", need("permissions.manage"), h.updatePermission)
	perms.Delete("/:id", need("permissions.manage"), h.deletePermission)
}

// ── Roles ─────────────────────────────────────────────────────

func (h *Handlers) listRoles(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	orgID := ac.OrganizationID
	list, err := h.roles.ListRoles(c.UserContext(), &orgID, c.QueryBool("include_system", true))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"roles": list})
}

func (h *Handlers) createRole(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var in rbacsrv.CreateRoleInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	// roles created over HTTP always belong to the caller's organization
	orgID := ac.OrganizationID
	in.OrganizationID = &orgID
	role, err := h.roles.CreateRole(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}

func (h *Handlers) getRole(c *fiber.Ctx) error {
	role, err := h.visibleRole(c)
	if err != nil {
		return err
	}
	return c.JSON(role)
}

func (h *Handlers) updateRole(c *fiber.Ctx) error {
	role, err := h.visibleRole(c)
	if err != nil {
		return err
	}
	var in rbacsrv.UpdateRoleInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	updated, err := h.roles.UpdateRole(c.UserContext(), role.ID, in)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (h *Handlers) deleteRole(c *fiber.Ctx) error {
	role, err := h.visibleRole(c)
	if err != nil {
		return err
	}
	if err := h.roles.RemoveRole(c.UserContext(), role.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) roleUsers(c *fiber.Ctx) error {
	role, err := h.visibleRole(c)
	if err != nil {
		return err
	}
	list, err := h.roles.GetRoleUsers(c.UserContext(), role.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"assignments": list})
}

// visibleRole loads :id and hides other organizations' roles.
func (h *Handlers) visibleRole(c *fiber.Ctx) (*rbac.Role, error) {
	ac, err := identity(c)
	if err != nil {
		return nil, err
	}
	role, err := h.roles.GetRole(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if !role.UsableIn(ac.OrganizationID) {
		return nil, rbac.ErrRoleNotFound()
	}
	return role, nil
}

// ── Assignments ───────────────────────────────────────────────

func (h *Handlers) assignRole(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var in rbacsrv.AssignRoleInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	if err := h.roles.EnsureUserInOrganization(c.UserContext(), in.UserID, ac.OrganizationID); err != nil {
		return err
	}
	a, err := h.roles.AssignRole(c.UserContext(), in, &ac.UserID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (h *Handlers) revokeAssignment(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	a, err := h.roles.GetAssignment(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.roles.EnsureUserInOrganization(c.UserContext(), a.UserID, ac.OrganizationID); err != nil {
		return rbac.ErrAssignmentNotFound()
	}
	if err := h.roles.RevokeRole(c.UserContext(), a.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) userRoles(c *fiber.Ctx) error {
	userID, err := h.memberParam(c)
	if err != nil {
		return err
	}
	list, err := h.roles.GetUserRoles(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"assignments": list})
}

func (h *Handlers) userPermissions(c *fiber.Ctx) error {
	userID, err := h.memberParam(c)
	if err != nil {
		return err
	}
	if c.QueryBool("details", false) {
		perms, err := h.permissions.UserPermissionsWithDetails(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"permissions": perms})
	}
	slugs, err := h.permissions.UserPermissions(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"permissions": slugs})
}

// memberParam reads :id as a member of the caller's organization.
func (h *Handlers) memberParam(c *fiber.Ctx) (kernel.UserID, error) {
	ac, err := identity(c)
	if err != nil {
		return "", err
	}
	userID := kernel.NewUserID(c.Params("id"))
	if err := h.roles.EnsureUserInOrganization(c.UserContext(), userID, ac.OrganizationID); err != nil {
		return "", err
	}
	return userID, nil
}

// ── Permissions ───────────────────────────────────────────────

type checkRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
	// Mode is "all" (default) or "any".
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=all any"`
}

// checkPermissions answers for the caller only.
func (h *Handlers) checkPermissions(c *fiber.Ctx) error {
	ac, err := identity(c)
	if err != nil {
		return err
	}
	var in checkRequest
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	var allowed bool
	if in.Mode == "any" {
		allowed, err = h.permissions.CheckAny(c.UserContext(), ac.UserID, in.Permissions)
	} else {
		allowed, err = h.permissions.CheckAll(c.UserContext(), ac.UserID, in.Permissions)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"allowed": allowed})
}

func (h *Handlers) listPermissions(c *fiber.Ctx) error {
	list, err := h.permissions.List(c.UserContext(), rbac.PermissionFilter{
		Module:     c.Query("module"),
		Category:   c.Query("category"),
		ActiveOnly: c.QueryBool("active_only", true),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"permissions": list})
}

func (h *Handlers) createPermission(c *fiber.Ctx) error {
	var in rbacsrv.CreatePermissionInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	p, err := h.permissions.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *Handlers) getPermission(c *fiber.Ctx) error {
	p, err := h.permissions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *Handlers) updatePermission(c *fiber.Ctx) error {
	var in rbacsrv.UpdatePermissionInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	p, err := h.permissions.Update(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *Handlers) deletePermission(c *fiber.Ctx) error {
	if err := h.permissions.Remove(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func identity(c *fiber.Ctx) (*kernel.AuthContext, error) {
	ac, ok := auth.GetAuthContext(c)
	if !ok {
		return nil, iam.ErrUnauthorized()
	}
	return ac, nil
}
