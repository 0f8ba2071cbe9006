package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/iam"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// Locals keys set by the middleware.
const (
	LocalsAuth         = "auth"
	LocalsClaims       = "claims"
	LocalsOrganization = "organization"
)

// TenantResolver maps a request host to its organization, or nil.
type TenantResolver interface {
	ResolveHost(ctx context.Context, host string) (*organization.Organization, error)
}

// PermissionChecker answers authorization questions for a user.
type PermissionChecker interface {
	HasAll(ctx context.Context, userID kernel.UserID, slugs []string) (bool, error)
	HasAny(ctx context.Context, userID kernel.UserID, slugs []string) (bool, error)
	IsSuperAdmin(ctx context.Context, userID kernel.UserID) (bool, error)
}

// TokenMiddleware holds the request guards.
type TokenMiddleware struct {
	tokens      TokenService
	tenants     TenantResolver
	permissions PermissionChecker
}

func NewAuthMiddleware(tokens TokenService, tenants TenantResolver, permissions PermissionChecker) *TokenMiddleware {
	return &TokenMiddleware{tokens: tokens, tenants: tenants, permissions: permissions}
}

// GetAuthContext returns the identity set by Authenticate.
func GetAuthContext(c *fiber.Ctx) (*kernel.AuthContext, bool) {
	ac, ok := c.Locals(LocalsAuth).(*kernel.AuthContext)
	return ac, ok && ac != nil
}

// GetClaims returns the verified access token claims set by Authenticate.
func GetClaims(c *fiber.Ctx) (*Claims, bool) {
	claims, ok := c.Locals(LocalsClaims).(*Claims)
	return claims, ok && claims != nil
}

// GetOrganization returns the tenant set by ResolveTenant.
func GetOrganization(c *fiber.Ctx) (*organization.Organization, bool) {
	org, ok := c.Locals(LocalsOrganization).(*organization.Organization)
	return org, ok && org != nil
}

// ResolveTenant attaches the organization addressed by the Host header. A
// host without a known tenant passes through untouched; a lookup failure is
// logged and treated the same way.
func (am *TokenMiddleware) ResolveTenant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		org, err := am.tenants.ResolveHost(ctx, c.Hostname())
		if err != nil {
			logx.WithContext(ctx).WithError(err).Warn("tenant resolution failed")
			return c.Next()
		}
		if org != nil && org.IsActive {
			c.Locals(LocalsOrganization, org)
			c.SetUserContext(kernel.WithOrganization(ctx, org.ID))
		}
		return c.Next()
	}
}

// Authenticate requires a valid, unrevoked access token in the
// Authorization header or the access_token cookie.
func (am *TokenMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return iam.ErrUnauthorized()
		}

		claims, err := am.tokens.Verify(c.UserContext(), token, TokenAccess)
		if err != nil {
			return err
		}

		ac := claims.AuthContext()
		c.Locals(LocalsClaims, claims)
		c.Locals(LocalsAuth, ac)
		c.SetUserContext(kernel.WithAuthContext(c.UserContext(), ac))
		return c.Next()
	}
}

// bearerToken reads "Bearer <token>", falling back to the access_token cookie.
func bearerToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return c.Cookies("access_token")
}

// RequireTenantMatch denies an identity whose organization differs from the
// resolved tenant. Super-admins cross tenants. Requests without a resolved
// tenant pass.
func (am *TokenMiddleware) RequireTenantMatch() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := GetAuthContext(c)
		if !ok {
			return iam.ErrUnauthorized()
		}
		org, ok := GetOrganization(c)
		if !ok || ac.BelongsTo(org.ID) {
			return c.Next()
		}

		isSuper, err := am.permissions.IsSuperAdmin(c.UserContext(), ac.UserID)
		if err != nil {
			return err
		}
		if !isSuper {
			logx.WithContext(c.UserContext()).WithFields(logx.Fields{
				"tenant_id": org.ID.String(),
			}).Warn("cross-tenant request denied")
			return iam.ErrTenantMismatch()
		}
		return c.Next()
	}
}

// RequirePermissions requires every listed permission.
func (am *TokenMiddleware) RequirePermissions(slugs ...string) fiber.Handler {
	return am.require(func(ctx context.Context, id kernel.UserID) (bool, error) {
		return am.permissions.HasAll(ctx, id, slugs)
	})
}

// RequireAnyPermission requires at least one listed permission.
func (am *TokenMiddleware) RequireAnyPermission(slugs ...string) fiber.Handler {
	return am.require(func(ctx context.Context, id kernel.UserID) (bool, error) {
		return am.permissions.HasAny(ctx, id, slugs)
	})
}

// RequireSuperAdmin gates cross-tenant operations.
func (am *TokenMiddleware) RequireSuperAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := GetAuthContext(c)
		if !ok {
			return iam.ErrUnauthorized()
		}
		isSuper, err := am.permissions.IsSuperAdmin(c.UserContext(), ac.UserID)
		if err != nil {
			return err
		}
		if !isSuper {
			return iam.ErrAccessDenied()
		}
		return c.Next()
	}
}

func (am *TokenMiddleware) require(check func(context.Context, kernel.UserID) (bool, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := GetAuthContext(c)
		if !ok {
			return iam.ErrUnauthorized()
		}
		allowed, err := check(c.UserContext(), ac.UserID)
		if err != nil {
			return err
		}
		if !allowed {
			return iam.ErrInsufficientPermissions()
		}
		return c.Next()
	}
}
