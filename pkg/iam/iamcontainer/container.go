package iamcontainer

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/mave-cms/tenantcore/pkg/config"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authapi"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authinfra"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/credential"
	"github.com/mave-cms/tenantcore/pkg/iam/iammemory"
	"github.com/mave-cms/tenantcore/pkg/iam/iamnotify"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationapi"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationinfra"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationapi"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationinfra"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/otp"
	"github.com/mave-cms/tenantcore/pkg/iam/otp/otpsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacapi"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacinfra"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/subdomain"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/iam/user/userinfra"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/metricsx"
	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// Deps: explicit external dependencies of the IAM module.
// ---------------------------------------------------------------------------

type Deps struct {
	// DB selects the postgres repositories. Nil selects the memory store.
	DB *sqlx.DB
	// Redis backs the permission cache and the token deny-list when set.
	Redis redis.UniversalClient
	Cfg   *config.Config

	Mailer  *iamnotify.Mailer
	Metrics *metricsx.Metrics
}

// ---------------------------------------------------------------------------
// Container: the public surface of the IAM module.
// ---------------------------------------------------------------------------

type Container struct {
	// Services
	SubdomainResolver   *subdomain.Resolver
	PermissionResolver  *rbac.Resolver
	OrganizationService *organizationsrv.Service
	RoleService         *rbacsrv.RoleService
	PermissionService   *rbacsrv.PermissionService
	InvitationService   *invitationsrv.Service
	TwoFactorService    *otpsrv.TwoFactorService
	AuthService         *authsrv.Service
	TokenService        auth.TokenService

	// Handlers
	AuthHandlers         *authapi.Handlers
	OrganizationHandlers *organizationapi.Handlers
	RBACHandlers         *rbacapi.Handlers
	InvitationHandlers   *invitationapi.Handlers

	// Middleware
	AuthMiddleware *auth.TokenMiddleware

	seeder *rbacsrv.Seeder
}

type repositories struct {
	orgs        organization.Repository
	users       user.Repository
	roles       rbac.RoleRepository
	permissions rbac.PermissionRepository
	assignments rbac.AssignmentRepository
	invitations invitation.Repository
	tx          dbx.Transactor
}

// ---------------------------------------------------------------------------
// New: constructs the IAM dependency graph.
// Order matters: repos → infra → services → handlers → middleware.
// ---------------------------------------------------------------------------

func New(deps Deps) *Container {
	logx.Info("🔧 Initializing IAM container...")

	cfg := deps.Cfg
	c := &Container{}

	// ── Repositories ─────────────────────────────────────────────────────

	repos := newRepositories(deps.DB)

	// ── Infrastructure services ──────────────────────────────────────────

	var cache rbac.PermissionCache
	if cfg.RBAC.CacheBackend == "redis" && deps.Redis != nil {
		cache = rbacinfra.NewRedisPermissionCache(deps.Redis, "")
		logx.Info("  ✅ Using Redis permission cache")
	} else {
		cache = rbacinfra.NewMemoryPermissionCache()
		logx.Warn("  ⚠️  Using in-memory permission cache (single instance only)")
	}

	var denyList auth.DenyList
	if deps.Redis != nil {
		denyList = authinfra.NewRedisDenyList(deps.Redis)
	} else {
		denyList = authinfra.NewMemoryDenyList()
	}

	hasher := credential.NewArgon2Hasher(credential.Params{
		Memory:      cfg.Auth.Password.Memory,
		Iterations:  cfg.Auth.Password.Iterations,
		Parallelism: cfg.Auth.Password.Parallelism,
	})

	jwt := cfg.Auth.JWT
	c.TokenService = auth.NewJWTService(auth.JWTOptions{
		AccessSecret:  jwt.AccessSecret,
		RefreshSecret: jwt.RefreshSecret,
		Issuer:        jwt.Issuer,
		Audience:      jwt.Audience,
		AccessTTL:     jwt.AccessTTL,
		RefreshTTL:    jwt.RefreshTTL,
		StepUpTTL:     jwt.StepUpTTL,
		ResetTTL:      jwt.ResetTTL,
	}, denyList)

	c.SubdomainResolver = subdomain.NewResolver(repos.orgs, subdomain.Config{
		BaseDomain:      cfg.Tenant.BaseDomain,
		Reserved:        cfg.Tenant.Reserved(),
		SuggestionLimit: cfg.Tenant.SuggestionLimit,
		MaxAttempts:     cfg.Tenant.MaxGenerateAttempt,
	})

	c.PermissionResolver = rbac.NewResolver(
		repos.roles,
		repos.assignments,
		cache,
		rbac.WithCacheTTL(cfg.RBAC.CacheTTL),
		rbac.WithMetrics(deps.Metrics),
	)

	auditService := authinfra.NewLogxAuditService()

	// ── Domain services ──────────────────────────────────────────────────

	c.RoleService = rbacsrv.NewRoleService(
		repos.roles,
		repos.permissions,
		repos.assignments,
		repos.users,
		repos.orgs,
		c.PermissionResolver,
	)
	c.PermissionService = rbacsrv.NewPermissionService(repos.permissions, c.PermissionResolver)
	if cfg.RBAC.SeedCatalog {
		c.seeder = rbacsrv.NewSeeder(repos.roles, repos.permissions)
	}

	c.OrganizationService = organizationsrv.NewService(repos.orgs, c.SubdomainResolver)

	c.TwoFactorService = otpsrv.NewTwoFactorService(
		repos.users,
		hasher,
		deps.Mailer,
		otp.Config{
			Issuer:           cfg.TwoFactor.Issuer,
			Skew:             cfg.TwoFactor.Skew,
			BackupCodeCount:  cfg.TwoFactor.BackupCodeCount,
			BackupCodeLength: cfg.TwoFactor.BackupCodeLength,
		},
	)

	c.InvitationService = invitationsrv.NewService(
		repos.invitations,
		repos.orgs,
		repos.users,
		repos.roles,
		c.RoleService,
		hasher,
		repos.tx,
		deps.Mailer,
		deps.Metrics,
		invitationsrv.Config{
			TTL:               cfg.Invitation.TTL,
			TokenBytes:        cfg.Invitation.TokenBytes,
			PasswordMinLength: cfg.Auth.Password.MinLength,
		},
	)

	c.AuthService = authsrv.NewService(
		repos.users,
		c.OrganizationService,
		c.InvitationService,
		c.RoleService,
		c.TokenService,
		hasher,
		c.TwoFactorService,
		deps.Mailer,
		auditService,
		deps.Metrics,
		authsrv.Config{
			MaxLoginAttempts:  cfg.Auth.Lockout.MaxAttempts,
			LockoutDuration:   cfg.Auth.Lockout.Duration,
			PasswordMinLength: cfg.Auth.Password.MinLength,
		},
	).WithTransactor(repos.tx)

	// ── Middleware ────────────────────────────────────────────────────────

	c.AuthMiddleware = auth.NewAuthMiddleware(c.TokenService, c.SubdomainResolver, c.PermissionResolver)

	// ── API handlers ─────────────────────────────────────────────────────

	c.AuthHandlers = authapi.NewHandlers(c.AuthService, c.TwoFactorService, c.AuthMiddleware)
	c.OrganizationHandlers = organizationapi.NewHandlers(c.OrganizationService, c.AuthMiddleware)
	c.RBACHandlers = rbacapi.NewHandlers(c.RoleService, c.PermissionService, c.AuthMiddleware)
	c.InvitationHandlers = invitationapi.NewHandlers(c.InvitationService, c.AuthMiddleware)

	logx.Info("✅ IAM container initialized")
	return c
}

func newRepositories(db *sqlx.DB) repositories {
	if db == nil {
		logx.Warn("  ⚠️  Using in-memory repositories (data is lost on restart)")
		return repositories{
			orgs:        iammemory.NewOrganizationRepository(),
			users:       iammemory.NewUserRepository(),
			roles:       iammemory.NewRoleRepository(),
			permissions: iammemory.NewPermissionRepository(),
			assignments: iammemory.NewAssignmentRepository(),
			invitations: iammemory.NewInvitationRepository(),
			tx:          dbx.NopTransactor{},
		}
	}
	return repositories{
		orgs:        organizationinfra.NewPostgresOrganizationRepository(db),
		users:       userinfra.NewPostgresUserRepository(db),
		roles:       rbacinfra.NewPostgresRoleRepository(db),
		permissions: rbacinfra.NewPostgresPermissionRepository(db),
		assignments: rbacinfra.NewPostgresAssignmentRepository(db),
		invitations: invitationinfra.NewPostgresInvitationRepository(db),
		tx:          dbx.NewSQLTransactor(db),
	}
}

// Seed installs the system permission and role catalog when enabled.
func (c *Container) Seed(ctx context.Context) error {
	if c.seeder == nil {
		return nil
	}
	if err := c.seeder.Seed(ctx); err != nil {
		return err
	}
	logx.Info("  ✅ RBAC catalog seeded")
	return nil
}

// RegisterRoutes mounts the IAM API under /api/v1. The tenant is resolved
// from the Host header for every request.
func (c *Container) RegisterRoutes(app *fiber.App, loginLimiter fiber.Handler) {
	app.Use(c.AuthMiddleware.ResolveTenant())

	c.AuthHandlers.RegisterRoutes(app, loginLimiter)
	c.OrganizationHandlers.RegisterRoutes(app)
	c.InvitationHandlers.RegisterRoutes(app)
	c.RBACHandlers.RegisterRoutes(app)
}
