// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, mailer, metrics) and
// composes the IAM container. This is the only place that knows about ALL modules.
package main

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/config"
	"github.com/mave-cms/tenantcore/pkg/iam/iamcontainer"
	"github.com/mave-cms/tenantcore/pkg/iam/iamnotify"
	"github.com/mave-cms/tenantcore/pkg/logx"
	"github.com/mave-cms/tenantcore/pkg/metricsx"
	"github.com/mave-cms/tenantcore/pkg/notifx"
	"github.com/mave-cms/tenantcore/pkg/notifx/notifxconsole"
	"github.com/mave-cms/tenantcore/pkg/notifx/notifxses"
	"github.com/redis/go-redis/v9"
)

// Container holds shared infrastructure and composed module containers.
type Container struct {
	Config *config.Config

	// Infrastructure (shared across all modules)
	DB      *sqlx.DB
	Redis   *redis.Client
	Mailer  *iamnotify.Mailer
	Metrics *metricsx.Metrics

	// Bounded-context containers
	IAM *iamcontainer.Container
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initModules()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure: DB, Redis, mail, metrics
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Database
	if c.Config.Database.Driver == "postgres" {
		db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
		if err != nil {
			logx.Fatalf("Failed to connect to database: %v", err)
		}
		db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
		db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
		db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
		c.DB = db
		logx.Info("  ✅ Database connected")
	}

	// 2. Redis
	if c.Config.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
			logx.Fatalf("Failed to connect to Redis: %v", err)
		}
		logx.Info("  ✅ Redis connected")
	}

	// 3. Mail
	c.initMailer()

	// 4. Metrics
	c.Metrics = metricsx.New()

	logx.Info("✅ Infrastructure initialized")
}

func (c *Container) initMailer() {
	n := c.Config.Notifx

	var provider notifx.EmailSender
	switch n.Provider {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ses, err := notifxses.NewFromRegion(ctx, n.AWSRegion, n.FromAddress)
		if err != nil {
			logx.Fatalf("Unable to configure SES: %v", err)
		}
		provider = ses
		logx.Infof("  ✅ SES mail provider configured (region: %s)", n.AWSRegion)

	case "console":
		provider = notifxconsole.NewConsoleProvider()
		logx.Info("  ✅ Console mail provider configured")

	default:
		logx.Fatalf("Unknown mail provider: %s (use 'console' or 'ses')", n.Provider)
	}

	client := notifx.NewClient(provider, notifx.WithDefaultFrom(n.FromAddress, n.FromName))
	mailer, err := iamnotify.NewMailer(client, n.FrontendURL,
		iamnotify.WithBaseDomain(c.Config.Tenant.BaseDomain),
		iamnotify.WithProduct(n.FromName),
	)
	if err != nil {
		logx.Fatalf("Failed to build mailer: %v", err)
	}
	c.Mailer = mailer
}

// ---------------------------------------------------------------------------
// Module composition
// ---------------------------------------------------------------------------

func (c *Container) initModules() {
	logx.Info("📦 Initializing modules...")

	deps := iamcontainer.Deps{
		DB:      c.DB,
		Cfg:     c.Config,
		Mailer:  c.Mailer,
		Metrics: c.Metrics,
	}
	if c.Redis != nil {
		deps.Redis = c.Redis
	}
	c.IAM = iamcontainer.New(deps)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.IAM.Seed(ctx); err != nil {
		logx.Fatalf("Failed to seed RBAC catalog: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
