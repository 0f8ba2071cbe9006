package authsrv_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mave-cms/tenantcore/pkg/config"
	"github.com/mave-cms/tenantcore/pkg/dbx"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authinfra"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/credential"
	"github.com/mave-cms/tenantcore/pkg/iam/iammemory"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation"
	"github.com/mave-cms/tenantcore/pkg/iam/invitation/invitationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/organization/organizationsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/otp"
	"github.com/mave-cms/tenantcore/pkg/iam/otp/otpsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac/rbacsrv"
	"github.com/mave-cms/tenantcore/pkg/iam/subdomain"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outbox satisfies every notifier port and keeps what would have been sent.
type outbox struct {
	mu          sync.Mutex
	resetTokens map[string]string
	sent        []string
}

func newOutbox() *outbox { return &outbox{resetTokens: map[string]string{}} }

func (o *outbox) record(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, kind)
}

func (o *outbox) SendWelcome(context.Context, *user.User, *organization.Organization) error {
	o.record("welcome")
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, u *user.User, token string, _ time.Duration) error {
	o.mu.Lock()
	o.resetTokens[u.Email] = token
	o.mu.Unlock()
	o.record("reset")
	return nil
}

func (o *outbox) SendNewLogin(context.Context, *user.User, string, time.Time) error {
	o.record("new_login")
	return nil
}

func (o *outbox) SendOrganizationCreated(context.Context, *user.User, *organization.Organization) error {
	o.record("org_created")
	return nil
}

func (o *outbox) SendTwoFactorEnabled(context.Context, *user.User) error  { return nil }
func (o *outbox) SendTwoFactorDisabled(context.Context, *user.User) error { return nil }

func (o *outbox) SendInvitation(context.Context, *invitation.Invitation, *organization.Organization, *user.User) error {
	return nil
}

func (o *outbox) SendInvitationAccepted(context.Context, *user.User, *user.User, *organization.Organization) error {
	return nil
}

func (o *outbox) InvitationURL(token string) string { return "https://mave.io/invitations/" + token }

type stubRoles struct{}

func (stubRoles) AssignRoleBySlug(_ context.Context, userID kernel.UserID, _ kernel.OrganizationID, slug string, _ *kernel.UserID) (*rbac.Assignment, error) {
	return &rbac.Assignment{ID: "a-" + slug, UserID: userID, RoleID: "r-" + slug, Scope: rbac.ScopeGlobal, IsActive: true}, nil
}

func (stubRoles) AssignRole(_ context.Context, in rbacsrv.AssignRoleInput, _ *kernel.UserID) (*rbac.Assignment, error) {
	return &rbac.Assignment{ID: "a-1", UserID: in.UserID, RoleID: in.RoleID}, nil
}

// spyTx runs fn inline and remembers what each transaction returned.
type spyTx struct {
	results []error
}

func (s *spyTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	s.results = append(s.results, err)
	return err
}

// flakyUsers fails user inserts while createErr is set.
type flakyUsers struct {
	*iammemory.UserRepository
	createErr error
}

func (r *flakyUsers) Create(ctx context.Context, u *user.User) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.UserRepository.Create(ctx, u)
}

type fixture struct {
	svc       *authsrv.Service
	twoFactor *otpsrv.TwoFactorService
	invites   *invitationsrv.Service
	users     *iammemory.UserRepository
	flaky     *flakyUsers
	orgRepo   *iammemory.OrganizationRepository
	tx        *spyTx
	tokens    *auth.JWTService
	outbox    *outbox
	now       time.Time
	org       *organization.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, authsrv.Config{MaxLoginAttempts: 3, LockoutDuration: 30 * time.Minute, PasswordMinLength: 8})
}

func newFixtureWith(t *testing.T, cfg authsrv.Config) *fixture {
	t.Helper()
	f := &fixture{
		users:   iammemory.NewUserRepository(),
		orgRepo: iammemory.NewOrganizationRepository(),
		tx:      &spyTx{},
		outbox:  newOutbox(),
		now:     time.Now(),
	}
	f.flaky = &flakyUsers{UserRepository: f.users}
	orgRepo := f.orgRepo
	hasher := credential.NewArgon2Hasher(credential.Params{Memory: 1024, Iterations: 1})
	orgs := organizationsrv.NewService(orgRepo, subdomain.NewResolver(orgRepo, subdomain.Config{BaseDomain: "mave.io"}))

	f.invites = invitationsrv.NewService(
		iammemory.NewInvitationRepository(), orgRepo, f.users, iammemory.NewRoleRepository(),
		stubRoles{}, hasher, dbx.NopTransactor{}, f.outbox, nil, invitationsrv.Config{PasswordMinLength: 8},
	)
	f.tokens = auth.NewJWTService(auth.JWTOptions{
		AccessSecret:  "access-secret-for-tests-only-32b",
		RefreshSecret: "refresh-secret-for-tests-only-32",
	}, authinfra.NewMemoryDenyList())
	f.twoFactor = otpsrv.NewTwoFactorService(f.users, hasher, f.outbox, otp.Config{BackupCodeCount: 3})

	f.svc = authsrv.NewService(
		f.flaky, orgs, f.invites, stubRoles{}, f.tokens, hasher, f.twoFactor, f.outbox,
		authinfra.NewLogxAuditService(), nil, cfg,
	).WithClock(func() time.Time { return f.now }).WithTransactor(f.tx)

	session, err := f.svc.RegisterWithOrganization(context.Background(), authsrv.RegisterOrganizationInput{
		Organization: organizationsrv.CreateInput{Name: "Acme Inc", Slug: "acme"},
		Account:      authsrv.AccountInput{Email: "owner@acme-inc.test", Password: "owner-password"},
	})
	require.NoError(t, err)
	f.org = session.Organization
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *authsrv.Session {
	t.Helper()
	s, err := f.svc.Register(context.Background(), authsrv.RegisterInput{
		Organization: "acme",
		AccountInput: authsrv.AccountInput{Email: email, Password: password},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) login(email, password, code string) (*authsrv.LoginResult, error) {
	return f.svc.Login(context.Background(), authsrv.LoginInput{
		Organization: "acme", Identifier: email, Password: password, TwoFactorCode: code,
	}, "203.0.113.7")
}

func TestRegisterWithOrganization(t *testing.T) {
	f := newFixture(t)

	require.NotNil(t, f.org.Domain)
	assert.Equal(t, "acme-inc", *f.org.Domain)

	owner, err := f.users.FindByEmail(context.Background(), f.org.ID, "owner@acme-inc.test")
	require.NoError(t, err)
	assert.True(t, owner.IsActive)
	assert.NotEqual(t, "owner-password", owner.PasswordHash)
	assert.Contains(t, f.outbox.sent, "org_created")
}

func TestRegisterIssuesUsableSession(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "Ana@Example.test", "ana-password")

	assert.Equal(t, "ana@example.test", s.User.Email)
	assert.False(t, s.User.EmailDomainMatch)
	require.NotNil(t, s.Tokens)

	claims, err := f.tokens.Verify(context.Background(), s.Tokens.AccessToken, auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, claims.UserID)
	assert.Equal(t, f.org.ID, claims.OrganizationID)

	_, err = f.svc.Register(context.Background(), authsrv.RegisterInput{
		Organization: f.org.ID.String(),
		AccountInput: authsrv.AccountInput{Email: "ANA@example.test", Password: "other-password"},
	})
	assert.True(t, errx.IsCode(err, user.CodeEmailTaken))

	_, err = f.svc.Register(context.Background(), authsrv.RegisterInput{
		Organization: "nowhere",
		AccountInput: authsrv.AccountInput{Email: "x@example.test", Password: "x-password"},
	})
	assert.True(t, errx.IsCode(err, organization.CodeNotFound))
}

func TestLoginByEmailAndUsername(t *testing.T) {
	f := newFixture(t)
	name := "Carol"
	_, err := f.svc.Register(context.Background(), authsrv.RegisterInput{
		Organization: "acme",
		AccountInput: authsrv.AccountInput{Email: "carol@example.test", Password: "carol-password", Username: &name},
	})
	require.NoError(t, err)

	res, err := f.login("CAROL@example.test", "carol-password", "")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.False(t, res.RequiresTwoFactor)
	assert.NotNil(t, res.Session.User.LastLoginAt)

	res, err = f.login("carol", "carol-password", "")
	require.NoError(t, err)
	assert.NotNil(t, res.Session)

	_, err = f.login("nobody@example.test", "whatever", "")
	assert.True(t, errx.IsCode(err, auth.CodeInvalidCredentials))
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.test", "bob-password")

	for i := 0; i < 3; i++ {
		_, err := f.login("bob@example.test", "wrong-password", "")
		assert.True(t, errx.IsCode(err, auth.CodeInvalidCredentials))
	}

	_, err := f.login("bob@example.test", "bob-password", "")
	assert.True(t, errx.IsCode(err, auth.CodeAccountLocked), "correct password is refused while locked")

	f.now = f.now.Add(31 * time.Minute)
	res, err := f.login("bob@example.test", "bob-password", "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Session.User.FailedLoginAttempts)

	u, err := f.users.FindByEmail(context.Background(), f.org.ID, "bob@example.test")
	require.NoError(t, err)
	assert.Nil(t, u.LockedUntil)
}

func TestSuccessfulLoginResetsFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.test", "bob-password")

	for i := 0; i < 2; i++ {
		_, _ = f.login("bob@example.test", "wrong-password", "")
	}
	_, err := f.login("bob@example.test", "bob-password", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = f.login("bob@example.test", "wrong-password", "")
	}
	_, err = f.login("bob@example.test", "bob-password", "")
	assert.NoError(t, err, "the counter restarted after the success")
}

func defaultLockout(t *testing.T) authsrv.Config {
	t.Helper()
	t.Setenv("TENANTCORE_ENVIRONMENT", "development")
	t.Setenv("TENANTCORE_DATABASE_DRIVER", "memory")
	t.Setenv("TENANTCORE_RBAC_CACHE_BACKEND", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Auth.Lockout.MaxAttempts)
	require.Equal(t, 30*time.Minute, cfg.Auth.Lockout.Duration)
	return authsrv.Config{
		MaxLoginAttempts:  cfg.Auth.Lockout.MaxAttempts,
		LockoutDuration:   cfg.Auth.Lockout.Duration,
		PasswordMinLength: cfg.Auth.Password.MinLength,
	}
}

func TestLockoutWithDefaultSettings(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, f *fixture, stored func() *user.User)
	}{
		{
			name: "each failure counts once and the fifth locks for thirty minutes",
			run: func(t *testing.T, f *fixture, stored func() *user.User) {
				start := f.now
				for i := 1; i <= 5; i++ {
					_, err := f.login("dora@example.test", "wrong-password", "")
					require.True(t, errx.IsCode(err, auth.CodeInvalidCredentials), "attempt %d", i)
					u := stored()
					assert.Equal(t, i, u.FailedLoginAttempts)
					if i < 5 {
						assert.Nil(t, u.LockedUntil, "attempt %d", i)
					}
				}
				u := stored()
				require.NotNil(t, u.LockedUntil)
				assert.Equal(t, start.Add(30*time.Minute), *u.LockedUntil)

				_, err := f.login("dora@example.test", "dora-password", "")
				assert.True(t, errx.IsCode(err, auth.CodeAccountLocked))
				_, err = f.login("dora@example.test", "wrong-password", "")
				assert.True(t, errx.IsCode(err, auth.CodeAccountLocked))
				assert.Equal(t, 5, stored().FailedLoginAttempts, "locked attempts are not counted")
			},
		},
		{
			name: "a success clears the counter",
			run: func(t *testing.T, f *fixture, stored func() *user.User) {
				for i := 0; i < 4; i++ {
					_, _ = f.login("dora@example.test", "wrong-password", "")
				}
				assert.Equal(t, 4, stored().FailedLoginAttempts)

				_, err := f.login("dora@example.test", "dora-password", "")
				require.NoError(t, err)
				u := stored()
				assert.Equal(t, 0, u.FailedLoginAttempts)
				assert.Nil(t, u.LockedUntil)
			},
		},
		{
			name: "an expired lock clears the counter",
			run: func(t *testing.T, f *fixture, stored func() *user.User) {
				for i := 0; i < 5; i++ {
					_, _ = f.login("dora@example.test", "wrong-password", "")
				}

				f.now = f.now.Add(29 * time.Minute)
				_, err := f.login("dora@example.test", "dora-password", "")
				assert.True(t, errx.IsCode(err, auth.CodeAccountLocked))

				f.now = f.now.Add(time.Minute)
				_, err = f.login("dora@example.test", "wrong-password", "")
				assert.True(t, errx.IsCode(err, auth.CodeInvalidCredentials))
				u := stored()
				assert.Equal(t, 1, u.FailedLoginAttempts, "the count restarts after the lock lapses")
				assert.Nil(t, u.LockedUntil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWith(t, defaultLockout(t))
			f.register(t, "dora@example.test", "dora-password")
			stored := func() *user.User {
				u, err := f.users.FindByEmail(context.Background(), f.org.ID, "dora@example.test")
				require.NoError(t, err)
				return u
			}
			tt.run(t, f, stored)
		})
	}
}

func TestRegisterWithOrganizationRunsInOneTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Len(t, f.tx.results, 1)
	assert.NoError(t, f.tx.results[0])

	f.flaky.createErr = errors.New("users table unavailable")
	_, err := f.svc.RegisterWithOrganization(ctx, authsrv.RegisterOrganizationInput{
		Organization: organizationsrv.CreateInput{Name: "Globex", Slug: "globex"},
		Account:      authsrv.AccountInput{Email: "hank@globex.test", Password: "hank-password"},
	})
	require.Error(t, err)

	require.Len(t, f.tx.results, 2, "organization and owner share one transaction")
	assert.ErrorIs(t, f.tx.results[1], f.flaky.createErr)
	assert.Equal(t, err, f.tx.results[1])
}

func enableTwoFactor(t *testing.T, f *fixture, id kernel.UserID) (string, []string) {
	t.Helper()
	ctx := context.Background()
	enrollment, err := f.twoFactor.GenerateSecret(ctx, id)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	backup, err := f.twoFactor.Enable(ctx, id, code)
	require.NoError(t, err)
	return enrollment.Secret, backup
}

func TestTwoFactorStepUp(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "dana@example.test", "dana-password")
	secret, _ := enableTwoFactor(t, f, s.User.ID)
	ctx := context.Background()

	res, err := f.login("dana@example.test", "dana-password", "")
	require.NoError(t, err)
	assert.True(t, res.RequiresTwoFactor)
	assert.Nil(t, res.Session)
	assert.Equal(t, authsrv.TwoFactorRequiredMessage, res.Message)

	_, err = f.svc.CompleteTwoFactorLogin(ctx, res.TwoFactorToken, "000000", "")
	assert.True(t, errx.IsCode(err, auth.CodeInvalid2FA))

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	session, err := f.svc.CompleteTwoFactorLogin(ctx, res.TwoFactorToken, code, "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Tokens.AccessToken)

	_, err = f.svc.CompleteTwoFactorLogin(ctx, res.TwoFactorToken, code, "")
	assert.True(t, errx.IsCode(err, auth.CodeTokenRevoked), "a step-up token completes one login")

	_, err = f.svc.CompleteTwoFactorLogin(ctx, session.Tokens.AccessToken, code, "")
	assert.True(t, errx.IsCode(err, auth.CodeInvalidTokenType))
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "erin@example.test", "erin-password")
	_, backup := enableTwoFactor(t, f, s.User.ID)
	require.Len(t, backup, 3)

	res, err := f.login("erin@example.test", "erin-password", backup[0])
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	_, err = f.login("erin@example.test", "erin-password", backup[0])
	assert.True(t, errx.IsCode(err, auth.CodeInvalid2FA))

	st, err := f.twoFactor.Status(context.Background(), s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.BackupCodesRemaining)
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "finn@example.test", "finn-password")
	ctx := context.Background()

	pair, err := f.svc.RefreshToken(ctx, s.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.Tokens.RefreshToken, pair.RefreshToken)

	_, err = f.svc.RefreshToken(ctx, s.Tokens.RefreshToken)
	assert.True(t, errx.IsCode(err, auth.CodeTokenRevoked))

	_, err = f.svc.RefreshToken(ctx, pair.AccessToken)
	assert.True(t, errx.IsCode(err, auth.CodeInvalidToken))

	access, err := f.tokens.Verify(ctx, pair.AccessToken, auth.TokenAccess)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, access, pair.RefreshToken))

	_, err = f.tokens.Verify(ctx, pair.AccessToken, auth.TokenAccess)
	assert.True(t, errx.IsCode(err, auth.CodeTokenRevoked))
	_, err = f.svc.RefreshToken(ctx, pair.RefreshToken)
	assert.True(t, errx.IsCode(err, auth.CodeTokenRevoked))
}

func TestPasswordResetRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.register(t, "gus@example.test", "old-password")
	ctx := context.Background()

	msg, err := f.svc.RequestPasswordReset(ctx, "acme", "nobody@example.test")
	require.NoError(t, err)
	assert.Equal(t, authsrv.PasswordResetRequestedMessage, msg)
	assert.Empty(t, f.outbox.resetTokens)

	msg, err = f.svc.RequestPasswordReset(ctx, "acme", "GUS@example.test")
	require.NoError(t, err)
	assert.Equal(t, authsrv.PasswordResetRequestedMessage, msg)
	token := f.outbox.resetTokens["gus@example.test"]
	require.NotEmpty(t, token)

	err = f.svc.ResetPassword(ctx, token, "short")
	assert.True(t, errx.IsCode(err, user.CodeWeakPassword))

	require.NoError(t, f.svc.ResetPassword(ctx, token, "new-password"))

	err = f.svc.ResetPassword(ctx, token, "newer-password")
	assert.True(t, errx.IsCode(err, auth.CodeInvalidResetToken), "reset tokens are single use")

	_, err = f.login("gus@example.test", "old-password", "")
	assert.True(t, errx.IsCode(err, auth.CodeInvalidCredentials))
	_, err = f.login("gus@example.test", "new-password", "")
	assert.NoError(t, err)
}

func TestRegisterWithInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, err := f.users.FindByEmail(ctx, f.org.ID, "owner@acme-inc.test")
	require.NoError(t, err)

	inv, err := f.invites.CreateEmailInvitation(ctx, invitationsrv.CreateEmailInput{
		OrganizationID: f.org.ID, Email: "hana@example.test",
	}, owner.ID)
	require.NoError(t, err)

	s, err := f.svc.RegisterWithInvitation(ctx, authsrv.RegisterInvitationInput{
		Token:       inv.Token,
		MemberInput: invitationsrv.MemberInput{Email: "hana@example.test", Password: "hana-password"},
	})
	require.NoError(t, err)
	assert.Equal(t, f.org.ID, s.User.OrganizationID)
	assert.True(t, s.User.EmailVerified)
	assert.NotNil(t, s.Tokens)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "ivy@example.test", "ivy-password")

	u, err := f.svc.Me(context.Background(), s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "ivy@example.test", u.Email)

	_, err = f.svc.Me(context.Background(), kernel.NewUserID("ghost"))
	assert.True(t, errx.IsCode(err, user.CodeNotFound))
}
