package iamcontainer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/config"
	"github.com/mave-cms/tenantcore/pkg/httpx"
	"github.com/mave-cms/tenantcore/pkg/iam/auth"
	"github.com/mave-cms/tenantcore/pkg/iam/iamcontainer"
	"github.com/mave-cms/tenantcore/pkg/iam/iamnotify"
	"github.com/mave-cms/tenantcore/pkg/iam/rbac"
	"github.com/mave-cms/tenantcore/pkg/metricsx"
	"github.com/mave-cms/tenantcore/pkg/notifx"
	"github.com/mave-cms/tenantcore/pkg/notifx/notifxconsole"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	app     *fiber.App
	outbox  *notifxconsole.ConsoleProvider
	metrics *metricsx.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("TENANTCORE_ENVIRONMENT", "test")
	t.Setenv("TENANTCORE_DATABASE_DRIVER", "memory")
	t.Setenv("TENANTCORE_RBAC_CACHE_BACKEND", "memory")
	t.Setenv("TENANTCORE_TENANT_BASE_DOMAIN", "mave.io")
	t.Setenv("TENANTCORE_AUTH_PASSWORD_ARGON2_MEMORY", "1024")
	t.Setenv("TENANTCORE_AUTH_PASSWORD_ARGON2_ITERATIONS", "1")

	cfg, err := config.Load()
	require.NoError(t, err)

	h := &harness{outbox: notifxconsole.NewConsoleProvider(), metrics: metricsx.New()}
	mailer, err := iamnotify.NewMailer(notifx.NewClient(h.outbox), "https://app.mave.io",
		iamnotify.WithBaseDomain(".mave.io"))
	require.NoError(t, err)

	iam := iamcontainer.New(iamcontainer.Deps{Cfg: cfg, Mailer: mailer, Metrics: h.metrics})
	require.NoError(t, iam.Seed(context.Background()))

	h.app = fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(false)})
	iam.RegisterRoutes(h.app, nil)
	return h
}

func (h *harness) do(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func accessToken(t *testing.T, session map[string]any) string {
	t.Helper()
	tokens, ok := session["tokens"].(map[string]any)
	require.True(t, ok, "session carries tokens")
	token, _ := tokens["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func signUp(t *testing.T, h *harness) map[string]any {
	t.Helper()
	status, session := h.do(t, http.MethodPost, "/api/v1/auth/register/organization", "", map[string]any{
		"organization": map[string]any{"name": "Acme Inc", "slug": "acme-inc"},
		"account":      map[string]any{"email": "Owner@Acme.test", "password": "correct-horse"},
	})
	require.Equal(t, http.StatusCreated, status, session)
	return session
}

func TestSignUpThenMe(t *testing.T) {
	h := newHarness(t)
	session := signUp(t, h)

	org := session["organization"].(map[string]any)
	assert.Equal(t, "acme-inc", org["domain"])
	assert.NotNil(t, session["assignment"], "creator holds the admin role")
	assert.NotEmpty(t, h.outbox.SentTo("owner@acme.test"))

	status, me := h.do(t, http.MethodGet, "/api/v1/auth/me", accessToken(t, session), nil)
	require.Equal(t, http.StatusOK, status, me)
	assert.Equal(t, "owner@acme.test", me["email"])

	status, _ = h.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginResolvesTenantFromHost(t *testing.T) {
	h := newHarness(t)
	signUp(t, h)

	creds := map[string]any{"identifier": "owner@acme.test", "password": "wrong-password"}
	status, body := h.do(t, http.MethodPost, "http://acme-inc.mave.io/api/v1/auth/login", "", creds)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.CodeInvalidCredentials.Code, body["code"])

	creds["password"] = "correct-horse"
	status, body = h.do(t, http.MethodPost, "http://acme-inc.mave.io/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["requires_two_factor"])
	accessToken(t, body["session"].(map[string]any))

	status, body = h.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	assert.Equal(t, http.StatusBadRequest, status, "no tenant in host or body")
	assert.Equal(t, httpx.CodeInvalidFields.Code, body["code"])
}

func TestAdminPermissionsAreEnforced(t *testing.T) {
	h := newHarness(t)
	token := accessToken(t, signUp(t, h))

	status, body := h.do(t, http.MethodPost, "/api/v1/permissions/check", token, map[string]any{
		"permissions": []string{"roles.view", "users.invite"},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["allowed"])

	status, body = h.do(t, http.MethodPost, "/api/v1/permissions/check", token, map[string]any{
		"permissions": []string{"system.manage"},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["allowed"])

	status, body = h.do(t, http.MethodGet, "/api/v1/roles", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["roles"])
}

func TestCrossTenantRequestIsDenied(t *testing.T) {
	h := newHarness(t)
	token := accessToken(t, signUp(t, h))

	status, session := h.do(t, http.MethodPost, "/api/v1/auth/register/organization", "", map[string]any{
		"organization": map[string]any{"name": "Globex", "slug": "globex"},
		"account":      map[string]any{"email": "hank@globex.test", "password": "correct-horse"},
	})
	require.Equal(t, http.StatusCreated, status, session)

	status, _ = h.do(t, http.MethodGet, "http://globex.mave.io/api/v1/roles", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestTenantAdminCannotGrantSuperAdmin(t *testing.T) {
	h := newHarness(t)
	session := signUp(t, h)
	token := accessToken(t, session)
	self := session["user"].(map[string]any)["id"]

	status, _ := h.do(t, http.MethodPost, "/api/v1/auth/register/organization", "", map[string]any{
		"organization": map[string]any{"name": "Globex", "slug": "globex"},
		"account":      map[string]any{"email": "hank@globex.test", "password": "correct-horse"},
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := h.do(t, http.MethodGet, "/api/v1/roles", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	var superAdminID string
	for _, r := range body["roles"].([]any) {
		role := r.(map[string]any)
		if role["slug"] == rbac.SuperAdminSlug {
			superAdminID, _ = role["id"].(string)
			assert.Equal(t, false, role["is_assignable"])
		}
	}
	require.NotEmpty(t, superAdminID)

	status, body = h.do(t, http.MethodPost, "/api/v1/roles/assign", token, map[string]any{
		"user_id": self, "role_id": superAdminID,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, rbac.CodeSuperAdminRequired.Code, body["code"])

	status, body = h.do(t, http.MethodPost, "/api/v1/invitations/link", token, map[string]any{
		"role_id": superAdminID,
	})
	assert.Equal(t, http.StatusForbidden, status, body)

	status, _ = h.do(t, http.MethodGet, "http://globex.mave.io/api/v1/roles", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}
