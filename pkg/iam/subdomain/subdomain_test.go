package subdomain_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/iammemory"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/iam/subdomain"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, taken ...string) (*subdomain.Resolver, *iammemory.OrganizationRepository) {
	t.Helper()
	repo := iammemory.NewOrganizationRepository()
	for _, d := range taken {
		seedOrg(t, repo, d)
	}
	r := subdomain.NewResolver(repo, subdomain.Config{
		BaseDomain:      "mave.io",
		Reserved:        []string{"Billing"},
		SuggestionLimit: 5,
		MaxAttempts:     10,
	})
	return r, repo
}

func seedOrg(t *testing.T, repo organization.Repository, domain string) *organization.Organization {
	t.Helper()
	d := domain
	org := &organization.Organization{
		ID:        kernel.NewOrganizationID("org-" + domain),
		Name:      domain,
		Slug:      domain,
		Domain:    &d,
		Plan:      organization.DefaultPlan,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), org))
	return org
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Inc", "acme-inc"},
		{"  Hello   World!! ", "hello-world"},
		{"Ünïcode Labs", "ncode-labs"},
		{"a--b---c", "a-b-c"},
		{"--edge--", "edge"},
		{"ab", "ab-org"},
		{"A", "a-org"},
		{"!!!", "org"},
		{strings.Repeat("a", 70), strings.Repeat("a", 63)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, subdomain.Normalize(tt.in))
		})
	}
}

func TestValidateFormat(t *testing.T) {
	r, _ := newResolver(t)

	assert.True(t, r.ValidateFormat("acme").Valid)
	assert.True(t, r.ValidateFormat("a-1").Valid)

	for _, bad := range []string{"ab", strings.Repeat("x", 64), "Acme", "acme_inc", "-acme", "acme-", "www", "api", "billing"} {
		res := r.ValidateFormat(bad)
		assert.False(t, res.Valid, bad)
		assert.NotEmpty(t, res.Error, bad)
	}
}

func TestIsReservedIncludesConfigured(t *testing.T) {
	r, _ := newResolver(t)

	assert.True(t, r.IsReserved("admin"))
	assert.True(t, r.IsReserved("billing"))
	assert.False(t, r.IsReserved("acme"))
}

func TestIsAvailable(t *testing.T) {
	r, _ := newResolver(t, "acme")
	ctx := context.Background()

	ok, err := r.IsAvailable(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsAvailable(ctx, "globex")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAvailable(ctx, "www")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateUnique(t *testing.T) {
	ctx := context.Background()

	t.Run("free base", func(t *testing.T) {
		r, _ := newResolver(t)
		s, err := r.GenerateUnique(ctx, "Acme Inc")
		require.NoError(t, err)
		assert.Equal(t, "acme-inc", s)
	})

	t.Run("taken base gets numeric suffix", func(t *testing.T) {
		r, _ := newResolver(t, "acme-inc", "acme-inc-1")
		s, err := r.GenerateUnique(ctx, "Acme Inc")
		require.NoError(t, err)
		assert.Equal(t, "acme-inc-2", s)
	})

	t.Run("empty name", func(t *testing.T) {
		r, _ := newResolver(t)
		_, err := r.GenerateUnique(ctx, "   ")
		assert.True(t, errx.IsCode(err, subdomain.CodeEmptySource))
	})

	t.Run("exhausted", func(t *testing.T) {
		repo := iammemory.NewOrganizationRepository()
		seedOrg(t, repo, "acme")
		seedOrg(t, repo, "acme-1")
		r := subdomain.NewResolver(repo, subdomain.Config{BaseDomain: "mave.io", MaxAttempts: 2})

		_, err := r.GenerateUnique(ctx, "acme")
		assert.True(t, errx.IsCode(err, subdomain.CodeExhausted))
	})
}

func TestSuggestAlternatives(t *testing.T) {
	r, _ := newResolver(t, "acme", "acme-2")

	got, err := r.SuggestAlternatives(context.Background(), "acme", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-1", "acme-3", "acme-4"}, got)
}

func TestSuggestAlternativesFallsBackToWords(t *testing.T) {
	repo := iammemory.NewOrganizationRepository()
	for i := 1; i <= 99; i++ {
		seedOrg(t, repo, "acme-"+strconv.Itoa(i))
	}
	r := subdomain.NewResolver(repo, subdomain.Config{BaseDomain: "mave.io"})

	got, err := r.SuggestAlternatives(context.Background(), "acme", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-app", "acme-team"}, got)
}

func TestCheck(t *testing.T) {
	r, _ := newResolver(t, "acme")
	ctx := context.Background()

	a, err := r.Check(ctx, "Globex Corp")
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, "globex-corp", a.Subdomain)
	assert.Empty(t, a.Suggestions)

	a, err = r.Check(ctx, "ACME")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Equal(t, "Subdomain is already taken", a.Reason)
	assert.Len(t, a.Suggestions, 5)
	assert.Equal(t, "acme-1", a.Suggestions[0])

	a, err = r.Check(ctx, "www")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Contains(t, a.Reason, "reserved")
}

func TestValidateAndReserve(t *testing.T) {
	r, _ := newResolver(t, "acme")
	ctx := context.Background()

	s, err := r.ValidateAndReserve(ctx, "Globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", s)

	_, err = r.ValidateAndReserve(ctx, "acme")
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, subdomain.CodeTaken))
	var e *errx.Error
	require.True(t, errx.As(err, &e))
	assert.NotEmpty(t, e.Details["suggestions"])

	_, err = r.ValidateAndReserve(ctx, "admin")
	assert.True(t, errx.IsCode(err, subdomain.CodeInvalid))
}

func TestExtractFromHost(t *testing.T) {
	r, _ := newResolver(t)

	tests := map[string]string{
		"acme.mave.io":      "acme",
		"ACME.mave.io:8080": "acme",
		"acme.mave.io.":     "acme",
		"www.acme.mave.io":  "acme",
		"api.acme.mave.io":  "api",
		"mave.io":           "",
		"www.mave.io":       "",
		"localhost:3000":    "",
		"acme.example.com":  "",
		"notmave.io":        "",
		"":                  "",
	}
	for host, want := range tests {
		assert.Equal(t, want, r.ExtractFromHost(host), host)
	}
}

func TestResolveHost(t *testing.T) {
	r, repo := newResolver(t)
	org := seedOrg(t, repo, "acme")
	ctx := context.Background()

	got, err := r.ResolveHost(ctx, "acme.mave.io")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, org.ID, got.ID)

	got, err = r.ResolveHost(ctx, "unknown.mave.io")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = r.ResolveHost(ctx, "mave.io")
	require.NoError(t, err)
	assert.Nil(t, got)
}
