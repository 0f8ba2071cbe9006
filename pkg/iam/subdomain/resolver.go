package subdomain

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/organization"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// Config parameterizes a Resolver.
type Config struct {
	BaseDomain      string
	Reserved        []string
	SuggestionLimit int
	// MaxAttempts bounds GenerateUnique.
	MaxAttempts int
}

// Resolver owns the subdomain namespace of the organizations table.
type Resolver struct {
	orgs            organization.Repository
	baseDomain      string
	reserved        map[string]struct{}
	suggestionLimit int
	maxAttempts     int
	now             func() time.Time
}

func NewResolver(orgs organization.Repository, cfg Config) *Resolver {
	r := &Resolver{
		orgs:            orgs,
		baseDomain:      strings.ToLower(strings.TrimSpace(cfg.BaseDomain)),
		reserved:        make(map[string]struct{}, len(staticReserved)+len(cfg.Reserved)),
		suggestionLimit: cfg.SuggestionLimit,
		maxAttempts:     cfg.MaxAttempts,
		now:             time.Now,
	}
	if r.baseDomain == "" {
		r.baseDomain = "localhost"
	}
	if r.suggestionLimit <= 0 {
		r.suggestionLimit = 5
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 1000
	}
	for _, s := range staticReserved {
		r.reserved[s] = struct{}{}
	}
	for _, s := range cfg.Reserved {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			r.reserved[s] = struct{}{}
		}
	}
	return r
}

// WithClock overrides the clock used for year based suggestions.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// IsReserved reports whether s is on the reserved list.
func (r *Resolver) IsReserved(s string) bool {
	_, ok := r.reserved[strings.ToLower(s)]
	return ok
}

// ValidateFormat checks length, charset, hyphen placement and reservation.
func (r *Resolver) ValidateFormat(s string) Result {
	switch {
	case len(s) < MinLength:
		return Result{Error: fmt.Sprintf("Subdomain must be at least %d characters long", MinLength)}
	case len(s) > MaxLength:
		return Result{Error: fmt.Sprintf("Subdomain must be at most %d characters long", MaxLength)}
	case !validChars.MatchString(s):
		return Result{Error: "Subdomain can only contain lowercase letters, numbers, and hyphens"}
	case strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-"):
		return Result{Error: "Subdomain cannot start or end with a hyphen"}
	case r.IsReserved(s):
		return Result{Error: "This subdomain is reserved and cannot be used"}
	}
	return Result{Valid: true}
}

// IsAvailable reports whether s is well formed and unused. The answer is a
// point-in-time read; the unique index on organizations.domain stays the
// arbiter at write time.
func (r *Resolver) IsAvailable(ctx context.Context, s string) (bool, error) {
	if !r.ValidateFormat(s).Valid {
		return false, nil
	}
	exists, err := r.orgs.DomainExists(ctx, s, "")
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// SuggestAlternatives returns up to limit available variants of base.
func (r *Resolver) SuggestAlternatives(ctx context.Context, base string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = r.suggestionLimit
	}
	base = Normalize(base)
	suggestions := make([]string, 0, limit)

	try := func(candidate string) (bool, error) {
		ok, err := r.IsAvailable(ctx, candidate)
		if err != nil {
			return false, err
		}
		if ok {
			suggestions = append(suggestions, candidate)
		}
		return len(suggestions) >= limit, nil
	}

	for i := 1; i <= 99; i++ {
		if done, err := try(variant(base, fmt.Sprintf("-%d", i))); err != nil || done {
			return suggestions, err
		}
	}
	for _, suffix := range suggestionSuffixes {
		if done, err := try(variant(base, "-"+suffix)); err != nil || done {
			return suggestions, err
		}
	}
	if _, err := try(variant(base, fmt.Sprintf("-%d", r.now().Year()))); err != nil {
		return suggestions, err
	}
	return suggestions, nil
}

// GenerateUnique derives an available subdomain from an organization name.
func (r *Resolver) GenerateUnique(ctx context.Context, orgName string) (string, error) {
	if strings.TrimSpace(orgName) == "" {
		return "", ErrEmptySource()
	}
	base := Normalize(orgName)

	candidate := base
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		ok, err := r.IsAvailable(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
		candidate = Normalize(variant(base, fmt.Sprintf("-%d", attempt)))
	}

	logx.WithContext(ctx).WithFields(logx.Fields{
		"base":     base,
		"attempts": r.maxAttempts,
	}).Error("subdomain generation exhausted")
	return "", ErrExhausted().WithDetail("base", base)
}

// Check normalizes name and reports availability with suggestions.
func (r *Resolver) Check(ctx context.Context, name string) (*Availability, error) {
	s := Normalize(name)
	out := &Availability{Subdomain: s}

	if res := r.ValidateFormat(s); !res.Valid {
		out.Reason = res.Error
	} else {
		ok, err := r.IsAvailable(ctx, s)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Available = true
			return out, nil
		}
		out.Reason = "Subdomain is already taken"
	}

	suggestions, err := r.SuggestAlternatives(ctx, s, r.suggestionLimit)
	if err != nil {
		return nil, err
	}
	out.Suggestions = suggestions
	return out, nil
}

// ValidateAndReserve returns name normalized when it can be claimed, or an
// error carrying suggestions. Nothing is persisted; the claim happens when
// the organization row is written.
func (r *Resolver) ValidateAndReserve(ctx context.Context, name string) (string, error) {
	a, err := r.Check(ctx, name)
	if err != nil {
		return "", err
	}
	if a.Available {
		return a.Subdomain, nil
	}

	var e *errx.Error
	if r.ValidateFormat(a.Subdomain).Valid {
		e = ErrTaken(a.Subdomain)
	} else {
		e = ErrInvalid(a.Reason).WithDetail("subdomain", a.Subdomain)
	}
	return "", e.WithDetail("suggestions", a.Suggestions)
}

// ExtractFromHost returns the tenant label of hostname, or "" when the host
// is the bare base domain or outside it.
func (r *Resolver) ExtractFromHost(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")

	if host == "" || host == r.baseDomain {
		return ""
	}

	suffix := "." + r.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	rest := strings.TrimSuffix(host, suffix)
	if rest == "" {
		return ""
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// ResolveOrganization maps a subdomain to its organization. Absent tenants
// are reported as (nil, nil) so callers fall through to global behavior.
func (r *Resolver) ResolveOrganization(ctx context.Context, s string) (*organization.Organization, error) {
	if s == "" {
		return nil, nil
	}
	org, err := r.orgs.FindByDomain(ctx, s)
	if err != nil {
		if errx.IsCode(err, organization.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

// ResolveHost combines ExtractFromHost and ResolveOrganization.
func (r *Resolver) ResolveHost(ctx context.Context, hostname string) (*organization.Organization, error) {
	return r.ResolveOrganization(ctx, r.ExtractFromHost(hostname))
}

// variant appends suffix to base, shortening base to stay within MaxLength.
func variant(base, suffix string) string {
	return fitBase(base, len(suffix)) + suffix
}

// fitBase shortens base so that appending n more bytes stays within MaxLength.
func fitBase(base string, n int) string {
	if len(base)+n <= MaxLength {
		return base
	}
	return strings.TrimRight(base[:MaxLength-n], "-")
}
