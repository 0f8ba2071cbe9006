// Package subdomain maps hostnames to tenants and manages the subdomain
// namespace: normalization, validation, availability and suggestions.
package subdomain

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/mave-cms/tenantcore/pkg/errx"
)

const (
	MinLength = 3
	MaxLength = 63

	// padSuffix lengthens names that normalize below MinLength.
	padSuffix = "-org"
)

var staticReserved = []string{
	"www", "api", "admin", "app", "mail", "ftp", "smtp", "cdn", "static",
	"blog", "docs", "help", "support", "status", "monitor", "dev", "staging",
	"test", "demo", "beta", "alpha", "preview", "sandbox", "playground",
}

// suggestionSuffixes are tried after the numeric range.
var suggestionSuffixes = []string{"app", "team", "co", "inc", "ltd", "org", "net"}

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	hyphenRun       = regexp.MustCompile(`-+`)
	validChars      = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// Normalize turns an arbitrary name into a subdomain candidate.
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = disallowedChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = hyphenRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) < MinLength {
		s = strings.TrimLeft(s+padSuffix, "-")
	}
	if len(s) > MaxLength {
		s = strings.TrimRight(s[:MaxLength], "-")
	}
	return s
}

// Result is the outcome of ValidateFormat.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Availability is returned to callers checking a candidate name.
type Availability struct {
	Available   bool     `json:"available"`
	Subdomain   string   `json:"subdomain"`
	Reason      string   `json:"reason,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("SUBDOMAIN")

var (
	CodeInvalid     = ErrRegistry.Register("INVALID", errx.TypeValidation, http.StatusBadRequest, "Invalid subdomain")
	CodeTaken       = ErrRegistry.Register("TAKEN", errx.TypeConflict, http.StatusConflict, "Subdomain is already taken")
	CodeExhausted   = ErrRegistry.Register("EXHAUSTED", errx.TypeInternal, http.StatusInternalServerError, "Unable to generate unique subdomain")
	CodeEmptySource = ErrRegistry.Register("EMPTY_SOURCE", errx.TypeValidation, http.StatusBadRequest, "A name is required to generate a subdomain")
)

func ErrInvalid(reason string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalid, reason)
}

func ErrTaken(subdomain string) *errx.Error {
	return ErrRegistry.New(CodeTaken).WithDetail("subdomain", subdomain)
}

func ErrExhausted() *errx.Error   { return ErrRegistry.New(CodeExhausted) }
func ErrEmptySource() *errx.Error { return ErrRegistry.New(CodeEmptySource) }
