package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/oklog/ulid/v2"
)

// JWTOptions configures JWTService. Zero durations fall back to defaults.
type JWTOptions struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	StepUpTTL     time.Duration
	ResetTTL      time.Duration
}

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultStepUpTTL  = 5 * time.Minute
	DefaultResetTTL   = time.Hour
)

// JWTService implements TokenService with HS256 tokens. Refresh tokens use
// their own secret, so an access secret leak cannot mint sessions.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	ttl           map[TokenType]time.Duration
	denyList      DenyList
	now           func() time.Time
}

// NewJWTService creates the token service. denyList may be nil, in which
// case Revoke is a no-op and Verify skips the revocation check.
func NewJWTService(opts JWTOptions, denyList DenyList) *JWTService {
	if opts.Issuer == "" {
		opts.Issuer = "tenantcore"
	}
	if opts.Audience == "" {
		opts.Audience = "tenantcore-api"
	}
	return &JWTService{
		accessSecret:  []byte(opts.AccessSecret),
		refreshSecret: []byte(opts.RefreshSecret),
		issuer:        opts.Issuer,
		audience:      opts.Audience,
		ttl: map[TokenType]time.Duration{
			TokenAccess:        orDefault(opts.AccessTTL, DefaultAccessTTL),
			TokenRefresh:       orDefault(opts.RefreshTTL, DefaultRefreshTTL),
			TokenStepUp:        orDefault(opts.StepUpTTL, DefaultStepUpTTL),
			TokenPasswordReset: orDefault(opts.ResetTTL, DefaultResetTTL),
		},
		denyList: denyList,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (j *JWTService) WithClock(now func() time.Time) *JWTService {
	j.now = now
	return j
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// TTL returns the lifetime of a token kind.
func (j *JWTService) TTL(kind TokenType) time.Duration {
	return j.ttl[kind]
}

// jwtClaims is the wire form
type jwtClaims struct {
	OrganizationID kernel.OrganizationID `json:"organization_id"`
	Email          string                `json:"email,omitempty"`
	Type           TokenType             `json:"type"`
	jwt.RegisteredClaims
}

func (j *JWTService) secretFor(kind TokenType) []byte {
	if kind == TokenRefresh {
		return j.refreshSecret
	}
	return j.accessSecret
}

// Issue mints a single token of the given kind.
func (j *JWTService) Issue(subject Subject, kind TokenType) (string, *Claims, error) {
	ttl, ok := j.ttl[kind]
	if !ok {
		return "", nil, ErrInvalidTokenType()
	}
	now := j.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", nil, ErrTokenGenerationFailed(err)
	}

	claims := jwtClaims{
		OrganizationID: subject.OrganizationID,
		Email:          subject.Email,
		Type:           kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Issuer:    j.issuer,
			Subject:   subject.UserID.String(),
			Audience:  jwt.ClaimStrings{j.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretFor(kind))
	if err != nil {
		return "", nil, ErrTokenGenerationFailed(err)
	}
	return signed, toClaims(&claims), nil
}

// IssuePair mints an access and a refresh token.
func (j *JWTService) IssuePair(subject Subject) (*TokenPair, error) {
	access, accessClaims, err := j.Issue(subject, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := j.Issue(subject, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(j.ttl[TokenAccess].Seconds()),
		ExpiresAt:    accessClaims.ExpiresAt,
	}, nil
}

// Verify parses token with the secret of the expected kind and rejects it
// when the embedded kind differs or its id is revoked.
func (j *JWTService) Verify(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	var wire jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &wire, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secretFor(expected), nil
	},
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired()
		}
		return nil, ErrInvalidToken()
	}
	if !parsed.Valid || wire.Subject == "" || wire.ID == "" {
		return nil, ErrInvalidToken()
	}
	if wire.Type != expected {
		return nil, ErrInvalidTokenType()
	}

	if j.denyList != nil {
		revoked, err := j.denyList.IsRevoked(ctx, wire.ID)
		if err != nil {
			return nil, errx.Wrap(err, "failed to check token revocation", errx.TypeInternal)
		}
		if revoked {
			return nil, ErrTokenRevoked()
		}
	}
	return toClaims(&wire), nil
}

// Revoke puts the token id on the deny-list for the rest of its lifetime.
func (j *JWTService) Revoke(ctx context.Context, claims *Claims) error {
	if j.denyList == nil || claims == nil || claims.TokenID == "" {
		return nil
	}
	ttl := claims.Remaining(j.now())
	if ttl == 0 {
		return nil
	}
	if err := j.denyList.Revoke(ctx, claims.TokenID, ttl); err != nil {
		return errx.Wrap(err, "failed to revoke token", errx.TypeInternal)
	}
	return nil
}

func toClaims(w *jwtClaims) *Claims {
	c := &Claims{
		TokenID:        w.ID,
		UserID:         kernel.UserID(w.Subject),
		OrganizationID: w.OrganizationID,
		Email:          w.Email,
		Type:           w.Type,
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.Time
	}
	return c
}
