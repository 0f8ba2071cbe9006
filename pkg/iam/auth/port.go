package auth

import (
	"context"
	"time"

	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// TokenService mints and verifies signed tokens.
type TokenService interface {
	Issue(subject Subject, kind TokenType) (token string, claims *Claims, err error)
	IssuePair(subject Subject) (*TokenPair, error)
	// Verify checks signature, expiry, kind and the deny-list.
	Verify(ctx context.Context, token string, expected TokenType) (*Claims, error)
	Revoke(ctx context.Context, claims *Claims) error
}

// DenyList records revoked token ids until the token would have expired anyway.
type DenyList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuditService records authentication events
type AuditService interface {
	LogLoginAttempt(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID, method string, success bool, ip string)
	LogLogout(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID)
	LogTokenRefresh(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID)
	LogSecondFactor(ctx context.Context, userID kernel.UserID, method string, success bool)
	LogAccountCreated(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID, method string)
	LogPasswordReset(ctx context.Context, userID kernel.UserID, stage string, success bool)
}
