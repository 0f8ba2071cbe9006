package kernel

import "context"

// ============================================================================
// Context Types
// ============================================================================

// AuthContext is the verified identity attached to every authenticated request.
type AuthContext struct {
	UserID         UserID         `json:"user_id"`
	OrganizationID OrganizationID `json:"organization_id"`
	Email          string         `json:"email"`
	TokenID        string         `json:"token_id"`
}

// IsValid reports whether the identity carries both a user and a tenant.
func (ac *AuthContext) IsValid() bool {
	return ac != nil && !ac.UserID.IsEmpty() && !ac.OrganizationID.IsEmpty()
}

// BelongsTo reports whether the identity is a member of the given tenant.
func (ac *AuthContext) BelongsTo(orgID OrganizationID) bool {
	return ac.IsValid() && ac.OrganizationID == orgID
}

// ============================================================================
// Context Keys
// ============================================================================

type ContextKey string

const (
	// AuthContextKey stores *AuthContext in context.Context
	AuthContextKey ContextKey = "auth_context"

	// OrganizationContextKey stores the resolved tenant OrganizationID
	OrganizationContextKey ContextKey = "organization_id"

	// RequestIDKey stores the request identifier
	RequestIDKey ContextKey = "request_id"
)

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// AuthFromContext returns the identity stored in ctx, if any.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return ac, ok && ac != nil
}

// WithOrganization returns a copy of ctx carrying the resolved tenant.
func WithOrganization(ctx context.Context, orgID OrganizationID) context.Context {
	return context.WithValue(ctx, OrganizationContextKey, orgID)
}

// OrganizationFromContext returns the resolved tenant stored in ctx, if any.
func OrganizationFromContext(ctx context.Context) (OrganizationID, bool) {
	id, ok := ctx.Value(OrganizationContextKey).(OrganizationID)
	return id, ok && !id.IsEmpty()
}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
