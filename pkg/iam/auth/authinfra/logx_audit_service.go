package authinfra

import (
	"context"
	"time"

	"github.com/mave-cms/tenantcore/pkg/kernel"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// LogxAuditService implements auth.AuditService using structured logx logging.
type LogxAuditService struct{}

func NewLogxAuditService() *LogxAuditService {
	return &LogxAuditService{}
}

func (s *LogxAuditService) LogLoginAttempt(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID, method string, success bool, ip string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event":     "login_attempt",
		"user_id":         userID,
		"organization_id": orgID,
		"method":          method,
		"success":         success,
		"ip":              ip,
		"timestamp":       time.Now(),
	}).Info("Audit: login attempt")
}

func (s *LogxAuditService) LogLogout(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event":     "logout",
		"user_id":         userID,
		"organization_id": orgID,
		"timestamp":       time.Now(),
	}).Info("Audit: logout")
}

func (s *LogxAuditService) LogTokenRefresh(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event":     "token_refresh",
		"user_id":         userID,
		"organization_id": orgID,
		"timestamp":       time.Now(),
	}).Info("Audit: token refresh")
}

func (s *LogxAuditService) LogSecondFactor(ctx context.Context, userID kernel.UserID, method string, success bool) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "second_factor",
		"user_id":     userID,
		"method":      method,
		"success":     success,
		"timestamp":   time.Now(),
	}).Info("Audit: second factor verification")
}

func (s *LogxAuditService) LogAccountCreated(ctx context.Context, userID kernel.UserID, orgID kernel.OrganizationID, method string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event":     "account_created",
		"user_id":         userID,
		"organization_id": orgID,
		"method":          method,
		"timestamp":       time.Now(),
	}).Info("Audit: account created")
}

func (s *LogxAuditService) LogPasswordReset(ctx context.Context, userID kernel.UserID, stage string, success bool) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "password_reset",
		"user_id":     userID,
		"stage":       stage,
		"success":     success,
		"timestamp":   time.Now(),
	}).Info("Audit: password reset")
}
