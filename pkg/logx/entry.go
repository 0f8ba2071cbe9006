package logx

import (
	"context"
	"fmt"

	"github.com/mave-cms/tenantcore/pkg/kernel"
)

// Field names shared by every tenant-scoped log line.
const (
	FieldRequestID      = "request_id"
	FieldOrganizationID = "organization_id"
	FieldUserID         = "user_id"
	FieldError          = "error"
)

// Entry is one log line under construction. Methods mutate and return the
// receiver, so an Entry must not be shared between goroutines.
type Entry struct {
	logger *Logger
	fields Fields
	err    error
}

func newEntry(logger *Logger) *Entry {
	return &Entry{logger: logger, fields: make(Fields)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	e.fields[key] = value
	return e
}

func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithUser tags the line with the member it concerns. It overrides the
// caller identity copied by WithContext.
func (e *Entry) WithUser(id kernel.UserID) *Entry {
	if id != "" {
		e.fields[FieldUserID] = id.String()
	}
	return e
}

// WithOrganization tags the line with a tenant.
func (e *Entry) WithOrganization(id kernel.OrganizationID) *Entry {
	if id != "" {
		e.fields[FieldOrganizationID] = id.String()
	}
	return e
}

func (e *Entry) WithError(err error) *Entry {
	e.err = err
	if err != nil {
		e.fields[FieldError] = err.Error()
	}
	return e
}

// WithContext copies the request id, the resolved tenant and the caller
// from ctx.
func (e *Entry) WithContext(ctx context.Context) *Entry {
	if ctx == nil {
		return e
	}
	if id := kernel.RequestIDFromContext(ctx); id != "" {
		e.fields[FieldRequestID] = id
	}
	if orgID, ok := kernel.OrganizationFromContext(ctx); ok {
		e.WithOrganization(orgID)
	}
	if ac, ok := kernel.AuthFromContext(ctx); ok {
		e.WithUser(ac.UserID)
	}
	return e
}

func (e *Entry) emit(level Level, msg string) { e.logger.log(level, msg, e.fields, e.err) }

func (e *Entry) Debug(msg string) { e.emit(LevelDebug, msg) }
func (e *Entry) Info(msg string)  { e.emit(LevelInfo, msg) }
func (e *Entry) Warn(msg string)  { e.emit(LevelWarn, msg) }
func (e *Entry) Error(msg string) { e.emit(LevelError, msg) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.emit(LevelDebug, fmt.Sprintf(format, args...))
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.emit(LevelInfo, fmt.Sprintf(format, args...))
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.emit(LevelWarn, fmt.Sprintf(format, args...))
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.emit(LevelError, fmt.Sprintf(format, args...))
}
