package iammemory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/user"
	"github.com/mave-cms/tenantcore/pkg/kernel"
)

type UserRepository struct {
	mu    sync.RWMutex
	users map[kernel.UserID]user.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[kernel.UserID]user.User)}
}

func clone(u user.User) user.User {
	u.BackupCodes = append(pq.StringArray(nil), u.BackupCodes...)
	return u
}

func (r *UserRepository) conflict(u *user.User) error {
	for id, o := range r.users {
		if id == u.ID || o.IsDeleted() || o.OrganizationID != u.OrganizationID {
			continue
		}
		if strings.EqualFold(o.Email, u.Email) {
			return user.ErrEmailTaken()
		}
		if u.Username != nil && o.Username != nil && *o.Username == *u.Username {
			return user.ErrUsernameTaken()
		}
	}
	return nil
}

func (r *UserRepository) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conflict(u); err != nil {
		return err
	}
	r.users[u.ID] = clone(*u)
	return nil
}

func (r *UserRepository) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[u.ID]
	if !ok || cur.IsDeleted() {
		return user.ErrNotFound()
	}
	if err := r.conflict(u); err != nil {
		return err
	}
	next := clone(*u)
	// columns owned by the conditional statements
	next.FailedLoginAttempts = cur.FailedLoginAttempts
	next.LockedUntil = cur.LockedUntil
	next.PasswordResetToken = cur.PasswordResetToken
	next.PasswordResetExpiresAt = cur.PasswordResetExpiresAt
	next.LastLoginAt = cur.LastLoginAt
	next.LastLoginIP = cur.LastLoginIP
	next.DeletedAt = cur.DeletedAt
	r.users[u.ID] = next
	return nil
}

func (r *UserRepository) find(match func(u *user.User) bool) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if !u.IsDeleted() && match(&u) {
			out := clone(u)
			return &out, nil
		}
	}
	return nil, user.ErrNotFound()
}

func (r *UserRepository) FindByID(_ context.Context, id kernel.UserID) (*user.User, error) {
	return r.find(func(u *user.User) bool { return u.ID == id })
}

func (r *UserRepository) FindByEmail(_ context.Context, orgID kernel.OrganizationID, email string) (*user.User, error) {
	return r.find(func(u *user.User) bool {
		return u.OrganizationID == orgID && strings.EqualFold(u.Email, email)
	})
}

func (r *UserRepository) FindByUsername(_ context.Context, orgID kernel.OrganizationID, username string) (*user.User, error) {
	return r.find(func(u *user.User) bool {
		return u.OrganizationID == orgID && u.Username != nil && *u.Username == username
	})
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, orgID kernel.OrganizationID, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, orgID, email)
	return err == nil, nil
}

// mutate applies fn to a live user under the write lock.
func (r *UserRepository) mutate(id kernel.UserID, fn func(u *user.User) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.IsDeleted() {
		return false, user.ErrNotFound()
	}
	if !fn(&u) {
		return false, nil
	}
	u.UpdatedAt = time.Now()
	r.users[id] = u
	return true, nil
}

func (r *UserRepository) RecordFailedLogin(_ context.Context, id kernel.UserID, threshold int, lockUntil time.Time) (int, error) {
	var attempts int
	_, err := r.mutate(id, func(u *user.User) bool {
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= threshold {
			t := lockUntil
			u.LockedUntil = &t
		}
		attempts = u.FailedLoginAttempts
		return true
	})
	return attempts, err
}

func (r *UserRepository) ResetLoginFailures(_ context.Context, id kernel.UserID) error {
	_, err := r.mutate(id, func(u *user.User) bool {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		return true
	})
	return err
}

func (r *UserRepository) RecordLogin(_ context.Context, id kernel.UserID, at time.Time, ip string) error {
	_, err := r.mutate(id, func(u *user.User) bool {
		u.LastLoginAt = &at
		if ip != "" {
			u.LastLoginIP = &ip
		}
		return true
	})
	return err
}

func (r *UserRepository) SetPasswordResetToken(_ context.Context, id kernel.UserID, token string, expiresAt time.Time) error {
	_, err := r.mutate(id, func(u *user.User) bool {
		u.PasswordResetToken = &token
		u.PasswordResetExpiresAt = &expiresAt
		return true
	})
	return err
}

func (r *UserRepository) ConsumePasswordReset(_ context.Context, id kernel.UserID, token, newHash string, now time.Time) (bool, error) {
	ok, err := r.mutate(id, func(u *user.User) bool {
		if u.PasswordResetToken == nil || *u.PasswordResetToken != token {
			return false
		}
		if u.PasswordResetExpiresAt == nil || !u.PasswordResetExpiresAt.After(now) {
			return false
		}
		u.PasswordHash = newHash
		u.PasswordResetToken = nil
		u.PasswordResetExpiresAt = nil
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		return true
	})
	if err != nil && !errx.IsCode(err, user.CodeNotFound) {
		return false, err
	}
	return ok, nil
}

func (r *UserRepository) ConsumeBackupCode(_ context.Context, id kernel.UserID, codeHash string) (bool, error) {
	return r.mutate(id, func(u *user.User) bool {
		for i, c := range u.BackupCodes {
			if c == codeHash {
				codes := append(pq.StringArray(nil), u.BackupCodes[:i]...)
				u.BackupCodes = append(codes, u.BackupCodes[i+1:]...)
				return true
			}
		}
		return false
	})
}

func (r *UserRepository) SoftDelete(_ context.Context, id kernel.UserID) error {
	_, err := r.mutate(id, func(u *user.User) bool {
		now := time.Now()
		u.DeletedAt = &now
		return true
	})
	return err
}
