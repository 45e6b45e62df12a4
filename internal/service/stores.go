package service

import (
	"context"
	"time"

	"go-auth-service/internal/model"
)

// UserStore is implemented by repository.UserRepository (postgres) and
// repository.SQLiteUserRepository. Lookups report model.ErrUserNotFound;
// driver failures wrap model.ErrPersistence.
type UserStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	Create(ctx context.Context, user model.User) error
	UpdateRole(ctx context.Context, id string, role model.Role, at time.Time) error
	// SetActive revokes every open refresh token in the same transaction when active is false.
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	// UpdatePassword revokes every open refresh token in the same transaction.
	UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, page int, limit int) ([]model.User, model.Meta, error)
}

type RefreshTokenStore interface {
	Insert(ctx context.Context, token model.RefreshToken) error
	FindByToken(ctx context.Context, token string) (model.RefreshToken, error)
	// Revoke reports true only for the call that flipped is_revoked.
	Revoke(ctx context.Context, token string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]model.RefreshToken, error)
	Rotate(ctx context.Context, oldToken string, replacement model.RefreshToken, at time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}
