package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

const userColumns = `id, name, email, national_id, password_hash, role, is_active, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var nationalID *string
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &nationalID, &u.PasswordHash, &role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	if nationalID != nil {
		u.NationalID = *nationalID
	}
	u.Role = model.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	if !validID(id) {
		return model.User{}, model.ErrUserNotFound
	}
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, persistenceErr("find user by id", err)
	}
	return u, nil
}

// FindByIdentifier matches an already-normalized email or national id.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR national_id = $1 LIMIT 1`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, persistenceErr("find user by identifier", err)
	}
	return u, nil
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Name, u.Email, nullableString(u.NationalID), u.PasswordHash, string(u.Role),
		u.IsActive, u.CreatedAt, u.UpdatedAt)
	if isPgUniqueViolation(err) {
		return model.ErrUserAlreadyExists
	}
	if err != nil {
		return persistenceErr("create user", err)
	}
	return nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role model.Role, at time.Time) error {
	if !validID(id) {
		return model.ErrUserNotFound
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		id, string(role), at)
	if err != nil {
		return persistenceErr("update user role", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// SetActive updates the flag; deactivation revokes the user's open refresh
// tokens in the same transaction.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.updateAndMaybeRevoke(ctx, id, !active, at,
		`UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
}

// UpdatePassword stores the new hash and revokes every open refresh token.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	return r.updateAndMaybeRevoke(ctx, id, true, at,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, at)
}

func (r *UserRepository) updateAndMaybeRevoke(ctx context.Context, id string, revoke bool, at time.Time, stmt string, args ...any) error {
	if !validID(id) {
		return model.ErrUserNotFound
	}
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return model.ErrUserNotFound
		}
		if !revoke {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = $2
			 WHERE user_id = $1 AND is_revoked = FALSE`, id, at)
		return err
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.ErrUserNotFound
	}
	if err != nil {
		return persistenceErr("update user", err)
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return model.ErrUserNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return persistenceErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, persistenceErr("count users", err)
	}
	return count, nil
}

// List pages through accounts, newest first.
func (r *UserRepository) List(ctx context.Context, page int, limit int) ([]model.User, model.Meta, error) {
	page, limit = normalizePaging(page, limit)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, model.Meta{}, persistenceErr("count users", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, model.Meta{}, persistenceErr("list users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, model.Meta{}, persistenceErr("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Meta{}, persistenceErr("list users", err)
	}
	return users, buildMeta(page, limit, total), nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
