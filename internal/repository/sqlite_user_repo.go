package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

type SQLiteUserRepository struct {
	db *sql.DB
}

func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (model.User, error) {
	var u model.User
	var nationalID sql.NullString
	var role, createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &nationalID, &u.PasswordHash, &role,
		&u.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.NationalID = nationalID.String
	u.Role = model.Role(role)
	if u.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return model.User{}, err
	}
	if u.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, persistenceErr("find user by id", err)
	}
	return u, nil
}

func (r *SQLiteUserRepository) FindByIdentifier(ctx context.Context, identifier string) (model.User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? OR national_id = ? LIMIT 1`,
		identifier, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, persistenceErr("find user by identifier", err)
	}
	return u, nil
}

func (r *SQLiteUserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, nullableString(u.NationalID), u.PasswordHash, string(u.Role),
		u.IsActive, database.FormatTime(u.CreatedAt), database.FormatTime(u.UpdatedAt))
	if database.IsUniqueViolation(err) {
		return model.ErrUserAlreadyExists
	}
	if err != nil {
		return persistenceErr("create user", err)
	}
	return nil
}

func (r *SQLiteUserRepository) UpdateRole(ctx context.Context, id string, role model.Role, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), database.FormatTime(at), id)
	if err != nil {
		return persistenceErr("update user role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.updateAndMaybeRevoke(ctx, id, !active, at,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`, active, database.FormatTime(at), id)
}

func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	return r.updateAndMaybeRevoke(ctx, id, true, at,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, passwordHash, database.FormatTime(at), id)
}

func (r *SQLiteUserRepository) updateAndMaybeRevoke(ctx context.Context, id string, revoke bool, at time.Time, stmt string, args ...any) error {
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrUserNotFound
		}
		if !revoke {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET is_revoked = 1, updated_at = ?
			 WHERE user_id = ? AND is_revoked = 0`, database.FormatTime(at), id)
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

func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return persistenceErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, persistenceErr("count users", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) List(ctx context.Context, page int, limit int) ([]model.User, model.Meta, error) {
	page, limit = normalizePaging(page, limit)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, model.Meta{}, persistenceErr("count users", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, model.Meta{}, persistenceErr("list users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
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

func (r *SQLiteUserRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}
