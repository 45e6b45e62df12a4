package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

type SQLiteTokenRepository struct {
	db *sql.DB
}

func NewSQLiteTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

func scanSQLiteToken(row rowScanner) (model.RefreshToken, error) {
	var t model.RefreshToken
	var expiresAt, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &expiresAt, &t.IsRevoked, &createdAt, &updatedAt); err != nil {
		return model.RefreshToken{}, err
	}
	var err error
	if t.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return model.RefreshToken{}, err
	}
	if t.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return model.RefreshToken{}, err
	}
	if t.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return model.RefreshToken{}, err
	}
	return t, nil
}

func insertSQLiteToken(ctx context.Context, q database.TxQuerier, t model.RefreshToken) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Token, t.UserID, database.FormatTime(t.ExpiresAt), t.IsRevoked,
		database.FormatTime(t.CreatedAt), database.FormatTime(t.UpdatedAt))
	return err
}

func (r *SQLiteTokenRepository) Insert(ctx context.Context, t model.RefreshToken) error {
	if err := insertSQLiteToken(ctx, r.db, t); err != nil {
		return persistenceErr("insert refresh token", err)
	}
	return nil
}

func (r *SQLiteTokenRepository) FindByToken(ctx context.Context, token string) (model.RefreshToken, error) {
	t, err := scanSQLiteToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshToken{}, persistenceErr("find refresh token", err)
	}
	return t, nil
}

func revokeSQLiteToken(ctx context.Context, q database.TxQuerier, token string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE refresh_tokens SET is_revoked = 1, updated_at = ?
		 WHERE token = ? AND is_revoked = 0`, database.FormatTime(at), token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteTokenRepository) Revoke(ctx context.Context, token string, at time.Time) (bool, error) {
	revoked, err := revokeSQLiteToken(ctx, r.db, token, at)
	if err != nil {
		return false, persistenceErr("revoke refresh token", err)
	}
	return revoked, nil
}

func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET is_revoked = 1, updated_at = ?
		 WHERE user_id = ? AND is_revoked = 0`, database.FormatTime(at), userID)
	if err != nil {
		return 0, persistenceErr("revoke all refresh tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceErr("revoke all refresh tokens", err)
	}
	return n, nil
}

func (r *SQLiteTokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]model.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = ? AND is_revoked = 0 AND expires_at >= ?
		 ORDER BY created_at DESC`, userID, database.FormatTime(now))
	if err != nil {
		return nil, persistenceErr("list refresh tokens", err)
	}
	defer rows.Close()

	tokens := make([]model.RefreshToken, 0)
	for rows.Next() {
		t, err := scanSQLiteToken(rows)
		if err != nil {
			return nil, persistenceErr("scan refresh token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list refresh tokens", err)
	}
	return tokens, nil
}

func (r *SQLiteTokenRepository) Rotate(ctx context.Context, oldToken string, replacement model.RefreshToken, at time.Time) (bool, error) {
	rotated := false
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		revoked, err := revokeSQLiteToken(ctx, tx, oldToken, at)
		if err != nil || !revoked {
			return err
		}
		if err := insertSQLiteToken(ctx, tx, replacement); err != nil {
			return err
		}
		rotated = true
		return nil
	})
	if err != nil {
		return false, persistenceErr("rotate refresh token", err)
	}
	return rotated, nil
}

func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, database.FormatTime(before))
	if err != nil {
		return 0, persistenceErr("delete expired refresh tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceErr("delete expired refresh tokens", err)
	}
	return n, nil
}
