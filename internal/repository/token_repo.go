package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

const tokenColumns = `id, token, user_id, expires_at, is_revoked, created_at, updated_at`

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func scanToken(row pgx.Row) (model.RefreshToken, error) {
	var t model.RefreshToken
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.IsRevoked, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return model.RefreshToken{}, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func insertToken(ctx context.Context, exec pgExecer, t model.RefreshToken) error {
	_, err := exec.Exec(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Token, t.UserID, t.ExpiresAt, t.IsRevoked, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TokenRepository) Insert(ctx context.Context, t model.RefreshToken) error {
	if err := insertToken(ctx, r.pool, t); err != nil {
		return persistenceErr("insert refresh token", err)
	}
	return nil
}

func (r *TokenRepository) FindByToken(ctx context.Context, token string) (model.RefreshToken, error) {
	t, err := scanToken(r.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshToken{}, persistenceErr("find refresh token", err)
	}
	return t, nil
}

// Revoke flips is_revoked only when it is still false, so exactly one caller
// observes the transition.
func (r *TokenRepository) Revoke(ctx context.Context, token string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = $2
		 WHERE token = $1 AND is_revoked = FALSE`, token, at)
	if err != nil {
		return false, persistenceErr("revoke refresh token", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	if !validID(userID) {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = $2
		 WHERE user_id = $1 AND is_revoked = FALSE`, userID, at)
	if err != nil {
		return 0, persistenceErr("revoke all refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]model.RefreshToken, error) {
	if !validID(userID) {
		return []model.RefreshToken{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = $1 AND is_revoked = FALSE AND expires_at >= $2
		 ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, persistenceErr("list refresh tokens", err)
	}
	defer rows.Close()

	tokens := make([]model.RefreshToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
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

// Rotate revokes oldToken and inserts replacement atomically. It reports false
// without inserting anything when oldToken was already revoked.
func (r *TokenRepository) Rotate(ctx context.Context, oldToken string, replacement model.RefreshToken, at time.Time) (bool, error) {
	rotated := false
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = $2
			 WHERE token = $1 AND is_revoked = FALSE`, oldToken, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := insertToken(ctx, tx, replacement); err != nil {
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

// DeleteExpired removes records whose expiry is before the cutoff.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, persistenceErr("delete expired refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}
