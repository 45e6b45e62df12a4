package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, repo *SQLiteUserRepository, email, nationalID string) model.User {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := model.User{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		NationalID:   nationalID,
		PasswordHash: "$2a$04$hash",
		Role:         model.RoleManager,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func newToken(userID string, expiresAt time.Time) model.RefreshToken {
	created := expiresAt.Add(-24 * time.Hour)
	return model.RefreshToken{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestSQLiteUserRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewSQLiteUserRepository(openTestDB(t))

	u := seedUser(t, repo, "ana@example.com", "12345678901")

	t.Run("find by email and national id", func(t *testing.T) {
		byEmail, err := repo.FindByIdentifier(ctx, "ana@example.com")
		require.NoError(t, err)
		assert.Equal(t, u, byEmail)

		byNationalID, err := repo.FindByIdentifier(ctx, "12345678901")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byNationalID.ID)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := repo.FindByIdentifier(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, model.ErrUserNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		dup := u
		dup.ID = uuid.NewString()
		dup.NationalID = ""
		assert.ErrorIs(t, repo.Create(ctx, dup), model.ErrUserAlreadyExists)
	})

	t.Run("users without national id do not collide", func(t *testing.T) {
		seedUser(t, repo, "b@example.com", "")
		seedUser(t, repo, "c@example.com", "")
	})

	t.Run("update role", func(t *testing.T) {
		require.NoError(t, repo.UpdateRole(ctx, u.ID, model.RoleAffiliate, time.Now()))
		got, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleAffiliate, got.Role)

		assert.ErrorIs(t, repo.UpdateRole(ctx, uuid.NewString(), model.RoleUser, time.Now()), model.ErrUserNotFound)
	})
}

func TestSQLiteUserRepository_DeactivateRevokesTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepository(db)
	tokens := NewSQLiteTokenRepository(db)

	u := seedUser(t, users, "d@example.com", "")
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, tokens.Insert(ctx, newToken(u.ID, now.Add(time.Hour))))
	}

	require.NoError(t, users.SetActive(ctx, u.ID, false, now))

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := tokens.ListActiveByUser(ctx, u.ID, now)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, users.SetActive(ctx, u.ID, true, now))
	got, err = users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestSQLiteUserRepository_UpdatePasswordRevokesTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepository(db)
	tokens := NewSQLiteTokenRepository(db)

	u := seedUser(t, users, "e@example.com", "")
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rt := newToken(u.ID, now.Add(time.Hour))
	require.NoError(t, tokens.Insert(ctx, rt))

	require.NoError(t, users.UpdatePassword(ctx, u.ID, "$2a$04$newhash", now))

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$newhash", got.PasswordHash)

	stored, err := tokens.FindByToken(ctx, rt.Token)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked)

	assert.ErrorIs(t, users.UpdatePassword(ctx, uuid.NewString(), "x", now), model.ErrUserNotFound)
}

func TestSQLiteTokenRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepository(db)
	tokens := NewSQLiteTokenRepository(db)

	u := seedUser(t, users, "f@example.com", "")
	now := time.Date(2026, 3, 2, 10, 30, 0, 123456789, time.UTC)

	t.Run("insert and find round trip", func(t *testing.T) {
		rt := newToken(u.ID, now.Add(30*24*time.Hour))
		require.NoError(t, tokens.Insert(ctx, rt))

		got, err := tokens.FindByToken(ctx, rt.Token)
		require.NoError(t, err)
		assert.Equal(t, rt, got)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := tokens.FindByToken(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrTokenNotFound)
	})

	t.Run("revoke transitions once", func(t *testing.T) {
		rt := newToken(u.ID, now.Add(time.Hour))
		require.NoError(t, tokens.Insert(ctx, rt))

		first, err := tokens.Revoke(ctx, rt.Token, now)
		require.NoError(t, err)
		assert.True(t, first)

		second, err := tokens.Revoke(ctx, rt.Token, now)
		require.NoError(t, err)
		assert.False(t, second)

		missing, err := tokens.Revoke(ctx, "missing", now)
		require.NoError(t, err)
		assert.False(t, missing)
	})

	t.Run("rotate", func(t *testing.T) {
		old := newToken(u.ID, now.Add(time.Hour))
		require.NoError(t, tokens.Insert(ctx, old))

		next := newToken(u.ID, now.Add(2*time.Hour))
		rotated, err := tokens.Rotate(ctx, old.Token, next, now)
		require.NoError(t, err)
		assert.True(t, rotated)

		stored, err := tokens.FindByToken(ctx, old.Token)
		require.NoError(t, err)
		assert.True(t, stored.IsRevoked)
		_, err = tokens.FindByToken(ctx, next.Token)
		require.NoError(t, err)

		replay := newToken(u.ID, now.Add(2*time.Hour))
		rotated, err = tokens.Rotate(ctx, old.Token, replay, now)
		require.NoError(t, err)
		assert.False(t, rotated)
		_, err = tokens.FindByToken(ctx, replay.Token)
		assert.ErrorIs(t, err, model.ErrTokenNotFound)
	})
}

func TestSQLiteTokenRepository_RevokeAllAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepository(db)
	tokens := NewSQLiteTokenRepository(db)

	owner := seedUser(t, users, "g@example.com", "")
	other := seedUser(t, users, "h@example.com", "")
	now := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	expired := newToken(owner.ID, now.Add(-time.Hour))
	require.NoError(t, tokens.Insert(ctx, expired))
	require.NoError(t, tokens.Insert(ctx, newToken(owner.ID, now.Add(time.Hour))))
	require.NoError(t, tokens.Insert(ctx, newToken(owner.ID, now.Add(2*time.Hour))))
	otherToken := newToken(other.ID, now.Add(time.Hour))
	require.NoError(t, tokens.Insert(ctx, otherToken))

	active, err := tokens.ListActiveByUser(ctx, owner.ID, now)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err := tokens.RevokeAllForUser(ctx, owner.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = tokens.RevokeAllForUser(ctx, owner.ID, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	untouched, err := tokens.FindByToken(ctx, otherToken.Token)
	require.NoError(t, err)
	assert.False(t, untouched.IsRevoked)

	deleted, err := tokens.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	_, err = tokens.FindByToken(ctx, expired.Token)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)
}

func TestSQLiteUserRepository_DeleteCascadesTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepository(db)
	tokens := NewSQLiteTokenRepository(db)

	u := seedUser(t, users, "i@example.com", "")
	rt := newToken(u.ID, time.Now().Add(time.Hour))
	require.NoError(t, tokens.Insert(ctx, rt))

	require.NoError(t, users.Delete(ctx, u.ID))
	_, err := tokens.FindByToken(ctx, rt.Token)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)
	assert.ErrorIs(t, users.Delete(ctx, u.ID), model.ErrUserNotFound)
}

func TestSQLiteAuditRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewSQLiteAuditRepository(openTestDB(t))

	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	entries := []model.AuditEntry{
		{Action: model.AuditLogin, OccurredAt: base, Actor: model.AuditActor{UserID: "u1", Role: model.RoleUser}, Status: model.AuditStatusSuccess},
		{Action: model.AuditLogin, OccurredAt: base.Add(time.Minute), Actor: model.AuditActor{IP: "10.0.0.1"}, Status: model.AuditStatusFailure, Reason: "unknown user"},
		{Action: model.AuditLogout, OccurredAt: base.Add(2 * time.Minute), Actor: model.AuditActor{UserID: "u1"}, SubjectID: "u1", Status: model.AuditStatusSuccess},
	}
	for _, e := range entries {
		require.NoError(t, repo.Log(ctx, e))
	}

	all, meta, err := repo.Query(ctx, model.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.AuditLogout, all[0].Action)
	assert.Equal(t, 3, meta.Total)
	assert.Equal(t, defaultPageLimit, meta.Limit)

	failures, _, err := repo.Query(ctx, model.AuditQuery{Action: "AUTH.LOGIN", Status: model.AuditStatusFailure})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "unknown user", failures[0].Reason)
	assert.Equal(t, base.Add(time.Minute), failures[0].OccurredAt)

	paged, meta, err := repo.Query(ctx, model.AuditQuery{ActorID: "u1", Page: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, model.AuditLogin, paged[0].Action)
	assert.Equal(t, 2, meta.TotalPages)
}

func TestSQLiteUserRepository_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewSQLiteUserRepository(openTestDB(t))

	for i := 0; i < 5; i++ {
		seedUser(t, repo, fmt.Sprintf("user%d@example.com", i), "")
	}

	users, meta, err := repo.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, model.Meta{Page: 2, Limit: 2, Total: 5, TotalPages: 3}, meta)

	users, meta, err = repo.List(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, users, 5)
	assert.Equal(t, 1, meta.Page)
	assert.Equal(t, maxPageLimit, meta.Limit)
}

func TestValidID(t *testing.T) {
	t.Parallel()
	assert.True(t, validID(uuid.NewString()))
	assert.False(t, validID(""))
	assert.False(t, validID("42"))
	assert.False(t, validID("' OR 1=1 --"))
}
