package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
)

// Reasons a presented refresh token was refused. Logged and audited only.
const (
	reasonUnknownToken = "unknown_token"
	reasonRevoked      = "revoked"
	reasonExpired      = "expired"
	reasonUnknownUser  = "unknown_user"
	reasonInactive     = "inactive"
)

type RefreshTokenService struct {
	tokens   RefreshTokenStore
	users    UserStore
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

func NewRefreshTokenService(tokens RefreshTokenStore, users UserStore, ttl time.Duration) *RefreshTokenService {
	return &RefreshTokenService{
		tokens:   tokens,
		users:    users,
		ttl:      ttl,
		now:      time.Now,
		newToken: security.NewOpaqueToken,
	}
}

func (s *RefreshTokenService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *RefreshTokenService) TTL() time.Duration {
	return s.ttl
}

func (s *RefreshTokenService) newRecord(userID string) (model.RefreshToken, error) {
	token, err := s.newToken()
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	return model.RefreshToken{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Issue persists a fresh opaque token for user. A store failure means no
// token exists and the caller must not report a session.
func (s *RefreshTokenService) Issue(ctx context.Context, user model.User) (string, error) {
	record, err := s.newRecord(user.ID)
	if err != nil {
		return "", err
	}
	if err := s.tokens.Insert(ctx, record); err != nil {
		return "", err
	}
	return record.Token, nil
}

// Verify reports the owner when token is known, unrevoked, unexpired and the
// owner still exists and is active. Every negative outcome is just false;
// the error is reserved for store failures.
func (s *RefreshTokenService) Verify(ctx context.Context, token string) (model.User, bool, error) {
	user, reason, err := s.inspect(ctx, token)
	if err != nil || reason != "" {
		return model.User{}, false, err
	}
	return user, true, nil
}

func (s *RefreshTokenService) inspect(ctx context.Context, token string) (model.User, string, error) {
	if token == "" {
		return model.User{}, reasonUnknownToken, nil
	}

	record, err := s.tokens.FindByToken(ctx, token)
	if errors.Is(err, model.ErrTokenNotFound) {
		return model.User{}, reasonUnknownToken, nil
	}
	if err != nil {
		return model.User{}, "", err
	}

	if record.IsRevoked {
		return model.User{}, reasonRevoked, nil
	}
	if !record.Usable(s.now()) {
		return model.User{}, reasonExpired, nil
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, reasonUnknownUser, nil
	}
	if err != nil {
		return model.User{}, "", err
	}
	if !user.IsActive {
		return model.User{}, reasonInactive, nil
	}
	return user, "", nil
}

// Revoke reports true only for the call that performed the transition.
func (s *RefreshTokenService) Revoke(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.tokens.Revoke(ctx, token, s.now().UTC())
}

// owner returns the account a token was issued to, or "" for unknown tokens.
func (s *RefreshTokenService) owner(ctx context.Context, token string) (string, error) {
	record, err := s.tokens.FindByToken(ctx, token)
	if errors.Is(err, model.ErrTokenNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.UserID, nil
}

// RevokeAll reports true when at least one token of userID transitioned.
func (s *RefreshTokenService) RevokeAll(ctx context.Context, userID string) (bool, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RefreshTokenService) ListActive(ctx context.Context, userID string) ([]model.RefreshToken, error) {
	return s.tokens.ListActiveByUser(ctx, userID, s.now().UTC())
}

// Rotate exchanges a valid token for a new one. The old token is revoked and
// the replacement stored in one transaction; of two concurrent rotations of
// the same token at most one succeeds.
func (s *RefreshTokenService) Rotate(ctx context.Context, token string) (model.User, string, bool, error) {
	user, ok, err := s.Verify(ctx, token)
	if err != nil || !ok {
		return model.User{}, "", false, err
	}

	record, err := s.newRecord(user.ID)
	if err != nil {
		return model.User{}, "", false, err
	}
	rotated, err := s.tokens.Rotate(ctx, token, record, record.CreatedAt)
	if err != nil || !rotated {
		return model.User{}, "", false, err
	}
	return user, record.Token, true, nil
}

// PurgeExpired deletes tokens that expired more than retention ago.
func (s *RefreshTokenService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now().UTC().Add(-retention))
}
