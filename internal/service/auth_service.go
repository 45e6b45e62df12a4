package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go-auth-service/internal/event"
	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
	"go-auth-service/pkg/apierror"
)

const tokenTypeBearer = "Bearer"

// Reasons a login was refused. Logged and audited only.
const (
	reasonUnknownIdentifier = "unknown_identifier"
	reasonBadPassword       = "bad_password"
)

// burner is implemented by hashers that can spend a verification's worth of
// work without a stored hash.
type burner interface {
	Burn(plain string)
}

type AuthService struct {
	users   UserStore
	hasher  security.PasswordHasher
	codec   *security.AccessTokenCodec
	refresh *RefreshTokenService
	audit   *AuditService
	bus     event.Bus
	rotate  bool
	now     func() time.Time
}

func NewAuthService(
	users UserStore,
	hasher security.PasswordHasher,
	codec *security.AccessTokenCodec,
	refresh *RefreshTokenService,
	audit *AuditService,
	bus event.Bus,
	rotateRefreshTokens bool,
) *AuthService {
	if bus == nil {
		bus = event.NopBus{}
	}
	return &AuthService{
		users:   users,
		hasher:  hasher,
		codec:   codec,
		refresh: refresh,
		audit:   audit,
		bus:     bus,
		rotate:  rotateRefreshTokens,
		now:     time.Now,
	}
}

// SetClock replaces the time source for this service and its refresh manager.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.refresh.SetClock(now)
}

func errUnauthorized(message string) error {
	return apierror.Wrap(model.ErrUnauthorized, "UNAUTHORIZED", message, "", http.StatusUnauthorized)
}

func errInvalidInput(message string, field string) error {
	return apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", message, field, http.StatusBadRequest)
}

// Authenticate reports the user only when the identifier is known, the
// password matches and the account is active. All three misses look the same.
func (s *AuthService) Authenticate(ctx context.Context, identifier string, password string) (model.User, bool, error) {
	user, reason, err := s.authenticate(ctx, identifier, password)
	if err != nil || reason != "" {
		return model.User{}, false, err
	}
	return user, true, nil
}

func (s *AuthService) authenticate(ctx context.Context, identifier string, password string) (model.User, string, error) {
	normalized := NormalizeIdentifier(identifier)
	if normalized == "" {
		s.burn(password)
		return model.User{}, reasonUnknownIdentifier, nil
	}

	user, err := s.users.FindByIdentifier(ctx, normalized)
	if errors.Is(err, model.ErrUserNotFound) {
		s.burn(password)
		return model.User{}, reasonUnknownIdentifier, nil
	}
	if err != nil {
		return model.User{}, "", err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return model.User{}, reasonBadPassword, nil
	}
	if !user.IsActive {
		return model.User{}, reasonInactive, nil
	}
	return user, "", nil
}

func (s *AuthService) burn(password string) {
	if b, ok := s.hasher.(burner); ok {
		b.Burn(password)
	}
}

// Login returns both tokens of a new session or an error; never just one.
func (s *AuthService) Login(ctx context.Context, identifier string, password string) (model.TokenPair, error) {
	if strings.TrimSpace(identifier) == "" {
		return model.TokenPair{}, errInvalidInput("identifier is required", "identifier")
	}
	if password == "" {
		return model.TokenPair{}, errInvalidInput("password is required", "password")
	}

	user, reason, err := s.authenticate(ctx, identifier, password)
	if err != nil {
		slog.Error("login lookup failed", "error", err)
		return model.TokenPair{}, unavailable(err)
	}
	if reason != "" {
		slog.Warn("login refused", "reason", reason)
		s.audit.Record(ctx, model.AuditLogin, "", model.AuditStatusFailure, reason)
		return model.TokenPair{}, errUnauthorized("invalid credentials")
	}

	now := s.now()
	accessToken, err := s.codec.Encode(user.ID, user.Role, now)
	if err != nil {
		return model.TokenPair{}, err
	}

	refreshToken, err := s.refresh.Issue(ctx, user)
	if err != nil {
		slog.Error("refresh token issue failed", "user_id", user.ID, "error", err)
		return model.TokenPair{}, unavailable(err)
	}

	public := user.Public()
	s.audit.Record(ctx, model.AuditLogin, user.ID, model.AuditStatusSuccess, "")
	s.bus.Publish(event.New(event.TypeSessionIssued, user.ID, map[string]any{"user_id": user.ID}, now))

	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.codec.TTL().Seconds()),
		User:         &public,
	}, nil
}

// Refresh mints a new access token carrying the owner's current role. The
// refresh token is returned only when rotation is enabled; otherwise the
// presented token stays valid until it expires or is revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if refreshToken == "" {
		return model.TokenPair{}, errInvalidInput("refresh_token is required", "refresh_token")
	}

	var (
		user      model.User
		reason    string
		nextToken string
		err       error
	)
	if s.rotate {
		var rotated bool
		user, nextToken, rotated, err = s.refresh.Rotate(ctx, refreshToken)
		if err == nil && !rotated {
			reason = "rotation_refused"
		}
	} else {
		user, reason, err = s.refresh.inspect(ctx, refreshToken)
	}
	if err != nil {
		slog.Error("refresh lookup failed", "error", err)
		return model.TokenPair{}, unavailable(err)
	}
	if reason != "" {
		slog.Warn("refresh refused", "reason", reason)
		s.audit.Record(ctx, model.AuditRefresh, "", model.AuditStatusFailure, reason)
		return model.TokenPair{}, errUnauthorized("invalid or expired refresh token")
	}

	accessToken, err := s.codec.Encode(user.ID, user.Role, s.now())
	if err != nil {
		return model.TokenPair{}, err
	}

	s.audit.Record(ctx, model.AuditRefresh, user.ID, model.AuditStatusSuccess, "")
	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: nextToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.codec.TTL().Seconds()),
	}, nil
}

// Logout revokes one session. Possession of the token is the authorization.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (bool, error) {
	if refreshToken == "" {
		return false, errInvalidInput("refresh_token is required", "refresh_token")
	}

	owner, err := s.refresh.owner(ctx, refreshToken)
	if err != nil {
		return false, unavailable(err)
	}
	if owner == "" {
		return false, nil
	}

	revoked, err := s.refresh.Revoke(ctx, refreshToken)
	if err != nil {
		return false, unavailable(err)
	}
	if revoked {
		s.audit.Record(ctx, model.AuditLogout, owner, model.AuditStatusSuccess, "")
		s.bus.Publish(event.New(event.TypeSessionRevoked, owner, map[string]any{"user_id": owner}, s.now()))
	}
	return revoked, nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) (bool, error) {
	revoked, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return false, unavailable(err)
	}
	s.audit.Record(ctx, model.AuditLogoutAll, userID, model.AuditStatusSuccess, "")
	if revoked {
		s.bus.Publish(event.New(event.TypeSessionsRevokedAll, actorFromContext(ctx).UserID,
			map[string]any{"user_id": userID}, s.now()))
	}
	return revoked, nil
}

func (s *AuthService) Sessions(ctx context.Context, userID string) ([]model.Session, error) {
	tokens, err := s.refresh.ListActive(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	sessions := make([]model.Session, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, model.Session{ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
	}
	return sessions, nil
}

// Me resolves the stored account behind a verified access token.
func (s *AuthService) Me(ctx context.Context, userID string) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, errUnauthorized("invalid or expired token")
	}
	if err != nil {
		return model.AuthUser{}, unavailable(err)
	}
	return user.Public(), nil
}

// ValidateAccessToken decodes token at the service clock. The returned error
// carries the precise failure kind for logging.
func (s *AuthService) ValidateAccessToken(token string) (*model.AuthClaims, error) {
	return s.codec.Decode(token, s.now())
}
