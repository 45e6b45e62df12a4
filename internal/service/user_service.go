package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-auth-service/internal/event"
	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
	"go-auth-service/pkg/apierror"
)

const minPasswordLength = 8

// checkPassword enforces the length window bcrypt can hash faithfully.
func checkPassword(password string, field string) error {
	if len(password) < minPasswordLength {
		return errInvalidInput("password must have at least 8 characters", field)
	}
	if len([]byte(password)) > security.MaxPasswordBytes {
		return errInvalidInput("password must not exceed 72 bytes", field)
	}
	return nil
}

func (s *UserService) hash(password string, field string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, model.ErrInvalidInput) {
		return "", errInvalidInput("password cannot be hashed", field)
	}
	return hash, err
}

type UserService struct {
	users  UserStore
	hasher security.PasswordHasher
	audit  *AuditService
	bus    event.Bus
	now    func() time.Time
}

func NewUserService(users UserStore, hasher security.PasswordHasher, audit *AuditService, bus event.Bus) *UserService {
	if bus == nil {
		bus = event.NopBus{}
	}
	return &UserService{users: users, hasher: hasher, audit: audit, bus: bus, now: time.Now}
}

func (s *UserService) SetClock(now func() time.Time) {
	s.now = now
}

func errUserNotFound(id string) error {
	return apierror.Wrap(model.ErrUserNotFound, "NOT_FOUND", "user not found", id, http.StatusNotFound)
}

// storeError maps store sentinels onto API errors; anything unclassified is
// a persistence failure.
func storeError(err error, id string) error {
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		return errUserNotFound(id)
	case errors.Is(err, model.ErrUserAlreadyExists):
		return apierror.Wrap(err, "ALREADY_EXISTS", "email or national id already registered", "", http.StatusConflict)
	default:
		return unavailable(err)
	}
}

// Register creates a self-service account. The role is always user.
func (s *UserService) Register(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error) {
	req.Role = string(model.RoleUser)
	user, err := s.create(ctx, req)
	if err != nil {
		s.audit.Record(ctx, model.AuditRegister, "", model.AuditStatusFailure, err.Error())
		return model.AuthUser{}, err
	}
	s.audit.Record(ctx, model.AuditRegister, user.ID, model.AuditStatusSuccess, "")
	s.bus.Publish(event.New(event.TypeUserRegistered, user.ID, map[string]any{"user_id": user.ID, "role": user.Role}, s.now()))
	return user, nil
}

// CreateUser is the administrative path; any role may be assigned.
func (s *UserService) CreateUser(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error) {
	if strings.TrimSpace(req.Role) == "" {
		req.Role = string(model.RoleUser)
	}
	user, err := s.create(ctx, req)
	if err != nil {
		return model.AuthUser{}, err
	}
	s.audit.Record(ctx, model.AuditRegister, user.ID, model.AuditStatusSuccess, "created by admin")
	s.bus.Publish(event.New(event.TypeUserRegistered, actorFromContext(ctx).UserID,
		map[string]any{"user_id": user.ID, "role": user.Role}, s.now()))
	return user, nil
}

func (s *UserService) create(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.AuthUser{}, errInvalidInput("name is required", "name")
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		return model.AuthUser{}, errInvalidInput("a valid email is required", "email")
	}
	nationalID, ok := normalizeNationalID(req.NationalID)
	if !ok {
		return model.AuthUser{}, errInvalidInput("national id must have 11 digits", "national_id")
	}
	if err := checkPassword(req.Password, "password"); err != nil {
		return model.AuthUser{}, err
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return model.AuthUser{}, apierror.Wrap(err, "BAD_REQUEST", "invalid role", req.Role, http.StatusBadRequest)
	}

	hash, err := s.hash(req.Password, "password")
	if err != nil {
		return model.AuthUser{}, err
	}

	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		NationalID:   nationalID,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return model.AuthUser{}, storeError(err, "")
	}
	return user.Public(), nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.AuthUser{}, storeError(err, id)
	}
	return user.Public(), nil
}

// UpdateRole takes effect for access tokens minted afterwards; tokens already
// issued keep the role they were minted with until they expire.
func (s *UserService) UpdateRole(ctx context.Context, id string, rawRole string) (model.AuthUser, error) {
	role, err := model.ParseRole(rawRole)
	if err != nil {
		return model.AuthUser{}, apierror.Wrap(err, "BAD_REQUEST", "invalid role", rawRole, http.StatusBadRequest)
	}
	actor := actorFromContext(ctx)
	if actor.UserID == id && role != model.RoleAdmin {
		return model.AuthUser{}, apierror.Wrap(model.ErrForbidden, "FORBIDDEN", "admins cannot demote themselves", "", http.StatusForbidden)
	}

	if err := s.users.UpdateRole(ctx, id, role, s.now().UTC()); err != nil {
		s.audit.Record(ctx, model.AuditUserRoleChange, id, model.AuditStatusFailure, err.Error())
		return model.AuthUser{}, storeError(err, id)
	}

	s.audit.Record(ctx, model.AuditUserRoleChange, id, model.AuditStatusSuccess, string(role))
	s.bus.Publish(event.New(event.TypeUserRoleChanged, actor.UserID, map[string]any{"user_id": id, "role": role}, s.now()))
	return s.GetUser(ctx, id)
}

// SetStatus activates or deactivates an account. Deactivation revokes every
// session of the account in the same transaction.
func (s *UserService) SetStatus(ctx context.Context, id string, active bool) (model.AuthUser, error) {
	actor := actorFromContext(ctx)
	if actor.UserID == id && !active {
		return model.AuthUser{}, apierror.Wrap(model.ErrForbidden, "FORBIDDEN", "admins cannot deactivate themselves", "", http.StatusForbidden)
	}

	if err := s.users.SetActive(ctx, id, active, s.now().UTC()); err != nil {
		s.audit.Record(ctx, model.AuditUserStatusChange, id, model.AuditStatusFailure, err.Error())
		return model.AuthUser{}, storeError(err, id)
	}

	status := "active"
	if !active {
		status = "inactive"
	}
	s.audit.Record(ctx, model.AuditUserStatusChange, id, model.AuditStatusSuccess, status)
	s.bus.Publish(event.New(event.TypeUserStatusChanged, actor.UserID, map[string]any{"user_id": id, "is_active": active}, s.now()))
	return s.GetUser(ctx, id)
}

// DeleteUser removes the account; its refresh tokens go with it.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	actor := actorFromContext(ctx)
	if actor.UserID == id {
		return apierror.Wrap(model.ErrForbidden, "FORBIDDEN", "admins cannot delete themselves", "", http.StatusForbidden)
	}

	if err := s.users.Delete(ctx, id); err != nil {
		s.audit.Record(ctx, model.AuditUserDelete, id, model.AuditStatusFailure, err.Error())
		return storeError(err, id)
	}

	s.audit.Record(ctx, model.AuditUserDelete, id, model.AuditStatusSuccess, "")
	s.bus.Publish(event.New(event.TypeUserDeleted, actor.UserID, map[string]any{"user_id": id}, s.now()))
	return nil
}

// ChangePassword requires the current password and ends every session of the
// account, including the caller's.
func (s *UserService) ChangePassword(ctx context.Context, userID string, current string, next string) error {
	if current == "" {
		return errInvalidInput("current_password is required", "current_password")
	}
	if err := checkPassword(next, "new_password"); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return errUnauthorized("invalid credentials")
	}
	if err != nil {
		return unavailable(err)
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		s.audit.Record(ctx, model.AuditPasswordChange, userID, model.AuditStatusFailure, reasonBadPassword)
		return errUnauthorized("invalid credentials")
	}

	hash, err := s.hash(next, "new_password")
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, s.now().UTC()); err != nil {
		return storeError(err, userID)
	}

	s.audit.Record(ctx, model.AuditPasswordChange, userID, model.AuditStatusSuccess, "")
	s.bus.Publish(event.New(event.TypePasswordChanged, userID, map[string]any{"user_id": userID}, s.now()))
	return nil
}

// ListUsers pages through every account, newest first.
func (s *UserService) ListUsers(ctx context.Context, page int, limit int) ([]model.AuthUser, model.Meta, error) {
	users, meta, err := s.users.List(ctx, page, limit)
	if err != nil {
		return nil, model.Meta{}, unavailable(err)
	}
	items := make([]model.AuthUser, 0, len(users))
	for _, u := range users {
		items = append(items, u.Public())
	}
	return items, meta, nil
}

// ResetPassword sets a new password without the current one and ends every
// session of the account.
func (s *UserService) ResetPassword(ctx context.Context, id string, next string) error {
	if err := checkPassword(next, "new_password"); err != nil {
		return err
	}
	hash, err := s.hash(next, "new_password")
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, id, hash, s.now().UTC()); err != nil {
		s.audit.Record(ctx, model.AuditPasswordReset, id, model.AuditStatusFailure, err.Error())
		return storeError(err, id)
	}

	actor := actorFromContext(ctx)
	s.audit.Record(ctx, model.AuditPasswordReset, id, model.AuditStatusSuccess, "")
	s.bus.Publish(event.New(event.TypePasswordReset, actor.UserID, map[string]any{"user_id": id}, s.now()))
	return nil
}

// DeactivateSelf closes the caller's own account after confirming the
// password. Every session of the account is revoked with it.
func (s *UserService) DeactivateSelf(ctx context.Context, userID string, password string) error {
	if password == "" {
		return errInvalidInput("password is required", "password")
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return errUnauthorized("invalid credentials")
	}
	if err != nil {
		return unavailable(err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.audit.Record(ctx, model.AuditDeactivate, userID, model.AuditStatusFailure, reasonBadPassword)
		return errUnauthorized("invalid credentials")
	}
	if user.Role == model.RoleAdmin {
		return apierror.Wrap(model.ErrForbidden, "FORBIDDEN", "admins cannot deactivate themselves", "", http.StatusForbidden)
	}

	if err := s.users.SetActive(ctx, userID, false, s.now().UTC()); err != nil {
		return storeError(err, userID)
	}

	s.audit.Record(ctx, model.AuditDeactivate, userID, model.AuditStatusSuccess, "")
	s.bus.Publish(event.New(event.TypeUserStatusChanged, userID, map[string]any{"user_id": userID, "is_active": false}, s.now()))
	return nil
}

// EnsureBootstrapAdmin creates an admin account when the store has no users.
// It does nothing when email is empty or any user already exists.
func (s *UserService) EnsureBootstrapAdmin(ctx context.Context, email string, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	user, err := s.create(ctx, model.RegisterRequest{
		Name:     "Administrator",
		Email:    email,
		Password: password,
		Role:     string(model.RoleAdmin),
	})
	if err != nil {
		return err
	}

	slog.Info("bootstrap admin created", "user_id", user.ID, "email", user.Email)
	return nil
}
