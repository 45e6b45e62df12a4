package service

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/model"
)

func TestUserService_Register(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()

	user, err := env.users.Register(ctx, model.RegisterRequest{
		Name:       "Carla",
		Email:      "Carla@Example.com",
		NationalID: "111.222.333-44",
		Password:   "long enough",
		Role:       "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "carla@example.com", user.Email)
	assert.Equal(t, "11122233344", user.NationalID)
	assert.True(t, user.IsActive)

	stored, err := env.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "long enough", stored.PasswordHash)
	assert.True(t, env.hasher.Verify("long enough", stored.PasswordHash))

	_, err = env.auth.Login(ctx, "11122233344", "long enough")
	assert.NoError(t, err)

	_, err = env.users.Register(ctx, model.RegisterRequest{
		Name: "Dup", Email: "carla@example.com", Password: "long enough",
	})
	assert.ErrorIs(t, err, model.ErrUserAlreadyExists)
	requireAPIStatus(t, err, http.StatusConflict)
}

func TestUserService_RegisterValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()

	valid := model.RegisterRequest{Name: "Valid", Email: "valid@example.com", Password: "long enough"}
	cases := []struct {
		name   string
		mutate func(r *model.RegisterRequest)
		field  string
	}{
		{name: "missing name", mutate: func(r *model.RegisterRequest) { r.Name = " " }, field: "name"},
		{name: "bad email", mutate: func(r *model.RegisterRequest) { r.Email = "not-an-email" }, field: "email"},
		{name: "display name email", mutate: func(r *model.RegisterRequest) { r.Email = "Eve <eve@example.com>" }, field: "email"},
		{name: "short national id", mutate: func(r *model.RegisterRequest) { r.NationalID = "1234" }, field: "national_id"},
		{name: "letters in national id", mutate: func(r *model.RegisterRequest) { r.NationalID = "1234567890a" }, field: "national_id"},
		{name: "short password", mutate: func(r *model.RegisterRequest) { r.Password = "short" }, field: "password"},
		{name: "password past 72 bytes", mutate: func(r *model.RegisterRequest) { r.Password = strings.Repeat("p", 80) }, field: "password"},
		{name: "multibyte password past 72 bytes", mutate: func(r *model.RegisterRequest) { r.Password = strings.Repeat("é", 40) }, field: "password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := env.users.Register(ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
			requireAPIStatus(t, err, http.StatusBadRequest)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestUserService_CreateUserAssignsRole(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()

	manager, err := env.users.CreateUser(ctx, model.RegisterRequest{
		Name: "Mara", Email: "mara@example.com", Password: "long enough", Role: "Manager",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, manager.Role)

	_, err = env.users.CreateUser(ctx, model.RegisterRequest{
		Name: "Zed", Email: "zed@example.com", Password: "long enough", Role: "superuser",
	})
	assert.ErrorIs(t, err, model.ErrInvalidRole)
	requireAPIStatus(t, err, http.StatusBadRequest)
}

func TestUserService_ChangePasswordRevokesSessions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.seedUser(t, "pw@example.com", "", model.RoleUser, true)

	pair, err := env.auth.Login(ctx, "pw@example.com", testPassword)
	require.NoError(t, err)

	err = env.users.ChangePassword(ctx, user.ID, "wrong", "brand new password")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	require.NoError(t, env.users.ChangePassword(ctx, user.ID, testPassword, "brand new password"))

	_, err = env.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = env.auth.Login(ctx, "pw@example.com", testPassword)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = env.auth.Login(ctx, "pw@example.com", "brand new password")
	assert.NoError(t, err)

	err = env.users.ChangePassword(ctx, user.ID, "brand new password", "short")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	err = env.users.ChangePassword(ctx, user.ID, "brand new password", strings.Repeat("p", 80))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	requireAPIStatus(t, err, http.StatusBadRequest)
}

func TestUserService_LongPasswordsRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()
	long := strings.Repeat("p", 80)

	_, err := env.users.CreateUser(ctx, model.RegisterRequest{
		Name: "Long", Email: "long@example.com", Password: long, Role: "user",
	})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	requireAPIStatus(t, err, http.StatusBadRequest)

	err = env.users.EnsureBootstrapAdmin(ctx, "root@example.com", long)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = env.users.Register(ctx, model.RegisterRequest{
		Name: "Edge", Email: "edge@example.com", Password: strings.Repeat("p", 72),
	})
	assert.NoError(t, err)
}

func TestUserService_ListUsers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		env.seedUser(t, email, "", model.RoleUser, true)
	}

	items, meta, err := env.users.ListUsers(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.Meta{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, meta)
	assert.Equal(t, "a@example.com", items[0].Email)

	items, _, err = env.users.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	env.store.failOn("List")
	_, _, err = env.users.ListUsers(ctx, 1, 2)
	assert.ErrorIs(t, err, model.ErrPersistence)
	requireAPIStatus(t, err, http.StatusServiceUnavailable)
}

func TestUserService_ResetPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	admin := env.seedUser(t, "chief@example.com", "", model.RoleAdmin, true)
	target := env.seedUser(t, "forgot@example.com", "", model.RoleUser, true)
	ctx := WithActor(context.Background(), model.AuditActor{UserID: admin.ID, Role: model.RoleAdmin})

	pair, err := env.auth.Login(ctx, "forgot@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.users.ResetPassword(ctx, target.ID, "temporary password"))

	_, err = env.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = env.auth.Login(ctx, "forgot@example.com", testPassword)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = env.auth.Login(ctx, "forgot@example.com", "temporary password")
	assert.NoError(t, err)

	entries := env.store.auditEntries(model.AuditPasswordReset)
	require.Len(t, entries, 1)
	assert.Equal(t, admin.ID, entries[0].Actor.UserID)
	assert.Equal(t, target.ID, entries[0].SubjectID)
	assert.Equal(t, model.AuditStatusSuccess, entries[0].Status)

	err = env.users.ResetPassword(ctx, target.ID, "short")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	err = env.users.ResetPassword(ctx, target.ID, strings.Repeat("p", 80))
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	err = env.users.ResetPassword(ctx, "missing", "temporary password")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	requireAPIStatus(t, err, http.StatusNotFound)
}

func TestUserService_DeactivateSelf(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.seedUser(t, "leaving@example.com", "", model.RoleUser, true)
	admin := env.seedUser(t, "stay@example.com", "", model.RoleAdmin, true)

	pair, err := env.auth.Login(ctx, "leaving@example.com", testPassword)
	require.NoError(t, err)

	err = env.users.DeactivateSelf(ctx, user.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	err = env.users.DeactivateSelf(ctx, user.ID, "wrong password")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	requireAPIStatus(t, err, http.StatusUnauthorized)

	require.NoError(t, env.users.DeactivateSelf(ctx, user.ID, testPassword))

	stored, err := env.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	_, err = env.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = env.auth.Login(ctx, "leaving@example.com", testPassword)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	entries := env.store.auditEntries(model.AuditDeactivate)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditStatusFailure, entries[0].Status)
	assert.Equal(t, model.AuditStatusSuccess, entries[1].Status)

	err = env.users.DeactivateSelf(ctx, admin.ID, testPassword)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestUserService_SetStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	admin := env.seedUser(t, "admin@example.com", "", model.RoleAdmin, true)
	target := env.seedUser(t, "target@example.com", "", model.RoleUser, true)
	ctx := WithActor(context.Background(), model.AuditActor{UserID: admin.ID, Role: model.RoleAdmin})

	pair, err := env.auth.Login(ctx, "target@example.com", testPassword)
	require.NoError(t, err)

	updated, err := env.users.SetStatus(ctx, target.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	_, err = env.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = env.auth.Login(ctx, "target@example.com", testPassword)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = env.users.SetStatus(ctx, target.ID, true)
	require.NoError(t, err)
	_, err = env.auth.Login(ctx, "target@example.com", testPassword)
	assert.NoError(t, err)

	_, err = env.users.SetStatus(ctx, admin.ID, false)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = env.users.SetStatus(ctx, "missing", false)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	requireAPIStatus(t, err, http.StatusNotFound)

	entries := env.store.auditEntries(model.AuditUserStatusChange)
	require.NotEmpty(t, entries)
	assert.Equal(t, admin.ID, entries[0].Actor.UserID)
	assert.Equal(t, target.ID, entries[0].SubjectID)
}

func TestUserService_UpdateRole(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	admin := env.seedUser(t, "root@example.com", "", model.RoleAdmin, true)
	target := env.seedUser(t, "aff@example.com", "", model.RoleAffiliate, true)
	ctx := WithActor(context.Background(), model.AuditActor{UserID: admin.ID, Role: model.RoleAdmin})

	updated, err := env.users.UpdateRole(ctx, target.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, updated.Role)

	_, err = env.users.UpdateRole(ctx, target.ID, "owner")
	assert.ErrorIs(t, err, model.ErrInvalidRole)

	_, err = env.users.UpdateRole(ctx, admin.ID, "user")
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestUserService_DeleteUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	admin := env.seedUser(t, "boss@example.com", "", model.RoleAdmin, true)
	target := env.seedUser(t, "gone@example.com", "", model.RoleUser, true)
	ctx := WithActor(context.Background(), model.AuditActor{UserID: admin.ID, Role: model.RoleAdmin})

	pair, err := env.auth.Login(ctx, "gone@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.users.DeleteUser(ctx, target.ID))
	_, err = env.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	assert.ErrorIs(t, env.users.DeleteUser(ctx, target.ID), model.ErrUserNotFound)
	assert.ErrorIs(t, env.users.DeleteUser(ctx, admin.ID), model.ErrForbidden)
}

func TestUserService_EnsureBootstrapAdmin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	ctx := context.Background()

	require.NoError(t, env.users.EnsureBootstrapAdmin(ctx, "", ""))
	count, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, env.users.EnsureBootstrapAdmin(ctx, "Admin@Example.com", "initial password"))
	admin, err := env.store.FindByIdentifier(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)

	require.NoError(t, env.users.EnsureBootstrapAdmin(ctx, "other@example.com", "initial password"))
	count, err = env.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	env.store.failOn("Count")
	assert.ErrorIs(t, env.users.EnsureBootstrapAdmin(ctx, "x@example.com", "initial password"), model.ErrPersistence)
}

func TestAuditService_QueryFailureIsUnavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, false)
	audit := NewAuditService(env.store)

	audit.Record(context.Background(), model.AuditLogin, "u1", model.AuditStatusSuccess, "")
	items, _, err := audit.Query(context.Background(), model.AuditQuery{Action: model.AuditLogin})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	env.store.failOn("Log")
	audit.Record(context.Background(), model.AuditLogin, "u1", model.AuditStatusSuccess, "")

	env.store.failOn("Query")
	_, _, err = audit.Query(context.Background(), model.AuditQuery{})
	assert.ErrorIs(t, err, model.ErrPersistence)
	requireAPIStatus(t, err, http.StatusServiceUnavailable)

	var nilAudit *AuditService
	nilAudit.Record(context.Background(), model.AuditLogin, "", model.AuditStatusFailure, "")
}
