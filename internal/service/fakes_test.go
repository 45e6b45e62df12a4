package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-auth-service/internal/event"
	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
)

// memStore implements UserStore, RefreshTokenStore and AuditStore in memory.
// fail makes the named operation return a persistence error.
type memStore struct {
	mu     sync.Mutex
	users  map[string]model.User
	tokens map[string]model.RefreshToken
	audit  []model.AuditEntry
	fail   map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]model.User{},
		tokens: map[string]model.RefreshToken{},
		fail:   map[string]error{},
	}
}

func (m *memStore) failOn(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = fmt.Errorf("%w: %s: connection refused", model.ErrPersistence, op)
}

func (m *memStore) heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = map[string]error{}
}

func (m *memStore) FindByIdentifier(_ context.Context, identifier string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["FindByIdentifier"]; err != nil {
		return model.User{}, err
	}
	for _, u := range m.users {
		if u.Email == identifier || (u.NationalID != "" && u.NationalID == identifier) {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (m *memStore) FindByID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["FindByID"]; err != nil {
		return model.User{}, err
	}
	u, ok := m.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) Create(_ context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Create"]; err != nil {
		return err
	}
	for _, u := range m.users {
		if u.Email == user.Email || (user.NationalID != "" && u.NationalID == user.NationalID) {
			return model.ErrUserAlreadyExists
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateRole(_ context.Context, id string, role model.Role, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Role = role
	u.UpdatedAt = at
	m.users[id] = u
	return nil
}

func (m *memStore) revokeAllLocked(userID string, at time.Time) int64 {
	var n int64
	for k, t := range m.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			t.UpdatedAt = at
			m.tokens[k] = t
			n++
		}
	}
	return n
}

func (m *memStore) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["SetActive"]; err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.IsActive = active
	u.UpdatedAt = at
	m.users[id] = u
	if !active {
		m.revokeAllLocked(id, at)
	}
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id string, passwordHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["UpdatePassword"]; err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	m.users[id] = u
	m.revokeAllLocked(id, at)
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return model.ErrUserNotFound
	}
	delete(m.users, id)
	for k, t := range m.tokens {
		if t.UserID == id {
			delete(m.tokens, k)
		}
	}
	return nil
}

func (m *memStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Count"]; err != nil {
		return 0, err
	}
	return len(m.users), nil
}

func (m *memStore) List(_ context.Context, page int, limit int) ([]model.User, model.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["List"]; err != nil {
		return nil, model.Meta{}, err
	}
	all := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	pages := (len(all) + limit - 1) / limit
	return all[start:end], model.Meta{Page: page, Limit: limit, Total: len(all), TotalPages: pages}, nil
}

func (m *memStore) Insert(_ context.Context, token model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Insert"]; err != nil {
		return err
	}
	m.tokens[token.Token] = token
	return nil
}

func (m *memStore) FindByToken(_ context.Context, token string) (model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["FindByToken"]; err != nil {
		return model.RefreshToken{}, err
	}
	t, ok := m.tokens[token]
	if !ok {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	return t, nil
}

func (m *memStore) Revoke(_ context.Context, token string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Revoke"]; err != nil {
		return false, err
	}
	t, ok := m.tokens[token]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.UpdatedAt = at
	m.tokens[token] = t
	return true, nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["RevokeAllForUser"]; err != nil {
		return 0, err
	}
	return m.revokeAllLocked(userID, at), nil
}

func (m *memStore) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RefreshToken, 0)
	for _, t := range m.tokens {
		if t.UserID == userID && t.Usable(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Rotate(_ context.Context, oldToken string, replacement model.RefreshToken, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Rotate"]; err != nil {
		return false, err
	}
	t, ok := m.tokens[oldToken]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.UpdatedAt = at
	m.tokens[oldToken] = t
	m.tokens[replacement.Token] = replacement
	return true, nil
}

func (m *memStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Log(_ context.Context, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Log"]; err != nil {
		return err
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memStore) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["Query"]; err != nil {
		return nil, model.Meta{}, err
	}
	out := make([]model.AuditEntry, 0)
	for _, e := range m.audit {
		if query.Action != "" && !strings.EqualFold(e.Action, query.Action) {
			continue
		}
		out = append(out, e)
	}
	return out, model.Meta{Page: 1, Limit: len(out), Total: len(out), TotalPages: 1}, nil
}

func (m *memStore) auditEntries(action string) []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEntry, 0)
	for _, e := range m.audit {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	testAccessTTL  = 60 * time.Minute
	testRefreshTTL = 30 * 24 * time.Hour
	testSecret     = "test-secret-with-enough-entropy"
	testPassword   = "correct horse battery"
)

type testEnv struct {
	store   *memStore
	clock   *testClock
	hasher  *security.BcryptHasher
	codec   *security.AccessTokenCodec
	refresh *RefreshTokenService
	auth    *AuthService
	users   *UserService
	bus     *event.InMemoryBus
}

func newTestEnv(t *testing.T, rotate bool) *testEnv {
	t.Helper()

	hasher, err := security.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	codec, err := security.NewAccessTokenCodec(testSecret, testAccessTTL)
	require.NoError(t, err)

	store := newMemStore()
	clock := &testClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	bus := event.NewBus()
	audit := NewAuditService(store)
	audit.now = clock.Now

	refresh := NewRefreshTokenService(store, store, testRefreshTTL)
	auth := NewAuthService(store, hasher, codec, refresh, audit, bus, rotate)
	auth.SetClock(clock.Now)
	users := NewUserService(store, hasher, audit, bus)
	users.SetClock(clock.Now)

	return &testEnv{
		store:   store,
		clock:   clock,
		hasher:  hasher,
		codec:   codec,
		refresh: refresh,
		auth:    auth,
		users:   users,
		bus:     bus,
	}
}

func (e *testEnv) seedUser(t *testing.T, email string, nationalID string, role model.Role, active bool) model.User {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)
	now := e.clock.Now()
	u := model.User{
		ID:           uuid.NewString(),
		Name:         "Seeded",
		Email:        email,
		NationalID:   nationalID,
		PasswordHash: hash,
		Role:         role,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.store.Create(context.Background(), u))
	return u
}
