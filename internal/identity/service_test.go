package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/identity/jwt"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx records commit and rollback; staged writes apply only on commit.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	onCommit   []func()
}

func (f *fakeTx) Commit(_ context.Context) error {
	f.committed = true
	for _, fn := range f.onCommit {
		fn()
	}
	return nil
}

func (f *fakeTx) Rollback(_ context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

// mockRepository implements Repository for testing.
type mockRepository struct {
	users  map[string]*domain.User
	lastTx *fakeTx
}

func newMockRepository(users ...domain.User) *mockRepository {
	m := &mockRepository{users: make(map[string]*domain.User)}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *mockRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *mockRepository) EnsureUser(_ context.Context, id, email string) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id, Role: domain.RoleUser}
		m.users[id] = u
	}
	u.Email = email
	c := *u
	return &c, nil
}

func (m *mockRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.lastTx = &fakeTx{}
	return m.lastTx, nil
}

func (m *mockRepository) GetUserForUpdateTx(ctx context.Context, _ pgx.Tx, id string) (*domain.User, error) {
	return m.GetUserByID(ctx, id)
}

func (m *mockRepository) SetRoleTx(_ context.Context, tx pgx.Tx, id string, role domain.Role) error {
	ftx := tx.(*fakeTx)
	ftx.onCommit = append(ftx.onCommit, func() { m.users[id].Role = role })
	return nil
}

func (m *mockRepository) SetBlockedTx(_ context.Context, tx pgx.Tx, id string, blocked bool) error {
	ftx := tx.(*fakeTx)
	ftx.onCommit = append(ftx.onCommit, func() { m.users[id].Blocked = blocked })
	return nil
}

// mockAudit implements AuditRecorder for testing.
type mockAudit struct {
	entries []audit.Entry
	err     error
}

func (m *mockAudit) RecordTx(_ context.Context, tx pgx.Tx, e audit.Entry) error {
	if m.err != nil {
		return m.err
	}
	ftx := tx.(*fakeTx)
	ftx.onCommit = append(ftx.onCommit, func() { m.entries = append(m.entries, e) })
	return nil
}

type mockTokens map[string]*jwt.Claims

func (m mockTokens) Parse(token string) (*jwt.Claims, error) {
	if c, ok := m[token]; ok {
		return c, nil
	}
	return nil, jwt.ErrInvalidToken
}

var (
	admin      = domain.User{ID: "admin-1", Email: "admin@example.com", Role: domain.RoleAdmin}
	bob        = domain.User{ID: "user-1", Email: "bob@example.com", Role: domain.RoleUser}
	adminActor = domain.Actor{UID: admin.ID, Email: admin.Email, Origin: "10.0.0.1"}
)

func TestService_ValidateToken(t *testing.T) {
	repo := newMockRepository(admin)
	claims := &jwt.Claims{Email: "new@example.com"}
	claims.Subject = "user-9"
	svc := NewService(repo, mockTokens{"good": claims}, &mockAudit{})

	user, err := svc.ValidateToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "user-9", user.ID)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Contains(t, repo.users, "user-9")

	_, err = svc.ValidateToken(context.Background(), "bad")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestService_IsAdmin(t *testing.T) {
	blockedAdmin := domain.User{ID: "admin-2", Role: domain.RoleAdmin, Blocked: true}
	svc := NewService(newMockRepository(admin, bob, blockedAdmin), mockTokens{}, &mockAudit{})
	ctx := context.Background()

	tests := []struct {
		uid  string
		want bool
	}{
		{"admin-1", true},
		{"user-1", false},
		{"admin-2", false},
		{"unknown", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := svc.IsAdmin(ctx, tt.uid)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.uid)
	}
}

func TestService_GrantAdmin(t *testing.T) {
	repo := newMockRepository(admin, bob)
	auditLog := &mockAudit{}
	svc := NewService(repo, mockTokens{}, auditLog)

	user, err := svc.GrantAdmin(context.Background(), adminActor, bob.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.Equal(t, domain.RoleAdmin, repo.users[bob.ID].Role)
	assert.True(t, repo.lastTx.committed)

	require.Len(t, auditLog.entries, 1)
	e := auditLog.entries[0]
	assert.Equal(t, domain.AuditGrantAdmin, e.Action)
	assert.Equal(t, adminActor, e.Actor)
	assert.Equal(t, bob.ID, e.TargetUserID)
	assert.Equal(t, bob.Email, e.TargetUserEmail)
	assert.Equal(t, map[string]any{"from": "user", "to": "admin"}, e.Details)
}

func TestService_RevokeAdmin(t *testing.T) {
	other := domain.User{ID: "admin-3", Email: "carol@example.com", Role: domain.RoleAdmin}
	repo := newMockRepository(admin, other)
	auditLog := &mockAudit{}
	svc := NewService(repo, mockTokens{}, auditLog)

	_, err := svc.RevokeAdmin(context.Background(), adminActor, other.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, repo.users[other.ID].Role)
	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, domain.AuditRevokeAdmin, auditLog.entries[0].Action)
}

func TestService_SetBlocked(t *testing.T) {
	repo := newMockRepository(admin, bob)
	auditLog := &mockAudit{}
	svc := NewService(repo, mockTokens{}, auditLog)
	ctx := context.Background()

	_, err := svc.SetBlocked(ctx, adminActor, bob.ID, true)
	require.NoError(t, err)
	assert.True(t, repo.users[bob.ID].Blocked)

	_, err = svc.SetBlocked(ctx, adminActor, bob.ID, false)
	require.NoError(t, err)
	assert.False(t, repo.users[bob.ID].Blocked)

	require.Len(t, auditLog.entries, 2)
	assert.Equal(t, domain.AuditBlockUser, auditLog.entries[0].Action)
	assert.Equal(t, domain.AuditUnblockUser, auditLog.entries[1].Action)
}

func TestService_PrivilegedMutation_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		actor   domain.Actor
		target  string
		wantErr error
	}{
		{"non-admin actor", domain.Actor{UID: bob.ID}, admin.ID, ErrForbidden},
		{"anonymous actor", domain.Actor{}, bob.ID, ErrForbidden},
		{"self modification", adminActor, admin.ID, ErrCannotModifySelf},
		{"unknown target", adminActor, "ghost", ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository(admin, bob)
			auditLog := &mockAudit{}
			svc := NewService(repo, mockTokens{}, auditLog)

			_, err := svc.GrantAdmin(context.Background(), tt.actor, tt.target)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, auditLog.entries)
			assert.Equal(t, domain.RoleUser, repo.users[bob.ID].Role)
		})
	}
}

func TestService_AuditFailureRollsBack(t *testing.T) {
	repo := newMockRepository(admin, bob)
	svc := NewService(repo, mockTokens{}, &mockAudit{err: errors.New("audit insert failed")})

	_, err := svc.GrantAdmin(context.Background(), adminActor, bob.ID)

	require.Error(t, err)
	assert.False(t, repo.lastTx.committed)
	assert.True(t, repo.lastTx.rolledBack)
	assert.Equal(t, domain.RoleUser, repo.users[bob.ID].Role)
}
