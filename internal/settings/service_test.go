package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errForbidden = errors.New("forbidden")

type fakeTx struct {
	pgx.Tx
	committed bool
	onCommit  []func()
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
	return nil
}

type mockRepository struct {
	current domain.AppSettings
	lastTx  *fakeTx
}

func (m *mockRepository) Get(_ context.Context) (*domain.AppSettings, error) {
	s := m.current
	return &s, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.lastTx = &fakeTx{}
	return m.lastTx, nil
}

func (m *mockRepository) GetForUpdateTx(ctx context.Context, _ pgx.Tx) (*domain.AppSettings, error) {
	return m.Get(ctx)
}

func (m *mockRepository) UpdateTx(_ context.Context, tx pgx.Tx, telegram domain.TelegramSettings, updatedBy string) (*domain.AppSettings, error) {
	next := domain.AppSettings{Telegram: telegram, UpdatedBy: updatedBy, UpdatedAt: time.Now()}
	tx.(*fakeTx).onCommit = append(tx.(*fakeTx).onCommit, func() { m.current = next })
	return &next, nil
}

type mockGuard struct{ admins map[string]bool }

func (m mockGuard) RequireAdmin(_ context.Context, actor domain.Actor) error {
	if !m.admins[actor.UID] {
		return errForbidden
	}
	return nil
}

type mockAudit struct {
	entries []audit.Entry
	err     error
}

func (m *mockAudit) RecordTx(_ context.Context, _ pgx.Tx, e audit.Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func newTestService(auditErr error) (*Service, *mockRepository, *mockAudit) {
	repo := &mockRepository{current: domain.AppSettings{
		Telegram: domain.TelegramSettings{Enabled: true, UseProxy: true},
	}}
	auditLog := &mockAudit{err: auditErr}
	return NewService(repo, mockGuard{admins: map[string]bool{"admin-1": true}}, auditLog), repo, auditLog
}

func TestService_Update(t *testing.T) {
	svc, repo, auditLog := newTestService(nil)
	actor := domain.Actor{UID: "admin-1", Email: "admin@example.com"}

	updated, err := svc.Update(context.Background(), actor, domain.TelegramSettings{Enabled: true, UseProxy: false})

	require.NoError(t, err)
	assert.False(t, updated.Telegram.UseProxy)
	assert.Equal(t, "admin-1", updated.UpdatedBy)
	assert.False(t, repo.current.Telegram.UseProxy)
	assert.True(t, repo.lastTx.committed)

	require.Len(t, auditLog.entries, 1)
	e := auditLog.entries[0]
	assert.Equal(t, domain.AuditUpdateAppSettings, e.Action)
	assert.Equal(t, map[string]any{
		"from": map[string]any{"enabled": true, "use_proxy": true},
		"to":   map[string]any{"enabled": true, "use_proxy": false},
	}, e.Details)
}

func TestService_Update_NonAdmin(t *testing.T) {
	svc, repo, auditLog := newTestService(nil)

	_, err := svc.Update(context.Background(), domain.Actor{UID: "user-1"}, domain.TelegramSettings{})

	assert.ErrorIs(t, err, errForbidden)
	assert.Nil(t, repo.lastTx)
	assert.Empty(t, auditLog.entries)
	assert.True(t, repo.current.Telegram.UseProxy)
}

func TestService_Update_AuditFailureRollsBack(t *testing.T) {
	svc, repo, _ := newTestService(errors.New("audit insert failed"))

	_, err := svc.Update(context.Background(), domain.Actor{UID: "admin-1"}, domain.TelegramSettings{Enabled: false})

	require.Error(t, err)
	assert.False(t, repo.lastTx.committed)
	assert.True(t, repo.current.Telegram.Enabled)
}
