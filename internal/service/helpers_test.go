package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/store"
)

type testEnv struct {
	store  *store.Memory
	vault  *Vault
	grants *GrantRegistry
	policy *PolicyEngine
	audit  *AuditLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemory()
	audit := NewAuditLog(s)
	vault := NewVault(s, bytes.Repeat([]byte{0x42}, 32), audit)
	return &testEnv{
		store:  s,
		vault:  vault,
		grants: NewGrantRegistry(s, vault, audit),
		policy: NewPolicyEngine(s),
		audit:  audit,
	}
}

func (e *testEnv) register(t *testing.T, owner, name, secret string) uuid.UUID {
	t.Helper()
	cred, err := e.vault.Register(context.Background(), owner, name, secret)
	if err != nil {
		t.Fatalf("register credential: %v", err)
	}
	return cred.ID
}

func (e *testEnv) grant(t *testing.T, credID uuid.UUID, caller string, limit int, expiresAt time.Time, owner string) uuid.UUID {
	t.Helper()
	grant, err := e.grants.Create(context.Background(), credID, caller, limit, expiresAt, owner)
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	return grant.ID
}

func svcError(t *testing.T, err error) *Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	svcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *service.Error, got %T: %v", err, err)
	}
	return svcErr
}

func allEntries(t *testing.T, s *store.Memory) []*model.AuditEntry {
	t.Helper()
	var entries []*model.AuditEntry
	err := s.WalkAuditEntries(context.Background(), func(e *model.AuditEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatalf("walk audit entries: %v", err)
	}
	return entries
}
