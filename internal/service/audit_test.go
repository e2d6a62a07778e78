package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/store"
)

func recordN(t *testing.T, env *testEnv, credID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env.audit.Record(context.Background(), RecordInput{
			CallerPrincipal:  "caller-x",
			CredentialID:     credID,
			Action:           model.ActionProxyCall,
			Method:           "GET",
			EndpointHost:     "api.example.com/v1/data",
			PayloadSizeBytes: 100,
			ResponseTimeMs:   12,
			ResponseCode:     200,
		})
	}
}

func TestAuditChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_audit_chain")

	recordN(t, env, credID, 3)

	t.Run("entries are linked in order", func(t *testing.T) {
		entries := allEntries(t, env.store)
		if len(entries) != 4 { // register + 3 proxy calls
			t.Fatalf("expected 4 entries, got %d", len(entries))
		}
		if entries[0].PrevHash != nil {
			t.Fatal("first entry should have a nil previous hash")
		}
	})

	t.Run("verify passes on untouched log", func(t *testing.T) {
		ok, checked, err := env.audit.VerifyIntegrity(ctx)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if !ok || checked != 4 {
			t.Fatalf("expected clean chain of 4, got ok=%v checked=%d", ok, checked)
		}
	})
}

func TestAuditDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_tamper_test")
	recordN(t, env, credID, 2)

	// Rebuild the store with one entry's field edited, keeping the stored
	// hashes, to simulate a retroactive edit to the backing store.
	tampered := store.NewMemory()
	var i int
	err := env.store.WalkAuditEntries(ctx, func(e *model.AuditEntry) error {
		if i == 1 {
			e.EndpointHost = "attacker.example.com/hidden"
		}
		i++
		return tampered.AppendAuditEntry(ctx, e)
	})
	if err != nil {
		t.Fatalf("rebuild store: %v", err)
	}

	ok, _, err := NewAuditLog(tampered).VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected tampered chain to fail verification")
	}
}

func TestAuditRecordRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	env.audit.Record(context.Background(), RecordInput{
		CallerPrincipal: "caller-x",
		CredentialID:    uuid.New(),
		Action:          model.AuditAction("made_up"),
	})
	if entries := allEntries(t, env.store); len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestAuditQueryOwnerScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_scope_test1")
	otherID := env.register(t, "owner-2", "other key", "sk_live_scope_test2")
	recordN(t, env, credID, 2)

	t.Run("owner sees own entries", func(t *testing.T) {
		entries, total, err := env.audit.Query(ctx, store.AuditFilters{OwnerID: "owner-1"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 3 || len(entries) != 3 { // register + 2 proxy calls
			t.Fatalf("expected 3 entries, got total=%d len=%d", total, len(entries))
		}
	})

	t.Run("another owner asking about the credential gets empty, not an error", func(t *testing.T) {
		entries, total, err := env.audit.Query(ctx, store.AuditFilters{
			OwnerID:      "owner-2",
			CredentialID: &credID,
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 0 || len(entries) != 0 {
			t.Fatalf("expected empty result, got total=%d len=%d", total, len(entries))
		}
	})

	t.Run("time filters apply", func(t *testing.T) {
		future := time.Now().UTC().Add(time.Hour)
		entries, total, err := env.audit.Query(ctx, store.AuditFilters{
			OwnerID: "owner-2",
			From:    &future,
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total != 0 || len(entries) != 0 {
			t.Fatalf("expected no future entries, got %d", total)
		}
		_ = otherID
	})
}
