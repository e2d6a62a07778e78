package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGrantCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_grant_tests")
	future := time.Now().UTC().Add(time.Hour)

	t.Run("rejects non-positive limit", func(t *testing.T) {
		_, err := env.grants.Create(ctx, credID, "caller-x", 0, future, "owner-1")
		if svcError(t, err).Code != "invalid_request" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("rejects past expiry", func(t *testing.T) {
		_, err := env.grants.Create(ctx, credID, "caller-x", 5, time.Now().UTC().Add(-time.Minute), "owner-1")
		if svcError(t, err).Code != "invalid_request" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("rejects non-owner with not_found", func(t *testing.T) {
		_, err := env.grants.Create(ctx, credID, "caller-x", 5, future, "intruder")
		if svcError(t, err).Code != "not_found" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("rejects revoked credential", func(t *testing.T) {
		revokedID := env.register(t, "owner-1", "doomed key", "sk_live_doomed_key1")
		if err := env.vault.Revoke(ctx, revokedID, "owner-1"); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		_, err := env.grants.Create(ctx, revokedID, "caller-x", 5, future, "owner-1")
		if svcError(t, err).Code != "credential_revoked" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})
}

func TestCheckAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_authz_tests")
	future := time.Now().UTC().Add(time.Hour)

	t.Run("denied without grant", func(t *testing.T) {
		_, err := env.grants.CheckAuthorization(ctx, credID, "caller-x")
		if svcError(t, err).Code != "authorization_denied" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("unknown credential denies without leaking existence", func(t *testing.T) {
		_, err := env.grants.CheckAuthorization(ctx, uuid.New(), "caller-x")
		if svcError(t, err).Code != "authorization_denied" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("most permissive grant wins", func(t *testing.T) {
		env.grant(t, credID, "caller-x", 2, future, "owner-1")
		env.grant(t, credID, "caller-x", 10, future, "owner-1")
		env.grant(t, credID, "caller-x", 5, future, "owner-1")

		grant, err := env.grants.CheckAuthorization(ctx, credID, "caller-x")
		if err != nil {
			t.Fatalf("check authorization: %v", err)
		}
		if grant.MaxCallsPerDay != 10 {
			t.Fatalf("expected the most permissive grant, got limit %d", grant.MaxCallsPerDay)
		}
	})

	t.Run("grant for another caller does not authorize", func(t *testing.T) {
		_, err := env.grants.CheckAuthorization(ctx, credID, "caller-other")
		if svcError(t, err).Code != "authorization_denied" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})
}

func TestLazyExpiryWithoutSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_expiry_test")

	env.grant(t, credID, "caller-x", 5, time.Now().UTC().Add(50*time.Millisecond), "owner-1")

	if _, err := env.grants.CheckAuthorization(ctx, credID, "caller-x"); err != nil {
		t.Fatalf("expected authorization before expiry: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	// No cleanup sweep ran; expiry must still deny.
	_, err := env.grants.CheckAuthorization(ctx, credID, "caller-x")
	if svcError(t, err).Code != "authorization_denied" {
		t.Fatalf("unexpected code: %s", svcError(t, err).Code)
	}
}

func TestGrantRevocationImmediate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_revoke_test")
	grantID := env.grant(t, credID, "caller-x", 5, time.Now().UTC().Add(time.Hour), "owner-1")

	t.Run("non-owner cannot revoke", func(t *testing.T) {
		err := env.grants.Revoke(ctx, grantID, "intruder")
		if svcError(t, err).Code != "not_found" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("owner revocation denies the next check", func(t *testing.T) {
		if err := env.grants.Revoke(ctx, grantID, "owner-1"); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		_, err := env.grants.CheckAuthorization(ctx, credID, "caller-x")
		if svcError(t, err).Code != "authorization_denied" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})

	t.Run("double revoke is rejected", func(t *testing.T) {
		err := env.grants.Revoke(ctx, grantID, "owner-1")
		if svcError(t, err).Code != "grant_revoked" {
			t.Fatalf("unexpected code: %s", svcError(t, err).Code)
		}
	})
}

func TestCleanupExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := env.register(t, "owner-1", "api key", "sk_live_sweep_tests")

	env.grant(t, credID, "caller-x", 5, time.Now().UTC().Add(30*time.Millisecond), "owner-1")
	env.grant(t, credID, "caller-y", 5, time.Now().UTC().Add(time.Hour), "owner-1")

	time.Sleep(60 * time.Millisecond)

	count, err := env.grants.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 swept grant, got %d", count)
	}

	// The unexpired grant is untouched.
	if _, err := env.grants.CheckAuthorization(ctx, credID, "caller-y"); err != nil {
		t.Fatalf("unexpired grant should authorize: %v", err)
	}
}
