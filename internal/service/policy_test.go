package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCheckAndReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := uuid.New()

	t.Run("allows up to the limit, then denies with details", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := env.policy.CheckAndReserve(ctx, credID, "caller-x", 2); err != nil {
				t.Fatalf("call %d should be allowed: %v", i+1, err)
			}
		}

		err := env.policy.CheckAndReserve(ctx, credID, "caller-x", 2)
		svcErr := svcError(t, err)
		if svcErr.Code != "rate_limited" {
			t.Fatalf("unexpected code: %s", svcErr.Code)
		}
		if svcErr.Details["current_usage"] != 2 || svcErr.Details["limit"] != 2 {
			t.Fatalf("unexpected details: %+v", svcErr.Details)
		}
		retry, ok := svcErr.Details["retry_after_seconds"].(int)
		if !ok || retry < 1 || retry > 86400 {
			t.Fatalf("unexpected retry_after_seconds: %v", svcErr.Details["retry_after_seconds"])
		}
	})

	t.Run("denied call does not consume quota", func(t *testing.T) {
		counter, err := env.policy.CurrentUsage(ctx, credID, "caller-x")
		if err != nil {
			t.Fatalf("current usage: %v", err)
		}
		if counter.CallCount != 2 {
			t.Fatalf("expected count to stay at 2, got %d", counter.CallCount)
		}
	})

	t.Run("other pairs are unaffected", func(t *testing.T) {
		if err := env.policy.CheckAndReserve(ctx, credID, "caller-y", 2); err != nil {
			t.Fatalf("different caller should be allowed: %v", err)
		}
		if err := env.policy.CheckAndReserve(ctx, uuid.New(), "caller-x", 2); err != nil {
			t.Fatalf("different credential should be allowed: %v", err)
		}
	})
}

// N concurrent calls against a limit of K must yield exactly K reservations:
// two racing calls may never both pass a nearly-exhausted limit.
func TestCheckAndReserveConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := uuid.New()

	const (
		parallel = 50
		limit    = 7
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.policy.CheckAndReserve(ctx, credID, "caller-x", limit)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				allowed++
			} else {
				denied++
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("expected exactly %d allowed, got %d", limit, allowed)
	}
	if denied != parallel-limit {
		t.Fatalf("expected %d denied, got %d", parallel-limit, denied)
	}

	counter, err := env.policy.CurrentUsage(ctx, credID, "caller-x")
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if counter.CallCount != limit {
		t.Fatalf("counter exceeded limit: %d > %d", counter.CallCount, limit)
	}
}

func TestRecordPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	credID := uuid.New()

	if err := env.policy.CheckAndReserve(ctx, credID, "caller-x", 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	env.policy.RecordPayload(ctx, credID, "caller-x", 512)
	env.policy.RecordPayload(ctx, credID, "caller-x", 256)

	counter, err := env.policy.CurrentUsage(ctx, credID, "caller-x")
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if counter.TotalPayloadBytes != 768 {
		t.Fatalf("unexpected payload total: %d", counter.TotalPayloadBytes)
	}
}

func TestSecondsUntilRollover(t *testing.T) {
	t.Run("one second before midnight", func(t *testing.T) {
		now := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
		if got := SecondsUntilRollover(now); got != 1 {
			t.Fatalf("expected 1, got %d", got)
		}
	})

	t.Run("start of day", func(t *testing.T) {
		now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		if got := SecondsUntilRollover(now); got != 86400 {
			t.Fatalf("expected 86400, got %d", got)
		}
	})
}
