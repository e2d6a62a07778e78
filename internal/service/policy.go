package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/store"
)

// PolicyEngine enforces per-(credential, caller) daily call limits against
// UTC day buckets. The check-then-increment is a single atomic operation in
// the store, keyed per bucket, so concurrent calls against a nearly-spent
// limit can never all pass.
type PolicyEngine struct {
	store store.UsageStore
}

func NewPolicyEngine(s store.UsageStore) *PolicyEngine {
	return &PolicyEngine{store: s}
}

// CheckAndReserve consumes one call from today's bucket if the limit allows.
// On denial it returns ErrTooMany with the current usage, the limit, and the
// seconds until the daily boundary resets the bucket. The reservation is not
// rolled back if the subsequent upstream call fails or times out.
func (p *PolicyEngine) CheckAndReserve(ctx context.Context, credentialID uuid.UUID, callerPrincipal string, limit int) error {
	now := time.Now().UTC()
	day := model.UsageDay(now)

	reserved, count, err := p.store.ReserveUsage(ctx, credentialID, callerPrincipal, day, limit)
	if err != nil {
		log.Error().Err(err).Str("credential_id", credentialID.String()).Msg("usage reservation failed")
		return NewInternal("internal_error", "Rate limit check failed")
	}
	if !reserved {
		return NewTooMany("rate_limited", "Daily call limit reached for this credential", map[string]interface{}{
			"current_usage":       count,
			"limit":               limit,
			"retry_after_seconds": SecondsUntilRollover(now),
		})
	}
	return nil
}

// RecordPayload adds the request payload size to today's bucket, after a
// successful reservation. Best effort; failures are logged only.
func (p *PolicyEngine) RecordPayload(ctx context.Context, credentialID uuid.UUID, callerPrincipal string, n int64) {
	if n <= 0 {
		return
	}
	day := model.UsageDay(time.Now().UTC())
	if err := p.store.AddPayloadBytes(ctx, credentialID, callerPrincipal, day, n); err != nil {
		log.Error().Err(err).Str("credential_id", credentialID.String()).Msg("failed to record payload bytes")
	}
}

// CurrentUsage returns today's counter without consuming a call.
func (p *PolicyEngine) CurrentUsage(ctx context.Context, credentialID uuid.UUID, callerPrincipal string) (*model.UsageCounter, error) {
	day := model.UsageDay(time.Now().UTC())
	counter, err := p.store.GetUsage(ctx, credentialID, callerPrincipal, day)
	if err != nil {
		log.Error().Err(err).Msg("failed to read usage")
		return nil, NewInternal("internal_error", "Failed to read usage")
	}
	return counter, nil
}

// SecondsUntilRollover returns the seconds remaining until the next UTC
// midnight, when a fresh day bucket starts.
func SecondsUntilRollover(now time.Time) int {
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return int(next.Sub(utc).Seconds())
}
