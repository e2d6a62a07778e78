package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/metrics"
	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/store"
)

// AuditLog records every attempt against the broker as an immutable,
// metadata-only entry. Entries form a hash chain: each entry's hash covers
// its own fields plus the previous entry's hash, so a retroactive edit
// breaks verification from that point on.
type AuditLog struct {
	store store.Store

	// mu serializes appends; the chain head must not move between reading
	// the previous hash and writing the next entry.
	mu       sync.Mutex
	lastHash []byte
	loaded   bool
}

func NewAuditLog(s store.Store) *AuditLog {
	return &AuditLog{store: s}
}

// RecordInput carries the fields of one audit event. Bodies and secret
// material must never appear here; EndpointHost is host and path only.
type RecordInput struct {
	CallerPrincipal  string
	CredentialID     uuid.UUID
	Action           model.AuditAction
	Method           string
	EndpointHost     string
	PayloadSizeBytes int64
	ResponseTimeMs   int64
	ResponseCode     int
	ErrorMessage     string
}

// Record appends an entry. It never fails the caller's flow: any error is
// logged to the process log as a secondary sink and swallowed, since a
// completed proxy call cannot be rolled back by a logging failure.
func (a *AuditLog) Record(ctx context.Context, in RecordInput) {
	if !in.Action.Valid() {
		log.Error().Str("action", string(in.Action)).Msg("dropping audit record with unknown action")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		if err := a.loadChainHeadLocked(ctx); err != nil {
			log.Error().Err(err).Msg("audit chain head unavailable, record dropped")
			return
		}
	}

	entry := &model.AuditEntry{
		ID: uuid.New(),
		// Truncated to microseconds so the hashed timestamp survives a
		// postgres roundtrip unchanged.
		Timestamp:        time.Now().UTC().Truncate(time.Microsecond),
		CallerPrincipal:  in.CallerPrincipal,
		CredentialID:     in.CredentialID,
		Action:           in.Action,
		Method:           in.Method,
		EndpointHost:     in.EndpointHost,
		PayloadSizeBytes: in.PayloadSizeBytes,
		ResponseTimeMs:   in.ResponseTimeMs,
		ResponseCode:     in.ResponseCode,
		ErrorMessage:     in.ErrorMessage,
	}
	entry.PrevHash = append([]byte(nil), a.lastHash...)
	entry.EntryHash = chainHash(entry)

	if err := a.store.AppendAuditEntry(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("action", string(in.Action)).
			Str("credential_id", in.CredentialID.String()).
			Msg("audit append failed")
		return
	}
	a.lastHash = entry.EntryHash
	metrics.AuditEntries.WithLabelValues(string(in.Action)).Inc()
}

// Query returns entries visible to the requester: only those whose
// credential the requester owns. Asking about someone else's credential
// yields an empty page, not an error.
func (a *AuditLog) Query(ctx context.Context, filters store.AuditFilters) ([]*model.AuditEntry, int, error) {
	entries, total, err := a.store.ListAuditEntries(ctx, filters)
	if err != nil {
		log.Error().Err(err).Msg("audit query failed")
		return nil, 0, NewInternal("internal_error", "Failed to query audit log")
	}
	return entries, total, nil
}

// VerifyIntegrity walks the full sequence in append order, checking that
// timestamps never decrease and that every entry's hash links to its
// predecessor. Any mismatch means the stored log was edited.
func (a *AuditLog) VerifyIntegrity(ctx context.Context) (bool, int, error) {
	var (
		prevHash []byte
		prevTs   time.Time
		checked  int
		broken   bool
	)
	err := a.store.WalkAuditEntries(ctx, func(entry *model.AuditEntry) error {
		if broken {
			return nil
		}
		if entry.Timestamp.Before(prevTs) {
			broken = true
			return nil
		}
		if !bytes.Equal(entry.PrevHash, prevHash) || !bytes.Equal(entry.EntryHash, chainHash(entry)) {
			broken = true
			return nil
		}
		prevHash = entry.EntryHash
		prevTs = entry.Timestamp
		checked++
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("integrity walk failed")
		return false, 0, NewInternal("internal_error", "Integrity verification failed")
	}
	if broken {
		log.Error().Int("verified_before_break", checked).Msg("audit chain verification failed")
	}
	return !broken, checked, nil
}

func (a *AuditLog) loadChainHeadLocked(ctx context.Context) error {
	last, err := a.store.LastAuditEntry(ctx)
	if err == store.ErrNotFound {
		a.lastHash = nil
		a.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	a.lastHash = append([]byte(nil), last.EntryHash...)
	a.loaded = true
	return nil
}

// chainHash digests the entry's identifying fields plus the previous hash.
// Field values are length-prefixed so adjacent fields cannot be confused.
func chainHash(entry *model.AuditEntry) []byte {
	h := sha256.New()
	h.Write(entry.PrevHash)
	for _, field := range []string{
		entry.ID.String(),
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.CallerPrincipal,
		entry.CredentialID.String(),
		string(entry.Action),
		entry.Method,
		entry.EndpointHost,
		entry.ErrorMessage,
	} {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(field)))
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], uint64(entry.PayloadSizeBytes))
	h.Write(numBuf[:])
	binary.BigEndian.PutUint64(numBuf[:], uint64(entry.ResponseTimeMs))
	h.Write(numBuf[:])
	binary.BigEndian.PutUint64(numBuf[:], uint64(entry.ResponseCode))
	h.Write(numBuf[:])
	return h.Sum(nil)
}
