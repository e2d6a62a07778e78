package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/model"
)

// Memory is an in-process Store used for development mode (no DATABASE_URL)
// and unit tests. It mirrors the postgres implementation's semantics; the
// single store lock makes every usage reservation a check-then-increment
// that no concurrent caller can interleave.
type Memory struct {
	mu          sync.RWMutex
	credentials map[uuid.UUID]*model.Credential
	grants      map[uuid.UUID]*model.Grant
	usage       map[usageKey]*model.UsageCounter
	audit       []*model.AuditEntry
	kdfSalt     []byte
}

type usageKey struct {
	credentialID    uuid.UUID
	callerPrincipal string
	day             string
}

func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[uuid.UUID]*model.Credential),
		grants:      make(map[uuid.UUID]*model.Grant),
		usage:       make(map[usageKey]*model.UsageCounter),
	}
}

// --- credentials ---

func (m *Memory) CreateCredential(_ context.Context, cred *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cred.ID = uuid.New()
	cred.CreatedAt = now
	cred.LastRotatedAt = now
	cred.UpdatedAt = now

	stored := *cred
	stored.Ciphertext = append([]byte(nil), cred.Ciphertext...)
	m.credentials[cred.ID] = &stored
	return nil
}

func (m *Memory) GetCredential(_ context.Context, id uuid.UUID) (*model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cred
	out.Ciphertext = append([]byte(nil), cred.Ciphertext...)
	return &out, nil
}

func (m *Memory) ListCredentialsByOwner(_ context.Context, ownerID string) ([]*model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var creds []*model.Credential
	for _, cred := range m.credentials {
		if cred.OwnerID != ownerID {
			continue
		}
		out := *cred
		out.Ciphertext = append([]byte(nil), cred.Ciphertext...)
		creds = append(creds, &out)
	}
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].CreatedAt.After(creds[j].CreatedAt)
	})
	return creds, nil
}

func (m *Memory) ActiveNameExists(_ context.Context, ownerID, displayName string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cred := range m.credentials {
		if cred.OwnerID == ownerID && cred.Status == model.CredentialActive &&
			strings.EqualFold(cred.DisplayName, displayName) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RotateCredentialCiphertext(_ context.Context, id uuid.UUID, ciphertext []byte, rotatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	cred.Ciphertext = append([]byte(nil), ciphertext...)
	cred.LastRotatedAt = rotatedAt
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateCredentialStatus(_ context.Context, id uuid.UUID, status model.CredentialStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	cred.Status = status
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

// --- grants ---

func (m *Memory) CreateGrant(_ context.Context, grant *model.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant.ID = uuid.New()
	grant.CreatedAt = time.Now().UTC()
	stored := *grant
	m.grants[grant.ID] = &stored
	return nil
}

func (m *Memory) GetGrant(_ context.Context, id uuid.UUID) (*model.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, ok := m.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *grant
	return &out, nil
}

func (m *Memory) ListGrantsForPair(_ context.Context, credentialID uuid.UUID, callerPrincipal string) ([]*model.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var grants []*model.Grant
	for _, grant := range m.grants {
		if grant.CredentialID == credentialID && grant.CallerPrincipal == callerPrincipal {
			out := *grant
			grants = append(grants, &out)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].CreatedAt.After(grants[j].CreatedAt)
	})
	return grants, nil
}

func (m *Memory) ListGrantsByGrantor(_ context.Context, grantedBy string) ([]*model.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var grants []*model.Grant
	for _, grant := range m.grants {
		if grant.GrantedBy == grantedBy {
			out := *grant
			grants = append(grants, &out)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].CreatedAt.After(grants[j].CreatedAt)
	})
	return grants, nil
}

func (m *Memory) UpdateGrantActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.grants[id]
	if !ok {
		return ErrNotFound
	}
	grant.Active = active
	return nil
}

func (m *Memory) DeactivateGrantsForCredential(_ context.Context, credentialID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, grant := range m.grants {
		if grant.CredentialID == credentialID && grant.Active {
			grant.Active = false
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeactivateExpiredGrants(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, grant := range m.grants {
		if grant.Active && !now.Before(grant.ExpiresAt) {
			grant.Active = false
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountActiveGrants(_ context.Context, credentialID uuid.UUID, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, grant := range m.grants {
		if grant.CredentialID == credentialID && grant.IsActiveAt(now) {
			count++
		}
	}
	return count, nil
}

// --- usage counters ---

func (m *Memory) ReserveUsage(_ context.Context, credentialID uuid.UUID, callerPrincipal, day string, limit int) (bool, int, error) {
	key := usageKey{credentialID, callerPrincipal, day}
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.usage[key]
	if !ok {
		counter = &model.UsageCounter{
			CredentialID:    credentialID,
			CallerPrincipal: callerPrincipal,
			Day:             day,
		}
		m.usage[key] = counter
	}

	if counter.CallCount >= limit {
		return false, counter.CallCount, nil
	}
	counter.CallCount++
	counter.LastUpdatedAt = time.Now().UTC()
	return true, counter.CallCount, nil
}

func (m *Memory) AddPayloadBytes(_ context.Context, credentialID uuid.UUID, callerPrincipal, day string, n int64) error {
	key := usageKey{credentialID, callerPrincipal, day}
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.usage[key]
	if !ok {
		return nil
	}
	counter.TotalPayloadBytes += n
	counter.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) GetUsage(_ context.Context, credentialID uuid.UUID, callerPrincipal, day string) (*model.UsageCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := usageKey{credentialID, callerPrincipal, day}
	counter, ok := m.usage[key]
	if !ok {
		return &model.UsageCounter{
			CredentialID:    credentialID,
			CallerPrincipal: callerPrincipal,
			Day:             day,
		}, nil
	}
	out := *counter
	return &out, nil
}

// --- audit log ---

func (m *Memory) AppendAuditEntry(_ context.Context, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Seq = int64(len(m.audit) + 1)
	stored := *entry
	stored.PrevHash = append([]byte(nil), entry.PrevHash...)
	stored.EntryHash = append([]byte(nil), entry.EntryHash...)
	m.audit = append(m.audit, &stored)
	return nil
}

func (m *Memory) LastAuditEntry(_ context.Context) (*model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.audit) == 0 {
		return nil, ErrNotFound
	}
	out := *m.audit[len(m.audit)-1]
	return &out, nil
}

func (m *Memory) ListAuditEntries(_ context.Context, filters AuditFilters) ([]*model.AuditEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*model.AuditEntry
	for _, entry := range m.audit {
		cred, ok := m.credentials[entry.CredentialID]
		if !ok || cred.OwnerID != filters.OwnerID {
			continue
		}
		if filters.CredentialID != nil && entry.CredentialID != *filters.CredentialID {
			continue
		}
		if filters.CallerPrincipal != nil && entry.CallerPrincipal != *filters.CallerPrincipal {
			continue
		}
		if filters.From != nil && entry.Timestamp.Before(*filters.From) {
			continue
		}
		if filters.To != nil && entry.Timestamp.After(*filters.To) {
			continue
		}
		out := *entry
		matched = append(matched, &out)
	}

	// Newest first, same as the postgres implementation.
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })

	total := len(matched)
	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *Memory) WalkAuditEntries(_ context.Context, fn func(*model.AuditEntry) error) error {
	m.mu.RLock()
	entries := make([]*model.AuditEntry, len(m.audit))
	for i, entry := range m.audit {
		out := *entry
		entries[i] = &out
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// --- vault meta ---

func (m *Memory) GetKDFSalt(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.kdfSalt == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.kdfSalt...), nil
}

func (m *Memory) SetKDFSalt(_ context.Context, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.kdfSalt == nil {
		m.kdfSalt = append([]byte(nil), salt...)
	}
	return nil
}
