package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Call names used for fault injection on MemoryStore.
const (
	CallGetUser        = "get_user"
	CallApplyMutations = "apply_mutations"
)

// fault is a scheduled one-shot failure for a store call.
type fault struct {
	call string
	id   string // empty matches any record
	err  error
}

// MemoryStore is an in-memory Store used by tests and local tooling.
// Faults can be injected per call to exercise partial-write and
// transient-failure paths deterministically.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*UserRecord
	audit   []*AuditEntry
	faults  []fault
	nextID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*UserRecord),
		nextID:  1,
	}
}

// InjectFault schedules a one-shot failure for the next matching call.
// An empty id matches any record. Faults fire in injection order.
func (s *MemoryStore) InjectFault(call, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{call: call, id: id, err: err})
}

// takeFault consumes and returns the first matching scheduled fault.
func (s *MemoryStore) takeFault(call, id string) error {
	for i, f := range s.faults {
		if f.call != call {
			continue
		}
		if f.id != "" && f.id != id {
			continue
		}
		s.faults = append(s.faults[:i], s.faults[i+1:]...)
		return f.err
	}
	return nil
}

// Init is a no-op for the in-memory store.
func (s *MemoryStore) Init(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// HealthCheck is a no-op for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// CreateUser inserts a new user record.
func (s *MemoryStore) CreateUser(_ context.Context, record *UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("user record %s already exists", record.ID)
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// GetUser fetches a deep copy of a user record.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*UserRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFault(CallGetUser, id); err != nil {
		return nil, false, err
	}

	record, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// ApplyMutations applies idempotent set mutations to one record.
func (s *MemoryStore) ApplyMutations(ctx context.Context, id string, mutations []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFault(CallApplyMutations, id); err != nil {
		return err
	}

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	for _, m := range mutations {
		record.Apply(m)
	}
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// SetOnboardingCompleted marks onboarding as completed for a user.
func (s *MemoryStore) SetOnboardingCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	record.OnboardingCompleted = true
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// ListUserIDs returns all user ids in the store.
func (s *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendAudit appends an audit entry.
func (s *MemoryStore) AppendAudit(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	copied.ID = s.nextID
	s.nextID++
	s.audit = append(s.audit, &copied)
	entry.ID = copied.ID
	return nil
}

// ListAudit returns audit entries ordered most recent first.
func (s *MemoryStore) ListAudit(_ context.Context, limit, offset int) ([]*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	out := make([]*AuditEntry, 0, limit)
	for i := len(s.audit) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		copied := *s.audit[i]
		out = append(out, &copied)
	}
	return out, nil
}
