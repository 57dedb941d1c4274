package stores

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a user record does not exist.
var ErrNotFound = errors.New("user record not found")

// Field identifies a set-valued field of a UserRecord.
type Field string

const (
	FieldSentRequests     Field = "sent_requests"
	FieldIncomingRequests Field = "incoming_requests"
	FieldMatched          Field = "matched"
)

// MutationOp is the kind of set mutation to apply.
type MutationOp string

const (
	// OpAdd inserts a member into a set. Adding a present member is a no-op.
	OpAdd MutationOp = "add"

	// OpRemove deletes a member from a set. Removing an absent member is a no-op.
	OpRemove MutationOp = "remove"
)

// Mutation is a single idempotent set mutation against one record.
type Mutation struct {
	Field  Field      `json:"field"`
	Op     MutationOp `json:"op"`
	Member string     `json:"member"`
}

// Add builds an add mutation.
func Add(field Field, member string) Mutation {
	return Mutation{Field: field, Op: OpAdd, Member: member}
}

// Remove builds a remove mutation.
func Remove(field Field, member string) Mutation {
	return Mutation{Field: field, Op: OpRemove, Member: member}
}

// IDSet is a set of user ids with idempotent add/remove semantics.
// It marshals to a sorted JSON array for stable persistence.
type IDSet map[string]struct{}

// NewIDSet builds a set from the given members.
func NewIDSet(members ...string) IDSet {
	s := make(IDSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Has reports whether member is in the set.
func (s IDSet) Has(member string) bool {
	_, ok := s[member]
	return ok
}

// Add inserts member. Inserting a present member is a no-op.
func (s IDSet) Add(member string) {
	s[member] = struct{}{}
}

// Remove deletes member. Deleting an absent member is a no-op.
func (s IDSet) Remove(member string) {
	delete(s, member)
}

// Members returns the sorted member list.
func (s IDSet) Members() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for m := range s {
		out[m] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}

// UnmarshalJSON decodes a JSON array into the set.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = NewIDSet(members...)
	return nil
}

// UserRecord is the persisted per-user document. The relationship sets
// together with the counterpart's record encode the logical edge between
// two users; no standalone edge row exists.
type UserRecord struct {
	ID                  string    `json:"id"`
	SentRequests        IDSet     `json:"sent_requests"`
	IncomingRequests    IDSet     `json:"incoming_requests"`
	Matched             IDSet     `json:"matched"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewUserRecord builds an empty record for the given id.
func NewUserRecord(id string) *UserRecord {
	now := time.Now().UTC()
	return &UserRecord{
		ID:               id,
		SentRequests:     NewIDSet(),
		IncomingRequests: NewIDSet(),
		Matched:          NewIDSet(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Set returns the set for the given field.
func (r *UserRecord) Set(field Field) IDSet {
	switch field {
	case FieldSentRequests:
		return r.SentRequests
	case FieldIncomingRequests:
		return r.IncomingRequests
	case FieldMatched:
		return r.Matched
	default:
		return nil
	}
}

// Apply applies a mutation to the record in place.
func (r *UserRecord) Apply(m Mutation) {
	set := r.Set(m.Field)
	if set == nil {
		return
	}
	switch m.Op {
	case OpAdd:
		set.Add(m.Member)
	case OpRemove:
		set.Remove(m.Member)
	}
}

// Clone returns an independent deep copy of the record.
func (r *UserRecord) Clone() *UserRecord {
	out := *r
	out.SentRequests = r.SentRequests.Clone()
	out.IncomingRequests = r.IncomingRequests.Clone()
	out.Matched = r.Matched.Clone()
	return &out
}

// AuditEntry records a completed operation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "request.sent", "request.accepted"
	Actor     string    `json:"actor"`
	TargetID  string    `json:"target_id"`
	Outcome   string    `json:"outcome"`
	Details   string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the record store consumed by the relation engine and the
// session gate. All operations address a single record; the engine never
// relies on multi-record atomicity.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// User records
	CreateUser(ctx context.Context, record *UserRecord) error
	GetUser(ctx context.Context, id string) (*UserRecord, bool, error)
	ApplyMutations(ctx context.Context, id string, mutations []Mutation) error
	SetOnboardingCompleted(ctx context.Context, id string) error
	ListUserIDs(ctx context.Context) ([]string, error)

	// Audit trail
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit, offset int) ([]*AuditEntry, error)
}
