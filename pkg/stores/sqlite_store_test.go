package stores

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreConnectionPragmas tests that the DSN pragmas are applied by
// the driver: WAL journaling and the busy timeout only matter on a
// file-backed database, so this test does not use :memory:
func TestStoreConnectionPragmas(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "knot.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("expected journal_mode wal, got %s", mode)
	}

	var busyTimeout int
	if err := store.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := store.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("expected foreign_keys on, got %d", foreignKeys)
	}
}

// TestStoreMigrations tests that migrations create the expected schema
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"user_records", "audit"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestUserRecordRoundTrip tests create and get of a user record
func TestUserRecordRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	record := NewUserRecord("alice")
	record.SentRequests.Add("bob")
	record.Matched.Add("carol")

	if err := store.CreateUser(ctx, record); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	got, found, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if !found {
		t.Fatal("expected user to be found")
	}
	if got.ID != "alice" {
		t.Errorf("expected id alice, got %s", got.ID)
	}
	if !got.SentRequests.Has("bob") {
		t.Error("expected bob in sent_requests")
	}
	if !got.Matched.Has("carol") {
		t.Error("expected carol in matched")
	}
	if got.OnboardingCompleted {
		t.Error("expected onboarding_completed to be false")
	}
}

// TestGetUserNotFound tests the not-found path
func TestGetUserNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, found, err := store.GetUser(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected user to be absent")
	}
}

// TestApplyMutations tests set mutation semantics at the SQL layer
func TestApplyMutations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateUser(ctx, NewUserRecord("alice")); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	mutations := []Mutation{
		Add(FieldSentRequests, "bob"),
		Add(FieldIncomingRequests, "carol"),
	}
	if err := store.ApplyMutations(ctx, "alice", mutations); err != nil {
		t.Fatalf("failed to apply mutations: %v", err)
	}

	// Re-adding a present member and removing an absent one are no-ops
	mutations = []Mutation{
		Add(FieldSentRequests, "bob"),
		Remove(FieldMatched, "dave"),
	}
	if err := store.ApplyMutations(ctx, "alice", mutations); err != nil {
		t.Fatalf("idempotent mutations failed: %v", err)
	}

	got, _, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if members := got.SentRequests.Members(); len(members) != 1 || members[0] != "bob" {
		t.Errorf("expected sent_requests=[bob], got %v", members)
	}
	if !got.IncomingRequests.Has("carol") {
		t.Error("expected carol in incoming_requests")
	}
	if len(got.Matched) != 0 {
		t.Errorf("expected empty matched, got %v", got.Matched.Members())
	}
}

// TestApplyMutationsMissingUser tests the ErrNotFound path
func TestApplyMutationsMissingUser(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	err := store.ApplyMutations(context.Background(), "missing", []Mutation{
		Add(FieldSentRequests, "bob"),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestSetOnboardingCompleted tests the one-way onboarding flag
func TestSetOnboardingCompleted(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateUser(ctx, NewUserRecord("alice")); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	if err := store.SetOnboardingCompleted(ctx, "alice"); err != nil {
		t.Fatalf("failed to set onboarding flag: %v", err)
	}

	// Setting it again is a no-op, not an error
	if err := store.SetOnboardingCompleted(ctx, "alice"); err != nil {
		t.Fatalf("second set failed: %v", err)
	}

	got, _, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if !got.OnboardingCompleted {
		t.Error("expected onboarding_completed to be true")
	}

	if err := store.SetOnboardingCompleted(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing user, got %v", err)
	}
}

// TestListUserIDs tests id listing
func TestListUserIDs(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"carol", "alice", "bob"} {
		if err := store.CreateUser(ctx, NewUserRecord(id)); err != nil {
			t.Fatalf("failed to create user %s: %v", id, err)
		}
	}

	ids, err := store.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("failed to list user ids: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("expected id %s at %d, got %s", want[i], i, ids[i])
		}
	}
}

// TestAuditTrail tests audit append and list
func TestAuditTrail(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	entries := []*AuditEntry{
		{Action: "request.sent", Actor: "alice", TargetID: "bob", Outcome: "ok", Timestamp: time.Now()},
		{Action: "request.accepted", Actor: "bob", TargetID: "alice", Outcome: "ok", Timestamp: time.Now()},
	}
	for _, entry := range entries {
		if err := store.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("failed to append audit entry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected audit entry id to be assigned")
		}
	}

	got, err := store.ListAudit(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// Most recent first
	if got[0].Action != "request.accepted" {
		t.Errorf("expected most recent entry first, got %s", got[0].Action)
	}
}
