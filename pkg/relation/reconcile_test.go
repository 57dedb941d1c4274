package relation

import (
	"context"
	"errors"
	"testing"

	"github.com/knotsocial/knot/pkg/stores"
)

// seedDanglingSent leaves alice with a sent entry that bob never received,
// the shape a partial send leaves behind.
func seedDanglingSent(t *testing.T, store *stores.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	err := store.ApplyMutations(ctx, "alice", []stores.Mutation{
		stores.Add(stores.FieldSentRequests, "bob"),
	})
	if err != nil {
		t.Fatalf("failed to seed dangling entry: %v", err)
	}
}

// TestGetStateRepairsDanglingHalf tests read-time pruning on state lookup
func TestGetStateRepairsDanglingHalf(t *testing.T) {
	engine, store := setupEngine(t, "alice", "bob")
	ctx := context.Background()

	seedDanglingSent(t, store)

	state, err := engine.GetState(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateUnconnected {
		t.Errorf("expected dangling half to read as unconnected, got %s", state)
	}

	// The dangling half must have been pruned, never completed.
	alice := getRecord(t, store, "alice")
	bob := getRecord(t, store, "bob")
	if alice.SentRequests.Has("bob") {
		t.Error("expected the dangling sent entry to be pruned")
	}
	if bob.IncomingRequests.Has("alice") {
		t.Error("a reader must never complete a missing half")
	}
}

// TestListIncomingFiltersUnverified tests that incoming entries without a
// mirrored sent entry are pruned and omitted
func TestListIncomingFiltersUnverified(t *testing.T) {
	engine, store := setupEngine(t, "alice", "bob", "carol")
	ctx := context.Background()

	res, err := engine.SendRequest(ctx, "bob", "alice")
	requireOK(t, res, err)

	// carol's half never committed on her side.
	if err := store.ApplyMutations(ctx, "alice", []stores.Mutation{
		stores.Add(stores.FieldIncomingRequests, "carol"),
	}); err != nil {
		t.Fatalf("failed to seed dangling incoming entry: %v", err)
	}

	incoming, err := engine.ListIncoming(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incoming) != 1 || incoming[0] != "bob" {
		t.Errorf("expected only the verified request from bob, got %v", incoming)
	}

	alice := getRecord(t, store, "alice")
	if alice.IncomingRequests.Has("carol") {
		t.Error("expected the unverified incoming entry to be pruned")
	}
}

// TestListConnectionsFiltersOneSided tests that unreciprocated matches are
// pruned and omitted
func TestListConnectionsFiltersOneSided(t *testing.T) {
	engine, store := setupEngine(t, "alice", "bob", "carol")
	ctx := context.Background()

	res, err := engine.SendRequest(ctx, "alice", "bob")
	requireOK(t, res, err)
	res, err = engine.AcceptRequest(ctx, "bob", "alice")
	requireOK(t, res, err)

	// A one-sided match toward carol, as left by a partial remove on
	// carol's side.
	if err := store.ApplyMutations(ctx, "alice", []stores.Mutation{
		stores.Add(stores.FieldMatched, "carol"),
	}); err != nil {
		t.Fatalf("failed to seed one-sided match: %v", err)
	}

	connections, err := engine.ListConnections(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(connections) != 1 || connections[0] != "bob" {
		t.Errorf("expected only the mutual connection with bob, got %v", connections)
	}

	alice := getRecord(t, store, "alice")
	if alice.Matched.Has("carol") {
		t.Error("expected the one-sided match to be pruned")
	}
}

// TestListIncomingKeepsEntriesOnReadFailure tests that transient read
// trouble does not cause pruning
func TestListIncomingKeepsEntriesOnReadFailure(t *testing.T) {
	engine, store := setupEngine(t, "alice", "bob")
	ctx := context.Background()

	res, err := engine.SendRequest(ctx, "bob", "alice")
	requireOK(t, res, err)

	store.InjectFault(stores.CallGetUser, "bob", errors.New("store down"))

	incoming, err := engine.ListIncoming(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incoming) != 1 || incoming[0] != "bob" {
		t.Errorf("expected the entry to survive a transient verification failure, got %v", incoming)
	}

	alice := getRecord(t, store, "alice")
	if !alice.IncomingRequests.Has("bob") {
		t.Error("a transient read failure must not prune the entry")
	}
}

// TestRepairPair tests single-pair reconciliation
func TestRepairPair(t *testing.T) {
	engine, store := setupEngine(t, "alice", "bob")
	ctx := context.Background()

	seedDanglingSent(t, store)

	violations, repairs, err := engine.RepairPair(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violations != 1 || repairs != 1 {
		t.Errorf("expected 1 violation and 1 repair, got %d/%d", violations, repairs)
	}

	checkInvariants(t, store, "alice", "bob")
}

// TestSweepRepairsBulk tests the offline sweep over several broken pairs
func TestSweepRepairsBulk(t *testing.T) {
	engine, store := setupEngine(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()

	// A healthy pending pair that must survive untouched.
	res, err := engine.SendRequest(ctx, "carol", "dave")
	requireOK(t, res, err)

	// Two broken shapes: a dangling sent entry and a one-sided match.
	seedDanglingSent(t, store)
	if err := store.ApplyMutations(ctx, "dave", []stores.Mutation{
		stores.Add(stores.FieldMatched, "alice"),
	}); err != nil {
		t.Fatalf("failed to seed one-sided match: %v", err)
	}

	report, err := engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.UsersScanned != 4 {
		t.Errorf("expected 4 users scanned, got %d", report.UsersScanned)
	}
	if report.Violations != 2 || report.Repairs != 2 {
		t.Errorf("expected 2 violations and 2 repairs, got %d/%d", report.Violations, report.Repairs)
	}

	// The broken halves are gone, the healthy pair intact.
	alice := getRecord(t, store, "alice")
	dave := getRecord(t, store, "dave")
	if alice.SentRequests.Has("bob") || dave.Matched.Has("alice") {
		t.Error("expected broken halves to be pruned by the sweep")
	}
	carol := getRecord(t, store, "carol")
	if !carol.SentRequests.Has("dave") {
		t.Error("expected the healthy pending pair to survive the sweep")
	}

	// A second sweep finds nothing left to repair.
	report, err = engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Violations != 0 || report.Repairs != 0 {
		t.Errorf("expected a clean second sweep, got %d/%d", report.Violations, report.Repairs)
	}
}
