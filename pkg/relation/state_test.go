package relation

import (
	"testing"

	"github.com/knotsocial/knot/pkg/stores"
)

// record builds a user record with the given set contents for tests.
func record(id string, sent, incoming, matched []string) *stores.UserRecord {
	rec := stores.NewUserRecord(id)
	for _, m := range sent {
		rec.SentRequests.Add(m)
	}
	for _, m := range incoming {
		rec.IncomingRequests.Add(m)
	}
	for _, m := range matched {
		rec.Matched.Add(m)
	}
	return rec
}

// TestComputeStateCleanPairs tests state derivation for well-formed pairs
func TestComputeStateCleanPairs(t *testing.T) {
	tests := []struct {
		name   string
		viewer *stores.UserRecord
		other  *stores.UserRecord
		want   EdgeState
	}{
		{
			name:   "unconnected",
			viewer: record("alice", nil, nil, nil),
			other:  record("bob", nil, nil, nil),
			want:   StateUnconnected,
		},
		{
			name:   "requested by viewer",
			viewer: record("alice", []string{"bob"}, nil, nil),
			other:  record("bob", nil, []string{"alice"}, nil),
			want:   StateRequestedByViewer,
		},
		{
			name:   "requested by other",
			viewer: record("alice", nil, []string{"bob"}, nil),
			other:  record("bob", []string{"alice"}, nil, nil),
			want:   StateRequestedByOther,
		},
		{
			name:   "connected",
			viewer: record("alice", nil, nil, []string{"bob"}),
			other:  record("bob", nil, nil, []string{"alice"}),
			want:   StateConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, violations := ComputeState(tt.viewer, tt.other, "alice", "bob")
			if state != tt.want {
				t.Errorf("expected state %s, got %s", tt.want, state)
			}
			if len(violations) != 0 {
				t.Errorf("expected no violations, got %v", violations)
			}
		})
	}
}

// TestComputeStateNilRecords tests that missing users derive as unconnected
func TestComputeStateNilRecords(t *testing.T) {
	state, violations := ComputeState(nil, nil, "alice", "bob")
	if state != StateUnconnected {
		t.Errorf("expected unconnected, got %s", state)
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations, got %v", violations)
	}
}

// TestComputeStateSelfPair tests the self-edge guard
func TestComputeStateSelfPair(t *testing.T) {
	rec := record("alice", nil, nil, nil)
	state, violations := ComputeState(rec, rec, "alice", "alice")
	if state != StateUnconnected {
		t.Errorf("expected unconnected, got %s", state)
	}
	if len(violations) != 1 || violations[0].Invariant != "self_edge" {
		t.Errorf("expected a self_edge violation, got %v", violations)
	}
}

// TestComputeStateConnectionPrecedence tests the precedence rule when a
// connection coexists with leftover pending entries
func TestComputeStateConnectionPrecedence(t *testing.T) {
	viewer := record("alice", []string{"bob"}, nil, []string{"bob"})
	other := record("bob", nil, []string{"alice"}, []string{"alice"})

	state, violations := ComputeState(viewer, other, "alice", "bob")
	if state != StateConnected {
		t.Errorf("expected connected to take precedence, got %s", state)
	}
	if len(violations) == 0 {
		t.Fatal("expected exclusion violations for the leftover pending entries")
	}
	for _, v := range violations {
		if v.Invariant != "exclusion" {
			t.Errorf("expected exclusion violation, got %s", v.Invariant)
		}
		if len(v.Repairs) == 0 {
			t.Error("expected pruning repairs for the pending leftovers")
		}
	}
}

// TestComputeStateOneSidedMatch tests that an unreciprocated connection
// leans unconnected and is marked for pruning
func TestComputeStateOneSidedMatch(t *testing.T) {
	viewer := record("alice", nil, nil, []string{"bob"})
	other := record("bob", nil, nil, nil)

	state, violations := ComputeState(viewer, other, "alice", "bob")
	if state != StateUnconnected {
		t.Errorf("expected unconnected for one-sided match, got %s", state)
	}
	if len(violations) != 1 || violations[0].Invariant != "symmetry" {
		t.Fatalf("expected one symmetry violation, got %v", violations)
	}

	repairs := violations[0].Repairs["alice"]
	if len(repairs) != 1 || repairs[0].Field != stores.FieldMatched || repairs[0].Op != stores.OpRemove {
		t.Errorf("expected a matched prune on alice, got %v", repairs)
	}
	if _, onBob := violations[0].Repairs["bob"]; onBob {
		t.Error("repair must never touch the record that lacks the entry")
	}
}

// TestComputeStateDanglingSent tests that a half-written request leans
// unconnected with a prune on the dangling side
func TestComputeStateDanglingSent(t *testing.T) {
	viewer := record("alice", []string{"bob"}, nil, nil)
	other := record("bob", nil, nil, nil)

	state, violations := ComputeState(viewer, other, "alice", "bob")
	if state != StateUnconnected {
		t.Errorf("expected unconnected for dangling request, got %s", state)
	}
	if len(violations) != 1 || violations[0].Invariant != "mirror" {
		t.Fatalf("expected one mirror violation, got %v", violations)
	}
	repairs := violations[0].Repairs["alice"]
	if len(repairs) != 1 || repairs[0].Field != stores.FieldSentRequests || repairs[0].Member != "bob" {
		t.Errorf("expected a sent_requests prune on alice, got %v", repairs)
	}
}

// TestComputeStateDanglingIncoming tests pruning of an incoming entry
// whose sender holds no matching sent entry
func TestComputeStateDanglingIncoming(t *testing.T) {
	viewer := record("alice", nil, []string{"bob"}, nil)
	other := record("bob", nil, nil, nil)

	state, violations := ComputeState(viewer, other, "alice", "bob")
	if state != StateUnconnected {
		t.Errorf("expected unconnected, got %s", state)
	}
	if len(violations) != 1 || violations[0].Invariant != "mirror" {
		t.Fatalf("expected one mirror violation, got %v", violations)
	}
	repairs := violations[0].Repairs["alice"]
	if len(repairs) != 1 || repairs[0].Field != stores.FieldIncomingRequests {
		t.Errorf("expected an incoming_requests prune on alice, got %v", repairs)
	}
}

// TestComputeStateSelfReference tests detection of a record referencing itself
func TestComputeStateSelfReference(t *testing.T) {
	viewer := record("alice", []string{"alice"}, nil, nil)
	other := record("bob", nil, nil, nil)

	_, violations := ComputeState(viewer, other, "alice", "bob")
	found := false
	for _, v := range violations {
		if v.Invariant == "self_edge" {
			found = true
		}
	}
	if !found {
		t.Error("expected a self_edge violation for the self-referencing record")
	}
}
