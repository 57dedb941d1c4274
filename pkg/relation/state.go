package relation

import (
	"fmt"

	"github.com/knotsocial/knot/pkg/stores"
)

// EdgeState is the derived relationship state for an ordered pair
// (viewer, other). It is never stored; it is recomputed from the two
// user records on every read.
type EdgeState string

const (
	// StateUnconnected means neither record references the other id.
	StateUnconnected EdgeState = "unconnected"

	// StateRequestedByViewer means the viewer has a pending request to the other user.
	StateRequestedByViewer EdgeState = "requested_by_viewer"

	// StateRequestedByOther means the other user has a pending request to the viewer.
	StateRequestedByOther EdgeState = "requested_by_other"

	// StateConnected means the pair holds an established mutual connection.
	StateConnected EdgeState = "connected"
)

// Violation describes one broken edge invariant observed while deriving
// a state. Violations are warnings to be logged and repaired, never
// errors surfaced to the viewer.
type Violation struct {
	// Invariant names the broken property: symmetry, mirror, exclusion, self_edge.
	Invariant string

	// Detail is a human-readable description of the asymmetry.
	Detail string

	// Repairs are the pruning mutations, keyed by record id, that remove
	// the dangling half. Repairs only remove entries; a missing half is
	// never completed by a reader.
	Repairs map[string][]stores.Mutation
}

// ComputeState derives the edge state for the ordered pair (viewerID,
// otherID) from fresh copies of both records. Either record may be nil
// (user not found); a nil record contributes no memberships.
//
// When the records disagree, the state is chosen by fixed precedence
// (connected, then requested-by-other, then requested-by-viewer, then
// unconnected) and each broken invariant is returned as a Violation so
// the caller can log and repair it. A reader leans unconnected: a half
// the counterpart does not reciprocate yields the weaker state plus a
// pruning repair, never the stronger state.
func ComputeState(viewer, other *stores.UserRecord, viewerID, otherID string) (EdgeState, []Violation) {
	if viewerID == otherID {
		return StateUnconnected, []Violation{{
			Invariant: "self_edge",
			Detail:    fmt.Sprintf("state requested for pair %s/%s", viewerID, otherID),
		}}
	}

	var violations []Violation
	violations = append(violations, selfEdgeViolations(viewer)...)
	violations = append(violations, selfEdgeViolations(other)...)

	viewerMatched := viewer != nil && viewer.Matched.Has(otherID)
	otherMatched := other != nil && other.Matched.Has(viewerID)
	viewerSent := viewer != nil && viewer.SentRequests.Has(otherID)
	otherIncoming := other != nil && other.IncomingRequests.Has(viewerID)
	viewerIncoming := viewer != nil && viewer.IncomingRequests.Has(otherID)
	otherSent := other != nil && other.SentRequests.Has(viewerID)

	// A symmetric connection beats everything; a one-sided match is
	// pruned, not promoted.
	switch {
	case viewerMatched && otherMatched:
		violations = append(violations, exclusionViolations(viewer, other, viewerID, otherID)...)
		return StateConnected, violations
	case viewerMatched:
		violations = append(violations, symmetryViolation(viewerID, otherID))
	case otherMatched:
		violations = append(violations, symmetryViolation(otherID, viewerID))
	}

	// Pending edge from the other user toward the viewer.
	switch {
	case otherSent && viewerIncoming:
		return StateRequestedByOther, violations
	case otherSent:
		violations = append(violations, mirrorViolation(otherID, viewerID, otherID, stores.FieldSentRequests, viewerID))
	case viewerIncoming:
		violations = append(violations, mirrorViolation(otherID, viewerID, viewerID, stores.FieldIncomingRequests, otherID))
	}

	// Pending edge from the viewer toward the other user.
	switch {
	case viewerSent && otherIncoming:
		return StateRequestedByViewer, violations
	case viewerSent:
		violations = append(violations, mirrorViolation(viewerID, otherID, viewerID, stores.FieldSentRequests, otherID))
	case otherIncoming:
		violations = append(violations, mirrorViolation(viewerID, otherID, otherID, stores.FieldIncomingRequests, viewerID))
	}

	return StateUnconnected, violations
}

// symmetryViolation reports a one-sided matched entry. holderID is the
// record carrying the dangling entry for strayID.
func symmetryViolation(holderID, strayID string) Violation {
	return Violation{
		Invariant: "symmetry",
		Detail:    fmt.Sprintf("%s lists %s as matched but not vice versa", holderID, strayID),
		Repairs: map[string][]stores.Mutation{
			holderID: {stores.Remove(stores.FieldMatched, strayID)},
		},
	}
}

// mirrorViolation reports a one-sided pending request from senderID to
// receiverID. holderID is the record carrying the dangling half, field
// the set it sits in, and member the id to prune from it.
func mirrorViolation(senderID, receiverID, holderID string, field stores.Field, member string) Violation {
	return Violation{
		Invariant: "mirror",
		Detail:    fmt.Sprintf("pending request from %s to %s exists on one side only", senderID, receiverID),
		Repairs: map[string][]stores.Mutation{
			holderID: {stores.Remove(field, member)},
		},
	}
}

// exclusionViolations reports pending entries that coexist with an
// established connection; the pending halves are the ones pruned.
func exclusionViolations(viewer, other *stores.UserRecord, viewerID, otherID string) []Violation {
	var out []Violation
	candidates := []struct {
		record *stores.UserRecord
		id     string
		field  stores.Field
		member string
	}{
		{viewer, viewerID, stores.FieldSentRequests, otherID},
		{viewer, viewerID, stores.FieldIncomingRequests, otherID},
		{other, otherID, stores.FieldSentRequests, viewerID},
		{other, otherID, stores.FieldIncomingRequests, viewerID},
	}
	for _, c := range candidates {
		if c.record == nil || !c.record.Set(c.field).Has(c.member) {
			continue
		}
		out = append(out, Violation{
			Invariant: "exclusion",
			Detail:    fmt.Sprintf("%s holds a pending entry for %s alongside an established connection", c.id, c.member),
			Repairs: map[string][]stores.Mutation{
				c.id: {stores.Remove(c.field, c.member)},
			},
		})
	}
	return out
}

// selfEdgeViolations reports a record referencing its own id.
func selfEdgeViolations(record *stores.UserRecord) []Violation {
	if record == nil {
		return nil
	}
	var out []Violation
	for _, field := range []stores.Field{stores.FieldSentRequests, stores.FieldIncomingRequests, stores.FieldMatched} {
		if record.Set(field).Has(record.ID) {
			out = append(out, Violation{
				Invariant: "self_edge",
				Detail:    fmt.Sprintf("%s references itself in %s", record.ID, field),
				Repairs: map[string][]stores.Mutation{
					record.ID: {stores.Remove(field, record.ID)},
				},
			})
		}
	}
	return out
}
