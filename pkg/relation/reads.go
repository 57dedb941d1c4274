package relation

import (
	"context"

	"github.com/knotsocial/knot/pkg/stores"
	"github.com/knotsocial/knot/pkg/telemetry"
)

// GetState derives the current edge state for the viewer toward the
// other user. Invariant violations observed on the way are repaired by
// pruning the dangling half; the viewer always gets a usable state,
// never an error about someone else's half-committed write.
func (e *Engine) GetState(ctx context.Context, viewerID, otherID string) (EdgeState, error) {
	logger := e.logger.WithOperation("get_state").WithPair(viewerID, otherID)

	viewer, foundV, err := e.getRecord(ctx, viewerID)
	if err != nil {
		return StateUnconnected, err
	}
	other, foundO, err := e.getRecord(ctx, otherID)
	if err != nil {
		return StateUnconnected, err
	}
	if !foundV {
		viewer = nil
	}
	if !foundO {
		other = nil
	}

	state, violations := ComputeState(viewer, other, viewerID, otherID)
	e.repairViolations(ctx, logger, violations, viewerID, otherID)
	return state, nil
}

// ListIncoming returns the ids of users with a verified pending request
// toward userID. An incoming entry whose sender does not hold the
// mirrored sent entry is a dangling half: it is pruned from the user's
// record and omitted from the result.
func (e *Engine) ListIncoming(ctx context.Context, userID string) ([]string, error) {
	return e.listVerified(ctx, userID, stores.FieldIncomingRequests)
}

// ListConnections returns the ids of users holding a verified mutual
// connection with userID. One-sided matched entries are pruned and
// omitted, never surfaced as connections the counterpart does not
// reciprocate.
func (e *Engine) ListConnections(ctx context.Context, userID string) ([]string, error) {
	return e.listVerified(ctx, userID, stores.FieldMatched)
}

// listVerified walks one set field of a user's record and keeps only the
// entries the counterpart record reciprocates, pruning the rest.
func (e *Engine) listVerified(ctx context.Context, userID string, field stores.Field) ([]string, error) {
	logger := e.logger.WithOperation("list_" + string(field)).WithUserID(userID)

	record, found, err := e.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, stores.ErrNotFound
	}

	verified := make([]string, 0, len(record.Set(field)))
	for _, otherID := range record.Set(field).Members() {
		other, foundOther, err := e.getRecord(ctx, otherID)
		if err != nil {
			// Cannot verify right now; keep the entry rather than
			// pruning on a transient read failure.
			verified = append(verified, otherID)
			continue
		}
		if !foundOther {
			other = nil
		}

		state, violations := ComputeState(record, other, userID, otherID)
		e.repairViolations(ctx, logger.WithPair(userID, otherID), violations, userID, otherID)

		switch field {
		case stores.FieldIncomingRequests:
			if state == StateRequestedByOther {
				verified = append(verified, otherID)
			}
		case stores.FieldMatched:
			if state == StateConnected {
				verified = append(verified, otherID)
			}
		}
	}
	return verified, nil
}

// repairViolations applies the pruning repairs attached to violations.
// Repair failures are logged and left for the next reader or the sweep;
// they never propagate to the caller.
func (e *Engine) repairViolations(ctx context.Context, logger *telemetry.Logger, violations []Violation, actorID, otherID string) {
	for _, v := range violations {
		e.tel.Metrics.RecordConsistencyViolation(v.Invariant)
		if len(v.Repairs) == 0 {
			continue
		}
		for recordID, muts := range v.Repairs {
			if err := e.applyMutations(ctx, recordID, muts); err != nil {
				logger.Warnf("failed to repair %s violation on %s: %v", v.Invariant, recordID, err)
				continue
			}
			e.tel.Metrics.RecordReconcileRepair(v.Invariant)
			if err := e.tel.Events.PublishEdgeRepaired(actorID, otherID, v.Invariant); err != nil {
				logger.Warnf("failed to publish repair event: %v", err)
			}
		}
	}
}
