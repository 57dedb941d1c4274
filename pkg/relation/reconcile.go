package relation

import (
	"context"

	"github.com/knotsocial/knot/pkg/stores"
)

// SweepReport summarizes one reconciliation sweep.
type SweepReport struct {
	UsersScanned int `json:"users_scanned"`
	PairsChecked int `json:"pairs_checked"`
	Violations   int `json:"violations"`
	Repairs      int `json:"repairs"`
	Failures     int `json:"failures"`
}

// RepairPair checks one pair's invariants and prunes any dangling
// halves. It returns the number of violations found and the number of
// repairs applied; the two differ when a repair write fails or a
// violation carries no repair.
func (e *Engine) RepairPair(ctx context.Context, aID, bID string) (violations, repairs int, err error) {
	logger := e.logger.WithOperation("repair_pair").WithPair(aID, bID)

	a, foundA, err := e.getRecord(ctx, aID)
	if err != nil {
		return 0, 0, err
	}
	b, foundB, err := e.getRecord(ctx, bID)
	if err != nil {
		return 0, 0, err
	}
	if !foundA {
		a = nil
	}
	if !foundB {
		b = nil
	}

	_, found := ComputeState(a, b, aID, bID)
	for _, v := range found {
		e.tel.Metrics.RecordConsistencyViolation(v.Invariant)
		logger.WithFields(map[string]interface{}{
			"invariant": v.Invariant,
			"detail":    v.Detail,
		}).Warn("edge invariant violated")

		for recordID, muts := range v.Repairs {
			if err := e.applyMutations(ctx, recordID, muts); err != nil {
				logger.WithError(err).Warnf("failed to repair %s on %s", v.Invariant, recordID)
				continue
			}
			repairs++
			e.tel.Metrics.RecordReconcileRepair(v.Invariant)
			if err := e.tel.Events.PublishEdgeRepaired(aID, bID, v.Invariant); err != nil {
				logger.WithError(err).Debug("failed to publish repair event")
			}
		}
	}
	return len(found), repairs, nil
}

// Sweep walks every user record and repairs asymmetric edges in bulk.
// Each unordered pair is checked once. The sweep applies the same
// pruning as read-time reconciliation; it never completes a missing
// half, so a retried operation remains the only path that finishes a
// partial write.
func (e *Engine) Sweep(ctx context.Context) (*SweepReport, error) {
	logger := e.logger.WithOperation("sweep")
	report := &SweepReport{}

	ids, err := e.listUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	checked := make(map[[2]string]struct{})
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.UsersScanned++

		record, found, err := e.getRecord(ctx, id)
		if err != nil {
			report.Failures++
			logger.WithError(err).WithUserID(id).Warn("failed to read record during sweep")
			continue
		}
		if !found {
			continue
		}

		for _, field := range []stores.Field{stores.FieldSentRequests, stores.FieldIncomingRequests, stores.FieldMatched} {
			for _, otherID := range record.Set(field).Members() {
				key := pairKey(id, otherID)
				if _, done := checked[key]; done {
					continue
				}
				checked[key] = struct{}{}
				report.PairsChecked++

				violations, repairs, err := e.RepairPair(ctx, id, otherID)
				if err != nil {
					report.Failures++
					continue
				}
				report.Violations += violations
				report.Repairs += repairs
			}
		}
	}

	logger.WithFields(map[string]interface{}{
		"users_scanned": report.UsersScanned,
		"pairs_checked": report.PairsChecked,
		"violations":    report.Violations,
		"repairs":       report.Repairs,
		"failures":      report.Failures,
	}).Info("reconciliation sweep completed")
	return report, nil
}

// listUserIDs reads the id list with the engine's store-call budget.
func (e *Engine) listUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := e.withRetry(ctx, "list_user_ids", "", func(callCtx context.Context) error {
		var err error
		ids, err = e.store.ListUserIDs(callCtx)
		return err
	})
	if err != nil {
		return nil, NewUnavailableError("listing user records", err).WithCode(ErrCodeStoreTimeout)
	}
	return ids, nil
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
