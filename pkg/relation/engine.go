package relation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knotsocial/knot/pkg/stores"
	"github.com/knotsocial/knot/pkg/telemetry"
)

// Operation identifies a protocol operation.
type Operation string

const (
	OpSendRequest      Operation = "send_request"
	OpCancelRequest    Operation = "cancel_request"
	OpAcceptRequest    Operation = "accept_request"
	OpRejectRequest    Operation = "reject_request"
	OpRemoveConnection Operation = "remove_connection"
)

// Status is the outcome of a protocol operation.
type Status string

const (
	// StatusOK means both halves of the operation committed.
	StatusOK Status = "ok"

	// StatusRejected means the operation was refused without mutating
	// anything (or after rolling back its first half).
	StatusRejected Status = "rejected"

	// StatusPartiallyApplied means only one half of the dual write
	// committed. The same operation is safe to retry, and readers
	// reconcile the asymmetry in the meantime.
	StatusPartiallyApplied Status = "partially_applied"
)

// Result is the typed outcome of a protocol operation. Store failures
// before any write are returned as errors instead; everything after the
// first committed write is reported through a Result so the caller knows
// what, if anything, changed.
type Result struct {
	Status Status    `json:"status"`
	Code   string    `json:"code,omitempty"`
	Reason string    `json:"reason,omitempty"`
	State  EdgeState `json:"state,omitempty"`
}

// Denial is one policy refusal returned by a Gatekeeper.
type Denial struct {
	Policy string `json:"policy"`
	Reason string `json:"reason"`
}

// Gatekeeper authorizes protocol operations before any mutation.
// Implementations evaluate policy against the freshly-read actor record;
// an empty denial list allows the operation.
type Gatekeeper interface {
	Authorize(ctx context.Context, operation string, actor *stores.UserRecord, targetID string) ([]Denial, error)
}

// Config tunes the engine's store-call behavior.
type Config struct {
	// CallTimeout bounds each individual store call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// RetryAttempts is the total number of attempts per store call.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBaseDelay is the backoff base; attempt n waits base * 2^(n-1).
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{
		CallTimeout:    5 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 100 * time.Millisecond,
	}
}

// Engine orchestrates the dual-write synchronization protocol over the
// record store. It holds no locks: the only concurrency primitive is a
// fresh single-record read immediately before each write.
//
// Preconditions are evaluated against per-half set memberships, not the
// derived edge state. A partially-applied operation leaves exactly one
// half behind; membership-level checks let the retried operation skip
// the committed half and finish the missing one, which is what makes
// every operation idempotent under retry.
type Engine struct {
	store  stores.Store
	gate   Gatekeeper
	tel    *telemetry.Telemetry
	cfg    Config
	logger *telemetry.Logger
}

// NewEngine creates a relation engine. gate may be nil to disable policy
// checks; tel may be nil to disable instrumentation.
func NewEngine(store stores.Store, gate Gatekeeper, tel *telemetry.Telemetry, cfg Config) *Engine {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	return &Engine{
		store:  store,
		gate:   gate,
		tel:    tel,
		cfg:    cfg,
		logger: tel.Logger.NewComponentLogger("relation"),
	}
}

// SendRequest creates a pending request from requester to counterpart.
// If the counterpart has already requested the requester, the crossed
// requests resolve directly to a connection (implicit mutual accept).
func (e *Engine) SendRequest(ctx context.Context, requesterID, counterpartID string) (*Result, error) {
	return e.run(ctx, OpSendRequest, requesterID, counterpartID, e.sendRequest)
}

// CancelRequest withdraws a pending request the requester previously sent.
func (e *Engine) CancelRequest(ctx context.Context, requesterID, counterpartID string) (*Result, error) {
	return e.run(ctx, OpCancelRequest, requesterID, counterpartID, e.cancelRequest)
}

// AcceptRequest turns a pending request from requester into a connection.
// The accepter must hold an incoming request from the requester.
func (e *Engine) AcceptRequest(ctx context.Context, accepterID, requesterID string) (*Result, error) {
	return e.run(ctx, OpAcceptRequest, accepterID, requesterID, e.acceptRequest)
}

// RejectRequest declines a pending request from requester, clearing both
// the rejecter's incoming entry and the requester's sent entry.
func (e *Engine) RejectRequest(ctx context.Context, rejecterID, requesterID string) (*Result, error) {
	return e.run(ctx, OpRejectRequest, rejecterID, requesterID, e.rejectRequest)
}

// RemoveConnection dissolves an established connection.
func (e *Engine) RemoveConnection(ctx context.Context, initiatorID, otherID string) (*Result, error) {
	return e.run(ctx, OpRemoveConnection, initiatorID, otherID, e.removeConnection)
}

type opFunc func(ctx context.Context, logger *telemetry.Logger, actorID, otherID string) (*Result, error)

// run wraps one protocol operation with tracing, metrics, logging, and
// the audit trail.
func (e *Engine) run(ctx context.Context, op Operation, actorID, otherID string, fn opFunc) (*Result, error) {
	spanCtx, span := e.tel.Tracer.StartOperationSpan(ctx, string(op), actorID, otherID)
	defer span.End()

	logger := e.logger.WithOperation(string(op)).WithPair(actorID, otherID)
	timer := telemetry.NewTimer()

	var result *Result
	var err error
	if actorID == otherID {
		result = rejected(ErrCodeSelfEdge, "a user cannot form a relationship with itself", StateUnconnected)
	} else if actorID == "" || otherID == "" {
		result = rejected(ErrCodeUserNotFound, "empty user id", StateUnconnected)
	} else {
		result, err = fn(spanCtx, logger, actorID, otherID)
	}

	status := "error"
	if err == nil && result != nil {
		status = string(result.Status)
	}
	e.tel.Metrics.RecordOperation(string(op), status, timer.Duration())

	if err != nil {
		var relErr *RelationError
		if errors.As(err, &relErr) {
			e.tel.Metrics.RecordError(string(relErr.Class))
		}
		telemetry.RecordError(span, err)
		logger.WithError(err).Warn("operation failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.WithField("status", status).Debug("operation completed")
	}

	e.appendAudit(spanCtx, op, actorID, otherID, result, err)
	return result, err
}

// sendRequest implements the send operation. Write order is requester
// side first, counterpart side second; the crossed-request case is
// re-checked against a fresh read before each write.
func (e *Engine) sendRequest(ctx context.Context, logger *telemetry.Logger, requesterID, counterpartID string) (*Result, error) {
	requester, counterpart, res, err := e.readPair(ctx, requesterID, counterpartID)
	if res != nil || err != nil {
		return res, err
	}

	state, violations := ComputeState(requester, counterpart, requesterID, counterpartID)
	e.noteViolations(logger, violations)

	if res := e.authorize(ctx, logger, OpSendRequest, requester, counterpartID, state); res != nil {
		return res, nil
	}

	switch {
	case requester.Matched.Has(counterpartID) && counterpart.Matched.Has(requesterID):
		return rejected(ErrCodeAlreadyMatched, "users are already connected", StateConnected), nil
	case counterpart.SentRequests.Has(requesterID):
		// The counterpart asked first; resolve as a mutual accept.
		return e.completeMutual(ctx, logger, requesterID, counterpartID)
	case requester.SentRequests.Has(counterpartID) && counterpart.IncomingRequests.Has(requesterID):
		return rejected(ErrCodeAlreadyPending, "a request is already pending", StateRequestedByViewer), nil
	}
	// A one-sided sent entry falls through: it is the remnant of a
	// partial send and this attempt completes the missing half.

	// Write 1: requester side, revalidated against a fresh read.
	fresh, found, err := e.getRecord(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !found {
		return rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", requesterID), StateUnconnected), nil
	}
	if fresh.IncomingRequests.Has(counterpartID) {
		// Either the counterpart's request landed after our entry read,
		// or this entry is a dangling half left by a partial cancel.
		// Only the counterpart's own sent entry is authoritative.
		cp, cpFound, err := e.getRecord(ctx, counterpartID)
		if err != nil {
			return nil, err
		}
		if cpFound && cp.SentRequests.Has(requesterID) {
			return e.completeMutual(ctx, logger, requesterID, counterpartID)
		}
		logger.Warn("pruning dangling incoming entry before send")
		e.tel.Metrics.RecordConsistencyViolation("mirror")
		if err := e.applyMutations(ctx, requesterID, []stores.Mutation{
			stores.Remove(stores.FieldIncomingRequests, counterpartID),
		}); err != nil {
			return nil, err
		}
		e.tel.Metrics.RecordReconcileRepair("mirror")
	}

	if err := e.applyMutations(ctx, requesterID, []stores.Mutation{
		stores.Add(stores.FieldSentRequests, counterpartID),
	}); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", requesterID), StateUnconnected), nil
		}
		return nil, err
	}

	// Write 2: counterpart side, revalidated against a fresh read.
	counterpart, found, err = e.getRecord(ctx, counterpartID)
	if err != nil || !found {
		return e.partial(logger, OpSendRequest, requesterID, counterpartID,
			"requester half committed, counterpart half unverified"), nil
	}
	if counterpart.SentRequests.Has(requesterID) {
		// Crossed in flight: the counterpart's own send committed its
		// half between our two writes. Resolve both sides to connected.
		return e.resolveCrossed(ctx, logger, requesterID, counterpartID)
	}

	if err := e.applyMutations(ctx, counterpartID, []stores.Mutation{
		stores.Add(stores.FieldIncomingRequests, requesterID),
	}); err != nil {
		return e.partial(logger, OpSendRequest, requesterID, counterpartID,
			"requester half committed, counterpart half failed"), nil
	}

	e.publishEvent(logger, e.tel.Events.PublishRequestSent(requesterID, counterpartID))
	return &Result{Status: StatusOK, State: StateRequestedByViewer}, nil
}

func (e *Engine) cancelRequest(ctx context.Context, logger *telemetry.Logger, requesterID, counterpartID string) (*Result, error) {
	requester, counterpart, res, err := e.readPair(ctx, requesterID, counterpartID)
	if res != nil || err != nil {
		return res, err
	}

	state, violations := ComputeState(requester, counterpart, requesterID, counterpartID)
	e.noteViolations(logger, violations)

	if res := e.authorize(ctx, logger, OpCancelRequest, requester, counterpartID, state); res != nil {
		return res, nil
	}

	switch {
	case requester.Matched.Has(counterpartID) || counterpart.Matched.Has(requesterID):
		// The accept won; there is nothing left to cancel.
		return rejected(ErrCodeStateChanged, "the request was already accepted", state), nil
	case !requester.SentRequests.Has(counterpartID) && !counterpart.IncomingRequests.Has(requesterID):
		return rejected(ErrCodeNoPendingEdge, "no pending request to cancel", state), nil
	}

	res, err = e.runDualWrite(ctx, logger, OpCancelRequest,
		writeHalf{
			id:   requesterID,
			muts: []stores.Mutation{stores.Remove(stores.FieldSentRequests, counterpartID)},
			check: func(rec *stores.UserRecord) checkOutcome {
				switch {
				case rec.Matched.Has(counterpartID):
					// An accept completed between our read and this write.
					return abortWrite
				case rec.SentRequests.Has(counterpartID):
					return proceedWrite
				default:
					// Already cleared by a previous partial cancel.
					return skipWrite
				}
			},
		},
		writeHalf{
			id:   counterpartID,
			muts: []stores.Mutation{stores.Remove(stores.FieldIncomingRequests, requesterID)},
			check: func(rec *stores.UserRecord) checkOutcome {
				switch {
				case rec.Matched.Has(requesterID):
					return abortWrite
				case rec.IncomingRequests.Has(requesterID):
					return proceedWrite
				default:
					return skipWrite
				}
			},
		},
		StateUnconnected,
	)
	if err == nil && res.Status == StatusOK {
		e.publishEvent(logger, e.tel.Events.PublishRequestCanceled(requesterID, counterpartID))
	}
	return res, err
}

func (e *Engine) acceptRequest(ctx context.Context, logger *telemetry.Logger, accepterID, requesterID string) (*Result, error) {
	accepter, requester, res, err := e.readPair(ctx, accepterID, requesterID)
	if res != nil || err != nil {
		return res, err
	}

	state, violations := ComputeState(accepter, requester, accepterID, requesterID)
	e.noteViolations(logger, violations)

	if res := e.authorize(ctx, logger, OpAcceptRequest, accepter, requesterID, state); res != nil {
		return res, nil
	}

	pendingHalf := accepter.IncomingRequests.Has(requesterID) || requester.SentRequests.Has(accepterID)
	partialAccept := accepter.Matched.Has(requesterID) && requester.SentRequests.Has(accepterID)
	switch {
	case accepter.Matched.Has(requesterID) && requester.Matched.Has(accepterID):
		return rejected(ErrCodeAlreadyMatched, "users are already connected", StateConnected), nil
	case !pendingHalf && !partialAccept:
		return rejected(ErrCodeNoPendingEdge, "no incoming request to accept", state), nil
	}

	res, err = e.runDualWrite(ctx, logger, OpAcceptRequest,
		writeHalf{
			id: accepterID,
			muts: []stores.Mutation{
				stores.Remove(stores.FieldIncomingRequests, requesterID),
				stores.Add(stores.FieldMatched, requesterID),
			},
			check: func(rec *stores.UserRecord) checkOutcome {
				switch {
				case rec.IncomingRequests.Has(requesterID):
					return proceedWrite
				case rec.Matched.Has(requesterID):
					// A previous partial accept already committed this half.
					return skipWrite
				default:
					// A cancel cleared the request between our read and this write.
					return abortWrite
				}
			},
		},
		writeHalf{
			id: requesterID,
			muts: []stores.Mutation{
				stores.Remove(stores.FieldSentRequests, accepterID),
				stores.Add(stores.FieldMatched, accepterID),
			},
			check: func(rec *stores.UserRecord) checkOutcome {
				switch {
				case rec.SentRequests.Has(accepterID):
					return proceedWrite
				case rec.Matched.Has(accepterID):
					return skipWrite
				default:
					return abortWrite
				}
			},
		},
		StateConnected,
	)
	if err == nil && res.Status == StatusOK {
		e.publishEvent(logger, e.tel.Events.PublishRequestAccepted(accepterID, requesterID))
	}
	return res, err
}

func (e *Engine) rejectRequest(ctx context.Context, logger *telemetry.Logger, rejecterID, requesterID string) (*Result, error) {
	rejecter, requester, res, err := e.readPair(ctx, rejecterID, requesterID)
	if res != nil || err != nil {
		return res, err
	}

	state, violations := ComputeState(rejecter, requester, rejecterID, requesterID)
	e.noteViolations(logger, violations)

	if res := e.authorize(ctx, logger, OpRejectRequest, rejecter, requesterID, state); res != nil {
		return res, nil
	}

	switch {
	case rejecter.Matched.Has(requesterID) || requester.Matched.Has(rejecterID):
		return rejected(ErrCodeStateChanged, "the request was already accepted", state), nil
	case !rejecter.IncomingRequests.Has(requesterID) && !requester.SentRequests.Has(rejecterID):
		return rejected(ErrCodeNoPendingEdge, "no incoming request to reject", state), nil
	}

	// Full symmetric cleanup: both the rejecter's incoming entry and the
	// requester's sent entry are cleared, leaving no dangling half.
	res, err = e.runDualWrite(ctx, logger, OpRejectRequest,
		writeHalf{
			id:   rejecterID,
			muts: []stores.Mutation{stores.Remove(stores.FieldIncomingRequests, requesterID)},
			check: func(rec *stores.UserRecord) checkOutcome {
				switch {
				case rec.Matched.Has(requesterID):
					return abortWrite
				case rec.IncomingRequests.Has(requesterID):
					return proceedWrite
				default:
					return skipWrite
				}
			},
		},
		writeHalf{
			id:   requesterID,
			muts: []stores.Mutation{stores.Remove(stores.FieldSentRequests, rejecterID)},
			check: func(rec *stores.UserRecord) checkOutcome {
				switch {
				case rec.Matched.Has(rejecterID):
					return abortWrite
				case rec.SentRequests.Has(rejecterID):
					return proceedWrite
				default:
					return skipWrite
				}
			},
		},
		StateUnconnected,
	)
	if err == nil && res.Status == StatusOK {
		e.publishEvent(logger, e.tel.Events.PublishRequestRejected(rejecterID, requesterID))
	}
	return res, err
}

func (e *Engine) removeConnection(ctx context.Context, logger *telemetry.Logger, initiatorID, otherID string) (*Result, error) {
	initiator, other, res, err := e.readPair(ctx, initiatorID, otherID)
	if res != nil || err != nil {
		return res, err
	}

	state, violations := ComputeState(initiator, other, initiatorID, otherID)
	e.noteViolations(logger, violations)

	if res := e.authorize(ctx, logger, OpRemoveConnection, initiator, otherID, state); res != nil {
		return res, nil
	}

	if !initiator.Matched.Has(otherID) && !other.Matched.Has(initiatorID) {
		return rejected(ErrCodeNotConnected, "users are not connected", state), nil
	}

	res, err = e.runDualWrite(ctx, logger, OpRemoveConnection,
		writeHalf{
			id:   initiatorID,
			muts: []stores.Mutation{stores.Remove(stores.FieldMatched, otherID)},
			check: func(rec *stores.UserRecord) checkOutcome {
				if rec.Matched.Has(otherID) {
					return proceedWrite
				}
				return skipWrite
			},
		},
		writeHalf{
			id:   otherID,
			muts: []stores.Mutation{stores.Remove(stores.FieldMatched, initiatorID)},
			check: func(rec *stores.UserRecord) checkOutcome {
				if rec.Matched.Has(initiatorID) {
					return proceedWrite
				}
				return skipWrite
			},
		},
		StateUnconnected,
	)
	if err == nil && res.Status == StatusOK {
		e.publishEvent(logger, e.tel.Events.PublishConnectionRemoved(initiatorID, otherID))
	}
	return res, err
}

// checkOutcome is the verdict of a pre-write revalidation.
type checkOutcome int

const (
	// proceedWrite means the precondition still holds; apply the write.
	proceedWrite checkOutcome = iota

	// skipWrite means this half is already in its target form, typically
	// left by an earlier partial application of the same operation.
	skipWrite

	// abortWrite means a concurrent writer moved the edge to an
	// incompatible state; the operation loses.
	abortWrite
)

// writeHalf is one side of a dual-write operation. check runs against a
// fresh read of the record immediately before the write.
type writeHalf struct {
	id    string
	muts  []stores.Mutation
	check func(rec *stores.UserRecord) checkOutcome
}

// runDualWrite executes the two halves of an operation in order, with a
// fresh read and revalidation before each write. An aborted second half
// rolls back the first (when it was actually written) and rejects with
// StateChanged; a store failure after the first half committed is
// reported as partially applied.
func (e *Engine) runDualWrite(ctx context.Context, logger *telemetry.Logger, op Operation, first, second writeHalf, okState EdgeState) (*Result, error) {
	rec, found, err := e.getRecord(ctx, first.id)
	if err != nil {
		return nil, err
	}
	if !found {
		return rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", first.id), StateUnconnected), nil
	}

	var undo []stores.Mutation
	firstWritten := false
	switch first.check(rec) {
	case abortWrite:
		return e.stateChanged(ctx, logger, first.id, second.id)
	case proceedWrite:
		undo = invertApplied(rec, first.muts)
		if err := e.applyMutations(ctx, first.id, first.muts); err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				return rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", first.id), StateUnconnected), nil
			}
			// Nothing definitely committed; the whole operation is safe to retry.
			return nil, err
		}
		firstWritten = true
	case skipWrite:
	}

	rec2, found2, err := e.getRecord(ctx, second.id)
	if err != nil {
		if !firstWritten {
			return nil, err
		}
		return e.partial(logger, op, first.id, second.id,
			"first half committed, second half unverified"), nil
	}
	if !found2 {
		return e.rollbackAndReject(ctx, logger, op, first, second, firstWritten, undo)
	}

	switch second.check(rec2) {
	case abortWrite:
		return e.rollbackAndReject(ctx, logger, op, first, second, firstWritten, undo)
	case proceedWrite:
		if err := e.applyMutations(ctx, second.id, second.muts); err != nil {
			if !firstWritten {
				if errors.Is(err, stores.ErrNotFound) {
					return rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", second.id), StateUnconnected), nil
				}
				return nil, err
			}
			return e.partial(logger, op, first.id, second.id,
				"first half committed, second half failed"), nil
		}
	case skipWrite:
	}

	return &Result{Status: StatusOK, State: okState}, nil
}

// rollbackAndReject undoes the first half of a dual write whose second
// half was invalidated by a concurrent writer, then rejects.
func (e *Engine) rollbackAndReject(ctx context.Context, logger *telemetry.Logger, op Operation, first, second writeHalf, firstWritten bool, undo []stores.Mutation) (*Result, error) {
	if firstWritten && len(undo) > 0 {
		if err := e.applyMutations(ctx, first.id, undo); err != nil {
			return e.partial(logger, op, first.id, second.id,
				"first half committed, rollback failed"), nil
		}
	}
	return e.stateChanged(ctx, logger, first.id, second.id)
}

// completeMutual resolves crossed requests observed at operation entry:
// the counterpart already holds a pending request toward the requester,
// so both sides move directly to connected. Every mutation is an
// idempotent prune-or-add, so a concurrent resolver converges to the
// same state.
func (e *Engine) completeMutual(ctx context.Context, logger *telemetry.Logger, requesterID, counterpartID string) (*Result, error) {
	res, err := e.runDualWrite(ctx, logger, OpSendRequest,
		writeHalf{
			id:    requesterID,
			muts:  mutualMutations(counterpartID),
			check: mutualCheck(counterpartID),
		},
		writeHalf{
			id:    counterpartID,
			muts:  mutualMutations(requesterID),
			check: mutualCheck(requesterID),
		},
		StateConnected,
	)
	if err == nil && res.Status == StatusOK {
		e.publishEvent(logger, e.tel.Events.PublishMutualRequest(requesterID, counterpartID))
	}
	return res, err
}

// resolveCrossed handles crossed requests detected between the two
// writes of a send: our sent entry is already committed and the fresh
// counterpart read shows their sent entry toward us.
func (e *Engine) resolveCrossed(ctx context.Context, logger *telemetry.Logger, requesterID, counterpartID string) (*Result, error) {
	if err := e.applyMutations(ctx, counterpartID, mutualMutations(requesterID)); err != nil {
		return e.partial(logger, OpSendRequest, requesterID, counterpartID,
			"crossed requests detected, counterpart half failed"), nil
	}
	if err := e.applyMutations(ctx, requesterID, mutualMutations(counterpartID)); err != nil {
		return e.partial(logger, OpSendRequest, requesterID, counterpartID,
			"crossed requests detected, requester half failed"), nil
	}
	e.publishEvent(logger, e.tel.Events.PublishMutualRequest(requesterID, counterpartID))
	return &Result{Status: StatusOK, State: StateConnected}, nil
}

// mutualMutations rewrites one record to the connected form toward
// otherID: both pending entries pruned, the match added.
func mutualMutations(otherID string) []stores.Mutation {
	return []stores.Mutation{
		stores.Remove(stores.FieldSentRequests, otherID),
		stores.Remove(stores.FieldIncomingRequests, otherID),
		stores.Add(stores.FieldMatched, otherID),
	}
}

// mutualCheck skips a record already in the connected form; crossed
// resolution has no losing side, so it never aborts.
func mutualCheck(otherID string) func(rec *stores.UserRecord) checkOutcome {
	return func(rec *stores.UserRecord) checkOutcome {
		if rec.Matched.Has(otherID) &&
			!rec.SentRequests.Has(otherID) &&
			!rec.IncomingRequests.Has(otherID) {
			return skipWrite
		}
		return proceedWrite
	}
}

// stateChanged rejects an operation whose precondition was invalidated
// by a concurrent writer, reporting the freshly observed state.
func (e *Engine) stateChanged(ctx context.Context, logger *telemetry.Logger, actorID, otherID string) (*Result, error) {
	state := StateUnconnected
	actor, foundA, errA := e.getRecord(ctx, actorID)
	other, foundB, errB := e.getRecord(ctx, otherID)
	if errA == nil && errB == nil && foundA && foundB {
		state, _ = ComputeState(actor, other, actorID, otherID)
	}
	logger.WithField("state", string(state)).Debug("precondition invalidated by concurrent writer")
	return rejected(ErrCodeStateChanged, "edge state changed during the operation", state), nil
}

// partial reports a dual write that committed only its first half.
func (e *Engine) partial(logger *telemetry.Logger, op Operation, actorID, otherID, reason string) *Result {
	e.tel.Metrics.RecordPartialWrite(string(op))
	e.publishEvent(logger, e.tel.Events.PublishPartialWrite(string(op), actorID, otherID))
	logger.WithField("reason", reason).Warn("dual write partially applied")
	return &Result{Status: StatusPartiallyApplied, Code: ErrCodeSecondWriteLost, Reason: reason}
}

// authorize evaluates the gatekeeper for an operation. A nil result
// allows the operation to proceed.
func (e *Engine) authorize(ctx context.Context, logger *telemetry.Logger, op Operation, actor *stores.UserRecord, targetID string, state EdgeState) *Result {
	if e.gate == nil {
		return nil
	}
	denials, err := e.gate.Authorize(ctx, string(op), actor, targetID)
	if err != nil {
		// Policy evaluation trouble must not corrupt state; refuse the
		// operation rather than proceeding unchecked.
		logger.WithError(err).Error("policy evaluation failed")
		return rejected(ErrCodePolicyDenied, "policy evaluation failed", state)
	}
	if len(denials) == 0 {
		return nil
	}
	for _, d := range denials {
		e.tel.Metrics.RecordPolicyDenial(d.Policy)
		e.publishEvent(logger, e.tel.Events.PublishPolicyDenied(actor.ID, targetID, d.Policy, d.Reason))
	}
	return rejected(ErrCodePolicyDenied, denials[0].Reason, state)
}

// readPair fetches both records. A missing user yields a rejection, not
// an error.
func (e *Engine) readPair(ctx context.Context, aID, bID string) (a, b *stores.UserRecord, res *Result, err error) {
	a, found, err := e.getRecord(ctx, aID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !found {
		return nil, nil, rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", aID), StateUnconnected), nil
	}
	b, found, err = e.getRecord(ctx, bID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !found {
		return nil, nil, rejected(ErrCodeUserNotFound, fmt.Sprintf("user %s not found", bID), StateUnconnected), nil
	}
	return a, b, nil, nil
}

// getRecord reads one record with per-call timeout, retry, and metrics.
func (e *Engine) getRecord(ctx context.Context, id string) (*stores.UserRecord, bool, error) {
	var rec *stores.UserRecord
	var found bool
	err := e.withRetry(ctx, "get_user", id, func(callCtx context.Context) error {
		var err error
		rec, found, err = e.store.GetUser(callCtx, id)
		return err
	})
	if err != nil {
		return nil, false, NewUnavailableError("reading user record", err).
			WithCode(ErrCodeStoreTimeout)
	}
	return rec, found, nil
}

// applyMutations writes one record with per-call timeout, retry, and
// metrics. stores.ErrNotFound passes through unclassified.
func (e *Engine) applyMutations(ctx context.Context, id string, muts []stores.Mutation) error {
	err := e.withRetry(ctx, "apply_mutations", id, func(callCtx context.Context) error {
		return e.store.ApplyMutations(callCtx, id, muts)
	})
	if err != nil && !errors.Is(err, stores.ErrNotFound) {
		return NewUnavailableError("writing user record", err).WithCode(ErrCodeStoreTimeout)
	}
	return err
}

// withRetry runs one store call with timeout, exponential backoff, span,
// and metrics. Not-found and context cancellation are terminal.
func (e *Engine) withRetry(ctx context.Context, call, id string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		timer := telemetry.NewTimer()
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		spanCtx, span := e.tel.Tracer.StartStoreSpan(callCtx, call, id)
		err = fn(spanCtx)
		cancel()

		status := "ok"
		if err != nil {
			status = "error"
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		e.tel.Metrics.RecordStoreCall(call, status, timer.Duration())

		if err == nil || errors.Is(err, stores.ErrNotFound) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// appendAudit records the operation outcome; audit trouble is logged,
// never surfaced.
func (e *Engine) appendAudit(ctx context.Context, op Operation, actorID, otherID string, result *Result, opErr error) {
	outcome := "error"
	details := ""
	switch {
	case opErr != nil:
		details = opErr.Error()
	case result != nil:
		outcome = string(result.Status)
		details = result.Reason
	}
	entry := &stores.AuditEntry{
		Action:    string(op),
		Actor:     actorID,
		TargetID:  otherID,
		Outcome:   outcome,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.logger.WithError(err).Warn("failed to append audit entry")
	}
}

// noteViolations logs and counts invariants observed broken during an
// operation's entry read. Repair belongs to the read path and the sweep.
func (e *Engine) noteViolations(logger *telemetry.Logger, violations []Violation) {
	for _, v := range violations {
		e.tel.Metrics.RecordConsistencyViolation(v.Invariant)
		logger.WithFields(map[string]interface{}{
			"invariant": v.Invariant,
			"detail":    v.Detail,
		}).Warn("edge invariant violated")
	}
}

// publishEvent logs event-publishing failures without failing the operation.
func (e *Engine) publishEvent(logger *telemetry.Logger, err error) {
	if err != nil {
		logger.WithError(err).Debug("failed to publish event")
	}
}

// invertApplied builds the mutations that undo muts against the observed
// record state. Mutations that would not change the record invert to
// nothing, so undo restores exactly the pre-write memberships.
func invertApplied(rec *stores.UserRecord, muts []stores.Mutation) []stores.Mutation {
	var undo []stores.Mutation
	for _, m := range muts {
		has := rec.Set(m.Field).Has(m.Member)
		switch {
		case m.Op == stores.OpAdd && !has:
			undo = append(undo, stores.Remove(m.Field, m.Member))
		case m.Op == stores.OpRemove && has:
			undo = append(undo, stores.Add(m.Field, m.Member))
		}
	}
	return undo
}

func rejected(code, reason string, state EdgeState) *Result {
	return &Result{Status: StatusRejected, Code: code, Reason: reason, State: state}
}
