// Package gate implements the session/onboarding gate: a small state
// machine that turns one user record read into a routing decision.
// It performs no writes of its own; the onboarding flow's terminal
// write goes through CompleteOnboarding exactly once.
package gate

import (
	"context"
	"fmt"

	"github.com/knotsocial/knot/pkg/stores"
	"github.com/knotsocial/knot/pkg/telemetry"
)

// SessionState classifies a user's session for routing.
type SessionState string

const (
	// Anonymous means no authenticated user is present.
	Anonymous SessionState = "anonymous"

	// AuthenticatedIncomplete means the user is signed in but has not
	// finished onboarding.
	AuthenticatedIncomplete SessionState = "authenticated_incomplete"

	// AuthenticatedComplete means the user is signed in and onboarded.
	AuthenticatedComplete SessionState = "authenticated_complete"
)

// Destination is the surface the user is trying to reach.
type Destination string

const (
	// DestinationLogin is the sign-in surface, reachable by anyone.
	DestinationLogin Destination = "login"

	// DestinationOnboarding is the onboarding flow, reachable once
	// authenticated.
	DestinationOnboarding Destination = "onboarding"

	// DestinationHome is the default signed-in surface; any destination
	// other than login and onboarding is treated the same way.
	DestinationHome Destination = "home"
)

// Decision is the gate's routing verdict.
type Decision string

const (
	DecisionLoginRequired      Decision = "login_required"
	DecisionOnboardingRequired Decision = "onboarding_required"
	DecisionAllow              Decision = "allow"
)

// Decide computes the routing decision purely from the session state and
// the destination. No I/O, no side effects.
func Decide(session SessionState, dest Destination) Decision {
	switch session {
	case Anonymous:
		if dest == DestinationLogin {
			return DecisionAllow
		}
		return DecisionLoginRequired
	case AuthenticatedIncomplete:
		if dest == DestinationLogin || dest == DestinationOnboarding {
			return DecisionAllow
		}
		return DecisionOnboardingRequired
	case AuthenticatedComplete:
		return DecisionAllow
	default:
		return DecisionLoginRequired
	}
}

// Gate resolves session states from the record store and hands out
// routing decisions.
type Gate struct {
	store  stores.Store
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// NewGate creates a session gate. tel may be nil to disable
// instrumentation.
func NewGate(store stores.Store, tel *telemetry.Telemetry) *Gate {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Gate{
		store:  store,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("gate"),
	}
}

// Resolve derives the session state from one store read. An
// unauthenticated caller resolves without touching the store; a missing
// record counts as not yet onboarded.
func (g *Gate) Resolve(ctx context.Context, userID string, authenticated bool) (SessionState, error) {
	if !authenticated || userID == "" {
		return Anonymous, nil
	}

	record, found, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return Anonymous, fmt.Errorf("resolving session for %s: %w", userID, err)
	}
	if !found || !record.OnboardingCompleted {
		return AuthenticatedIncomplete, nil
	}
	return AuthenticatedComplete, nil
}

// Check resolves the session and returns the routing decision for the
// destination.
func (g *Gate) Check(ctx context.Context, userID string, authenticated bool, dest Destination) (Decision, error) {
	session, err := g.Resolve(ctx, userID, authenticated)
	if err != nil {
		return DecisionLoginRequired, err
	}

	decision := Decide(session, dest)
	g.tel.Metrics.RecordGateDecision(string(decision))
	g.logger.WithUserID(userID).WithFields(map[string]interface{}{
		"session":     string(session),
		"destination": string(dest),
		"decision":    string(decision),
	}).Debug("gate decision")
	return decision, nil
}

// CompleteOnboarding performs the onboarding flow's terminal write. The
// flag only ever moves from false to true; repeating the call is a no-op.
func (g *Gate) CompleteOnboarding(ctx context.Context, userID string) error {
	if err := g.store.SetOnboardingCompleted(ctx, userID); err != nil {
		return fmt.Errorf("completing onboarding for %s: %w", userID, err)
	}
	if err := g.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeOnboardingComplete,
		Source:  "gate",
		ActorID: userID,
		Message: fmt.Sprintf("User %s completed onboarding", userID),
		Level:   telemetry.EventLevelInfo,
	}); err != nil {
		g.logger.WithError(err).Debug("failed to publish onboarding event")
	}
	g.logger.WithUserID(userID).Info("onboarding completed")
	return nil
}
