package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/knotsocial/knot/pkg/stores"
)

func setupPolicyEngine(t *testing.T, limits Limits) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, limits)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

// onboardedUser builds a user record that passes the onboarding policy.
func onboardedUser(id string) *stores.UserRecord {
	rec := stores.NewUserRecord(id)
	rec.OnboardingCompleted = true
	return rec
}

func TestNewEngine(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"onboarding-required",
		"no-self-relation",
		"pending-request-cap",
		"connection-cap",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestAuthorizeAllowsOnboardedActor(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	denials, err := eng.Authorize(context.Background(), "send_request", onboardedUser("alice"), "bob")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 0 {
		t.Errorf("Expected no denials for an onboarded actor, got %+v", denials)
	}
}

func TestAuthorizeOnboardingRequired(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	// Not yet onboarded.
	actor := stores.NewUserRecord("alice")

	denials, err := eng.Authorize(context.Background(), "send_request", actor, "bob")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 1 {
		t.Fatalf("Expected exactly one denial, got %+v", denials)
	}
	if denials[0].Policy != "onboarding-required" {
		t.Errorf("Expected denial from onboarding-required, got %s", denials[0].Policy)
	}
	if denials[0].Reason == "" {
		t.Error("Expected a human-readable denial reason")
	}
}

func TestAuthorizeOnboardingGatesAllOperations(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})
	actor := stores.NewUserRecord("alice")

	operations := []string{
		"send_request",
		"cancel_request",
		"accept_request",
		"reject_request",
		"remove_connection",
	}

	for _, op := range operations {
		t.Run(op, func(t *testing.T) {
			denials, err := eng.Authorize(context.Background(), op, actor, "bob")
			if err != nil {
				t.Fatalf("Authorization failed: %v", err)
			}
			if len(denials) == 0 {
				t.Errorf("Expected %s to be denied before onboarding", op)
			}
		})
	}
}

func TestAuthorizeSelfRelation(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	denials, err := eng.Authorize(context.Background(), "send_request", onboardedUser("alice"), "alice")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}

	found := false
	for _, d := range denials {
		if d.Policy == "no-self-relation" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a no-self-relation denial, got %+v", denials)
	}
}

func TestAuthorizePendingRequestCap(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{PendingRequestCap: 3})

	actor := onboardedUser("alice")
	for i := 0; i < 3; i++ {
		actor.SentRequests.Add(fmt.Sprintf("user-%d", i))
	}

	denials, err := eng.Authorize(context.Background(), "send_request", actor, "bob")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 1 || denials[0].Policy != "pending-request-cap" {
		t.Fatalf("Expected a pending-request-cap denial, got %+v", denials)
	}

	// The cap only limits new requests; withdrawing one stays allowed.
	denials, err = eng.Authorize(context.Background(), "cancel_request", actor, "user-0")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 0 {
		t.Errorf("Expected cancel to pass the cap, got %+v", denials)
	}
}

func TestAuthorizePendingRequestCapDisabled(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	actor := onboardedUser("alice")
	for i := 0; i < 50; i++ {
		actor.SentRequests.Add(fmt.Sprintf("user-%d", i))
	}

	denials, err := eng.Authorize(context.Background(), "send_request", actor, "bob")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 0 {
		t.Errorf("A zero cap must disable the rule, got %+v", denials)
	}
}

func TestAuthorizeConnectionCap(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{ConnectionCap: 2})

	actor := onboardedUser("alice")
	actor.Matched.Add("carol")
	actor.Matched.Add("dave")

	for _, op := range []string{"send_request", "accept_request"} {
		denials, err := eng.Authorize(context.Background(), op, actor, "bob")
		if err != nil {
			t.Fatalf("Authorization failed: %v", err)
		}
		if len(denials) != 1 || denials[0].Policy != "connection-cap" {
			t.Errorf("Expected a connection-cap denial for %s, got %+v", op, denials)
		}
	}

	// Removing a connection is how the user gets back under the cap.
	denials, err := eng.Authorize(context.Background(), "remove_connection", actor, "carol")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 0 {
		t.Errorf("Expected remove to pass the cap, got %+v", denials)
	}
}

func TestAuthorizeNonBlockingSeverity(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	// A warning-severity policy must be reported but never deny.
	warning := Policy{
		Name:        "backlog-warning",
		Description: "Warns on a large request backlog",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package knot.policies.backlog

import rego.v1

deny contains violation if {
	input.operation == "send_request"
	count(input.actor.sent_requests) >= 1

	violation := {
		"message": "actor has a growing request backlog",
		"severity": "warning",
	}
}
`,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := eng.compileAndStorePolicy(context.Background(), &warning); err != nil {
		t.Fatalf("Failed to compile policy: %v", err)
	}

	actor := onboardedUser("alice")
	actor.SentRequests.Add("carol")

	denials, err := eng.Authorize(context.Background(), "send_request", actor, "bob")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	if len(denials) != 0 {
		t.Errorf("A warning-severity violation must not deny, got %+v", denials)
	}

	result, err := eng.Evaluate(context.Background(), &Input{
		Operation: "send_request",
		Actor: &ActorInput{
			ID:                  "alice",
			OnboardingCompleted: true,
			SentRequests:        []string{"carol"},
		},
		TargetID:  "bob",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected the evaluation to remain allowed")
	}
	if len(result.Violations) != 1 || result.Violations[0].Policy != "backlog-warning" {
		t.Errorf("Expected the warning violation to be reported, got %+v", result.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	policyName := "onboarding-required"

	if err := eng.DisablePolicy(policyName); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	// With the policy off, an un-onboarded actor passes.
	actor := stores.NewUserRecord("alice")
	denials, err := eng.Authorize(context.Background(), "send_request", actor, "bob")
	if err != nil {
		t.Fatalf("Authorization failed: %v", err)
	}
	for _, d := range denials {
		if d.Policy == policyName {
			t.Error("Disabled policy should not generate denials")
		}
	}

	if err := eng.EnablePolicy(policyName); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	initialCount := len(eng.ListPolicies())

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	afterReloadCount := len(eng.ListPolicies())
	if initialCount != afterReloadCount {
		t.Errorf("Expected %d policies after reload, got %d", initialCount, afterReloadCount)
	}
}

func TestListPolicies(t *testing.T) {
	eng := setupPolicyEngine(t, Limits{})

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}
