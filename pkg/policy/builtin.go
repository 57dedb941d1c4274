package policy

import (
	"time"
)

// GetBuiltinPolicies returns the built-in policies that ship with the
// engine. All of them gate relationship operations on the actor's
// record as it was read at the start of the operation.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		onboardingRequiredPolicy(),
		selfRelationPolicy(),
		pendingRequestCapPolicy(),
		connectionCapPolicy(),
	}
}

// onboardingRequiredPolicy blocks all relationship operations for users
// who have not finished onboarding.
func onboardingRequiredPolicy() Policy {
	return Policy{
		Name:        "onboarding-required",
		Description: "Users must complete onboarding before managing connections",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builtin", "onboarding"},
		Rego: `package knot.policies.onboarding

import rego.v1

mutating_operations := {
	"send_request",
	"cancel_request",
	"accept_request",
	"reject_request",
	"remove_connection",
}

deny contains violation if {
	input.operation in mutating_operations
	not input.actor.onboarding_completed

	violation := {
		"message": "onboarding must be completed before managing connections",
		"severity": "error",
	}
}
`,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// selfRelationPolicy blocks operations where the actor targets
// themselves. The engine refuses these as well; the policy keeps the
// rule visible and auditable alongside the others.
func selfRelationPolicy() Policy {
	return Policy{
		Name:        "no-self-relation",
		Description: "Users cannot hold a connection or request with themselves",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builtin", "integrity"},
		Rego: `package knot.policies.selfedge

import rego.v1

deny contains violation if {
	input.actor.id == input.target_id

	violation := {
		"message": "a user cannot hold a connection with themselves",
		"severity": "error",
	}
}
`,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// pendingRequestCapPolicy limits how many outstanding sent requests a
// user may hold. The cap comes from configuration via input.limits; a
// zero cap disables the rule.
func pendingRequestCapPolicy() Policy {
	return Policy{
		Name:        "pending-request-cap",
		Description: "Limits the number of outstanding sent requests per user",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builtin", "quota"},
		Rego: `package knot.policies.requestcap

import rego.v1

deny contains violation if {
	input.operation == "send_request"
	cap := input.limits.pending_request_cap
	cap > 0
	count(input.actor.sent_requests) >= cap

	violation := {
		"message": sprintf("outstanding request limit of %d reached", [cap]),
		"severity": "error",
	}
}
`,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// connectionCapPolicy limits how many connections a user may hold. It
// gates the two operations that can create a connection; a zero cap
// disables the rule.
func connectionCapPolicy() Policy {
	return Policy{
		Name:        "connection-cap",
		Description: "Limits the number of connections per user",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builtin", "quota"},
		Rego: `package knot.policies.connectioncap

import rego.v1

connecting_operations := {"send_request", "accept_request"}

deny contains violation if {
	input.operation in connecting_operations
	cap := input.limits.connection_cap
	cap > 0
	count(input.actor.matched) >= cap

	violation := {
		"message": sprintf("connection limit of %d reached", [cap]),
		"severity": "error",
	}
}
`,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
