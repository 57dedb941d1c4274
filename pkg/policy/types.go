package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Operation is the operation that triggered the violation.
	Operation string `json:"operation,omitempty"`

	// Actor is the user the operation was evaluated for.
	Actor string `json:"actor,omitempty"`

	// Target is the counterpart user of the operation.
	Target string `json:"target,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Blocking reports whether the violation is severe enough to refuse
// the operation. Info and warning violations are advisory only.
func (v *Violation) Blocking() bool {
	return v.Severity == SeverityError || v.Severity == SeverityCritical
}

// Result represents the outcome of evaluating all policies for one
// operation.
type Result struct {
	// Allowed indicates if the operation is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block the
	// operation, such as a policy that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation occurred.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document handed to Rego for one operation.
type Input struct {
	// Operation is the protocol operation being authorized, e.g.
	// "send_request" or "remove_connection".
	Operation string `json:"operation"`

	// Actor describes the user performing the operation.
	Actor *ActorInput `json:"actor"`

	// TargetID is the counterpart user of the operation.
	TargetID string `json:"target_id"`

	// Limits carries the configured quota values policies check against.
	Limits Limits `json:"limits"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// ActorInput is the policy-visible projection of a user record.
type ActorInput struct {
	// ID is the user identifier.
	ID string `json:"id"`

	// OnboardingCompleted reports whether the user finished onboarding.
	OnboardingCompleted bool `json:"onboarding_completed"`

	// SentRequests lists the users this actor has outstanding requests to.
	SentRequests []string `json:"sent_requests"`

	// IncomingRequests lists the users with outstanding requests to this actor.
	IncomingRequests []string `json:"incoming_requests"`

	// Matched lists the users this actor is connected with.
	Matched []string `json:"matched"`
}

// Limits holds the configurable quotas policies enforce.
type Limits struct {
	// PendingRequestCap is the maximum number of outstanding sent
	// requests a user may hold. Zero disables the cap.
	PendingRequestCap int `json:"pending_request_cap" yaml:"pending_request_cap"`

	// ConnectionCap is the maximum number of connections a user may
	// hold. Zero disables the cap.
	ConnectionCap int `json:"connection_cap" yaml:"connection_cap"`
}
