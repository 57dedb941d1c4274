// Package policy provides Open Policy Agent (OPA) integration for knot.
//
// The engine compiles Rego policies and evaluates them against
// relationship operations before any record is written. It implements
// relation.Gatekeeper, so wiring it into the relation engine is enough
// to put every operation behind policy.
//
// # Usage
//
// Creating a policy engine:
//
//	engine, err := policy.NewEngine(logger, policy.Limits{PendingRequestCap: 100})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Authorizing an operation:
//
//	denials, err := engine.Authorize(ctx, "send_request", actorRecord, "bob")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range denials {
//	    fmt.Printf("denied by %s: %s\n", d.Policy, d.Reason)
//	}
//
// # Built-in Policies
//
// The following policies are loaded by default:
//
//  1. onboarding-required - Users must finish onboarding before managing connections
//  2. no-self-relation - Users cannot target themselves
//  3. pending-request-cap - Limits outstanding sent requests per user
//  4. connection-cap - Limits connections per user
//
// The quota policies read their caps from the configured Limits; a zero
// cap disables the rule.
//
// # Custom Policies
//
// Custom policies are written in Rego and loaded from files or
// directories:
//
//	package custom.policies.blocklist
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.target_id in {"abuse-1", "abuse-2"}
//
//	    violation := {
//	        "message": "target is on the blocklist",
//	        "severity": "error",
//	    }
//	}
//
// The input document carries the operation name, the actor's record
// projection (id, onboarding flag, the three relationship sets), the
// target id, and the configured limits.
//
// # Severity Levels
//
// Violations with severity error or critical deny the operation;
// info and warning violations are logged and let it proceed.
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.LoadPolicies(ctx, paths)
//	})
package policy
