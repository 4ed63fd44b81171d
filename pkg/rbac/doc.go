// Package rbac implements the role-based access control engine for the
// Greenroom media-production platform.
//
// # Overview
//
// The engine decides, for a given actor and a requested action on a
// resource, whether access is permitted. It reconciles five independent
// dimensions of authorization in a single pure decision function:
//
//  1. Role hierarchy: internal project roles and an organization-level
//     tier above them, totally ordered by rank for escalation checks.
//  2. Trust boundary: internal staff versus external collaborators
//     (vendors, guests, contracted editors and reviewers).
//  3. Phase scoping: each production phase (brief through distribution)
//     has an owning role, viewer/editor/approver grants, and a flag for
//     whether externals may ever access it. External actors are further
//     restricted to an explicit per-membership phase allow-list.
//  4. Resource action matrices: per resource family (asset, project,
//     archive, workspace), which roles may perform which actions.
//  5. Credential lifecycle: memberships can be suspended, revoked
//     (terminal), or time-bounded by an expiry timestamp.
//
// # Decision flow
//
// Callers build a validated Context from the latest membership record
// (see NewContext) and call Evaluator.Check:
//
//	policy := rbac.DefaultPolicy()
//	eval, err := rbac.NewEvaluator(policy)
//	...
//	decision := eval.Check(ctx, rbac.ActionApprove, rbac.ResourceRef{
//		Type:           rbac.ResourceAsset,
//		OrganizationID: orgID,
//		ProjectID:      projectID,
//		Phase:          &phase,
//	})
//	if !decision.Allowed {
//		// decision.Reason is one of the machine-readable ReasonCodes
//	}
//
// Checks short-circuit in a fixed order (tenant, status, expiry,
// external phase allow-list, resource matrix, phase matrix), each
// failure carrying a distinct reason code. Every denial is a structured
// Decision; the evaluator never returns an error for a validated
// context.
//
// Lifecycle operations on other actors (suspend, revoke, reactivate,
// role change) go through Evaluator.CheckEscalation, which substitutes
// a strict rank comparison for the resource and phase checks.
//
// # Policy artifact
//
// The phase access matrix and the resource action matrices are data,
// not code: a versioned YAML artifact (see default_policy.yaml) loaded
// once at startup. LoadPolicy validates it exhaustively against the
// closed role, phase, resource, and action enums and fails fast on any
// gap, so a missing matrix entry is a deployment error rather than a
// silent deny. The loaded policy is immutable; policy changes ship as a
// new artifact.
//
// # Concurrency
//
// The evaluator holds no mutable state and performs no I/O or blocking
// calls; a single instance may be shared by reference across all
// request-handling goroutines. Freshness of the inputs is the caller's
// contract: a suspend or revoke must invalidate any cached Context
// before the operation returns (see pkg/membership).
package rbac
