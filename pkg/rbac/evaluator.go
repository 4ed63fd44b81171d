package rbac

import (
	"fmt"
	"time"
)

// Evaluator is the permission decision engine. It is a pure function
// over its inputs: it holds only the immutable policy and a clock, does
// no I/O, and is safe to call concurrently from any number of
// goroutines without locking.
type Evaluator struct {
	policy *Policy
	now    func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the evaluation clock. Used by tests and by
// callers that need to evaluate "as of" a fixed instant.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		e.now = now
	}
}

// NewEvaluator creates an evaluator over a policy. The policy is
// validated (if not already) so that a matrix gap fails here, at
// startup, rather than surfacing as a deny in production.
func NewEvaluator(policy *Policy, opts ...EvaluatorOption) (*Evaluator, error) {
	if policy == nil {
		return nil, fmt.Errorf("rbac: nil policy")
	}
	if !policy.compiled() {
		if err := policy.Validate(); err != nil {
			return nil, err
		}
	}
	e := &Evaluator{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the policy the evaluator was built with.
func (e *Evaluator) Policy() *Policy {
	return e.policy
}

// Check decides whether the actor described by ctx may perform action
// on resource. Checks run in a fixed order and short-circuit on the
// first failure, each with its own reason code:
//
//  1. tenant isolation (ORG_MISMATCH)
//  2. membership status (SUSPENDED, REVOKED)
//  3. access expiry (EXPIRED)
//  4. external phase allow-list (PHASE_NOT_ASSIGNED)
//  5. resource action matrix (ROLE_INSUFFICIENT)
//  6. phase capability matrix (PHASE_ROLE_INSUFFICIENT)
//
// Check never returns an error and never panics for a context built by
// NewContext; every denial is a structured Decision.
func (e *Evaluator) Check(ctx Context, action Action, resource ResourceRef) Decision {
	if d, ok := e.standing(ctx, resource.OrganizationID, resource.ProjectID); !ok {
		return d
	}

	if ctx.External && resource.Phase != nil {
		phase := *resource.Phase
		if !e.policy.CapabilitiesFor(phase).ExternalAllowed {
			return deny(ReasonPhaseNotAssigned)
		}
		if !ctx.HasPhase(phase) {
			return deny(ReasonPhaseNotAssigned)
		}
	}

	if !e.policy.authorizes(resource.Type, action, ctx.Role) {
		return deny(ReasonRoleInsufficient)
	}
	rule := fmt.Sprintf("%s:%s->%s", resource.Type, action, ctx.Role)

	if resource.Phase != nil {
		phase := *resource.Phase
		class := CapabilityOf(action)
		if !e.policy.grantsCapability(phase, class, ctx.Role) {
			return deny(ReasonPhaseRoleInsufficient)
		}
		if e.policy.CapabilitiesFor(phase).Owner == ctx.Role {
			rule += fmt.Sprintf("; phase:%s:owner", phase)
		} else {
			rule += fmt.Sprintf("; phase:%s:%s->%s", phase, class, ctx.Role)
		}
	}

	return allow(rule)
}

// CheckEscalation decides whether actor may perform a lifecycle
// operation (suspend, revoke, reactivate, change role) on target. It
// reuses the tenant, status, and expiry checks from Check and then
// requires the actor's rank to strictly exceed the target's. Equal
// rank is never sufficient, so no actor can escalate against a peer or
// themselves.
func (e *Evaluator) CheckEscalation(actor, target Context, op EscalationOp) Decision {
	if d, ok := e.standing(actor, target.OrganizationID, target.ProjectID); !ok {
		return d
	}
	actorRank, targetRank := RankOf(actor.Role), RankOf(target.Role)
	if actorRank <= targetRank {
		return deny(ReasonRankInsufficient)
	}
	return allow(fmt.Sprintf("%s:rank:%s(%d)>%s(%d)", op, actor.Role, actorRank, target.Role, targetRank))
}

// standing runs the tenant, status, and expiry checks shared by Check
// and CheckEscalation. ok is false when the returned Decision is a
// denial.
func (e *Evaluator) standing(ctx Context, orgID, projectID int64) (Decision, bool) {
	if ctx.OrganizationID != orgID || ctx.ProjectID != projectID {
		return deny(ReasonOrgMismatch), false
	}
	switch ctx.Status {
	case StatusRevoked:
		return deny(ReasonRevoked), false
	case StatusSuspended:
		return deny(ReasonSuspended), false
	}
	if ctx.AccessExpiresAt != nil && !ctx.AccessExpiresAt.After(e.now()) {
		return deny(ReasonExpired), false
	}
	return Decision{}, true
}
