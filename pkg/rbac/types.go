package rbac

import (
	"fmt"
	"time"
)

// Role identifies a project role. The set of roles is closed: every
// value the engine handles is declared below and the catalog rejects
// anything else at startup. There is no "unknown role" fallback; an
// unrecognized role is a programmer error, not a denial.
type Role string

// Internal (organization staff) roles.
const (
	RoleOrgOwner        Role = "org:owner"
	RoleOrgAdmin        Role = "org:admin"
	RoleProjectOwner    Role = "project:owner"
	RoleProjectManager  Role = "project:manager"
	RoleProjectEditor   Role = "project:editor"
	RoleProjectReviewer Role = "project:reviewer"
	RoleProjectLegal    Role = "project:legal"
	RoleProjectFinance  Role = "project:finance"
	RoleProjectViewer   Role = "project:viewer"
)

// External (collaborator) roles. External actors only ever see the
// phases explicitly assigned to them.
const (
	RoleExternalEditor   Role = "external:editor"
	RoleExternalReviewer Role = "external:reviewer"
	RoleExternalVendor   Role = "external:vendor"
	RoleExternalGuest    Role = "external:guest"
)

// Phase is a production phase. Phases() returns them in production
// order.
type Phase string

const (
	PhaseBrief          Phase = "brief"
	PhasePreProduction  Phase = "pre_production"
	PhaseProduction     Phase = "production"
	PhasePostProduction Phase = "post_production"
	PhaseInternalReview Phase = "internal_review"
	PhaseExternalReview Phase = "external_review"
	PhaseLegalApproval  Phase = "legal_approval"
	PhaseDistribution   Phase = "distribution"
)

// Phases returns all production phases in order.
func Phases() []Phase {
	return []Phase{
		PhaseBrief,
		PhasePreProduction,
		PhaseProduction,
		PhasePostProduction,
		PhaseInternalReview,
		PhaseExternalReview,
		PhaseLegalApproval,
		PhaseDistribution,
	}
}

// ValidPhase reports whether p is a declared phase.
func ValidPhase(p Phase) bool {
	for _, known := range Phases() {
		if p == known {
			return true
		}
	}
	return false
}

// ResourceType identifies a resource family.
type ResourceType string

const (
	ResourceAsset     ResourceType = "asset"
	ResourceProject   ResourceType = "project"
	ResourceArchive   ResourceType = "archive"
	ResourceWorkspace ResourceType = "workspace"
)

// ResourceTypes returns all resource families.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceAsset, ResourceProject, ResourceArchive, ResourceWorkspace}
}

// Action represents an operation on a resource. Each resource family
// has its own action vocabulary; see ActionVocabulary.
type Action string

const (
	ActionView      Action = "view"
	ActionDownload  Action = "download"
	ActionEdit      Action = "edit"
	ActionApprove   Action = "approve"
	ActionDelete    Action = "delete"
	ActionArchive   Action = "archive"
	ActionRestore   Action = "restore"
	ActionPurge     Action = "purge"
	ActionConfigure Action = "configure"
)

// Actions returns every declared action across all resource families.
func Actions() []Action {
	return []Action{
		ActionView, ActionDownload, ActionEdit, ActionApprove, ActionDelete,
		ActionArchive, ActionRestore, ActionPurge, ActionConfigure,
	}
}

// ValidAction reports whether a is a declared action.
func ValidAction(a Action) bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// ActionVocabulary returns the actions defined for a resource family.
// The policy artifact must cover exactly these combinations.
func ActionVocabulary(rt ResourceType) []Action {
	switch rt {
	case ResourceAsset:
		return []Action{ActionView, ActionDownload, ActionEdit, ActionApprove, ActionDelete}
	case ResourceProject:
		return []Action{ActionView, ActionEdit, ActionArchive, ActionDelete}
	case ResourceArchive:
		return []Action{ActionView, ActionRestore, ActionPurge}
	case ResourceWorkspace:
		return []Action{ActionView, ActionEdit, ActionConfigure, ActionDelete}
	}
	return nil
}

// Capability is the phase-level class an action falls into. The phase
// matrix grants capabilities, not individual actions.
type Capability string

const (
	CapabilityView    Capability = "view"
	CapabilityEdit    Capability = "edit"
	CapabilityApprove Capability = "approve"
)

// CapabilityOf maps an action to its phase capability class. Mutating
// and destructive actions all require edit capability on the phase;
// the resource matrices still gate each of them individually.
func CapabilityOf(a Action) Capability {
	switch a {
	case ActionView, ActionDownload:
		return CapabilityView
	case ActionApprove:
		return CapabilityApprove
	default:
		return CapabilityEdit
	}
}

// MembershipStatus is the lifecycle state of a project membership.
type MembershipStatus string

const (
	StatusActive    MembershipStatus = "active"
	StatusSuspended MembershipStatus = "suspended"
	// StatusRevoked is terminal; a revoked membership is never
	// reactivated and never deleted.
	StatusRevoked MembershipStatus = "revoked"
)

// ValidStatus reports whether s is a declared membership status.
func ValidStatus(s MembershipStatus) bool {
	return s == StatusActive || s == StatusSuspended || s == StatusRevoked
}

// ReasonCode is the machine-readable explanation attached to every
// Decision. Exactly one code applies per decision.
type ReasonCode string

const (
	ReasonAllowed               ReasonCode = "ALLOWED"
	ReasonOrgMismatch           ReasonCode = "ORG_MISMATCH"
	ReasonSuspended             ReasonCode = "SUSPENDED"
	ReasonRevoked               ReasonCode = "REVOKED"
	ReasonExpired               ReasonCode = "EXPIRED"
	ReasonPhaseNotAssigned      ReasonCode = "PHASE_NOT_ASSIGNED"
	ReasonRoleInsufficient      ReasonCode = "ROLE_INSUFFICIENT"
	ReasonPhaseRoleInsufficient ReasonCode = "PHASE_ROLE_INSUFFICIENT"
	ReasonRankInsufficient      ReasonCode = "RANK_INSUFFICIENT"
)

// EscalationOp is a privileged operation on another actor's standing.
type EscalationOp string

const (
	EscalationSuspend    EscalationOp = "suspend"
	EscalationRevoke     EscalationOp = "revoke"
	EscalationReactivate EscalationOp = "reactivate"
	EscalationChangeRole EscalationOp = "change_role"
)

// ValidEscalationOp reports whether op is a declared escalation
// operation.
func ValidEscalationOp(op EscalationOp) bool {
	switch op {
	case EscalationSuspend, EscalationRevoke, EscalationReactivate, EscalationChangeRole:
		return true
	}
	return false
}

// ResourceRef describes the target of a permission check. Phase is nil
// for resources that are not phase-scoped (projects, workspaces,
// archives at rest).
type ResourceRef struct {
	Type           ResourceType `json:"type"`
	OrganizationID int64        `json:"organization_id"`
	ProjectID      int64        `json:"project_id"`
	Phase          *Phase       `json:"phase,omitempty"`
}

// Decision is the outcome of a permission check. It is produced fresh
// per call and never persisted by the evaluator.
type Decision struct {
	Allowed     bool       `json:"allowed"`
	Reason      ReasonCode `json:"reason"`
	MatchedRule string     `json:"matched_rule,omitempty"`
}

func deny(reason ReasonCode) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func allow(rule string) Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed, MatchedRule: rule}
}

// Context is an immutable snapshot of one actor's standing with respect
// to one project. Build it with NewContext, which enforces the
// role-family invariants; the evaluator assumes a validated context and
// never re-checks them.
type Context struct {
	UserID          int64            `json:"user_id"`
	OrganizationID  int64            `json:"organization_id"`
	ProjectID       int64            `json:"project_id"`
	Role            Role             `json:"role"`
	External        bool             `json:"external"`
	AssignedPhases  []Phase          `json:"assigned_phases,omitempty"`
	Status          MembershipStatus `json:"status"`
	AccessExpiresAt *time.Time       `json:"access_expires_at,omitempty"`
}

// NewContext validates and returns a permission context. It rejects
// malformed snapshots: unknown roles or statuses, phase assignments on
// internal actors, external actors without any assigned phase, and
// unknown assigned phases. These are configuration or programming
// errors, so they surface here instead of silently denying at
// evaluation time.
func NewContext(userID, orgID, projectID int64, role Role, assignedPhases []Phase, status MembershipStatus, expiresAt *time.Time) (Context, error) {
	if !ValidRole(role) {
		return Context{}, fmt.Errorf("unknown role %q", role)
	}
	if !ValidStatus(status) {
		return Context{}, fmt.Errorf("unknown membership status %q", status)
	}
	external := IsExternal(role)
	if external && len(assignedPhases) == 0 {
		return Context{}, fmt.Errorf("external role %q requires at least one assigned phase", role)
	}
	if !external && len(assignedPhases) > 0 {
		return Context{}, fmt.Errorf("internal role %q must not carry phase assignments", role)
	}
	for _, p := range assignedPhases {
		if !ValidPhase(p) {
			return Context{}, fmt.Errorf("unknown phase %q in assignment", p)
		}
	}
	return Context{
		UserID:          userID,
		OrganizationID:  orgID,
		ProjectID:       projectID,
		Role:            role,
		External:        external,
		AssignedPhases:  assignedPhases,
		Status:          status,
		AccessExpiresAt: expiresAt,
	}, nil
}

// HasPhase reports whether the context's phase allow-list contains p.
// Only meaningful for external contexts.
func (c Context) HasPhase(p Phase) bool {
	for _, assigned := range c.AssignedPhases {
		if assigned == p {
			return true
		}
	}
	return false
}
