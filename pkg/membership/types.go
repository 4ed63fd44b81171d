package membership

import (
	"errors"
	"fmt"
	"time"

	"github.com/greenroomhq/greenroom/pkg/rbac"
)

// Membership is one actor's standing in one project. Exactly one of
// Role and ExternalRole is set. A membership is never deleted; revoking
// it is the terminal transition.
type Membership struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	ProjectID      int64  `json:"project_id"`
	UserID         int64  `json:"user_id"`

	Role         rbac.Role `json:"role,omitempty"`
	ExternalRole rbac.Role `json:"external_role,omitempty"`

	// AssignedPhases is the phase allow-list; only meaningful for
	// external memberships.
	AssignedPhases []rbac.Phase `json:"assigned_phases,omitempty"`

	Status          rbac.MembershipStatus `json:"status"`
	AccessExpiresAt *time.Time            `json:"access_expires_at,omitempty"`

	InvitedBy *int64     `json:"invited_by,omitempty"`
	JoinedAt  time.Time  `json:"joined_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// EffectiveRole returns the single role this membership carries.
func (m *Membership) EffectiveRole() (rbac.Role, error) {
	switch {
	case m.Role != "" && m.ExternalRole != "":
		return "", fmt.Errorf("membership %d carries both an internal and an external role", m.ID)
	case m.Role != "":
		return m.Role, nil
	case m.ExternalRole != "":
		return m.ExternalRole, nil
	default:
		return "", fmt.Errorf("membership %d carries no role", m.ID)
	}
}

// PermissionContext builds the validated snapshot the evaluator
// consumes from this membership record.
func (m *Membership) PermissionContext() (rbac.Context, error) {
	role, err := m.EffectiveRole()
	if err != nil {
		return rbac.Context{}, err
	}
	return rbac.NewContext(m.UserID, m.OrganizationID, m.ProjectID, role, m.AssignedPhases, m.Status, m.AccessExpiresAt)
}

// Invitation is a pending offer to join a project. Accepting it creates
// the membership.
type Invitation struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	ProjectID      int64  `json:"project_id"`
	Email          string `json:"email"`

	Role         rbac.Role `json:"role,omitempty"`
	ExternalRole rbac.Role `json:"external_role,omitempty"`

	AssignedPhases  []rbac.Phase `json:"assigned_phases,omitempty"`
	AccessExpiresAt *time.Time   `json:"access_expires_at,omitempty"`

	Token      string     `json:"token,omitempty"`
	InvitedBy  int64      `json:"invited_by"`
	InvitedAt  time.Time  `json:"invited_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *int64     `json:"accepted_by,omitempty"`
}

// Sentinel errors for membership operations.
var (
	ErrNotFound          = errors.New("membership not found")
	ErrInvitationExpired = errors.New("invitation expired")
	ErrInvitationUsed    = errors.New("invitation already accepted")
	// ErrMembershipRevoked is returned for any attempt to transition a
	// revoked membership; revocation is terminal.
	ErrMembershipRevoked = errors.New("membership is revoked")
	ErrAlreadyMember     = errors.New("user is already a member of this project")
)

// AccessDeniedError carries the evaluator's denial for a lifecycle
// operation that failed its escalation check.
type AccessDeniedError struct {
	Op       rbac.EscalationOp
	Decision rbac.Decision
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Op, e.Decision.Reason)
}

// IsAccessDenied checks whether err is an escalation denial.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
