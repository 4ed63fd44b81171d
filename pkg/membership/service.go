package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/greenroomhq/greenroom/pkg/audit"
	"github.com/greenroomhq/greenroom/pkg/observability"
	"github.com/greenroomhq/greenroom/pkg/rbac"
)

// DefaultInvitationTTL is how long an invitation stays acceptable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// Service implements the membership lifecycle. Every mutation is gated
// by an escalation check against the acting member and invalidates the
// permission context cache synchronously before returning, so a
// suspension or revocation takes effect on the very next check.
type Service struct {
	store       *Store
	evaluator   *rbac.Evaluator
	cache       *ContextCache
	invalidator *RedisInvalidator
	auditLogger audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger

	invitationTTL time.Duration
	now           func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithInvalidator wires distributed cache invalidation over Redis.
func WithInvalidator(inv *RedisInvalidator) ServiceOption {
	return func(s *Service) { s.invalidator = inv }
}

// WithAuditLogger wires audit logging for lifecycle operations.
func WithAuditLogger(l audit.Logger) ServiceOption {
	return func(s *Service) { s.auditLogger = l }
}

// WithMetrics wires operation metrics.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithInvitationTTL overrides the invitation lifetime.
func WithInvitationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.invitationTTL = ttl }
}

// WithNow overrides the service clock. Used by tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a membership service.
func NewService(store *Store, evaluator *rbac.Evaluator, cache *ContextCache, logger *observability.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		evaluator:     evaluator,
		cache:         cache,
		logger:        logger,
		invitationTTL: DefaultInvitationTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PermissionContext returns the validated permission context for a
// user's standing in a project, serving from the cache when possible.
// It satisfies rbac.ContextSource.
func (s *Service) PermissionContext(ctx context.Context, userID, projectID int64) (rbac.Context, error) {
	if permCtx, ok := s.cache.Get(projectID, userID); ok {
		return permCtx, nil
	}

	m, err := s.store.GetByProjectUser(ctx, projectID, userID)
	if err != nil {
		return rbac.Context{}, err
	}
	permCtx, err := m.PermissionContext()
	if err != nil {
		return rbac.Context{}, err
	}

	s.cache.Put(projectID, userID, permCtx)
	return permCtx, nil
}

// GetMember returns a user's membership in a project.
func (s *Service) GetMember(ctx context.Context, projectID, userID int64) (*Membership, error) {
	return s.store.GetByProjectUser(ctx, projectID, userID)
}

// ListMembers returns all memberships of a project.
func (s *Service) ListMembers(ctx context.Context, projectID int64) ([]*Membership, error) {
	return s.store.ListByProject(ctx, projectID)
}

// InviteParams describes the standing an invitation grants when
// accepted. Exactly one of Role and ExternalRole must be set;
// AssignedPhases is required for external roles and forbidden for
// internal ones.
type InviteParams struct {
	Email           string       `json:"email"`
	Role            rbac.Role    `json:"role,omitempty"`
	ExternalRole    rbac.Role    `json:"external_role,omitempty"`
	AssignedPhases  []rbac.Phase `json:"assigned_phases,omitempty"`
	AccessExpiresAt *time.Time   `json:"access_expires_at,omitempty"`
}

// Invite creates an invitation to join a project. The actor must
// outrank the role being granted.
func (s *Service) Invite(ctx context.Context, actorID, projectID int64, params InviteParams) (*Invitation, error) {
	if params.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	role, err := s.validateAssignment(params.Role, params.ExternalRole, params.AssignedPhases)
	if err != nil {
		return nil, err
	}

	actor, err := s.PermissionContext(ctx, actorID, projectID)
	if err != nil {
		return nil, err
	}

	// The invitee has no membership yet, so the escalation check runs
	// against a synthetic active member holding the granted role.
	target, err := rbac.NewContext(0, actor.OrganizationID, projectID, role, params.AssignedPhases, rbac.StatusActive, nil)
	if err != nil {
		return nil, err
	}
	if err := s.gate(ctx, actor, target, rbac.EscalationChangeRole, "invite"); err != nil {
		return nil, err
	}

	inv := &Invitation{
		OrganizationID:  actor.OrganizationID,
		ProjectID:       projectID,
		Email:           params.Email,
		Role:            params.Role,
		ExternalRole:    params.ExternalRole,
		AssignedPhases:  params.AssignedPhases,
		AccessExpiresAt: params.AccessExpiresAt,
		Token:           uuid.NewString(),
		InvitedBy:       actorID,
		InvitedAt:       s.now().UTC(),
		ExpiresAt:       s.now().UTC().Add(s.invitationTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		s.recordOp("invite", "error")
		return nil, err
	}

	s.recordOp("invite", "ok")
	s.audit(ctx, audit.EventTypeMemberInvite, actorID, nil, actor.OrganizationID, projectID,
		fmt.Sprintf("invited %s as %s", inv.Email, role))
	return inv, nil
}

// AcceptInvitation redeems an invitation token, creating the
// membership it promised.
func (s *Service) AcceptInvitation(ctx context.Context, token string, userID int64) (*Membership, error) {
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, ErrInvitationUsed
	}
	now := s.now().UTC()
	if !inv.ExpiresAt.After(now) {
		return nil, ErrInvitationExpired
	}
	if _, err := s.store.GetByProjectUser(ctx, inv.ProjectID, userID); err == nil {
		return nil, ErrAlreadyMember
	} else if err != ErrNotFound {
		return nil, err
	}

	m := &Membership{
		OrganizationID:  inv.OrganizationID,
		ProjectID:       inv.ProjectID,
		UserID:          userID,
		Role:            inv.Role,
		ExternalRole:    inv.ExternalRole,
		AssignedPhases:  inv.AssignedPhases,
		Status:          rbac.StatusActive,
		AccessExpiresAt: inv.AccessExpiresAt,
		InvitedBy:       &inv.InvitedBy,
		JoinedAt:        now,
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		s.recordOp("invitation_accept", "error")
		return nil, err
	}
	if err := s.store.MarkInvitationAccepted(ctx, inv.ID, userID, now); err != nil {
		return nil, err
	}

	s.recordOp("invitation_accept", "ok")
	s.audit(ctx, audit.EventTypeMemberInvitationAccept, userID, nil, inv.OrganizationID, inv.ProjectID,
		fmt.Sprintf("accepted invitation from user %d", inv.InvitedBy))
	return m, nil
}

// Suspend moves a membership to suspended. The next permission check
// for the target denies with SUSPENDED.
func (s *Service) Suspend(ctx context.Context, actorID, projectID, targetUserID int64) error {
	return s.transition(ctx, actorID, projectID, targetUserID, rbac.EscalationSuspend, rbac.StatusSuspended, audit.EventTypeMemberSuspend)
}

// Revoke terminally revokes a membership. A revoked membership can
// never be reactivated.
func (s *Service) Revoke(ctx context.Context, actorID, projectID, targetUserID int64) error {
	return s.transition(ctx, actorID, projectID, targetUserID, rbac.EscalationRevoke, rbac.StatusRevoked, audit.EventTypeMemberRevoke)
}

// Reactivate moves a suspended membership back to active. Revoked
// memberships cannot be reactivated.
func (s *Service) Reactivate(ctx context.Context, actorID, projectID, targetUserID int64) error {
	return s.transition(ctx, actorID, projectID, targetUserID, rbac.EscalationReactivate, rbac.StatusActive, audit.EventTypeMemberReactivate)
}

func (s *Service) transition(ctx context.Context, actorID, projectID, targetUserID int64, op rbac.EscalationOp, to rbac.MembershipStatus, eventType audit.EventType) error {
	actor, target, m, err := s.loadPair(ctx, actorID, projectID, targetUserID)
	if err != nil {
		return err
	}
	if m.Status == rbac.StatusRevoked {
		return ErrMembershipRevoked
	}
	if err := s.gate(ctx, actor, target, op, string(op)); err != nil {
		return err
	}

	var revokedAt *time.Time
	if to == rbac.StatusRevoked {
		now := s.now().UTC()
		revokedAt = &now
	} else {
		revokedAt = m.RevokedAt
	}
	if err := s.store.UpdateStatus(ctx, m.ID, to, revokedAt); err != nil {
		s.recordOp(string(op), "error")
		return err
	}

	s.invalidate(ctx, projectID, targetUserID)
	s.recordOp(string(op), "ok")
	s.audit(ctx, eventType, actorID, &targetUserID, m.OrganizationID, projectID,
		fmt.Sprintf("status %s -> %s", m.Status, to))
	return nil
}

// ChangeRole replaces the target's role. The actor must outrank both
// the target's current role and the role being granted, so no one can
// promote a peer above themselves or raise anyone to their own rank.
func (s *Service) ChangeRole(ctx context.Context, actorID, projectID, targetUserID int64, role, externalRole rbac.Role, phases []rbac.Phase) error {
	newRole, err := s.validateAssignment(role, externalRole, phases)
	if err != nil {
		return err
	}

	actor, target, m, err := s.loadPair(ctx, actorID, projectID, targetUserID)
	if err != nil {
		return err
	}
	if m.Status == rbac.StatusRevoked {
		return ErrMembershipRevoked
	}
	if err := s.gate(ctx, actor, target, rbac.EscalationChangeRole, "role_change"); err != nil {
		return err
	}
	if rbac.RankOf(newRole) >= rbac.RankOf(actor.Role) {
		return &AccessDeniedError{
			Op:       rbac.EscalationChangeRole,
			Decision: rbac.Decision{Reason: rbac.ReasonRankInsufficient},
		}
	}

	if err := s.store.UpdateRole(ctx, m.ID, role, externalRole, phases); err != nil {
		s.recordOp("role_change", "error")
		return err
	}

	s.invalidate(ctx, projectID, targetUserID)
	s.recordOp("role_change", "ok")
	oldRole, _ := m.EffectiveRole()
	s.audit(ctx, audit.EventTypeMemberRoleChange, actorID, &targetUserID, m.OrganizationID, projectID,
		fmt.Sprintf("role %s -> %s", oldRole, newRole))
	return nil
}

// AssignPhases replaces an external member's phase allow-list.
func (s *Service) AssignPhases(ctx context.Context, actorID, projectID, targetUserID int64, phases []rbac.Phase) error {
	actor, target, m, err := s.loadPair(ctx, actorID, projectID, targetUserID)
	if err != nil {
		return err
	}
	if m.Status == rbac.StatusRevoked {
		return ErrMembershipRevoked
	}
	if m.ExternalRole == "" {
		return fmt.Errorf("phases can only be assigned to external members")
	}
	if err := s.validatePhases(phases); err != nil {
		return err
	}
	if err := s.gate(ctx, actor, target, rbac.EscalationChangeRole, "phase_change"); err != nil {
		return err
	}

	if err := s.store.UpdatePhases(ctx, m.ID, phases); err != nil {
		s.recordOp("phase_change", "error")
		return err
	}

	s.invalidate(ctx, projectID, targetUserID)
	s.recordOp("phase_change", "ok")
	s.audit(ctx, audit.EventTypeMemberPhaseChange, actorID, &targetUserID, m.OrganizationID, projectID,
		fmt.Sprintf("phases set to %v", phases))
	return nil
}

// CleanupExpiredInvitations removes unaccepted invitations past their
// expiry. Run on a schedule.
func (s *Service) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	removed, err := s.store.DeleteExpiredInvitations(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Infof("Removed %d expired invitations", removed)
	}
	return removed, nil
}

// ListInvitations returns a project's pending invitations.
func (s *Service) ListInvitations(ctx context.Context, projectID int64) ([]*Invitation, error) {
	return s.store.ListInvitations(ctx, projectID)
}

func (s *Service) loadPair(ctx context.Context, actorID, projectID, targetUserID int64) (rbac.Context, rbac.Context, *Membership, error) {
	actor, err := s.PermissionContext(ctx, actorID, projectID)
	if err != nil {
		return rbac.Context{}, rbac.Context{}, nil, err
	}
	m, err := s.store.GetByProjectUser(ctx, projectID, targetUserID)
	if err != nil {
		return rbac.Context{}, rbac.Context{}, nil, err
	}
	target, err := m.PermissionContext()
	if err != nil {
		return rbac.Context{}, rbac.Context{}, nil, err
	}
	return actor, target, m, nil
}

func (s *Service) gate(ctx context.Context, actor, target rbac.Context, op rbac.EscalationOp, operation string) error {
	decision := s.evaluator.CheckEscalation(actor, target, op)
	if !decision.Allowed {
		s.recordOp(operation, "denied")
		return &AccessDeniedError{Op: op, Decision: decision}
	}
	return nil
}

// validateAssignment checks that exactly one of role and externalRole
// is set, that it names a declared role of the matching family, and
// that the phase allow-list fits the family.
func (s *Service) validateAssignment(role, externalRole rbac.Role, phases []rbac.Phase) (rbac.Role, error) {
	switch {
	case role != "" && externalRole != "":
		return "", fmt.Errorf("exactly one of role and external_role must be set")
	case role != "":
		if !rbac.ValidRole(role) || rbac.IsExternal(role) {
			return "", fmt.Errorf("unknown internal role: %s", role)
		}
		if len(phases) > 0 {
			return "", fmt.Errorf("internal roles carry no phase allow-list")
		}
		return role, nil
	case externalRole != "":
		if !rbac.ValidRole(externalRole) || !rbac.IsExternal(externalRole) {
			return "", fmt.Errorf("unknown external role: %s", externalRole)
		}
		if len(phases) == 0 {
			return "", fmt.Errorf("external roles require at least one assigned phase")
		}
		if err := s.validatePhases(phases); err != nil {
			return "", err
		}
		return externalRole, nil
	default:
		return "", fmt.Errorf("one of role and external_role must be set")
	}
}

// validatePhases rejects unknown phases and phases closed to external
// collaborators by policy.
func (s *Service) validatePhases(phases []rbac.Phase) error {
	for _, phase := range phases {
		if !rbac.ValidPhase(phase) {
			return fmt.Errorf("unknown phase: %s", phase)
		}
		if !s.evaluator.Policy().CapabilitiesFor(phase).ExternalAllowed {
			return fmt.Errorf("phase %s is closed to external collaborators", phase)
		}
	}
	return nil
}

// invalidate drops the target's cached context locally and announces
// the invalidation to the other instances. The local drop happens
// before this method returns so the mutation is immediately visible
// here; remote instances converge via pub/sub or TTL expiry.
func (s *Service) invalidate(ctx context.Context, projectID, userID int64) {
	s.cache.Invalidate(projectID, userID, "local")
	if s.invalidator != nil {
		if err := s.invalidator.Publish(ctx, projectID, userID); err != nil {
			s.logger.WithError(err).Warn("Failed to publish cache invalidation")
		}
	}
}

func (s *Service) recordOp(operation, status string) {
	if s.metrics != nil {
		s.metrics.MembershipOpsTotal.WithLabelValues(operation, status).Inc()
	}
}

func (s *Service) audit(ctx context.Context, eventType audit.EventType, actorID int64, targetUserID *int64, orgID, projectID int64, message string) {
	if s.auditLogger == nil {
		return
	}
	s.auditLogger.Log(ctx, &audit.Event{
		Type:           eventType,
		ActorID:        actorID,
		TargetUserID:   targetUserID,
		OrganizationID: orgID,
		ProjectID:      projectID,
		RequestID:      observability.GetRequestID(ctx),
		Message:        message,
	})
}
