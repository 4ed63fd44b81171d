package membership

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroomhq/greenroom/pkg/observability"
	"github.com/greenroomhq/greenroom/pkg/rbac"
)

const (
	testOrgID     = int64(1)
	testProjectID = int64(10)
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *Store) {
	t.Helper()
	db := setupTestDB(t)
	store := NewStore(db)
	evaluator, err := rbac.NewEvaluator(rbac.DefaultPolicy())
	require.NoError(t, err)
	cache := NewContextCache(128, time.Minute, nil)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(store, evaluator, cache, logger, opts...), store
}

func seedMember(t *testing.T, store *Store, userID int64, role rbac.Role, phases ...rbac.Phase) *Membership {
	t.Helper()
	m := &Membership{
		OrganizationID: testOrgID,
		ProjectID:      testProjectID,
		UserID:         userID,
		Status:         rbac.StatusActive,
		AssignedPhases: phases,
	}
	if rbac.IsExternal(role) {
		m.ExternalRole = role
	} else {
		m.Role = role
	}
	require.NoError(t, store.CreateMembership(context.Background(), m))
	return m
}

func TestService_PermissionContextCaching(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 42, rbac.RoleProjectEditor)

	permCtx, err := service.PermissionContext(ctx, 42, testProjectID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleProjectEditor, permCtx.Role)

	// Mutate the row behind the cache's back; the cached snapshot
	// still serves until something invalidates it.
	m, err := store.GetByProjectUser(ctx, testProjectID, 42)
	require.NoError(t, err)
	require.NoError(t, store.UpdateRole(ctx, m.ID, rbac.RoleProjectViewer, "", nil))

	permCtx, err = service.PermissionContext(ctx, 42, testProjectID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleProjectEditor, permCtx.Role)
}

func TestService_SuspendTakesEffectImmediately(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectEditor)

	// Warm the cache with the target's active context.
	permCtx, err := service.PermissionContext(ctx, 2, testProjectID)
	require.NoError(t, err)
	assert.Equal(t, rbac.StatusActive, permCtx.Status)

	require.NoError(t, service.Suspend(ctx, 1, testProjectID, 2))

	// The very next lookup must see the suspension; the mutation
	// invalidates the cache before returning.
	permCtx, err = service.PermissionContext(ctx, 2, testProjectID)
	require.NoError(t, err)
	assert.Equal(t, rbac.StatusSuspended, permCtx.Status)
}

func TestService_SuspendDeniedForJuniorActor(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectManager)
	seedMember(t, store, 2, rbac.RoleProjectOwner)

	err := service.Suspend(ctx, 1, testProjectID, 2)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, rbac.ReasonRankInsufficient, denied.Decision.Reason)
}

func TestService_RevokeIsTerminal(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleOrgOwner)
	seedMember(t, store, 2, rbac.RoleProjectEditor)

	require.NoError(t, service.Revoke(ctx, 1, testProjectID, 2))

	m, err := store.GetByProjectUser(ctx, testProjectID, 2)
	require.NoError(t, err)
	assert.Equal(t, rbac.StatusRevoked, m.Status)
	assert.NotNil(t, m.RevokedAt)

	// No transition out of revoked, not even reactivation.
	assert.ErrorIs(t, service.Reactivate(ctx, 1, testProjectID, 2), ErrMembershipRevoked)
	assert.ErrorIs(t, service.Suspend(ctx, 1, testProjectID, 2), ErrMembershipRevoked)
	assert.ErrorIs(t, service.ChangeRole(ctx, 1, testProjectID, 2, rbac.RoleProjectViewer, "", nil), ErrMembershipRevoked)
}

func TestService_SuspendThenReactivate(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectEditor)

	require.NoError(t, service.Suspend(ctx, 1, testProjectID, 2))
	require.NoError(t, service.Reactivate(ctx, 1, testProjectID, 2))

	m, err := store.GetByProjectUser(ctx, testProjectID, 2)
	require.NoError(t, err)
	assert.Equal(t, rbac.StatusActive, m.Status)
}

func TestService_ChangeRole(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectViewer)

	require.NoError(t, service.ChangeRole(ctx, 1, testProjectID, 2, rbac.RoleProjectEditor, "", nil))

	m, err := store.GetByProjectUser(ctx, testProjectID, 2)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleProjectEditor, m.Role)
}

func TestService_ChangeRoleCannotGrantOwnRankOrAbove(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectViewer)

	// Granting a role at or above the actor's own rank is denied even
	// though the actor outranks the target today.
	err := service.ChangeRole(ctx, 1, testProjectID, 2, rbac.RoleProjectOwner, "", nil)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	err = service.ChangeRole(ctx, 1, testProjectID, 2, rbac.RoleOrgAdmin, "", nil)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
}

func TestService_ChangeRoleValidation(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectViewer)

	// Both roles set
	assert.Error(t, service.ChangeRole(ctx, 1, testProjectID, 2, rbac.RoleProjectEditor, rbac.RoleExternalEditor, nil))
	// Neither set
	assert.Error(t, service.ChangeRole(ctx, 1, testProjectID, 2, "", "", nil))
	// Internal role with phases
	assert.Error(t, service.ChangeRole(ctx, 1, testProjectID, 2, rbac.RoleProjectEditor, "", []rbac.Phase{rbac.PhaseProduction}))
	// External role without phases
	assert.Error(t, service.ChangeRole(ctx, 1, testProjectID, 2, "", rbac.RoleExternalEditor, nil))
	// External role with a phase closed to externals
	assert.Error(t, service.ChangeRole(ctx, 1, testProjectID, 2, "", rbac.RoleExternalEditor, []rbac.Phase{rbac.PhaseBrief}))
}

func TestService_AssignPhases(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectManager)
	seedMember(t, store, 2, rbac.RoleExternalEditor, rbac.PhaseProduction)

	require.NoError(t, service.AssignPhases(ctx, 1, testProjectID, 2, []rbac.Phase{rbac.PhasePostProduction}))

	m, err := store.GetByProjectUser(ctx, testProjectID, 2)
	require.NoError(t, err)
	assert.Equal(t, []rbac.Phase{rbac.PhasePostProduction}, m.AssignedPhases)
}

func TestService_AssignPhasesRejections(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectManager)
	seedMember(t, store, 2, rbac.RoleProjectViewer)
	seedMember(t, store, 3, rbac.RoleExternalVendor, rbac.PhasePreProduction)

	// Internal members carry no phase allow-list.
	assert.Error(t, service.AssignPhases(ctx, 1, testProjectID, 2, []rbac.Phase{rbac.PhaseProduction}))
	// Closed phase
	assert.Error(t, service.AssignPhases(ctx, 1, testProjectID, 3, []rbac.Phase{rbac.PhaseLegalApproval}))
	// Unknown phase
	assert.Error(t, service.AssignPhases(ctx, 1, testProjectID, 3, []rbac.Phase{"wrap_party"}))
}

func TestService_InviteAndAccept(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectManager)

	inv, err := service.Invite(ctx, 1, testProjectID, InviteParams{
		Email:          "cutter@example.com",
		ExternalRole:   rbac.RoleExternalEditor,
		AssignedPhases: []rbac.Phase{rbac.PhaseProduction, rbac.PhasePostProduction},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inv.Token)
	assert.Equal(t, testOrgID, inv.OrganizationID)

	m, err := service.AcceptInvitation(ctx, inv.Token, 55)
	require.NoError(t, err)
	assert.Equal(t, int64(55), m.UserID)
	assert.Equal(t, rbac.RoleExternalEditor, m.ExternalRole)
	assert.Equal(t, rbac.StatusActive, m.Status)
	require.NotNil(t, m.InvitedBy)
	assert.Equal(t, int64(1), *m.InvitedBy)

	// Token is single use.
	_, err = service.AcceptInvitation(ctx, inv.Token, 56)
	assert.ErrorIs(t, err, ErrInvitationUsed)

	// The new member's context evaluates normally.
	permCtx, err := service.PermissionContext(ctx, 55, testProjectID)
	require.NoError(t, err)
	assert.True(t, permCtx.External)
	assert.True(t, permCtx.HasPhase(rbac.PhaseProduction))
}

func TestService_InviteDeniedForInsufficientRank(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectManager)

	// A manager cannot mint an owner.
	_, err := service.Invite(ctx, 1, testProjectID, InviteParams{
		Email: "boss@example.com",
		Role:  rbac.RoleProjectOwner,
	})
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
}

func TestService_InviteValidation(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)

	_, err := service.Invite(ctx, 1, testProjectID, InviteParams{Role: rbac.RoleProjectViewer})
	assert.Error(t, err, "missing email")

	_, err = service.Invite(ctx, 1, testProjectID, InviteParams{
		Email:        "x@example.com",
		ExternalRole: rbac.RoleExternalGuest,
	})
	assert.Error(t, err, "external role without phases")

	_, err = service.Invite(ctx, 1, testProjectID, InviteParams{
		Email:          "x@example.com",
		ExternalRole:   rbac.RoleExternalGuest,
		AssignedPhases: []rbac.Phase{rbac.PhaseInternalReview},
	})
	assert.Error(t, err, "phase closed to externals")
}

func TestService_AcceptExpiredInvitation(t *testing.T) {
	service, store := newTestService(t, WithInvitationTTL(time.Nanosecond))
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)

	inv, err := service.Invite(ctx, 1, testProjectID, InviteParams{
		Email: "late@example.com",
		Role:  rbac.RoleProjectViewer,
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = service.AcceptInvitation(ctx, inv.Token, 55)
	assert.ErrorIs(t, err, ErrInvitationExpired)
}

func TestService_AcceptAsExistingMember(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectViewer)

	inv, err := service.Invite(ctx, 1, testProjectID, InviteParams{
		Email: "dup@example.com",
		Role:  rbac.RoleProjectEditor,
	})
	require.NoError(t, err)

	_, err = service.AcceptInvitation(ctx, inv.Token, 2)
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestService_CleanupExpiredInvitations(t *testing.T) {
	service, store := newTestService(t, WithInvitationTTL(time.Nanosecond))
	ctx := context.Background()
	seedMember(t, store, 1, rbac.RoleProjectOwner)

	_, err := service.Invite(ctx, 1, testProjectID, InviteParams{
		Email: "stale@example.com",
		Role:  rbac.RoleProjectViewer,
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	removed, err := service.CleanupExpiredInvitations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	pending, err := store.ListInvitations(ctx, testProjectID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestService_SuspendedActorCannotMutate(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	owner := seedMember(t, store, 1, rbac.RoleProjectOwner)
	seedMember(t, store, 2, rbac.RoleProjectViewer)

	require.NoError(t, store.UpdateStatus(ctx, owner.ID, rbac.StatusSuspended, nil))

	err := service.Suspend(ctx, 1, testProjectID, 2)
	require.Error(t, err)
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, rbac.ReasonSuspended, denied.Decision.Reason)
}
