package membership

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/greenroomhq/greenroom/pkg/rbac"
)

// Driver-level failures are awkward to provoke against a real database,
// so these paths are exercised with sqlmock.

func TestStore_CreateMembershipQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO project_memberships").
		WillReturnError(fmt.Errorf("connection reset"))

	store := NewStore(db)
	m := &Membership{OrganizationID: 1, ProjectID: 10, UserID: 42, Role: rbac.RoleProjectEditor, Status: rbac.StatusActive}
	if err := store.CreateMembership(context.Background(), m); err == nil {
		t.Error("Expected error from failing insert")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// The inserts must scan the id from RETURNING rather than relying on
// driver support for LastInsertId, which pq does not provide.
func TestStore_CreateMembershipScansReturnedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO project_memberships").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	store := NewStore(db)
	m := &Membership{OrganizationID: 1, ProjectID: 10, UserID: 42, Role: rbac.RoleProjectEditor, Status: rbac.StatusActive}
	if err := store.CreateMembership(context.Background(), m); err != nil {
		t.Fatalf("CreateMembership failed: %v", err)
	}
	if m.ID != 7 {
		t.Errorf("Expected id 7 from RETURNING, got %d", m.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestStore_CreateInvitationScansReturnedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO membership_invitations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	store := NewStore(db)
	inv := &Invitation{
		OrganizationID: 1,
		ProjectID:      10,
		Email:          "vendor@example.com",
		ExternalRole:   rbac.RoleExternalVendor,
		AssignedPhases: []rbac.Phase{rbac.PhaseProduction},
		Token:          "tok-1",
		InvitedBy:      42,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	if err := store.CreateInvitation(context.Background(), inv); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	if inv.ID != 3 {
		t.Errorf("Expected id 3 from RETURNING, got %d", inv.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestStore_ScanRejectsCorruptPhases(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "organization_id", "project_id", "user_id", "role", "external_role",
		"assigned_phases", "status", "access_expires_at", "invited_by",
		"joined_at", "created_at", "updated_at", "revoked_at",
	}).AddRow(1, 1, 10, 42, "project:editor", nil, "{corrupt", "active", nil, nil,
		time.Now(), time.Now(), time.Now(), nil)

	mock.ExpectQuery("SELECT (.+) FROM project_memberships").WillReturnRows(rows)

	store := NewStore(db)
	if _, err := store.GetMembership(context.Background(), 1); err == nil {
		t.Error("Expected error for corrupt phase JSON")
	}
}

func TestStore_UpdateStatusRowsAffectedError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE project_memberships").
		WillReturnResult(sqlmock.NewErrorResult(fmt.Errorf("no rows affected info")))

	store := NewStore(db)
	if err := store.UpdateStatus(context.Background(), 1, rbac.StatusSuspended, nil); err == nil {
		t.Error("Expected error when RowsAffected fails")
	}
}
