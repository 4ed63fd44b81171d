package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenroomhq/greenroom/pkg/rbac"
)

// Store provides database access for memberships and invitations.
type Store struct {
	db *sql.DB
}

// NewStore creates a membership store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const membershipColumns = `id, organization_id, project_id, user_id, role, external_role,
	assigned_phases, status, access_expires_at, invited_by, joined_at, created_at, updated_at, revoked_at`

// CreateMembership inserts a membership record.
func (s *Store) CreateMembership(ctx context.Context, m *Membership) error {
	phases, err := encodePhases(m.AssignedPhases)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = now
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	query := `
		INSERT INTO project_memberships
			(organization_id, project_id, user_id, role, external_role, assigned_phases,
			 status, access_expires_at, invited_by, joined_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		m.OrganizationID, m.ProjectID, m.UserID,
		nullRole(m.Role), nullRole(m.ExternalRole), phases,
		string(m.Status), m.AccessExpiresAt, m.InvitedBy,
		m.JoinedAt, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// GetMembership retrieves a membership by ID.
func (s *Store) GetMembership(ctx context.Context, id int64) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE id = $1`
	return scanMembership(s.db.QueryRowContext(ctx, query, id))
}

// GetByProjectUser retrieves a user's membership in a project.
func (s *Store) GetByProjectUser(ctx context.Context, projectID, userID int64) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE project_id = $1 AND user_id = $2`
	return scanMembership(s.db.QueryRowContext(ctx, query, projectID, userID))
}

// ListByProject retrieves all memberships of a project.
func (s *Store) ListByProject(ctx context.Context, projectID int64) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE project_id = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateStatus transitions a membership's lifecycle status.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status rbac.MembershipStatus, revokedAt *time.Time) error {
	query := `UPDATE project_memberships SET status = $1, revoked_at = $2, updated_at = $3 WHERE id = $4`
	return s.exec(ctx, query, string(status), revokedAt, time.Now().UTC(), id)
}

// UpdateRole replaces a membership's role. Exactly one of role and
// externalRole must be non-empty; the service validates this before
// calling.
func (s *Store) UpdateRole(ctx context.Context, id int64, role, externalRole rbac.Role, phases []rbac.Phase) error {
	encoded, err := encodePhases(phases)
	if err != nil {
		return err
	}
	query := `UPDATE project_memberships SET role = $1, external_role = $2, assigned_phases = $3, updated_at = $4 WHERE id = $5`
	return s.exec(ctx, query, nullRole(role), nullRole(externalRole), encoded, time.Now().UTC(), id)
}

// UpdatePhases replaces an external membership's phase allow-list.
func (s *Store) UpdatePhases(ctx context.Context, id int64, phases []rbac.Phase) error {
	encoded, err := encodePhases(phases)
	if err != nil {
		return err
	}
	query := `UPDATE project_memberships SET assigned_phases = $1, updated_at = $2 WHERE id = $3`
	return s.exec(ctx, query, encoded, time.Now().UTC(), id)
}

// UpdateExpiry replaces a membership's access expiry.
func (s *Store) UpdateExpiry(ctx context.Context, id int64, expiresAt *time.Time) error {
	query := `UPDATE project_memberships SET access_expires_at = $1, updated_at = $2 WHERE id = $3`
	return s.exec(ctx, query, expiresAt, time.Now().UTC(), id)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInvitation inserts a pending invitation.
func (s *Store) CreateInvitation(ctx context.Context, inv *Invitation) error {
	phases, err := encodePhases(inv.AssignedPhases)
	if err != nil {
		return err
	}
	if inv.InvitedAt.IsZero() {
		inv.InvitedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO membership_invitations
			(organization_id, project_id, email, role, external_role, assigned_phases,
			 access_expires_at, token, invited_by, invited_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		inv.OrganizationID, inv.ProjectID, inv.Email,
		nullRole(inv.Role), nullRole(inv.ExternalRole), phases,
		inv.AccessExpiresAt, inv.Token, inv.InvitedBy, inv.InvitedAt, inv.ExpiresAt,
	).Scan(&inv.ID)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

const invitationColumns = `id, organization_id, project_id, email, role, external_role,
	assigned_phases, access_expires_at, token, invited_by, invited_at, expires_at, accepted_at, accepted_by`

// GetInvitationByToken retrieves an invitation by its token.
func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM membership_invitations WHERE token = $1`
	return scanInvitation(s.db.QueryRowContext(ctx, query, token))
}

// ListInvitations retrieves pending invitations for a project.
func (s *Store) ListInvitations(ctx context.Context, projectID int64) ([]*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM membership_invitations
		WHERE project_id = $1 AND accepted_at IS NULL ORDER BY invited_at ASC`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// MarkInvitationAccepted records the acceptance of an invitation.
func (s *Store) MarkInvitationAccepted(ctx context.Context, id, userID int64, at time.Time) error {
	query := `UPDATE membership_invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3 AND accepted_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, at, userID, id)
	if err != nil {
		return fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check invitation update: %w", err)
	}
	if affected == 0 {
		return ErrInvitationUsed
	}
	return nil
}

// DeleteExpiredInvitations removes unaccepted invitations past their
// expiry and returns how many were removed.
func (s *Store) DeleteExpiredInvitations(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM membership_invitations WHERE accepted_at IS NULL AND expires_at <= $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invitations: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(scanner rowScanner) (*Membership, error) {
	m := &Membership{}
	var role, externalRole sql.NullString
	var phasesJSON string
	var status string
	var expiresAt, revokedAt sql.NullTime
	var invitedBy sql.NullInt64

	err := scanner.Scan(
		&m.ID, &m.OrganizationID, &m.ProjectID, &m.UserID,
		&role, &externalRole, &phasesJSON, &status,
		&expiresAt, &invitedBy, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt, &revokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}

	if role.Valid {
		m.Role = rbac.Role(role.String)
	}
	if externalRole.Valid {
		m.ExternalRole = rbac.Role(externalRole.String)
	}
	m.Status = rbac.MembershipStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		m.AccessExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		m.RevokedAt = &t
	}
	if invitedBy.Valid {
		v := invitedBy.Int64
		m.InvitedBy = &v
	}

	phases, err := decodePhases(phasesJSON)
	if err != nil {
		return nil, err
	}
	m.AssignedPhases = phases
	return m, nil
}

func scanInvitation(scanner rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var role, externalRole sql.NullString
	var phasesJSON string
	var accessExpiresAt, acceptedAt sql.NullTime
	var acceptedBy sql.NullInt64

	err := scanner.Scan(
		&inv.ID, &inv.OrganizationID, &inv.ProjectID, &inv.Email,
		&role, &externalRole, &phasesJSON, &accessExpiresAt,
		&inv.Token, &inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt,
		&acceptedAt, &acceptedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}

	if role.Valid {
		inv.Role = rbac.Role(role.String)
	}
	if externalRole.Valid {
		inv.ExternalRole = rbac.Role(externalRole.String)
	}
	if accessExpiresAt.Valid {
		t := accessExpiresAt.Time
		inv.AccessExpiresAt = &t
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	if acceptedBy.Valid {
		v := acceptedBy.Int64
		inv.AcceptedBy = &v
	}

	phases, err := decodePhases(phasesJSON)
	if err != nil {
		return nil, err
	}
	inv.AssignedPhases = phases
	return inv, nil
}

func nullRole(r rbac.Role) sql.NullString {
	if r == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(r), Valid: true}
}

func encodePhases(phases []rbac.Phase) (string, error) {
	if phases == nil {
		phases = []rbac.Phase{}
	}
	data, err := json.Marshal(phases)
	if err != nil {
		return "", fmt.Errorf("failed to encode phases: %w", err)
	}
	return string(data), nil
}

func decodePhases(data string) ([]rbac.Phase, error) {
	if data == "" {
		return nil, nil
	}
	var phases []rbac.Phase
	if err := json.Unmarshal([]byte(data), &phases); err != nil {
		return nil, fmt.Errorf("failed to decode phases: %w", err)
	}
	if len(phases) == 0 {
		return nil, nil
	}
	return phases, nil
}
