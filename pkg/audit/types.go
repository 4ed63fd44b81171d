package audit

import (
	"encoding/json"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Authorization decisions
	EventTypeAuthzCheck           EventType = "authz.check"
	EventTypeAuthzEscalationCheck EventType = "authz.escalation_check"

	// Membership lifecycle
	EventTypeMemberInvite           EventType = "member.invite"
	EventTypeMemberInvitationAccept EventType = "member.invitation_accept"
	EventTypeMemberSuspend          EventType = "member.suspend"
	EventTypeMemberRevoke           EventType = "member.revoke"
	EventTypeMemberReactivate       EventType = "member.reactivate"
	EventTypeMemberRoleChange       EventType = "member.role_change"
	EventTypeMemberPhaseChange      EventType = "member.phase_change"
)

// Event is a single audit trail entry. Every authorization decision and
// every membership lifecycle operation produces one.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	// Actor and target
	ActorID        int64  `json:"actor_id"`
	TargetUserID   *int64 `json:"target_user_id,omitempty"`
	OrganizationID int64  `json:"organization_id"`
	ProjectID      int64  `json:"project_id"`

	// What was requested and how it was decided
	Resource    string `json:"resource,omitempty"`
	Action      string `json:"action,omitempty"`
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	MatchedRule string `json:"matched_rule,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}
