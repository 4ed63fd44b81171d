package membership

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/greenroomhq/greenroom/pkg/observability"
	"github.com/greenroomhq/greenroom/pkg/rbac"
)

// Handlers provides the membership lifecycle HTTP surface.
type Handlers struct {
	service *Service
}

// NewHandlers creates membership handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all membership routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/projects/{project_id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/projects/{project_id}/members/{user_id}", h.GetMember).Methods("GET")
	router.HandleFunc("/projects/{project_id}/members/{user_id}/suspend", h.Suspend).Methods("POST")
	router.HandleFunc("/projects/{project_id}/members/{user_id}/revoke", h.Revoke).Methods("POST")
	router.HandleFunc("/projects/{project_id}/members/{user_id}/reactivate", h.Reactivate).Methods("POST")
	router.HandleFunc("/projects/{project_id}/members/{user_id}/role", h.ChangeRole).Methods("PUT")
	router.HandleFunc("/projects/{project_id}/members/{user_id}/phases", h.AssignPhases).Methods("PUT")

	router.HandleFunc("/projects/{project_id}/invitations", h.Invite).Methods("POST")
	router.HandleFunc("/projects/{project_id}/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/invitations/accept", h.AcceptInvitation).Methods("POST")
}

// ListMembers returns all members of a project.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "project_id")
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// GetMember returns one member of a project.
func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "project_id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	m, err := h.service.GetMember(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Suspend suspends a member.
func (h *Handlers) Suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Suspend)
}

// Revoke terminally revokes a member.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Revoke)
}

// Reactivate reactivates a suspended member.
func (h *Handlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Reactivate)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, projectID, targetUserID int64) error) {
	actorID, projectID, userID, ok := h.lifecycleParams(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), actorID, projectID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeRoleRequest is the body of PUT .../role.
type ChangeRoleRequest struct {
	Role           rbac.Role    `json:"role,omitempty"`
	ExternalRole   rbac.Role    `json:"external_role,omitempty"`
	AssignedPhases []rbac.Phase `json:"assigned_phases,omitempty"`
}

// ChangeRole replaces a member's role.
func (h *Handlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actorID, projectID, userID, ok := h.lifecycleParams(w, r)
	if !ok {
		return
	}
	var req ChangeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.ChangeRole(r.Context(), actorID, projectID, userID, req.Role, req.ExternalRole, req.AssignedPhases); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignPhasesRequest is the body of PUT .../phases.
type AssignPhasesRequest struct {
	AssignedPhases []rbac.Phase `json:"assigned_phases"`
}

// AssignPhases replaces an external member's phase allow-list.
func (h *Handlers) AssignPhases(w http.ResponseWriter, r *http.Request) {
	actorID, projectID, userID, ok := h.lifecycleParams(w, r)
	if !ok {
		return
	}
	var req AssignPhasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.AssignPhases(r.Context(), actorID, projectID, userID, req.AssignedPhases); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Invite creates an invitation to join a project.
func (h *Handlers) Invite(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "project_id")
	if !ok {
		return
	}
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}
	var params InviteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	inv, err := h.service.Invite(r.Context(), actorID, projectID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ListInvitations returns a project's pending invitations.
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "project_id")
	if !ok {
		return
	}
	invitations, err := h.service.ListInvitations(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invitations)
}

// AcceptInvitationRequest is the body of POST /invitations/accept.
type AcceptInvitationRequest struct {
	Token string `json:"token"`
}

// AcceptInvitation redeems an invitation token for the acting user.
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req AcceptInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	m, err := h.service.AcceptInvitation(r.Context(), req.Token, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handlers) lifecycleParams(w http.ResponseWriter, r *http.Request) (actor, project, user int64, ok bool) {
	project, ok = pathID(w, r, "project_id")
	if !ok {
		return
	}
	user, ok = pathID(w, r, "user_id")
	if !ok {
		return
	}
	actor, ok = actorID(w, r)
	return
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id := observability.GetActorID(r.Context())
	if id == 0 {
		http.Error(w, "Missing actor identity", http.StatusUnauthorized)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	var denied *AccessDeniedError
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, denied.Decision)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "Membership not found", http.StatusNotFound)
	case errors.Is(err, ErrMembershipRevoked):
		http.Error(w, "Membership is revoked", http.StatusConflict)
	case errors.Is(err, ErrAlreadyMember):
		http.Error(w, "User is already a member", http.StatusConflict)
	case errors.Is(err, ErrInvitationUsed):
		http.Error(w, "Invitation already accepted", http.StatusConflict)
	case errors.Is(err, ErrInvitationExpired):
		http.Error(w, "Invitation expired", http.StatusGone)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
