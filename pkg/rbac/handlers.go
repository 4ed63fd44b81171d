package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/greenroomhq/greenroom/pkg/audit"
	"github.com/greenroomhq/greenroom/pkg/observability"
)

// ContextSource builds a permission context for a user's standing in a
// project. It is injected rather than constructed here so the decision
// path stays testable without a membership store behind it.
type ContextSource interface {
	PermissionContext(ctx context.Context, userID, projectID int64) (Context, error)
}

// Handlers provides the HTTP authorization surface consumed by the rest
// of the platform's API handlers and UI guards.
type Handlers struct {
	evaluator   *Evaluator
	contexts    ContextSource
	auditLogger audit.Logger
	metrics     *observability.Metrics
}

// NewHandlers creates authorization handlers. auditLogger and metrics
// may be nil.
func NewHandlers(evaluator *Evaluator, contexts ContextSource, auditLogger audit.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		evaluator:   evaluator,
		contexts:    contexts,
		auditLogger: auditLogger,
		metrics:     metrics,
	}
}

// RegisterRoutes registers all authorization routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authz/check", h.Check).Methods("POST")
	router.HandleFunc("/authz/check-escalation", h.CheckEscalation).Methods("POST")
	router.HandleFunc("/authz/policy", h.GetPolicy).Methods("GET")
	router.HandleFunc("/authz/roles", h.ListRoles).Methods("GET")
}

// CheckRequest is the body of POST /authz/check.
type CheckRequest struct {
	UserID    int64       `json:"user_id"`
	ProjectID int64       `json:"project_id"`
	Action    Action      `json:"action"`
	Resource  ResourceRef `json:"resource"`
}

// Check evaluates one permission check for a user against a resource.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !ValidResourceType(req.Resource.Type) {
		http.Error(w, "Unknown resource type", http.StatusBadRequest)
		return
	}
	if !ValidAction(req.Action) {
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}
	if req.Resource.Phase != nil && !ValidPhase(*req.Resource.Phase) {
		http.Error(w, "Unknown phase", http.StatusBadRequest)
		return
	}

	permCtx, err := h.contexts.PermissionContext(ctx, req.UserID, req.ProjectID)
	if err != nil {
		http.Error(w, "Membership not found", http.StatusNotFound)
		return
	}

	start := time.Now()
	decision := h.evaluator.Check(permCtx, req.Action, req.Resource)
	h.observeDecision(string(req.Resource.Type), string(req.Action), decision, time.Since(start))
	h.logDecision(ctx, audit.EventTypeAuthzCheck, permCtx, &req, decision)

	writeJSON(w, http.StatusOK, decision)
}

// EscalationRequest is the body of POST /authz/check-escalation.
type EscalationRequest struct {
	ActorUserID  int64        `json:"actor_user_id"`
	TargetUserID int64        `json:"target_user_id"`
	ProjectID    int64        `json:"project_id"`
	Op           EscalationOp `json:"op"`
}

// CheckEscalation evaluates whether one actor may change another
// actor's standing.
func (h *Handlers) CheckEscalation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !ValidEscalationOp(req.Op) {
		http.Error(w, "Unknown escalation op", http.StatusBadRequest)
		return
	}

	actor, err := h.contexts.PermissionContext(ctx, req.ActorUserID, req.ProjectID)
	if err != nil {
		http.Error(w, "Actor membership not found", http.StatusNotFound)
		return
	}
	target, err := h.contexts.PermissionContext(ctx, req.TargetUserID, req.ProjectID)
	if err != nil {
		http.Error(w, "Target membership not found", http.StatusNotFound)
		return
	}

	start := time.Now()
	decision := h.evaluator.CheckEscalation(actor, target, req.Op)
	h.observeDecision("escalation", string(req.Op), decision, time.Since(start))
	if h.auditLogger != nil {
		h.auditLogger.Log(ctx, &audit.Event{
			Type:           audit.EventTypeAuthzEscalationCheck,
			ActorID:        actor.UserID,
			TargetUserID:   &target.UserID,
			OrganizationID: actor.OrganizationID,
			ProjectID:      actor.ProjectID,
			Action:         string(req.Op),
			Allowed:        decision.Allowed,
			Reason:         string(decision.Reason),
			MatchedRule:    decision.MatchedRule,
			CreatedAt:      time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, decision)
}

// GetPolicy returns the loaded policy artifact (read-only view).
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.evaluator.Policy())
}

// RoleInfo is one entry of the role catalog listing.
type RoleInfo struct {
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Rank        int    `json:"rank"`
	Internal    bool   `json:"internal"`
}

// ListRoles returns the role catalog.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles := make([]RoleInfo, 0, len(Roles()))
	for _, role := range Roles() {
		roles = append(roles, RoleInfo{
			Role:        role,
			DisplayName: DisplayName(role),
			Description: Description(role),
			Rank:        RankOf(role),
			Internal:    IsInternal(role),
		})
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *Handlers) observeDecision(resource, action string, d Decision, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	h.metrics.DecisionsTotal.WithLabelValues(resource, action, allowed, string(d.Reason)).Inc()
	h.metrics.DecisionDuration.WithLabelValues(resource).Observe(elapsed.Seconds())
}

func (h *Handlers) logDecision(ctx context.Context, eventType audit.EventType, permCtx Context, req *CheckRequest, d Decision) {
	if h.auditLogger == nil {
		return
	}
	h.auditLogger.Log(ctx, &audit.Event{
		Type:           eventType,
		ActorID:        permCtx.UserID,
		OrganizationID: permCtx.OrganizationID,
		ProjectID:      permCtx.ProjectID,
		Resource:       string(req.Resource.Type),
		Action:         string(req.Action),
		Allowed:        d.Allowed,
		Reason:         string(d.Reason),
		MatchedRule:    d.MatchedRule,
		CreatedAt:      time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
