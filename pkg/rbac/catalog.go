package rbac

import "fmt"

// roleInfo holds the catalog entry for one role.
type roleInfo struct {
	rank        int
	displayName string
	description string
	internal    bool
}

// catalog is the role catalog: display metadata plus the seniority rank
// used for escalation checks. Ranks form a strict total order; see the
// init check below.
var catalog = map[Role]roleInfo{
	RoleOrgOwner:        {rank: 100, displayName: "Organization Owner", description: "Owns the organization and every project in it", internal: true},
	RoleOrgAdmin:        {rank: 90, displayName: "Organization Admin", description: "Administers organization settings and memberships", internal: true},
	RoleProjectOwner:    {rank: 80, displayName: "Project Owner", description: "Full control over a single project", internal: true},
	RoleProjectManager:  {rank: 70, displayName: "Project Manager", description: "Runs day-to-day production and manages collaborators", internal: true},
	RoleProjectEditor:   {rank: 60, displayName: "Editor", description: "Creates and edits production assets", internal: true},
	RoleProjectReviewer: {rank: 55, displayName: "Reviewer", description: "Reviews and approves cuts in internal review", internal: true},
	RoleProjectLegal:    {rank: 50, displayName: "Legal", description: "Clears assets through legal approval", internal: true},
	RoleProjectFinance:  {rank: 45, displayName: "Finance", description: "Reviews budgets and vendor bids", internal: true},
	RoleProjectViewer:   {rank: 40, displayName: "Viewer", description: "Read-only access to the project", internal: true},

	RoleExternalEditor:   {rank: 30, displayName: "External Editor", description: "Contracted editor scoped to assigned phases", internal: false},
	RoleExternalReviewer: {rank: 25, displayName: "External Reviewer", description: "Client-side reviewer scoped to assigned phases", internal: false},
	RoleExternalVendor:   {rank: 20, displayName: "Vendor", description: "Bidding or delivering vendor scoped to assigned phases", internal: false},
	RoleExternalGuest:    {rank: 10, displayName: "Guest Viewer", description: "Time-boxed view-only guest", internal: false},
}

func init() {
	// A duplicate rank would make "strictly more senior" ambiguous for
	// escalation checks, so refuse to start with one.
	seen := make(map[int]Role, len(catalog))
	for role, info := range catalog {
		if other, ok := seen[info.rank]; ok {
			panic(fmt.Sprintf("rbac: roles %q and %q share rank %d", role, other, info.rank))
		}
		seen[info.rank] = role
	}
}

// Roles returns every declared role, internal roles first, each family
// in descending rank order.
func Roles() []Role {
	return []Role{
		RoleOrgOwner,
		RoleOrgAdmin,
		RoleProjectOwner,
		RoleProjectManager,
		RoleProjectEditor,
		RoleProjectReviewer,
		RoleProjectLegal,
		RoleProjectFinance,
		RoleProjectViewer,
		RoleExternalEditor,
		RoleExternalReviewer,
		RoleExternalVendor,
		RoleExternalGuest,
	}
}

// ValidRole reports whether r is a declared role.
func ValidRole(r Role) bool {
	_, ok := catalog[r]
	return ok
}

// mustInfo returns the catalog entry for r. Contexts are validated at
// construction, so an unknown role here is a programming error and
// panics rather than being silently treated as a denial.
func mustInfo(r Role) roleInfo {
	info, ok := catalog[r]
	if !ok {
		panic(fmt.Sprintf("rbac: unknown role %q", r))
	}
	return info
}

// RankOf returns the seniority rank of a role. Higher is more senior.
func RankOf(r Role) int {
	return mustInfo(r).rank
}

// DisplayName returns the human-readable name of a role.
func DisplayName(r Role) string {
	return mustInfo(r).displayName
}

// Description returns the catalog description of a role.
func Description(r Role) string {
	return mustInfo(r).description
}

// IsInternal reports whether r belongs to the internal role family.
func IsInternal(r Role) bool {
	return mustInfo(r).internal
}

// IsExternal reports whether r belongs to the external role family.
func IsExternal(r Role) bool {
	return !mustInfo(r).internal
}
