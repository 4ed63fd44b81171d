package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRanks_StrictTotalOrder(t *testing.T) {
	seen := make(map[int]Role)
	for _, role := range Roles() {
		rank := RankOf(role)
		if other, ok := seen[rank]; ok {
			t.Fatalf("roles %s and %s share rank %d", role, other, rank)
		}
		seen[rank] = role
	}
}

func TestRoles_CoversCatalog(t *testing.T) {
	assert.Len(t, Roles(), len(catalog))
	for _, role := range Roles() {
		assert.True(t, ValidRole(role))
	}
}

func TestRoleFamilies(t *testing.T) {
	internal := []Role{
		RoleOrgOwner, RoleOrgAdmin, RoleProjectOwner, RoleProjectManager,
		RoleProjectEditor, RoleProjectReviewer, RoleProjectLegal,
		RoleProjectFinance, RoleProjectViewer,
	}
	external := []Role{
		RoleExternalEditor, RoleExternalReviewer, RoleExternalVendor, RoleExternalGuest,
	}

	for _, role := range internal {
		assert.True(t, IsInternal(role), "%s", role)
		assert.False(t, IsExternal(role), "%s", role)
	}
	for _, role := range external {
		assert.True(t, IsExternal(role), "%s", role)
		assert.False(t, IsInternal(role), "%s", role)
	}
}

func TestEveryInternalRoleOutranksEveryExternalRole(t *testing.T) {
	for _, internal := range Roles() {
		if IsExternal(internal) {
			continue
		}
		for _, external := range Roles() {
			if IsInternal(external) {
				continue
			}
			assert.Greater(t, RankOf(internal), RankOf(external),
				"%s should outrank %s", internal, external)
		}
	}
}

func TestDisplayMetadata_Present(t *testing.T) {
	for _, role := range Roles() {
		assert.NotEmpty(t, DisplayName(role), "%s", role)
		assert.NotEmpty(t, Description(role), "%s", role)
	}
}

func TestRankOf_UnknownRolePanics(t *testing.T) {
	assert.Panics(t, func() { RankOf("project:intern") })
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleProjectLegal))
	assert.False(t, ValidRole("project:intern"))
	assert.False(t, ValidRole(""))
}
