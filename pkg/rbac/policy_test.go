package rbac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	policy := DefaultPolicy()
	assert.Equal(t, 1, policy.Version)
	assert.Len(t, policy.Phases, len(Phases()))
	assert.Len(t, policy.Resources, len(ResourceTypes()))
}

// mutatedPolicy unmarshals the embedded artifact fresh so a test can
// break it without touching the shared default.
func mutatedPolicy(t *testing.T, mutate func(*Policy)) *Policy {
	t.Helper()
	var p Policy
	require.NoError(t, yaml.Unmarshal(defaultPolicyYAML, &p))
	mutate(&p)
	return &p
}

func TestPolicyValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{
			name:    "version zero",
			mutate:  func(p *Policy) { p.Version = 0 },
			wantErr: "version must be >= 1",
		},
		{
			name:    "missing phase",
			mutate:  func(p *Policy) { delete(p.Phases, PhaseDistribution) },
			wantErr: "phase entries",
		},
		{
			name: "unknown phase",
			mutate: func(p *Policy) {
				caps := p.Phases[PhaseDistribution]
				delete(p.Phases, PhaseDistribution)
				p.Phases["wrap_party"] = caps
			},
			wantErr: "missing from phase matrix",
		},
		{
			name: "external phase owner",
			mutate: func(p *Policy) {
				caps := p.Phases[PhaseProduction]
				caps.Owner = RoleExternalEditor
				p.Phases[PhaseProduction] = caps
			},
			wantErr: "must be an internal role",
		},
		{
			name: "unknown role in phase grant",
			mutate: func(p *Policy) {
				caps := p.Phases[PhaseProduction]
				caps.Editors = append(caps.Editors, "project:intern")
				p.Phases[PhaseProduction] = caps
			},
			wantErr: "unknown role",
		},
		{
			name: "closed phase grants external role",
			mutate: func(p *Policy) {
				caps := p.Phases[PhaseBrief]
				caps.Viewers = append(caps.Viewers, RoleExternalGuest)
				p.Phases[PhaseBrief] = caps
			},
			wantErr: "closed to externals",
		},
		{
			name:    "missing resource type",
			mutate:  func(p *Policy) { delete(p.Resources, ResourceArchive) },
			wantErr: "resource entries",
		},
		{
			name:    "missing action",
			mutate:  func(p *Policy) { delete(p.Resources[ResourceAsset], ActionApprove) },
			wantErr: "actions",
		},
		{
			name: "action outside vocabulary",
			mutate: func(p *Policy) {
				p.Resources[ResourceArchive][ActionApprove] = []Role{RoleOrgOwner}
			},
			wantErr: "archive",
		},
		{
			name: "unknown role in action grant",
			mutate: func(p *Policy) {
				p.Resources[ResourceAsset][ActionDelete] = []Role{"project:janitor"}
			},
			wantErr: "unknown role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mutatedPolicy(t, tt.mutate).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPolicy_RejectsInvalidYAML(t *testing.T) {
	_, err := LoadPolicy(strings.NewReader("version: [not a number"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse policy")
}

func TestLoadPolicy_RejectsIncompleteArtifact(t *testing.T) {
	_, err := LoadPolicy(strings.NewReader("version: 1\nphases: {}\nresources: {}\n"))
	require.Error(t, err)
}

func TestLoadPolicyFile_MissingFile(t *testing.T) {
	_, err := LoadPolicyFile("/nonexistent/policy.yaml")
	require.Error(t, err)
}

func TestRolesAuthorizedFor_SortedByRank(t *testing.T) {
	policy := DefaultPolicy()

	roles := policy.RolesAuthorizedFor(ResourceProject, ActionDelete)
	require.NotEmpty(t, roles)
	for i := 1; i < len(roles); i++ {
		assert.Greater(t, RankOf(roles[i-1]), RankOf(roles[i]))
	}
	assert.Equal(t, RoleOrgOwner, roles[0])
}

func TestRolesAuthorizedFor_OutOfVocabulary(t *testing.T) {
	policy := DefaultPolicy()
	assert.Nil(t, policy.RolesAuthorizedFor(ResourceArchive, ActionApprove))
}

func TestCapabilitiesFor_UnknownPhasePanics(t *testing.T) {
	policy := DefaultPolicy()
	assert.Panics(t, func() { policy.CapabilitiesFor("wrap_party") })
}

func TestNewEvaluator_RejectsInvalidPolicy(t *testing.T) {
	broken := mutatedPolicy(t, func(p *Policy) { delete(p.Phases, PhaseBrief) })
	_, err := NewEvaluator(broken)
	require.Error(t, err)
}

func TestNewEvaluator_RejectsNilPolicy(t *testing.T) {
	_, err := NewEvaluator(nil)
	require.Error(t, err)
}
