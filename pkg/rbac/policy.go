package rbac

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// PhaseCapabilities is one row of the phase access matrix: who owns a
// phase, who may view/edit/approve within it, and whether external
// actors may ever be granted access to it.
type PhaseCapabilities struct {
	Owner           Role   `yaml:"owner" json:"owner"`
	Viewers         []Role `yaml:"viewers" json:"viewers"`
	Editors         []Role `yaml:"editors" json:"editors"`
	Approvers       []Role `yaml:"approvers" json:"approvers"`
	ExternalAllowed bool   `yaml:"external_allowed" json:"external_allowed"`
}

// Policy is the versioned authorization configuration artifact: the
// phase access matrix plus the per-resource action matrices. It is
// loaded once at startup, validated exhaustively, and treated as
// immutable from then on; policy changes ship as a new artifact, never
// as a runtime mutation.
type Policy struct {
	Version   int                               `yaml:"version" json:"version"`
	Phases    map[Phase]PhaseCapabilities       `yaml:"phases" json:"phases"`
	Resources map[ResourceType]map[Action][]Role `yaml:"resources" json:"resources"`

	// compiled lookup tables, built by Validate
	phaseSets    map[Phase]map[Capability]map[Role]bool
	resourceSets map[ResourceType]map[Action]map[Role]bool
}

// LoadPolicy reads and validates a policy artifact from r.
func LoadPolicy(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicyFile reads and validates a policy artifact from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}

// DefaultPolicy returns the embedded policy artifact. The embedded
// artifact is validated at build review time and again here; a failure
// means the binary itself is bad, so this panics.
func DefaultPolicy() *Policy {
	var p Policy
	if err := yaml.Unmarshal(defaultPolicyYAML, &p); err != nil {
		panic(fmt.Sprintf("rbac: embedded policy is unparsable: %v", err))
	}
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("rbac: embedded policy is invalid: %v", err))
	}
	return &p
}

// Validate performs the load-time exhaustiveness check: every phase,
// resource type, and action in the closed enums must be covered, every
// referenced role must exist, and phases closed to externals must not
// grant external roles. A matrix gap is a deployment error and must
// fail here, loudly, because a silent deny at evaluation time would be
// indistinguishable from a correct security decision.
func (p *Policy) Validate() error {
	if p.Version < 1 {
		return fmt.Errorf("policy: version must be >= 1, got %d", p.Version)
	}

	if len(p.Phases) != len(Phases()) {
		return fmt.Errorf("policy: expected %d phase entries, got %d", len(Phases()), len(p.Phases))
	}
	phaseSets := make(map[Phase]map[Capability]map[Role]bool, len(p.Phases))
	for _, phase := range Phases() {
		caps, ok := p.Phases[phase]
		if !ok {
			return fmt.Errorf("policy: phase %q missing from phase matrix", phase)
		}
		if !ValidRole(caps.Owner) {
			return fmt.Errorf("policy: phase %q has unknown owner role %q", phase, caps.Owner)
		}
		if IsExternal(caps.Owner) {
			return fmt.Errorf("policy: phase %q owner %q must be an internal role", phase, caps.Owner)
		}
		sets := map[Capability]map[Role]bool{
			CapabilityView:    {},
			CapabilityEdit:    {},
			CapabilityApprove: {},
		}
		for class, roles := range map[Capability][]Role{
			CapabilityView:    caps.Viewers,
			CapabilityEdit:    caps.Editors,
			CapabilityApprove: caps.Approvers,
		} {
			for _, role := range roles {
				if !ValidRole(role) {
					return fmt.Errorf("policy: phase %q grants %s to unknown role %q", phase, class, role)
				}
				if !caps.ExternalAllowed && IsExternal(role) {
					return fmt.Errorf("policy: phase %q is closed to externals but grants %s to %q", phase, class, role)
				}
				sets[class][role] = true
			}
		}
		phaseSets[phase] = sets
	}
	for phase := range p.Phases {
		if !ValidPhase(phase) {
			return fmt.Errorf("policy: unknown phase %q in phase matrix", phase)
		}
	}

	if len(p.Resources) != len(ResourceTypes()) {
		return fmt.Errorf("policy: expected %d resource entries, got %d", len(ResourceTypes()), len(p.Resources))
	}
	resourceSets := make(map[ResourceType]map[Action]map[Role]bool, len(p.Resources))
	for _, rt := range ResourceTypes() {
		matrix, ok := p.Resources[rt]
		if !ok {
			return fmt.Errorf("policy: resource type %q missing from action matrices", rt)
		}
		vocab := ActionVocabulary(rt)
		if len(matrix) != len(vocab) {
			return fmt.Errorf("policy: resource %q defines %d actions, vocabulary has %d", rt, len(matrix), len(vocab))
		}
		sets := make(map[Action]map[Role]bool, len(vocab))
		for _, action := range vocab {
			roles, ok := matrix[action]
			if !ok {
				return fmt.Errorf("policy: resource %q missing action %q", rt, action)
			}
			set := make(map[Role]bool, len(roles))
			for _, role := range roles {
				if !ValidRole(role) {
					return fmt.Errorf("policy: resource %q action %q grants unknown role %q", rt, action, role)
				}
				set[role] = true
			}
			sets[action] = set
		}
		resourceSets[rt] = sets
	}
	for rt := range p.Resources {
		if !ValidResourceType(rt) {
			return fmt.Errorf("policy: unknown resource type %q in action matrices", rt)
		}
	}

	p.phaseSets = phaseSets
	p.resourceSets = resourceSets
	return nil
}

// ValidResourceType reports whether rt is a declared resource family.
func ValidResourceType(rt ResourceType) bool {
	for _, known := range ResourceTypes() {
		if rt == known {
			return true
		}
	}
	return false
}

// CapabilitiesFor returns the phase matrix row for a phase. The policy
// is validated before use, so an unknown phase is a programming error.
func (p *Policy) CapabilitiesFor(phase Phase) PhaseCapabilities {
	caps, ok := p.Phases[phase]
	if !ok {
		panic(fmt.Sprintf("rbac: phase %q not in validated policy", phase))
	}
	return caps
}

// RolesAuthorizedFor returns the roles authorized to perform action on
// a resource family, in catalog order. Combinations outside the
// family's vocabulary authorize no roles.
func (p *Policy) RolesAuthorizedFor(rt ResourceType, action Action) []Role {
	set := p.resourceSets[rt][action]
	if len(set) == 0 {
		return nil
	}
	roles := make([]Role, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return RankOf(roles[i]) > RankOf(roles[j]) })
	return roles
}

// authorizes reports whether the resource matrix grants action on rt to
// role.
func (p *Policy) authorizes(rt ResourceType, action Action, role Role) bool {
	return p.resourceSets[rt][action][role]
}

// grantsCapability reports whether the phase matrix grants the
// capability class to role in phase, either directly or through phase
// ownership (the owning role implicitly holds view, edit, and approve
// on its own phase).
func (p *Policy) grantsCapability(phase Phase, class Capability, role Role) bool {
	if p.Phases[phase].Owner == role {
		return true
	}
	return p.phaseSets[phase][class][role]
}

// compiled reports whether Validate has been run successfully.
func (p *Policy) compiled() bool {
	return p.phaseSets != nil && p.resourceSets != nil
}
