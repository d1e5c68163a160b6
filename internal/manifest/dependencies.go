package manifest

import (
	"sort"
	"strings"
)

// RequirementName extracts the distribution name from a PEP 508 requirement
// string: everything before the first extras bracket, version operator,
// space, or environment-marker separator, lowercased with '_' folded to '-'.
func RequirementName(spec string) string {
	spec = strings.TrimSpace(spec)
	end := len(spec)
	for i, r := range spec {
		switch r {
		case '[', '<', '>', '=', '!', '~', ';', ' ', '(', '@':
			end = i
		}
		if end == i {
			break
		}
	}
	name := strings.ToLower(strings.TrimSpace(spec[:end]))
	return strings.ReplaceAll(name, "_", "-")
}

// AddDependency adds a requirement to the main dependency list or to an
// optional group. A spec naming an already-present package replaces it.
func (s *Store) AddDependency(spec, group string) {
	name := RequirementName(spec)
	if group == "" {
		s.doc.Project.Dependencies = replaceRequirement(s.doc.Project.Dependencies, name, spec)
		return
	}
	s.doc.Project.OptionalDependencies[group] = replaceRequirement(s.doc.Project.OptionalDependencies[group], name, spec)
}

// AddFromRequirements replaces an optional group's contents with the parsed
// lines of a requirements.txt scan.
func (s *Store) AddFromRequirements(group string, specs []string) {
	cleaned := make([]string, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		cleaned = append(cleaned, spec)
	}
	sort.Strings(cleaned)
	s.doc.Project.OptionalDependencies[group] = cleaned
}

// RemoveDependency removes a requirement by distribution name.
func (s *Store) RemoveDependency(name, group string) {
	name = RequirementName(name)
	if group == "" {
		s.doc.Project.Dependencies = removeRequirement(s.doc.Project.Dependencies, name)
		return
	}
	if deps, ok := s.doc.Project.OptionalDependencies[group]; ok {
		s.doc.Project.OptionalDependencies[group] = removeRequirement(deps, name)
	}
}

// RemoveGroup deletes an entire optional-dependency group.
func (s *Store) RemoveGroup(group string) {
	delete(s.doc.Project.OptionalDependencies, group)
}

// MainDependencies returns the main dependency list.
func (s *Store) MainDependencies() []string {
	return append([]string(nil), s.doc.Project.Dependencies...)
}

// AllDependencies returns main plus every optional group, keyed by group
// ("" for main).
func (s *Store) AllDependencies() map[string][]string {
	out := map[string][]string{"": s.MainDependencies()}
	for group, deps := range s.doc.Project.OptionalDependencies {
		out[group] = append([]string(nil), deps...)
	}
	return out
}

// DependencyGroups returns the optional group names in sorted order.
func (s *Store) DependencyGroups() []string {
	groups := make([]string, 0, len(s.doc.Project.OptionalDependencies))
	for g := range s.doc.Project.OptionalDependencies {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Constraints ([tool.uv.constraint-dependencies])

// AddConstraint records a global version constraint; adding a constraint for
// an already-constrained package replaces it.
func (s *Store) AddConstraint(spec string) {
	name := RequirementName(spec)
	s.doc.Tool.UV.ConstraintDependencies = replaceRequirement(s.doc.Tool.UV.ConstraintDependencies, name, spec)
}

// RemoveConstraint drops a constraint by package name. The constrained
// package is not uninstalled; a later sync may pick a newer version.
func (s *Store) RemoveConstraint(name string) {
	s.doc.Tool.UV.ConstraintDependencies = removeRequirement(s.doc.Tool.UV.ConstraintDependencies, RequirementName(name))
}

// ListConstraints returns the constraint specs.
func (s *Store) ListConstraints() []string {
	return append([]string(nil), s.doc.Tool.UV.ConstraintDependencies...)
}

func replaceRequirement(list []string, name, spec string) []string {
	out := make([]string, 0, len(list)+1)
	for _, existing := range list {
		if RequirementName(existing) == name {
			continue
		}
		out = append(out, existing)
	}
	out = append(out, spec)
	sort.Strings(out)
	return out
}

func removeRequirement(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, existing := range list {
		if RequirementName(existing) == name {
			continue
		}
		out = append(out, existing)
	}
	return out
}
