package unpack

import (
	"slices"
	"strings"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

const (
	scienceGoalComponent = "science_goal.uid___"
	groupComponent       = "group.uid___"
	memberComponent      = "member.uid___"
)

// memberParts splits a tar member name into its non-empty path components.
func memberParts(name string) []string {
	raw := strings.Split(name, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" || p == "." {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

func isUnitLayout(parts []string) bool {
	return strings.HasPrefix(parts[0], scienceGoalComponent) &&
		strings.HasPrefix(parts[1], groupComponent) &&
		strings.HasPrefix(parts[2], memberComponent)
}

// unitPrefixOf returns the science_goal/group/member prefix of one member,
// with its leading project component when present.
func unitPrefixOf(parts []string) []string {
	if len(parts) >= 5 && isUnitLayout(parts[1:4]) {
		return parts[:4]
	}
	if len(parts) >= 4 && isUnitLayout(parts[:3]) {
		return parts[:3]
	}
	return nil
}

// detectUnitPrefix finds the standard unit layout prefix shared by every
// member that carries one. Differing prefixes yield nil.
func detectUnitPrefix(names []string) []string {
	var detected []string
	for _, name := range names {
		candidate := unitPrefixOf(memberParts(name))
		if candidate == nil {
			continue
		}
		if detected == nil {
			detected = candidate
			continue
		}
		if !slices.Equal(detected, candidate) {
			return nil
		}
	}
	return detected
}

// detectParentPrefix strips a single top-level directory named like the
// extraction target itself.
func detectParentPrefix(names []string, parentName string) []string {
	top := ""
	for _, name := range names {
		parts := memberParts(name)
		if len(parts) < 2 {
			continue
		}
		if top == "" {
			top = parts[0]
			continue
		}
		if parts[0] != top {
			return nil
		}
	}
	if top != "" && top == parentName {
		return []string{top}
	}
	return nil
}

// stripParts removes prefix from parts. ok is false when parts is the
// prefix itself or one of its ancestors, which are not extracted.
func stripParts(parts, prefix []string) (rest []string, ok bool) {
	n := len(prefix)
	if n == 0 {
		return parts, len(parts) > 0
	}
	if len(parts) <= n && slices.Equal(parts, prefix[:len(parts)]) {
		return nil, false
	}
	if len(parts) > n && slices.Equal(parts[:n], prefix) {
		return parts[n:], true
	}
	return parts, len(parts) > 0
}

// prefixUIDs parses the science goal, group and member UIDs out of a unit prefix.
func prefixUIDs(prefix []string) (scienceGoal, group, member string) {
	if len(prefix) == 4 {
		prefix = prefix[1:]
	}
	if len(prefix) != 3 {
		return "", "", ""
	}
	return uidFromComponent(prefix[0], "science_goal"),
		uidFromComponent(prefix[1], "group"),
		uidFromComponent(prefix[2], "member")
}

func uidFromComponent(component, label string) string {
	suffix, ok := strings.CutPrefix(component, label+".")
	if !ok {
		return ""
	}
	return mous.UIDFromPathSegment(suffix)
}

// backfillUIDs fills unset or placeholder identifiers from a stripped prefix.
func backfillUIDs(m *mous.Manifest, prefix []string) {
	sg, group, member := prefixUIDs(prefix)
	if sg != "" && mous.IsUnknownUID(m.ScienceGoalUID) {
		m.ScienceGoalUID = sg
	}
	if group != "" && mous.IsUnknownUID(m.GroupOUSUID) {
		m.GroupOUSUID = group
	}
	if member != "" && mous.IsUnknownUID(m.MousUID) {
		m.MousUID = member
	}
}
