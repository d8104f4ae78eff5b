// Package layout maps unit identifiers to directories under the destination
// root and discovers unit directories that already exist.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// Placeholders used when a record lacks an identifier.
const (
	FallbackProject     = "unknown_project"
	FallbackScienceGoal = "science_goal.uid___unknown"
	FallbackGroup       = "group.uid___unknown"

	DeliveredDir = "delivered"
	RunDir       = "run1"
)

// Paths are the well-known locations inside one unit directory.
type Paths struct {
	UnitDir   string
	Delivered string
	Run1      string
	Manifest  string
	Summary   string
}

// ForDir returns the Paths rooted at an existing unit directory.
func ForDir(dir string) Paths {
	return Paths{
		UnitDir:   dir,
		Delivered: filepath.Join(dir, DeliveredDir),
		Run1:      filepath.Join(dir, RunDir),
		Manifest:  filepath.Join(dir, mous.ManifestFilename),
		Summary:   filepath.Join(dir, mous.SummaryFilename),
	}
}

func projectSegment(code string) string {
	p := strings.TrimSpace(code)
	if p == "" {
		return FallbackProject
	}
	return strings.ReplaceAll(p, "/", "_")
}

func legacyDir(root string, rec mous.Record) string {
	science := "science_goal_unknown"
	if rec.ScienceGoalUID != "" {
		science = "science_goal_" + mous.UIDToPathSegment(rec.ScienceGoalUID)
	}
	group := "group_obs_unit_set_unknown"
	if rec.GroupOUSUID != "" {
		group = "group_obs_unit_set_" + mous.UIDToPathSegment(rec.GroupOUSUID)
	}
	seg := strings.Replace(mous.UIDToPathSegment(rec.MemberOUSUID), "uid___", "", 1)
	return filepath.Join(root, science, group, "member.uid___"+seg)
}

// PreferredDir is <root>/<project>/science_goal.<uid>/group.<uid>/member.<uid>.
func PreferredDir(root string, rec mous.Record) string {
	science := FallbackScienceGoal
	if rec.ScienceGoalUID != "" {
		science = "science_goal." + mous.UIDToPathSegment(rec.ScienceGoalUID)
	}
	group := FallbackGroup
	if rec.GroupOUSUID != "" {
		group = "group." + mous.UIDToPathSegment(rec.GroupOUSUID)
	}
	member := "member." + mous.UIDToPathSegment(rec.MemberOUSUID)
	return filepath.Join(root, projectSegment(rec.ProjectCode), science, group, member)
}

// UnitDir resolves where a unit lives. An existing legacy directory wins, then
// an existing preferred directory, then the first existing
// <project>/*/*/member.<uid> directory in sort order, and finally the
// preferred path.
func UnitDir(root string, rec mous.Record) (string, error) {
	if rec.MemberOUSUID == "" {
		return "", errors.New("resolve unit dir: member UID is empty")
	}
	if legacy := legacyDir(root, rec); isDir(legacy) {
		return legacy, nil
	}
	preferred := PreferredDir(root, rec)
	if isDir(preferred) {
		return preferred, nil
	}
	projectRoot := filepath.Join(root, projectSegment(rec.ProjectCode))
	if !isDir(projectRoot) {
		return preferred, nil
	}
	member := "member." + mous.UIDToPathSegment(rec.MemberOUSUID)
	dirs, err := doublestar.Glob(os.DirFS(projectRoot), "*/*/"+member, doublestar.WithFailOnIOErrors())
	if err != nil {
		return "", fmt.Errorf("search %s for %s: %w", projectRoot, member, err)
	}
	sort.Strings(dirs)
	for _, rel := range dirs {
		candidate := filepath.Join(projectRoot, filepath.FromSlash(rel))
		if isDir(candidate) {
			return candidate, nil
		}
	}
	return preferred, nil
}

// Ensure resolves the unit directory and creates its delivered and run
// subdirectories.
func Ensure(root string, rec mous.Record) (Paths, error) {
	dir, err := UnitDir(root, rec)
	if err != nil {
		return Paths{}, err
	}
	p := ForDir(dir)
	if err := EnsureDirs(p); err != nil {
		return Paths{}, err
	}
	return p, nil
}

// EnsureDirs creates the delivered and run subdirectories of p.
func EnsureDirs(p Paths) error {
	for _, dir := range []string{p.Delivered, p.Run1} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// FindUnitDirs returns every directory under root that is named like a unit
// (member.uid___* or member_uid___*) or holds a manifest or summary. The
// result is sorted and free of duplicates.
func FindUnitDirs(root string) ([]string, error) {
	seen := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "member.uid___") || strings.HasPrefix(name, "member_uid___") ||
			isFile(filepath.Join(path, mous.ManifestFilename)) || isFile(filepath.Join(path, mous.SummaryFilename)) {
			seen[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	out := make([]string, 0, len(seen))
	for dir := range seen {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
