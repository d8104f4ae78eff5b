package unpack

import (
	"os"
	"path/filepath"
	"time"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

const reasonOlderVersion = "older archive version for same kind"

type candidate struct {
	index int
	kind  mous.Kind
	path  string
	size  int64
	mtime time.Time
}

func (c candidate) ref(m *mous.Manifest) mous.ArchiveRef {
	return mous.ArchiveRef{Kind: c.kind, Filename: m.Artifacts[c.index].Filename, LocalPath: c.path}
}

// artifactPath locates an artifact's archive on disk: its recorded path, or
// its filename under the delivered directory when the tree has moved.
func artifactPath(a mous.Artifact, deliveredDir string) string {
	if a.LocalPath != "" && isFile(a.LocalPath) {
		return a.LocalPath
	}
	if a.Filename != "" && filepath.IsLocal(a.Filename) {
		if p := filepath.Join(deliveredDir, a.Filename); isFile(p) {
			return p
		}
	}
	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// selectArchives picks the locally present archives the policy allows and
// keeps only the most recently modified one per kind. Kinds are visited in
// order of first appearance.
func selectArchives(m *mous.Manifest, deliveredDir string, opts Options) ([]candidate, []mous.SkippedArchive) {
	var order []mous.Kind
	groups := map[mous.Kind][]candidate{}
	for i, a := range m.Artifacts {
		path := artifactPath(a, deliveredDir)
		if path == "" || !isArchive(path) {
			continue
		}
		kind := mous.NormalizeKind(string(a.Kind))
		if kind == "" {
			kind = mous.KindOther
		}
		if !opts.allows(kind) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if _, seen := groups[kind]; !seen {
			order = append(order, kind)
		}
		groups[kind] = append(groups[kind], candidate{
			index: i,
			kind:  kind,
			path:  path,
			size:  info.Size(),
			mtime: info.ModTime(),
		})
	}

	var selected []candidate
	skipped := []mous.SkippedArchive{}
	for _, kind := range order {
		group := groups[kind]
		newest := 0
		for i := range group {
			if group[i].mtime.After(group[newest].mtime) {
				newest = i
			}
		}
		selected = append(selected, group[newest])
		for i, c := range group {
			if i == newest {
				continue
			}
			skipped = append(skipped, mous.SkippedArchive{ArchiveRef: c.ref(m), Reason: reasonOlderVersion})
		}
	}
	return selected, skipped
}
