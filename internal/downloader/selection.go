package downloader

import (
	"slices"
	"strings"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// DefaultKinds is the selection used when a spec is empty or says "default".
var DefaultKinds = []mous.Kind{
	mous.KindCalibration,
	mous.KindScripts,
	mous.KindWeblog,
	mous.KindQAReports,
	mous.KindAuxiliary,
	mous.KindReadme,
	mous.KindCalibrationProducts,
}

// AllNonImageKinds is the "all-nonimage" selection.
var AllNonImageKinds = []mous.Kind{
	mous.KindCalibration,
	mous.KindScripts,
	mous.KindWeblog,
	mous.KindQAReports,
	mous.KindAuxiliary,
	mous.KindReadme,
	mous.KindRaw,
	mous.KindOther,
}

// Selection is a set of artifact kinds to acquire.
type Selection map[mous.Kind]struct{}

// ParseSelection resolves a comma-separated kind spec. "default" and
// "all-nonimage" expand to their sets, "+kind" and "-kind" add and remove
// in order, and a bare token adds its kind. An empty result falls back to
// DefaultKinds.
func ParseSelection(spec string) Selection {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "default"
	}
	sel := Selection{}
	for _, raw := range strings.Split(spec, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		kind := mous.NormalizeKind(strings.TrimLeft(token, "+-"))
		switch {
		case token == "default":
			sel.add(DefaultKinds...)
		case token == "all-nonimage":
			sel.add(AllNonImageKinds...)
		case strings.HasPrefix(token, "+"):
			sel.add(kind)
		case strings.HasPrefix(token, "-"):
			delete(sel, kind)
		default:
			sel.add(kind)
		}
	}
	if len(sel) == 0 {
		sel.add(DefaultKinds...)
	}
	return sel
}

func (s Selection) add(kinds ...mous.Kind) {
	for _, k := range kinds {
		s[k] = struct{}{}
	}
}

// Has reports whether kind is selected.
func (s Selection) Has(kind mous.Kind) bool {
	_, ok := s[mous.NormalizeKind(string(kind))]
	return ok
}

// Sorted returns the selected kinds in lexical order.
func (s Selection) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, string(k))
	}
	slices.Sort(out)
	return out
}
