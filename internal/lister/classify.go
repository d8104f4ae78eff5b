package lister

import (
	"strings"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// classifyRule maps a lower-cased filename and semantics string to a kind.
type classifyRule struct {
	kind  mous.Kind
	match func(name, semantics string) bool
}

// classifyRules is evaluated in order; the first match wins. Several
// markers overlap (a weblog README, a QA report inside an auxiliary
// bundle), so the order decides precedence and must not change.
var classifyRules = []classifyRule{
	{mous.KindReadme, func(n, s string) bool {
		return strings.Contains(n, "readme") || strings.Contains(s, "readme") || strings.Contains(s, "documentation")
	}},
	{mous.KindWeblog, func(n, s string) bool {
		return strings.Contains(n, "weblog") || strings.Contains(s, "weblog")
	}},
	{mous.KindQAReports, func(n, s string) bool {
		return strings.Contains(n, "qa0_report") ||
			strings.Contains(n, "qa2_report") ||
			strings.Contains(n, "qa/") ||
			strings.Contains(s, "/qa/") ||
			strings.Contains(s, "#qa") ||
			strings.Contains(s, "qa2") ||
			strings.Contains(n, "aquareport")
	}},
	{mous.KindAuxiliary, func(n, s string) bool {
		return strings.Contains(n, "auxiliary") || strings.Contains(s, "auxiliary") || strings.Contains(n, "auxproducts")
	}},
	{mous.KindScripts, func(n, s string) bool {
		return strings.Contains(n, "scriptforpi") || strings.Contains(s, "script")
	}},
	{mous.KindCalibration, func(n, s string) bool {
		return strings.Contains(n, "calibration") || strings.HasSuffix(n, ".cal") || strings.Contains(s, "calibration")
	}},
	{mous.KindCalibrationProducts, func(n, s string) bool {
		return strings.Contains(n, "calimage") || strings.Contains(s, "calimage")
	}},
	{mous.KindCubes, func(n, _ string) bool { return strings.Contains(n, "cube") }},
	{mous.KindContinuumImages, func(n, _ string) bool { return strings.Contains(n, "cont") }},
	{mous.KindADMIT, func(n, _ string) bool { return strings.Contains(n, "admit") }},
	{mous.KindContinuumImages, func(n, _ string) bool { return strings.Contains(n, "image") }},
	{mous.KindRaw, func(n, _ string) bool { return strings.Contains(n, "asdm") || strings.Contains(n, "raw") }},
}

// Classify assigns a kind to an artifact from its filename and semantics.
// When no rule matches, a non-empty hint is used, else KindOther.
func Classify(hint, semantics, filename string) mous.Kind {
	name := strings.ToLower(filename)
	sem := strings.ToLower(semantics)
	for _, rule := range classifyRules {
		if rule.match(name, sem) {
			return rule.kind
		}
	}
	if k := mous.NormalizeKind(hint); k != "" {
		return k
	}
	return mous.KindOther
}
