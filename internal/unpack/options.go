package unpack

import "github.com/JakeFAU/alma-bulk/internal/mous"

// DefaultRecursivePatterns target nested auxiliary, calibration table,
// weblog and readme bundles. Flag-version bundles are deliberately absent.
var DefaultRecursivePatterns = []string{
	"*.auxproducts.tgz",
	"*.auxproducts.tar.gz",
	"*.auxproducts.tar",
	"*.caltables.tgz",
	"*.caltables.tar.gz",
	"*.caltables.tar",
	"*weblog*.tgz",
	"*weblog*.tar.gz",
	"*weblog*.tar",
	"*readme*.tgz",
	"*readme*.tar.gz",
	"*readme*.tar",
}

// Options is the unpack policy.
type Options struct {
	UnpackAuxiliary           bool
	UnpackReadmeArchives      bool
	UnpackWeblogArchives      bool
	UnpackOtherArchives       bool
	RemoveArchivesAfterUnpack bool

	RecursiveEnabled bool
	// RecursivePatterns nil means DefaultRecursivePatterns; an empty slice disables matching.
	RecursivePatterns  []string
	RecursiveMaxPasses int
}

// DefaultOptions unpacks auxiliary, readme and weblog archives, removes them
// afterwards and runs up to three recursive passes.
func DefaultOptions() Options {
	return Options{
		UnpackAuxiliary:           true,
		UnpackReadmeArchives:      true,
		UnpackWeblogArchives:      true,
		RemoveArchivesAfterUnpack: true,
		RecursiveEnabled:          true,
		RecursiveMaxPasses:        3,
	}
}

func (o Options) patterns() []string {
	if o.RecursivePatterns == nil {
		return append([]string(nil), DefaultRecursivePatterns...)
	}
	return append([]string{}, o.RecursivePatterns...)
}

// allows reports whether the policy unpacks archives of kind.
func (o Options) allows(kind mous.Kind) bool {
	switch kind {
	case mous.KindAuxiliary:
		return o.UnpackAuxiliary
	case mous.KindReadme:
		return o.UnpackReadmeArchives
	case mous.KindWeblog:
		return o.UnpackWeblogArchives
	default:
		return o.UnpackOtherArchives
	}
}
