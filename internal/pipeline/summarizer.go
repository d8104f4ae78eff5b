package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/JakeFAU/alma-bulk/internal/layout"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// FileSummarizer reads the summary document an external summarizer left in
// the unit directory.
type FileSummarizer struct{}

// Summarize loads paths.Summary. A missing file yields a nil summary.
func (FileSummarizer) Summarize(_ context.Context, paths layout.Paths, _ *mous.Manifest) (*mous.Summary, error) {
	sum, err := mous.LoadSummary(paths.Summary)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sum.SummaryPath == "" {
		sum.SummaryPath = paths.Summary
	}
	return sum, nil
}
