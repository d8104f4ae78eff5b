package index

import (
	"errors"
	"fmt"
)

// ErrMissingKey is returned by Upsert when neither the summary nor the
// manifest names a unit.
var ErrMissingKey = errors.New("missing mous_uid for upsert")

// MergeSourceError is a shard store or summary file that could not be merged.
type MergeSourceError struct {
	Path string
	Err  error
}

func (e *MergeSourceError) Error() string {
	return fmt.Sprintf("merge source %s: %v", e.Path, e.Err)
}

func (e *MergeSourceError) Unwrap() error {
	return e.Err
}
