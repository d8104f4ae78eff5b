package unpack

import "fmt"

// ExtractionError is a failed extraction of one archive.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// UnsafePathError is an archive member that would land outside the target
// directory. Nothing from that archive is written.
type UnsafePathError struct {
	Member string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe tar member path: %s", e.Member)
}
