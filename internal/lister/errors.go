package lister

import "fmt"

// RemoteServiceError reports a failed listing request: a transport failure,
// a non-2xx response or a payload that could not be parsed.
type RemoteServiceError struct {
	UnitID     string
	StatusCode int
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("listing %s: status %d: %v", e.UnitID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("listing %s: %v", e.UnitID, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}
