package downloader

import (
	"errors"
	"fmt"
)

// TransferError is the terminal failure of one artifact after all attempts.
type TransferError struct {
	Filename   string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s failed after %d attempt(s): %v", e.Filename, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// statusError is an unexpected HTTP status from a transfer endpoint.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected response %s", e.status)
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func statusCodeOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// message is the text recorded in the manifest for a failed artifact.
func message(err error) string {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Err.Error()
	}
	return err.Error()
}
