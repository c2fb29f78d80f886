package archive

import "errors"

// Error taxonomy for the sync pipeline. Drivers attach one of these to the
// underlying cause with %w so callers can branch with errors.Is.
var (
	// ErrNavigation is a transient fault while moving the cursor.
	ErrNavigation = errors.New("navigation failed")
	// ErrEndOfSequence means there is no further record. It is not a failure.
	ErrEndOfSequence = errors.New("end of sequence")
	// ErrExtraction means the detail view could not be read at all.
	ErrExtraction = errors.New("extraction failed")
	// ErrDownload covers timeouts, a missing trigger and invalid payloads.
	ErrDownload = errors.New("download failed")
	// ErrDuplicate is a normal skip outcome.
	ErrDuplicate = errors.New("duplicate record")
	// ErrCommit is an upload or catalog write failure for one record.
	ErrCommit = errors.New("commit failed")
	// ErrFatalConnectivity aborts the run.
	ErrFatalConnectivity = errors.New("catalog or object store unreachable")
)

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalConnectivity)
}
