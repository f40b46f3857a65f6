package store

// Store persists fit runs.
//
// Error conventions:
//   - ErrNotFound (via errors.Is) when a run does not exist (Load/Delete)
//   - wrapped I/O and serialization errors otherwise
type Store interface {
	// SaveRun atomically writes the record for runID, replacing an
	// existing one. A crash mid-write leaves the previous record intact.
	SaveRun(runID string, record *RunRecord) error

	// LoadRun returns the record for runID.
	LoadRun(runID string) (*RunRecord, error)

	// ListRuns returns metadata for every readable run. Unreadable
	// records are skipped with a warning.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run directory, including its trace.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
