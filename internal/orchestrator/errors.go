package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrJobCreationFailed reports a rejected job data upload. It aborts the
	// whole run.
	ErrJobCreationFailed = errors.New("job creation failed")

	// ErrPollTimeout reports a job that did not reach a terminal state
	// within the poller's attempt budget. It aborts the whole run.
	ErrPollTimeout = errors.New("job did not finish in time")

	// ErrJobTerminatedWithFailure classifies a job that ended Failed or
	// Aborted. It is recorded on the entity's outcome and never aborts the
	// run.
	ErrJobTerminatedWithFailure = errors.New("job terminated with failure")

	// ErrNotPrepared is returned for an entity whose snapshot lacks the
	// query or upsert configuration the stage needs.
	ErrNotPrepared = errors.New("entity is not prepared")
)

// UploadError is returned when the platform answers a job data upload with
// anything but 201 Created.
type UploadError struct {
	Entity     string
	JobID      string
	StatusCode int
	Status     string
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s (job %s) failed with status: %s: %s", e.Entity, e.JobID, e.Status, e.Body)
}

// Unwrap makes errors.Is(err, ErrJobCreationFailed) hold.
func (e *UploadError) Unwrap() error {
	return ErrJobCreationFailed
}
