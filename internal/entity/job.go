package entity

// JobState is the lifecycle state of a bulk job on the platform.
type JobState string

const (
	StateOpen           JobState = "Open"
	StateUploadComplete JobState = "UploadComplete"
	StateInProgress     JobState = "InProgress"
	StateJobComplete    JobState = "JobComplete"
	StateFailed         JobState = "Failed"
	StateAborted        JobState = "Aborted"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateJobComplete, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// JobKind distinguishes ingest jobs from query jobs.
type JobKind string

const (
	KindIngest JobKind = "ingest"
	KindQuery  JobKind = "query"
)

// JobStatus is the job information returned by the platform. The snapshot of
// the terminal status is kept on the Entity; the job itself is discarded.
type JobStatus struct {
	ID                     string   `json:"id"`
	Object                 string   `json:"object,omitempty"`
	Operation              string   `json:"operation,omitempty"`
	State                  JobState `json:"state"`
	ExternalIDFieldName    string   `json:"externalIdFieldName,omitempty"`
	NumberRecordsProcessed int64    `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int64    `json:"numberRecordsFailed"`
	ErrorMessage           string   `json:"errorMessage,omitempty"`
}

// Finished reports whether the status is non-nil and terminal.
func (j *JobStatus) Finished() bool {
	return j != nil && j.State.IsTerminal()
}
