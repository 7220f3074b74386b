package orchestrator

import (
	"context"

	"github.com/vk/orgmigrate/internal/analysis"
	"github.com/vk/orgmigrate/internal/bulkapi"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
	"github.com/vk/orgmigrate/internal/metrics"
)

// JobClient is the part of the platform API the job lifecycles use.
type JobClient interface {
	Alias() string
	CreateIngestJob(ctx context.Context, cfg *entity.UpsertConfig) (*entity.JobStatus, error)
	UploadJobData(ctx context.Context, jobID string, csv []byte) (*bulkapi.UploadResult, error)
	CloseIngestJob(ctx context.Context, jobID string) (*entity.JobStatus, error)
	JobStatus(ctx context.Context, kind entity.JobKind, jobID string) (*entity.JobStatus, error)
	SuccessfulResults(ctx context.Context, jobID string) ([]byte, error)
	FailedResults(ctx context.Context, jobID string) ([]byte, error)
	CreateQueryJob(ctx context.Context, query string) (*entity.JobStatus, error)
	QueryResults(ctx context.Context, jobID, locator string) (*bulkapi.Page, error)
}

var _ JobClient = (*bulkapi.Client)(nil)

// ResultCollector receives every entity whose ingest job completed.
type ResultCollector interface {
	Collect(ctx context.Context, e *entity.Entity) (*analysis.Report, error)
}

// Override holds the per-entity settings that replace derived ones.
type Override struct {
	Query           string
	ExternalIDField string
}

// RunContext is everything a stage needs, passed explicitly to each call.
type RunContext struct {
	Store entitystore.Store

	// Source is queried by the query stage.
	Source JobClient
	// Target receives the ingest jobs of the load stage.
	Target JobClient

	DefaultExternalID string
	Overrides         map[string]Override

	// Resume skips entities whose snapshot shows the stage already ran:
	// a terminal job status for load, a successful retrieval for query.
	Resume bool

	Poller    *Poller
	Collector ResultCollector
	Metrics   *metrics.Metrics
}

// Outcome is what happened to one entity during a stage.
type Outcome struct {
	Entity  string
	Kind    entity.JobKind
	JobID   string
	State   entity.JobState
	Skipped bool

	RecordsProcessed int64
	RecordsFailed    int64

	// Err is set for non-fatal problems: a job ending Failed or Aborted, or
	// a result collection failure.
	Err    error
	Report *analysis.Report
}

// Summary collects the outcomes of one stage in processing order.
type Summary struct {
	Outcomes []Outcome
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
}
