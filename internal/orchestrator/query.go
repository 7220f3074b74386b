package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
)

// Query extracts the given entities from the source environment, one at a
// time and in order, into their source data files.
func Query(ctx context.Context, rc *RunContext, names []string) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Querying entities from source.", "env", rc.Source.Alias(), "count", len(names))

	summary := &Summary{}
	for _, name := range names {
		outcome, err := queryEntity(ctx, rc, name)
		summary.add(outcome)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func queryEntity(ctx context.Context, rc *RunContext, name string) (Outcome, error) {
	ctx, logger := ctxlog.With(ctx, "entity", name, "kind", entity.KindQuery)
	outcome := Outcome{Entity: name, Kind: entity.KindQuery}
	start := rc.Poller.Clock.Now()

	e, err := rc.Store.LoadEntity(ctx, name)
	if err != nil {
		return outcome, err
	}
	if rc.Resume && e.RetrieveSuccessfully {
		logger.Info("Skipping entity, records already retrieved.")
		outcome.Skipped = true
		outcome.State = entity.StateJobComplete
		return outcome, nil
	}
	if e.Query == "" {
		return outcome, fmt.Errorf("query %s: no query: %w", name, ErrNotPrepared)
	}

	job, err := rc.Source.CreateQueryJob(ctx, e.Query)
	if err != nil {
		return outcome, fmt.Errorf("create query job for %s: %w", name, err)
	}
	outcome.JobID = job.ID
	ctx, logger = ctxlog.With(ctx, "job_id", job.ID)
	logger.Info("Query job created.")

	status, err := rc.Poller.Wait(ctx, entity.KindQuery, job.ID, func(ctx context.Context) (*entity.JobStatus, error) {
		return rc.Source.JobStatus(ctx, entity.KindQuery, job.ID)
	})
	if err != nil {
		return outcome, err
	}
	outcome.State = status.State
	defer func() { rc.Metrics.JobFinished(entity.KindQuery, status, rc.Poller.Clock.Since(start)) }()

	if status.State != entity.StateJobComplete {
		outcome.Err = fmt.Errorf("%w: %s ended %s: %s", ErrJobTerminatedWithFailure, name, status.State, status.ErrorMessage)
		logger.Warn("Query job did not complete.", "state", status.State, "error", status.ErrorMessage)
		e.RetrieveSuccessfully = false
		return outcome, rc.Store.SaveEntity(ctx, e)
	}

	pages, err := fetchPages(ctx, rc, name, job.ID)
	if err != nil {
		return outcome, err
	}

	e.RetrieveSuccessfully = true
	if err := rc.Store.SaveEntity(ctx, e); err != nil {
		return outcome, err
	}
	logger.Info("Records retrieved.", "pages", pages)
	return outcome, nil
}

// fetchPages writes the first results page as is and appends every following
// page without its header line, until a page carries no locator.
func fetchPages(ctx context.Context, rc *RunContext, name, jobID string) (int, error) {
	page, err := rc.Source.QueryResults(ctx, jobID, "")
	if err != nil {
		return 0, fmt.Errorf("fetch results of %s: %w", name, err)
	}
	if err := rc.Store.WriteData(ctx, name, entitystore.FileSource, []byte(terminateLine(string(page.Body)))); err != nil {
		return 0, err
	}

	pages := 1
	for page.Locator != "" {
		page, err = rc.Source.QueryResults(ctx, jobID, page.Locator)
		if err != nil {
			return pages, fmt.Errorf("fetch results of %s: %w", name, err)
		}
		pages++
		body := terminateLine(removeFirstLine(string(page.Body)))
		if err := rc.Store.AppendData(ctx, name, entitystore.FileSource, []byte(body)); err != nil {
			return pages, err
		}
	}
	return pages, nil
}

// removeFirstLine drops the header of a CSV page. A page holding at most one
// line yields nothing.
func removeFirstLine(csv string) string {
	lines := strings.Split(csv, "\n")
	if len(lines) <= 1 {
		return ""
	}
	return strings.Join(lines[1:], "\n")
}

func terminateLine(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
