package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
)

// Load upserts the given entities into the target environment, one at a time
// and in order. The first fatal error stops the run; the returned summary
// still lists every entity handled before it.
func Load(ctx context.Context, rc *RunContext, names []string) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Loading entities into target.", "env", rc.Target.Alias(), "count", len(names))

	summary := &Summary{}
	for _, name := range names {
		outcome, err := ingestEntity(ctx, rc, name)
		summary.add(outcome)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func ingestEntity(ctx context.Context, rc *RunContext, name string) (Outcome, error) {
	ctx, logger := ctxlog.With(ctx, "entity", name, "kind", entity.KindIngest)
	outcome := Outcome{Entity: name, Kind: entity.KindIngest}
	start := rc.Poller.Clock.Now()

	e, err := rc.Store.LoadEntity(ctx, name)
	if err != nil {
		return outcome, err
	}
	if rc.Resume && e.JobStatus.Finished() {
		logger.Info("Skipping entity, ingest already finished.", "state", e.JobStatus.State)
		outcome.Skipped = true
		outcome.State = e.JobStatus.State
		return outcome, nil
	}
	if e.UpsertConfig == nil {
		return outcome, fmt.Errorf("load %s: no upsert configuration: %w", name, ErrNotPrepared)
	}

	payload, err := rc.Store.ReadData(ctx, name, entitystore.FileSource)
	if err != nil {
		return outcome, fmt.Errorf("load %s: %w", name, err)
	}

	job, err := rc.Target.CreateIngestJob(ctx, e.UpsertConfig)
	if err != nil {
		return outcome, fmt.Errorf("create ingest job for %s: %w", name, err)
	}
	outcome.JobID = job.ID
	ctx, logger = ctxlog.With(ctx, "job_id", job.ID)
	logger.Info("Ingest job created.", "external_id", e.UpsertConfig.ExternalIDFieldName)

	upload, err := rc.Target.UploadJobData(ctx, job.ID, payload)
	if err != nil {
		return outcome, fmt.Errorf("upload data of %s: %w", name, err)
	}
	if upload.StatusCode != http.StatusCreated {
		return outcome, &UploadError{
			Entity:     name,
			JobID:      job.ID,
			StatusCode: upload.StatusCode,
			Status:     upload.Status,
			Body:       upload.Body,
		}
	}

	if _, err := rc.Target.CloseIngestJob(ctx, job.ID); err != nil {
		return outcome, fmt.Errorf("close ingest job of %s: %w", name, err)
	}

	status, err := rc.Poller.Wait(ctx, entity.KindIngest, job.ID, func(ctx context.Context) (*entity.JobStatus, error) {
		return rc.Target.JobStatus(ctx, entity.KindIngest, job.ID)
	})
	if err != nil {
		if status != nil {
			e.JobStatus = status
			outcome.State = status.State
			if saveErr := rc.Store.SaveEntity(ctx, e); saveErr != nil {
				return outcome, errors.Join(err, saveErr)
			}
		}
		return outcome, err
	}

	e.JobStatus = status
	outcome.State = status.State
	outcome.RecordsProcessed = status.NumberRecordsProcessed
	outcome.RecordsFailed = status.NumberRecordsFailed
	defer func() { rc.Metrics.JobFinished(entity.KindIngest, status, rc.Poller.Clock.Since(start)) }()

	if status.State != entity.StateJobComplete {
		outcome.Err = fmt.Errorf("%w: %s ended %s: %s", ErrJobTerminatedWithFailure, name, status.State, status.ErrorMessage)
		logger.Warn("Ingest job did not complete.", "state", status.State, "error", status.ErrorMessage)
		return outcome, rc.Store.SaveEntity(ctx, e)
	}

	if err := collectIngestResults(ctx, rc, e, job.ID); err != nil {
		return outcome, err
	}
	if status.NumberRecordsFailed > 0 {
		logger.Warn("Some records were rejected.", "failed", status.NumberRecordsFailed, "processed", status.NumberRecordsProcessed)
	} else {
		logger.Info("Ingest job complete.", "processed", status.NumberRecordsProcessed)
	}

	if rc.Collector != nil {
		report, err := rc.Collector.Collect(ctx, e)
		if err != nil {
			logger.Error("Result analysis failed.", "error", err)
			outcome.Err = err
		}
		outcome.Report = report
	}
	return outcome, nil
}

// collectIngestResults fetches both result sets while the terminal snapshot
// is persisted, then writes the result files.
func collectIngestResults(ctx context.Context, rc *RunContext, e *entity.Entity, jobID string) error {
	var success, failed []byte

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		success, err = rc.Target.SuccessfulResults(gctx, jobID)
		return err
	})
	g.Go(func() error {
		var err error
		failed, err = rc.Target.FailedResults(gctx, jobID)
		return err
	})
	g.Go(func() error {
		return rc.Store.SaveEntity(gctx, e)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("collect results of %s: %w", e.Name, err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		return rc.Store.WriteData(gctx, e.Name, entitystore.FileSuccess, success)
	})
	g.Go(func() error {
		return rc.Store.WriteData(gctx, e.Name, entitystore.FileErrors, failed)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("write results of %s: %w", e.Name, err)
	}
	return nil
}
