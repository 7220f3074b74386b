package bulkapi

import (
	"context"
	"net/http"
	"strconv"

	"resty.dev/v3"

	"github.com/vk/orgmigrate/internal/entity"
)

const (
	// LocatorHeader carries the cursor for the next page of query results.
	LocatorHeader = "Sforce-Locator"
	// PageSize is the number of records requested per results page.
	PageSize = 50000
)

// UploadResult is the raw outcome of a job data upload. Callers decide what
// status counts as success.
type UploadResult struct {
	StatusCode int
	Status     string
	Body       string
}

// Page is one page of query results.
type Page struct {
	Body []byte
	// Locator is empty on the last page.
	Locator string
}

// CreateIngestJob opens an ingest job with the given configuration.
func (c *Client) CreateIngestJob(ctx context.Context, cfg *entity.UpsertConfig) (*entity.JobStatus, error) {
	var status entity.JobStatus
	if err := c.callJSON(ctx, http.MethodPost, "/jobs/ingest", cfg, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UploadJobData uploads the CSV payload of an open ingest job.
func (c *Client) UploadJobData(ctx context.Context, jobID string, csv []byte) (*UploadResult, error) {
	resp, err := c.send(ctx, http.MethodPut, "/jobs/ingest/"+jobID+"/batches", func(r *resty.Request) {
		r.SetHeader("Content-Type", "text/csv").SetBody(csv)
	})
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       resp.String(),
	}, nil
}

// CloseIngestJob marks the upload as complete so the platform starts
// processing the job.
func (c *Client) CloseIngestJob(ctx context.Context, jobID string) (*entity.JobStatus, error) {
	var status entity.JobStatus
	body := map[string]entity.JobState{"state": entity.StateUploadComplete}
	if err := c.callJSON(ctx, http.MethodPatch, "/jobs/ingest/"+jobID, body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// JobStatus returns the current status of an ingest or query job.
func (c *Client) JobStatus(ctx context.Context, kind entity.JobKind, jobID string) (*entity.JobStatus, error) {
	var status entity.JobStatus
	if err := c.callJSON(ctx, http.MethodGet, "/jobs/"+string(kind)+"/"+jobID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SuccessfulResults returns the CSV of records the ingest job accepted.
func (c *Client) SuccessfulResults(ctx context.Context, jobID string) ([]byte, error) {
	return c.results(ctx, "/jobs/ingest/"+jobID+"/successfulResults")
}

// FailedResults returns the CSV of records the ingest job rejected.
func (c *Client) FailedResults(ctx context.Context, jobID string) ([]byte, error) {
	return c.results(ctx, "/jobs/ingest/"+jobID+"/failedResults")
}

func (c *Client) results(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.call(ctx, http.MethodGet, path, func(r *resty.Request) {
		r.SetHeader("Accept", "text/csv")
	})
	if err != nil {
		return nil, err
	}
	return []byte(resp.String()), nil
}

// CreateQueryJob submits an asynchronous query job.
func (c *Client) CreateQueryJob(ctx context.Context, query string) (*entity.JobStatus, error) {
	var status entity.JobStatus
	body := map[string]string{"operation": "query", "query": query}
	if err := c.callJSON(ctx, http.MethodPost, "/jobs/query", body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// QueryResults fetches one page of a completed query job. An empty locator
// requests the first page.
func (c *Client) QueryResults(ctx context.Context, jobID, locator string) (*Page, error) {
	resp, err := c.call(ctx, http.MethodGet, "/jobs/query/"+jobID+"/results", func(r *resty.Request) {
		r.SetHeader("Accept", "text/csv").
			SetQueryParam("maxRecords", strconv.Itoa(PageSize))
		if locator != "" {
			r.SetQueryParam("locator", locator)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Page{
		Body:    []byte(resp.String()),
		Locator: normalizeLocator(resp.Header().Get(LocatorHeader)),
	}, nil
}

// normalizeLocator maps the platform's "null" marker to no locator.
func normalizeLocator(v string) string {
	if v == "null" {
		return ""
	}
	return v
}
