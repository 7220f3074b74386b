package bulkapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/testutil"
)

func newTestClient(t *testing.T, p *testutil.FakePlatform) *Client {
	t.Helper()
	c := New(Environment{Alias: "target", InstanceURL: p.URL(), AccessToken: testutil.FakeToken}, Options{})
	t.Cleanup(c.Close)
	return c
}

func TestDescribeSObject(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	p.Describes["Account"] = []entity.Field{
		{Name: "Id", Type: entity.FieldTypeID, IDLookup: true},
		{Name: "OwnerId", Type: entity.FieldTypeReference, ReferenceTo: []string{"User"}, Createable: true, Updateable: true},
	}
	c := newTestClient(t, p)

	d, err := c.DescribeSObject(context.Background(), "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", d.Name)
	assert.Equal(t, p.Describes["Account"], d.Fields)
}

func TestDescribeSObject_NotFound(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	c := newTestClient(t, p)

	_, err := c.DescribeSObject(context.Background(), "Nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestUnauthorized(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	c := New(Environment{Alias: "source", InstanceURL: p.URL(), AccessToken: "wrong"}, Options{})

	_, err := c.JobStatus(context.Background(), entity.KindIngest, "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestCountPopulated(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	p.Counts["Account"] = []int64{10, 7, 10}
	c := newTestClient(t, p)

	counts, err := c.CountPopulated(context.Background(), "Account", []string{"Name", "Ext__c"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts.Total)
	assert.Equal(t, []int64{7, 10}, counts.Populated)
}

func TestIngestJobLifecycle(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	p.SuccessCSV["Account"] = "sf__Id,sf__Created,Name\n001,true,a\n"
	p.FailedCSV["Account"] = "sf__Id,sf__Error,Name\n"
	c := newTestClient(t, p)
	ctx := context.Background()

	job, err := c.CreateIngestJob(ctx, entity.NewUpsertConfig("Account", "Ext__c"))
	require.NoError(t, err)
	assert.Equal(t, entity.StateOpen, job.State)
	assert.Equal(t, "Ext__c", job.ExternalIDFieldName)

	up, err := c.UploadJobData(ctx, job.ID, []byte("Name\na\n"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, up.StatusCode)
	assert.Equal(t, "Name\na\n", string(p.Uploaded("Account")))

	closed, err := c.CloseIngestJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateUploadComplete, closed.State)

	status, err := c.JobStatus(ctx, entity.KindIngest, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateJobComplete, status.State)

	ok, err := c.SuccessfulResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, string(ok), "001,true,a")

	_, err = c.FailedResults(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /jobs/ingest",
		"PUT /jobs/ingest/ingest-Account/batches",
		"PATCH /jobs/ingest/ingest-Account",
		"GET /jobs/ingest/ingest-Account",
		"GET /jobs/ingest/ingest-Account/successfulResults",
		"GET /jobs/ingest/ingest-Account/failedResults",
	}, p.Requests())
}

func TestUploadJobData_ReportsRejection(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	p.UploadStatus = http.StatusBadRequest
	c := newTestClient(t, p)
	ctx := context.Background()

	job, err := c.CreateIngestJob(ctx, entity.NewUpsertConfig("Account", "Id"))
	require.NoError(t, err)

	up, err := c.UploadJobData(ctx, job.ID, []byte("Name\n"))
	require.NoError(t, err, "a rejected upload is not a transport error")
	assert.Equal(t, http.StatusBadRequest, up.StatusCode)
	assert.Contains(t, up.Body, "upload rejected")
}

func TestQueryResultsPagination(t *testing.T) {
	for _, nullLocator := range []bool{false, true} {
		p := testutil.NewFakePlatform(t)
		p.QueryPages["Contact"] = []string{"Name\na\n", "Name\nb\n"}
		p.NullLocator = nullLocator
		c := newTestClient(t, p)
		ctx := context.Background()

		job, err := c.CreateQueryJob(ctx, "SELECT Name FROM Contact")
		require.NoError(t, err)
		assert.Equal(t, "SELECT Name FROM Contact", p.Query("Contact"))

		first, err := c.QueryResults(ctx, job.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "L1", first.Locator)
		assert.Contains(t, string(first.Body), "a")

		last, err := c.QueryResults(ctx, job.ID, first.Locator)
		require.NoError(t, err)
		assert.Empty(t, last.Locator, "null locator %v", nullLocator)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	c := New(Environment{InstanceURL: p.URL(), AccessToken: testutil.FakeToken}, Options{RateLimit: 0.001})
	ctx, cancel := context.WithCancel(context.Background())

	// The first request consumes the only token.
	_, _ = c.JobStatus(ctx, entity.KindQuery, "x")
	cancel()
	_, err := c.JobStatus(ctx, entity.KindQuery, "x")
	require.Error(t, err)
	assert.Len(t, p.Requests(), 1)
}
