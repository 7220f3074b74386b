package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/vk/orgmigrate/internal/analysis"
	"github.com/vk/orgmigrate/internal/bulkapi"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
	"github.com/vk/orgmigrate/internal/inmemorystore"
	"github.com/vk/orgmigrate/internal/metrics"
	"github.com/vk/orgmigrate/internal/testutil"
)

const accountCSV = "Ext__c,Name\ne1,Acme\ne2,Globex\n"

type harness struct {
	rc       *RunContext
	store    *inmemorystore.Store
	platform *testutil.FakePlatform
	clock    *testingclock.FakeClock
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	p := testutil.NewFakePlatform(t)
	clk := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	testutil.AutoAdvance(t, clk, DefaultPollInterval)

	client := bulkapi.New(bulkapi.Environment{Alias: "fake", InstanceURL: p.URL(), AccessToken: testutil.FakeToken}, bulkapi.Options{})
	t.Cleanup(client.Close)

	store := inmemorystore.New()
	m := metrics.New()
	ctx, _ := testutil.LoggerContext(t)

	return &harness{
		rc: &RunContext{
			Store:     store,
			Source:    client,
			Target:    client,
			Poller:    &Poller{Interval: DefaultPollInterval, MaxAttempts: 5, Clock: clk, Metrics: m},
			Collector: &analysis.Collector{Store: store},
			Metrics:   m,
		},
		store:    store,
		platform: p,
		clock:    clk,
		ctx:      ctx,
	}
}

// seed stores a prepared entity and its source records.
func (h *harness) seed(t *testing.T, name, csv string) {
	t.Helper()
	e := entity.New(name, []entity.Field{
		{Name: "Ext__c", Type: entity.FieldTypeString, Createable: true, Updateable: true, ExternalID: true, IDLookup: true},
		{Name: "Name", Type: entity.FieldTypeString, Createable: true, Updateable: true},
	})
	e.BuildQuery(nil, "")
	e.UpsertConfig = entity.NewUpsertConfig(name, "Ext__c")
	require.NoError(t, h.store.SaveEntity(h.ctx, e))
	if csv != "" {
		require.NoError(t, h.store.WriteData(h.ctx, name, entitystore.FileSource, []byte(csv)))
	}
}

func (h *harness) snapshot(t *testing.T, name string) *entity.Entity {
	t.Helper()
	e, err := h.store.LoadEntity(h.ctx, name)
	require.NoError(t, err)
	return e
}

func TestLoad_PollsUntilTerminalThenCollects(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Account", accountCSV)
	h.platform.IngestStates["Account"] = []entity.JobState{entity.StateInProgress, entity.StateInProgress, entity.StateJobComplete}
	h.platform.SuccessCSV["Account"] = "sf__Id,sf__Created,Ext__c,Name\n001000000000001AAA,true,e1,Acme\n"
	h.platform.FailedCSV["Account"] = "sf__Id,sf__Error,Ext__c,Name\n,REQUIRED_FIELD_MISSING,e2,Globex\n"
	h.platform.RecordsFailed["Account"] = 1

	summary, err := Load(h.ctx, h.rc, []string{"Account"})
	require.NoError(t, err)

	assert.Equal(t, 3, h.platform.Polls(entity.KindIngest, "Account"), "the wait loop stops at the third poll")
	assert.Equal(t, accountCSV, string(h.platform.Uploaded("Account")))

	require.Len(t, summary.Outcomes, 1)
	outcome := summary.Outcomes[0]
	assert.Equal(t, entity.StateJobComplete, outcome.State)
	assert.Equal(t, int64(1), outcome.RecordsFailed)
	assert.NoError(t, outcome.Err)
	require.NotNil(t, outcome.Report)
	assert.Equal(t, 1, outcome.Report.MissingRecords())

	e := h.snapshot(t, "Account")
	require.NotNil(t, e.JobStatus)
	assert.Equal(t, entity.StateJobComplete, e.JobStatus.State)
	assert.False(t, e.InsertedSuccessfully())

	success, err := h.store.ReadData(h.ctx, "Account", entitystore.FileSuccess)
	require.NoError(t, err)
	assert.Contains(t, string(success), "e1,Acme")
	failed, err := h.store.ReadData(h.ctx, "Account", entitystore.FileErrors)
	require.NoError(t, err)
	assert.Contains(t, string(failed), "REQUIRED_FIELD_MISSING")
	_, err = h.store.ReadData(h.ctx, "Account", entitystore.FileAnalysis)
	require.NoError(t, err)
}

func TestLoad_UploadFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Account", accountCSV)
	h.seed(t, "Contact", "Ext__c,Name\nc1,x\n")
	h.platform.UploadStatus = http.StatusBadRequest

	summary, err := Load(h.ctx, h.rc, []string{"Account", "Contact"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobCreationFailed))

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, http.StatusBadRequest, uploadErr.StatusCode)
	assert.Equal(t, "Account", uploadErr.Entity)

	require.Len(t, summary.Outcomes, 1)
	assert.NotContains(t, h.platform.Requests(), "PUT /jobs/ingest/ingest-Contact/batches")
	assert.Equal(t, []string{"POST /jobs/ingest", "PUT /jobs/ingest/ingest-Account/batches"}, h.platform.Requests())
	assert.Nil(t, h.snapshot(t, "Account").JobStatus)
}

func TestLoad_FailedJobIsRecordedAndRunContinues(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Account", accountCSV)
	h.seed(t, "Contact", "Ext__c,Name\nc1,x\n")
	h.platform.IngestStates["Account"] = []entity.JobState{entity.StateInProgress, entity.StateFailed}
	h.platform.SuccessCSV["Contact"] = "sf__Id,sf__Created,Ext__c,Name\n003000000000001AAA,true,c1,x\n"

	summary, err := Load(h.ctx, h.rc, []string{"Account", "Contact"})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 2)

	failed := summary.Outcomes[0]
	assert.Equal(t, entity.StateFailed, failed.State)
	assert.ErrorIs(t, failed.Err, ErrJobTerminatedWithFailure)
	assert.Equal(t, entity.StateFailed, h.snapshot(t, "Account").JobStatus.State)
	assert.NotContains(t, h.platform.Requests(), "GET /jobs/ingest/ingest-Account/successfulResults")

	assert.Equal(t, entity.StateJobComplete, summary.Outcomes[1].State)
	assert.True(t, h.snapshot(t, "Contact").InsertedSuccessfully())
}

func TestLoad_PollTimeoutIsFatalAndKeepsLastStatus(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Account", accountCSV)
	h.platform.IngestStates["Account"] = []entity.JobState{entity.StateInProgress}
	h.rc.Poller.MaxAttempts = 3

	_, err := Load(h.ctx, h.rc, []string{"Account"})
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 3, h.platform.Polls(entity.KindIngest, "Account"))

	e := h.snapshot(t, "Account")
	require.NotNil(t, e.JobStatus)
	assert.Equal(t, entity.StateInProgress, e.JobStatus.State)
}

func TestLoad_ResumeSkipsFinishedEntities(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Account", accountCSV)
	e := h.snapshot(t, "Account")
	e.JobStatus = &entity.JobStatus{ID: "old", State: entity.StateJobComplete}
	require.NoError(t, h.store.SaveEntity(h.ctx, e))
	h.rc.Resume = true

	summary, err := Load(h.ctx, h.rc, []string{"Account"})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.True(t, summary.Outcomes[0].Skipped)
	assert.Empty(t, h.platform.Requests())
}

func TestLoad_RequiresUpsertConfig(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveEntity(h.ctx, entity.New("Bare", nil)))

	_, err := Load(h.ctx, h.rc, []string{"Bare"})
	require.ErrorIs(t, err, ErrNotPrepared)
}

func TestRemoveFirstLine(t *testing.T) {
	assert.Equal(t, "a\nb\n", removeFirstLine("h\na\nb\n"))
	assert.Equal(t, "", removeFirstLine("h"))
	assert.Equal(t, "", removeFirstLine(""))
	assert.Equal(t, "", removeFirstLine("h\n"))
}

func TestQuery_PaginatesAndStripsHeaders(t *testing.T) {
	for _, nullLocator := range []bool{false, true} {
		h := newHarness(t)
		h.seed(t, "Contact", "")
		h.platform.NullLocator = nullLocator
		h.platform.QueryStates["Contact"] = []entity.JobState{entity.StateUploadComplete, entity.StateInProgress, entity.StateJobComplete}
		h.platform.QueryPages["Contact"] = []string{
			"Ext__c,Name\nc1,a\nc2,b\n",
			"Ext__c,Name\nc3,c\n",
			"Ext__c,Name\nc4,d\n",
		}

		summary, err := Query(h.ctx, h.rc, []string{"Contact"})
		require.NoError(t, err)
		require.Len(t, summary.Outcomes, 1)
		assert.Equal(t, entity.StateJobComplete, summary.Outcomes[0].State)
		assert.Equal(t, 3, h.platform.Polls(entity.KindQuery, "Contact"))
		assert.Equal(t, "SELECT Ext__c, Name FROM Contact", h.platform.Query("Contact"))

		data, err := h.store.ReadData(h.ctx, "Contact", entitystore.FileSource)
		require.NoError(t, err)
		assert.Equal(t, "Ext__c,Name\nc1,a\nc2,b\nc3,c\nc4,d\n", string(data), "null locator %v", nullLocator)
		assert.True(t, h.snapshot(t, "Contact").RetrieveSuccessfully)
	}
}

func TestQuery_HeaderOnlyPagesAddNothing(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Contact", "")
	h.platform.QueryPages["Contact"] = []string{"Ext__c,Name\nc1,a\n", "Ext__c,Name\n"}

	_, err := Query(h.ctx, h.rc, []string{"Contact"})
	require.NoError(t, err)

	data, err := h.store.ReadData(h.ctx, "Contact", entitystore.FileSource)
	require.NoError(t, err)
	assert.Equal(t, "Ext__c,Name\nc1,a\n", string(data))
}

func TestQuery_FailedJobContinues(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Account", "")
	h.seed(t, "Contact", "")
	h.platform.QueryStates["Account"] = []entity.JobState{entity.StateAborted}
	h.platform.QueryPages["Contact"] = []string{"Ext__c,Name\nc1,a\n"}

	summary, err := Query(h.ctx, h.rc, []string{"Account", "Contact"})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 2)
	assert.ErrorIs(t, summary.Outcomes[0].Err, ErrJobTerminatedWithFailure)
	assert.False(t, h.snapshot(t, "Account").RetrieveSuccessfully)
	assert.True(t, h.snapshot(t, "Contact").RetrieveSuccessfully)
}

func TestQuery_ResumeSkipsRetrievedEntities(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Contact", "")
	e := h.snapshot(t, "Contact")
	e.RetrieveSuccessfully = true
	require.NoError(t, h.store.SaveEntity(h.ctx, e))
	h.rc.Resume = true

	summary, err := Query(h.ctx, h.rc, []string{"Contact"})
	require.NoError(t, err)
	assert.True(t, summary.Outcomes[0].Skipped)
	assert.Empty(t, h.platform.Requests())
}
