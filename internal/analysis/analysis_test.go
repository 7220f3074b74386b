package analysis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
	"github.com/vk/orgmigrate/internal/inmemorystore"
)

const sourceCSV = `Ext__c,Name,OwnerId
e1,Acme,005000000000001AAA
e2,Globex,005000000000002AAA
e3,Initech,005000000000003AAA
`

const targetCSV = `sf__Id,sf__Created,Ext__c,Name,OwnerId
001000000000001AAA,true,e1,Acme,005900000000001AAA
001000000000002AAA,true,e2,Globex Corp,005900000000002AAA
`

func TestCompare(t *testing.T) {
	report, err := Compare([]byte(sourceCSV), []byte(targetCSV), "Ext__c", []string{"Ext__c", "Name", "OwnerId"})
	require.NoError(t, err)

	want := &Report{
		SameNumberOfRecords:           false,
		SourceNumberOfRecords:         3,
		TargetNumberOfRecordsUpserted: 2,
		Diffs: []RecordDiff{
			{ExternalValue: "e2", Diffs: []FieldDiff{{Field: "Name", SourceValue: "Globex", TargetValue: "Globex Corp"}}},
			{ExternalValue: "e3", Diffs: []FieldDiff{}, Note: NoteNotInserted},
		},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, report.MissingRecords())
}

func TestCompare_DuplicateKeysLastWins(t *testing.T) {
	source := "Ext__c,Name\nk,first\nk,second\n"
	target := "Ext__c,Name\nk,second\n"

	report, err := Compare([]byte(source), []byte(target), "Ext__c", []string{"Name"})
	require.NoError(t, err)
	assert.Empty(t, report.Diffs)
	assert.False(t, report.SameNumberOfRecords, "counts use raw record totals")
}

func TestCompare_PlatformIDsOnlyOneSide(t *testing.T) {
	// A 15 character id on one side and a plain value on the other is a diff.
	source := "Ext__c,ParentId\nk,001000000000001\n"
	target := "Ext__c,ParentId\nk,\n"

	report, err := Compare([]byte(source), []byte(target), "Ext__c", []string{"ParentId"})
	require.NoError(t, err)
	require.Len(t, report.Diffs, 1)
	assert.Equal(t, "ParentId", report.Diffs[0].Diffs[0].Field)
}

func TestCompare_EmptyInputs(t *testing.T) {
	report, err := Compare(nil, nil, "Ext__c", []string{"Name"})
	require.NoError(t, err)
	assert.True(t, report.SameNumberOfRecords)
	assert.Empty(t, report.Diffs)
}

func TestCollector(t *testing.T) {
	ctx := context.Background()
	store := inmemorystore.New()

	e := entity.New("Account", nil)
	e.Query = "SELECT Ext__c, Name, OwnerId FROM Account"
	e.UpsertConfig = entity.NewUpsertConfig("Account", "Ext__c")

	require.NoError(t, store.WriteData(ctx, "Account", entitystore.FileSource, []byte(sourceCSV)))
	require.NoError(t, store.WriteData(ctx, "Account", entitystore.FileSuccess, []byte(targetCSV)))

	c := &Collector{Store: store}
	report, err := c.Collect(ctx, e)
	require.NoError(t, err)
	assert.Len(t, report.Diffs, 2)

	raw, err := store.ReadData(ctx, "Account", entitystore.FileAnalysis)
	require.NoError(t, err)
	var persisted Report
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, 3, persisted.SourceNumberOfRecords)
}

func TestCollector_RequiresExternalID(t *testing.T) {
	c := &Collector{Store: inmemorystore.New()}
	_, err := c.Collect(context.Background(), entity.New("Account", nil))
	require.ErrorIs(t, err, ErrNoExternalID)
}
