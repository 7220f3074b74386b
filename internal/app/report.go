package app

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"github.com/vk/orgmigrate/internal/analysis"
	"github.com/vk/orgmigrate/internal/dag"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/orchestrator"
)

func newTable(w io.Writer, columns ...any) table.Table {
	headerFmt := color.New(color.FgGreen, color.Bold).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()
	return table.New(columns...).
		WithWriter(w).
		WithHeaderFormatter(headerFmt).
		WithFirstColumnFormatter(columnFmt)
}

func printEntities(w io.Writer, entities []*entity.Entity) {
	tbl := newTable(w, "Entity", "Fields", "External ID", "Query")
	for _, e := range entities {
		query := "derived"
		if e.IsQueryOverwrite {
			query = "override"
		}
		externalID := ""
		if e.UpsertConfig != nil {
			externalID = e.UpsertConfig.ExternalIDFieldName
		}
		tbl.AddRow(e.Name, len(e.Fields), externalID, query)
	}
	tbl.Print()
}

func printOutcomes(w io.Writer, summary *orchestrator.Summary) {
	if summary == nil {
		return
	}
	tbl := newTable(w, "Entity", "Job", "State", "Processed", "Failed", "Note")
	for _, o := range summary.Outcomes {
		note := ""
		switch {
		case o.Skipped:
			note = "skipped"
		case o.Err != nil:
			note = o.Err.Error()
		}
		tbl.AddRow(o.Entity, o.JobID, o.State, o.RecordsProcessed, o.RecordsFailed, note)
	}
	tbl.Print()
}

func printLoadOrder(w io.Writer, forest dag.Forest, order []string) {
	roots := make(map[string]*dag.Node, len(forest))
	for _, n := range forest {
		roots[n.Name] = n
	}

	tbl := newTable(w, "#", "Entity", "Weight", "Circular")
	for i, name := range order {
		weight, circular := "", ""
		if n, ok := roots[name]; ok {
			weight = strconv.Itoa(n.DependencyWeight)
			circular = strconv.FormatBool(n.Circular)
		}
		tbl.AddRow(i+1, name, weight, circular)
	}
	tbl.Print()
}

type analysisRow struct {
	entity string
	report *analysis.Report
}

func printReports(w io.Writer, rows []analysisRow) {
	tbl := newTable(w, "Entity", "Source", "Upserted", "Same count", "Missing", "Differences")
	for _, r := range rows {
		tbl.AddRow(r.entity,
			r.report.SourceNumberOfRecords,
			r.report.TargetNumberOfRecordsUpserted,
			r.report.SameNumberOfRecords,
			r.report.MissingRecords(),
			fmt.Sprint(len(r.report.Diffs)-r.report.MissingRecords()))
	}
	tbl.Print()
}
