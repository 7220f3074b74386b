// Package analysis compares the records queried from the source environment
// with the records the target environment accepted, and persists the result
// next to the entity's data files.
package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
)

// NoteNotInserted marks a source record with no accepted counterpart.
const NoteNotInserted = "this record was not inserted in target org"

// platformID matches record ids generated by the platform. Such values differ
// between environments and are never compared.
var platformID = regexp.MustCompile(`^[a-zA-Z0-9]{18}$|^[a-zA-Z0-9]{15}$`)

// ErrNoExternalID is returned for entities that were never given an upsert
// configuration.
var ErrNoExternalID = errors.New("entity has no external id field")

// FieldDiff is one mismatching field of a record.
type FieldDiff struct {
	Field       string `json:"field"`
	SourceValue string `json:"sourceValue"`
	TargetValue string `json:"targetValue"`
}

// RecordDiff groups the differences found for one external id value.
type RecordDiff struct {
	ExternalValue string      `json:"externalValue"`
	Diffs         []FieldDiff `json:"diffs"`
	Note          string      `json:"note"`
}

// Report is the comparison result of one entity.
type Report struct {
	SameNumberOfRecords           bool         `json:"sameNumberOfRecords"`
	SourceNumberOfRecords         int          `json:"sourceNumberOfRecords"`
	TargetNumberOfRecordsUpserted int          `json:"targetNumberOfRecordsUpserted"`
	Diffs                         []RecordDiff `json:"diffs"`
}

// MissingRecords counts the source records absent from the target.
func (r *Report) MissingRecords() int {
	n := 0
	for _, d := range r.Diffs {
		if d.Note == NoteNotInserted {
			n++
		}
	}
	return n
}

// Compare pairs source and target records by the value of externalIDField
// and reports, for every field in fields, values that differ. Duplicate
// external id values keep the last record and the position of the first.
func Compare(source, target []byte, externalIDField string, fields []string) (*Report, error) {
	sourceRecords, err := readRecords(source)
	if err != nil {
		return nil, fmt.Errorf("parse source records: %w", err)
	}
	targetRecords, err := readRecords(target)
	if err != nil {
		return nil, fmt.Errorf("parse target records: %w", err)
	}

	sourceKeys, sourceByKey := index(sourceRecords, externalIDField)
	_, targetByKey := index(targetRecords, externalIDField)

	report := &Report{
		SameNumberOfRecords:           len(sourceRecords) == len(targetRecords),
		SourceNumberOfRecords:         len(sourceRecords),
		TargetNumberOfRecordsUpserted: len(targetRecords),
		Diffs:                         []RecordDiff{},
	}

	for _, key := range sourceKeys {
		src := sourceByKey[key]
		tgt, ok := targetByKey[key]
		if !ok {
			report.Diffs = append(report.Diffs, RecordDiff{
				ExternalValue: key,
				Diffs:         []FieldDiff{},
				Note:          NoteNotInserted,
			})
			continue
		}

		var diffs []FieldDiff
		for _, field := range fields {
			s, t := src[field], tgt[field]
			if platformID.MatchString(s) && platformID.MatchString(t) {
				continue
			}
			if s != t {
				diffs = append(diffs, FieldDiff{Field: field, SourceValue: s, TargetValue: t})
			}
		}
		if len(diffs) > 0 {
			report.Diffs = append(report.Diffs, RecordDiff{ExternalValue: key, Diffs: diffs})
		}
	}
	return report, nil
}

type record map[string]string

func readRecords(data []byte) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec := make(record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		out = append(out, rec)
	}
}

func index(records []record, key string) ([]string, map[string]record) {
	var order []string
	byKey := make(map[string]record, len(records))
	for _, rec := range records {
		k := rec[key]
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = rec
	}
	return order, byKey
}

// Collector turns a finished ingest into a persisted Report.
type Collector struct {
	Store entitystore.Store
}

// Collect compares the entity's source and success files and writes the
// report as the entity's analysis file.
func (c *Collector) Collect(ctx context.Context, e *entity.Entity) (*Report, error) {
	logger := ctxlog.FromContext(ctx).With("entity", e.Name)

	if e.UpsertConfig == nil || e.UpsertConfig.ExternalIDFieldName == "" {
		return nil, fmt.Errorf("analyze %s: %w", e.Name, ErrNoExternalID)
	}

	source, err := c.Store.ReadData(ctx, e.Name, entitystore.FileSource)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", e.Name, err)
	}
	target, err := c.Store.ReadData(ctx, e.Name, entitystore.FileSuccess)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", e.Name, err)
	}

	report, err := Compare(source, target, e.UpsertConfig.ExternalIDFieldName, e.FieldsInQuery())
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", e.Name, err)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis of %s: %w", e.Name, err)
	}
	if err := c.Store.WriteData(ctx, e.Name, entitystore.FileAnalysis, encoded); err != nil {
		return nil, err
	}

	logger.Info("Analysis written.",
		"source_records", report.SourceNumberOfRecords,
		"target_records", report.TargetNumberOfRecordsUpserted,
		"diffs", len(report.Diffs))
	return report, nil
}
