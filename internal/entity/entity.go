// Package entity defines the migratable record type shared by every stage:
// its field descriptors, the derived query and upsert configuration, and the
// snapshot of the last bulk job that ran against it.
//
// An Entity is persisted as JSON after every mutation and is the only state
// passed between stages.
package entity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// FieldType is the platform's data type of a field. Only FieldTypeReference
// carries meaning for dependency resolution.
type FieldType string

const (
	FieldTypeReference FieldType = "reference"
	FieldTypeID        FieldType = "id"
	FieldTypeString    FieldType = "string"
)

// Field describes a single field of an entity as reported by the platform's
// describe call. Field values are never mutated after retrieval.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	ReferenceTo []string  `json:"referenceTo"`
	Calculated  bool      `json:"calculated"`
	Createable  bool      `json:"createable"`
	Updateable  bool      `json:"updateable"`
	ExternalID  bool      `json:"externalId"`
	IDLookup    bool      `json:"idLookup"`
}

// IsReference reports whether the field points at records of another entity.
func (f Field) IsReference() bool {
	return len(f.ReferenceTo) > 0 || f.Type == FieldTypeReference
}

// PrimaryTarget returns the first entity name the field references. Only this
// target is treated as a dependency edge.
func (f Field) PrimaryTarget() (string, bool) {
	if len(f.ReferenceTo) == 0 {
		return "", false
	}
	return f.ReferenceTo[0], true
}

// UpsertConfig is the ingest job submission payload for an entity.
type UpsertConfig struct {
	ExternalIDFieldName string `json:"externalIdFieldName"`
	Object              string `json:"object"`
	ContentType         string `json:"contentType"`
	Operation           string `json:"operation"`
	LineEnding          string `json:"lineEnding"`
}

// NewUpsertConfig returns the upsert configuration used for every ingest job.
func NewUpsertConfig(object, externalIDField string) *UpsertConfig {
	return &UpsertConfig{
		ExternalIDFieldName: externalIDField,
		Object:              object,
		ContentType:         "CSV",
		Operation:           "upsert",
		LineEnding:          "LF",
	}
}

// Entity is one migratable record type.
type Entity struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`

	Query                string        `json:"query,omitempty"`
	IsQueryOverwrite     bool          `json:"isQueryOverwrite,omitempty"`
	UpsertConfig         *UpsertConfig `json:"upsertConfig,omitempty"`
	JobStatus            *JobStatus    `json:"jobStatus,omitempty"`
	RetrieveSuccessfully bool          `json:"retrieveSuccessfully,omitempty"`
	RelationshipFields   []string      `json:"relationshipFields,omitempty"`
}

// New creates an entity from a describe result.
func New(name string, fields []Field) *Entity {
	return &Entity{Name: name, Fields: fields}
}

// CreateableAndUpdateableFields returns the non-calculated fields that can be
// both inserted and updated, in declaration order.
func (e *Entity) CreateableAndUpdateableFields() []Field {
	return lo.Filter(e.Fields, func(f Field, _ int) bool {
		return !f.Calculated && f.Createable && f.Updateable
	})
}

// ExternalIDs returns the writable fields flagged as external identifiers.
func (e *Entity) ExternalIDs() []Field {
	return lo.Filter(e.CreateableAndUpdateableFields(), func(f Field, _ int) bool {
		return f.ExternalID
	})
}

// UpsertableFields returns every field usable as an id lookup.
func (e *Entity) UpsertableFields() []Field {
	return lo.Filter(e.Fields, func(f Field, _ int) bool {
		return f.IDLookup
	})
}

// RelationFields returns every field that references another entity.
func (e *Entity) RelationFields() []Field {
	return lo.Filter(e.Fields, func(f Field, _ int) bool {
		return f.IsReference()
	})
}

// CircularRelations returns the reference fields that point back at the
// entity itself (case-insensitive), keyed by field name.
func (e *Entity) CircularRelations() map[string]Field {
	self := lo.Filter(e.RelationFields(), func(f Field, _ int) bool {
		return lo.ContainsBy(f.ReferenceTo, func(ref string) bool {
			return strings.EqualFold(ref, e.Name)
		})
	})
	return lo.KeyBy(self, func(f Field) string { return f.Name })
}

// HasExternalID reports whether name is one of the entity's writable
// external-id fields.
func (e *Entity) HasExternalID(name string) bool {
	return lo.ContainsBy(e.ExternalIDs(), func(f Field) bool {
		return f.Name == name
	})
}

// ReferencedEntities returns every entity named by any reference field,
// including non-primary targets, without duplicates.
func (e *Entity) ReferencedEntities() []string {
	return lo.Uniq(lo.FlatMap(e.Fields, func(f Field, _ int) []string {
		return f.ReferenceTo
	}))
}

// SaveRelationshipFields records the names of the reference fields on the
// snapshot.
func (e *Entity) SaveRelationshipFields() {
	e.RelationshipFields = lo.Map(e.RelationFields(), func(f Field, _ int) string {
		return f.Name
	})
}

// BuildQuery derives the source query. An override query wins outright;
// otherwise every createable and updateable field not listed in exceptions
// is projected.
func (e *Entity) BuildQuery(exceptions []string, overrideQuery string) {
	if overrideQuery != "" {
		e.Query = overrideQuery
		e.IsQueryOverwrite = true
		return
	}

	names := lo.FilterMap(e.CreateableAndUpdateableFields(), func(f Field, _ int) (string, bool) {
		return f.Name, !lo.Contains(exceptions, f.Name)
	})
	e.Query = fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), e.Name)
	e.IsQueryOverwrite = false
}

var selectClause = regexp.MustCompile(`SELECT([^<]*)FROM`)

// FieldsInQuery returns the projected field names of the stored query.
func (e *Entity) FieldsInQuery() []string {
	if e.Query == "" {
		return nil
	}
	match := selectClause.FindStringSubmatch(e.Query)
	if match == nil {
		return nil
	}
	return strings.Split(strings.ReplaceAll(match[1], " ", ""), ",")
}

// InsertedSuccessfully reports whether the last ingest job completed without
// rejected records.
func (e *Entity) InsertedSuccessfully() bool {
	return e.JobStatus != nil &&
		e.JobStatus.State == StateJobComplete &&
		e.JobStatus.NumberRecordsFailed == 0
}
