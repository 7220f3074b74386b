// Package entitystore defines the interface for persisting entity snapshots
// and the per-entity data files produced while migrating them.
//
// # Why Entity Store Exists
//
// Stages never share in-memory state. Each stage reads the entities it needs
// from the store at its start and writes every mutated entity back as soon
// as the mutation happens, so a crash mid-run leaves completed entities
// durably marked.
//
// The store holds three kinds of records:
//   - **Snapshots:** one JSON document per entity (fields, query, upsert
//     configuration, last job status)
//   - **Data files:** CSV payloads and the analysis report, grouped per entity
//   - **Plan files:** the dependency forest and the derived load order
//
// # Concurrency
//
// Implementations must be safe for concurrent use by the goroutines of a
// single stage (the terminal fan-out writes two data files and a snapshot at
// once). Two stages running against the same store at the same time are not
// supported and must be serialized by the caller.
package entitystore

import (
	"context"
	"errors"

	"github.com/vk/orgmigrate/internal/dag"
	"github.com/vk/orgmigrate/internal/entity"
)

// ErrNotFound is returned when a snapshot, data file, or plan file does not
// exist.
var ErrNotFound = errors.New("not found")

// DataFile identifies one of the files kept per entity.
type DataFile string

const (
	// FileSource holds the records queried from the source environment.
	FileSource DataFile = "source"
	// FileSuccess holds the records the target accepted.
	FileSuccess DataFile = "success"
	// FileErrors holds the records the target rejected.
	FileErrors DataFile = "errors"
	// FileAnalysis holds the source/target comparison report.
	FileAnalysis DataFile = "analysis"
)

// FileName returns the on-disk name of the data file for the given entity.
func (f DataFile) FileName(entityName string) string {
	switch f {
	case FileSource:
		return entityName + ".csv"
	case FileSuccess:
		return entityName + "_success.csv"
	case FileErrors:
		return entityName + "_errors.csv"
	case FileAnalysis:
		return "analysis.json"
	default:
		return entityName + "_" + string(f)
	}
}

// Store is the interface for persisting everything a stage hands to the next.
type Store interface {
	// SaveEntity writes the entity's snapshot, replacing any previous one.
	SaveEntity(ctx context.Context, e *entity.Entity) error

	// LoadEntity reads the snapshot of the named entity. It returns an error
	// wrapping ErrNotFound when no snapshot exists.
	LoadEntity(ctx context.Context, name string) (*entity.Entity, error)

	// EntityNames returns the names of every stored snapshot in ascending
	// order.
	EntityNames(ctx context.Context) ([]string, error)

	// WriteData replaces the content of one of the entity's data files.
	WriteData(ctx context.Context, entityName string, file DataFile, data []byte) error

	// AppendData appends to one of the entity's data files, creating it if
	// needed.
	AppendData(ctx context.Context, entityName string, file DataFile, data []byte) error

	// ReadData returns the content of one of the entity's data files. It
	// returns an error wrapping ErrNotFound when the file does not exist.
	ReadData(ctx context.Context, entityName string, file DataFile) ([]byte, error)

	// SaveForest writes the dependency forest.
	SaveForest(ctx context.Context, forest dag.Forest) error

	// LoadForest reads the dependency forest.
	LoadForest(ctx context.Context) (dag.Forest, error)

	// SaveLoadOrder writes the load order.
	SaveLoadOrder(ctx context.Context, order []string) error

	// LoadLoadOrder reads the load order.
	LoadLoadOrder(ctx context.Context) ([]string, error)
}

// LoadEntities reads the snapshots of the given names in order. An empty
// names list loads every stored snapshot.
func LoadEntities(ctx context.Context, s Store, names []string) ([]*entity.Entity, error) {
	if len(names) == 0 {
		all, err := s.EntityNames(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}

	out := make([]*entity.Entity, 0, len(names))
	for _, name := range names {
		e, err := s.LoadEntity(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
