package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/orgmigrate/internal/analysis"
	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/dag"
	"github.com/vk/orgmigrate/internal/entitystore"
	"github.com/vk/orgmigrate/internal/orchestrator"
)

// ErrNoEntities is returned when a stage has nothing to work on.
var ErrNoEntities = errors.New("no entities to process")

// Schemas describes the named entities, or the configured ones, plus every
// entity they reference, and stores their prepared snapshots. With refresh
// set it re-prepares every stored snapshot instead.
func (a *App) Schemas(ctx context.Context, names []string, refresh bool) ([]string, error) {
	ctx = a.Context(ctx)
	r := a.retriever(a.runContext())

	var (
		prepared []string
		err      error
	)
	if refresh {
		prepared, err = r.Refresh(ctx)
	} else {
		if len(names) == 0 {
			names = a.config.Entities
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("schemas: %w: name them on the command line or in `entities`", ErrNoEntities)
		}
		prepared, err = r.Retrieve(ctx, names)
	}
	if err != nil {
		return prepared, err
	}

	entities, err := entitystore.LoadEntities(ctx, a.store, prepared)
	if err != nil {
		return prepared, err
	}
	printEntities(a.outW, entities)
	return prepared, nil
}

// Query extracts the named entities, or every stored one, from the source.
func (a *App) Query(ctx context.Context, names []string) (*orchestrator.Summary, error) {
	ctx = a.Context(ctx)
	names, err := a.storedNames(ctx, names)
	if err != nil {
		return nil, err
	}

	summary, err := orchestrator.Query(ctx, a.runContext(), names)
	printOutcomes(a.outW, summary)
	return summary, err
}

// Tree builds the dependency forest of every stored entity and writes the
// forest and load order files.
func (a *App) Tree(ctx context.Context) (dag.Forest, []string, error) {
	ctx = a.Context(ctx)
	entities, err := entitystore.LoadEntities(ctx, a.store, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(entities) == 0 {
		return nil, nil, fmt.Errorf("tree: %w: retrieve schemas first", ErrNoEntities)
	}

	forest := dag.Build(ctx, entities)
	order := dag.LoadOrder(forest)
	if err := a.store.SaveForest(ctx, forest); err != nil {
		return nil, nil, err
	}
	if err := a.store.SaveLoadOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	ctxlog.FromContext(ctx).Info("Load order written.", "entities", len(order))
	printLoadOrder(a.outW, forest, order)
	return forest, order, nil
}

// Load upserts the named entities, or the stored load order, into the
// target.
func (a *App) Load(ctx context.Context, names []string) (*orchestrator.Summary, error) {
	ctx = a.Context(ctx)
	if len(names) == 0 {
		order, err := a.store.LoadLoadOrder(ctx)
		if errors.Is(err, entitystore.ErrNotFound) {
			return nil, fmt.Errorf("load: %w: build the tree first", ErrNoEntities)
		}
		if err != nil {
			return nil, err
		}
		names = order
	}

	summary, err := orchestrator.Load(ctx, a.runContext(), names)
	printOutcomes(a.outW, summary)
	return summary, err
}

// Analyze re-runs the source/target comparison for the named entities, or
// every stored one, from the stored data files. Entities never loaded are
// skipped.
func (a *App) Analyze(ctx context.Context, names []string) (map[string]*analysis.Report, error) {
	ctx = a.Context(ctx)
	logger := ctxlog.FromContext(ctx)
	names, err := a.storedNames(ctx, names)
	if err != nil {
		return nil, err
	}

	collector := &analysis.Collector{Store: a.store}
	reports := make(map[string]*analysis.Report, len(names))
	var (
		rows []analysisRow
		errs []error
	)
	for _, name := range names {
		e, err := a.store.LoadEntity(ctx, name)
		if err != nil {
			return reports, err
		}
		if e.JobStatus == nil {
			logger.Debug("Skipping entity never loaded.", "entity", name)
			continue
		}
		report, err := collector.Collect(ctx, e)
		if err != nil {
			logger.Error("Analysis failed.", "entity", name, "error", err)
			errs = append(errs, err)
			continue
		}
		reports[name] = report
		rows = append(rows, analysisRow{entity: name, report: report})
	}

	printReports(a.outW, rows)
	return reports, errors.Join(errs...)
}

// Run chains every stage: schemas, query, tree and load.
func (a *App) Run(ctx context.Context, names []string) error {
	ctx = a.Context(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.")

	if _, err := a.Schemas(ctx, names, false); err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	if _, err := a.Query(ctx, nil); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if _, _, err := a.Tree(ctx); err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	if _, err := a.Load(ctx, nil); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	logger.Info("🏁 Migration finished.")
	return nil
}

func (a *App) storedNames(ctx context.Context, names []string) ([]string, error) {
	if len(names) > 0 {
		return names, nil
	}
	stored, err := a.store.EntityNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: retrieve schemas first", ErrNoEntities)
	}
	return stored, nil
}
