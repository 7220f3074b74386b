// Package schema retrieves entity descriptions from the source environment
// and prepares the snapshots every later stage starts from.
package schema

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"github.com/vk/orgmigrate/internal/bulkapi"
	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
	"github.com/vk/orgmigrate/internal/orchestrator"
)

// Describer is the part of the platform client the retriever needs.
type Describer interface {
	DescribeSObject(ctx context.Context, name string) (*bulkapi.Describe, error)
	orchestrator.Counter
}

// Retriever describes entities and writes prepared snapshots.
type Retriever struct {
	Store  entitystore.Store
	Source Describer

	ExceptionFields   []string
	DefaultExternalID string
	Overrides         map[string]orchestrator.Override
}

// Retrieve prepares the named entities, then every entity their reference
// fields point at. Listed entities must exist; a referenced entity the
// source cannot describe is skipped. It returns the prepared names in the
// order they were handled.
func (r *Retriever) Retrieve(ctx context.Context, names []string) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Retrieving schemas.", "listed", len(names))

	prepared := make([]*entity.Entity, 0, len(names))
	for _, name := range lo.Uniq(names) {
		e, err := r.Prepare(ctx, name)
		if err != nil {
			return entityNames(prepared), err
		}
		prepared = append(prepared, e)
	}

	seen := lo.SliceToMap(prepared, func(e *entity.Entity) (string, bool) { return e.Name, true })
	involved := lo.Filter(lo.Uniq(lo.FlatMap(prepared, func(e *entity.Entity, _ int) []string {
		return e.ReferencedEntities()
	})), func(name string, _ int) bool { return !seen[name] })
	logger.Info("Retrieving involved schemas.", "count", len(involved))

	for _, name := range involved {
		e, err := r.Prepare(ctx, name)
		var apiErr *bulkapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			logger.Warn("Referenced entity cannot be described, skipping.", "entity", name)
			continue
		}
		if err != nil {
			return entityNames(prepared), err
		}
		prepared = append(prepared, e)
	}
	return entityNames(prepared), nil
}

// Refresh re-prepares every stored snapshot.
func (r *Retriever) Refresh(ctx context.Context) ([]string, error) {
	names, err := r.Store.EntityNames(ctx)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Refreshing existing schemas.", "count", len(names))

	for i, name := range names {
		if _, err := r.Prepare(ctx, name); err != nil {
			return names[:i], err
		}
	}
	return names, nil
}

// Prepare describes one entity, derives its query and upsert configuration,
// records its relationship fields and saves the snapshot. A previous
// snapshot is replaced, so job progress recorded on it is reset.
func (r *Retriever) Prepare(ctx context.Context, name string) (*entity.Entity, error) {
	ctx, logger := ctxlog.With(ctx, "entity", name)

	desc, err := r.Source.DescribeSObject(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}

	e := entity.New(desc.Name, desc.Fields)
	override := r.Overrides[e.Name]
	e.BuildQuery(r.ExceptionFields, override.Query)

	cfg, err := orchestrator.ResolveUpsertConfig(ctx, e, override, r.DefaultExternalID, r.Source)
	if err != nil {
		return nil, err
	}
	e.UpsertConfig = cfg
	e.SaveRelationshipFields()

	if err := r.Store.SaveEntity(ctx, e); err != nil {
		return nil, err
	}
	logger.Debug("Schema prepared.",
		"fields", len(e.Fields),
		"external_id", cfg.ExternalIDFieldName,
		"query_overwritten", e.IsQueryOverwrite)
	return e, nil
}

func entityNames(entities []*entity.Entity) []string {
	return lo.Map(entities, func(e *entity.Entity, _ int) string { return e.Name })
}
