package orchestrator

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/vk/orgmigrate/internal/bulkapi"
	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
)

// FallbackExternalID is used when no candidate field qualifies.
const FallbackExternalID = "Id"

// Counter runs aggregate count queries against an environment.
type Counter interface {
	CountPopulated(ctx context.Context, object string, fields []string) (*bulkapi.Counts, error)
}

// ResolveUpsertConfig picks the external id field of an entity and returns
// its ingest configuration. The override wins, then the default field when
// the entity has it as a writable external id, then the candidate chosen by
// populated-value counts.
func ResolveUpsertConfig(ctx context.Context, e *entity.Entity, override Override, defaultExternalID string, counter Counter) (*entity.UpsertConfig, error) {
	logger := ctxlog.FromContext(ctx).With("entity", e.Name)

	switch {
	case override.ExternalIDField != "":
		logger.Debug("External id taken from override.", "field", override.ExternalIDField)
		return entity.NewUpsertConfig(e.Name, override.ExternalIDField), nil
	case defaultExternalID != "" && e.HasExternalID(defaultExternalID):
		logger.Debug("External id taken from default.", "field", defaultExternalID)
		return entity.NewUpsertConfig(e.Name, defaultExternalID), nil
	}

	candidates := externalIDCandidates(e)
	if len(candidates) == 0 {
		logger.Debug("No external id candidates, falling back.", "field", FallbackExternalID)
		return entity.NewUpsertConfig(e.Name, FallbackExternalID), nil
	}

	counts, err := counter.CountPopulated(ctx, e.Name, candidates)
	if err != nil {
		return nil, fmt.Errorf("count external id candidates of %s: %w", e.Name, err)
	}
	field := BestExternalID(candidates, counts)
	logger.Debug("External id chosen by population counts.", "field", field, "candidates", candidates, "total", counts.Total)
	return entity.NewUpsertConfig(e.Name, field), nil
}

// externalIDCandidates lists writable external ids then id lookup fields,
// without duplicates and without the record id itself.
func externalIDCandidates(e *entity.Entity) []string {
	names := lo.Map(append(e.ExternalIDs(), e.UpsertableFields()...), func(f entity.Field, _ int) string {
		return f.Name
	})
	return lo.Without(lo.Uniq(names), FallbackExternalID)
}

// BestExternalID walks the candidates in order and keeps the last one whose
// count satisfies v == total || v > last, where last is the previous
// candidate's count.
func BestExternalID(candidates []string, counts *bulkapi.Counts) string {
	best := ""
	var last int64
	for i, name := range candidates {
		if i >= len(counts.Populated) {
			break
		}
		v := counts.Populated[i]
		if v == counts.Total || v > last {
			best = name
		}
		last = v
	}
	if best == "" {
		return FallbackExternalID
	}
	return best
}
