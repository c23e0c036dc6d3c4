package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trustroom/internal/apperr"
	"trustroom/internal/repo"
)

// commit issues a single conditional write. When nothing matched, the case is
// re-read to tell a missing case from a lost race.
func (e Engine) commit(ctx context.Context, op, id string, pred repo.Predicate, patch repo.Patch) error {
	n, err := e.Store.ConditionalUpdate(ctx, id, pred, patch)
	if err != nil {
		return storeErr(err)
	}
	if n > 0 {
		return nil
	}
	if _, err := e.Store.GetCase(ctx, id); err != nil {
		return storeErr(err)
	}
	e.Metrics.Conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	return apperr.New(apperr.KindConflict, apperr.MsgConflict)
}
