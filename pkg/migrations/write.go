package migrations

import (
	"context"
	"fmt"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/batch"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// moved is a source row and the record it becomes.
type moved struct {
	from *table.Entity
	to   models.Record
}

// writeMoved upserts every converted record into t. With deleteStale the
// old rows whose address changed are removed as well: those sharing a
// partition with the new rows ride the same transaction, the rest go in a
// second submission once the new rows are durable.
func writeMoved(ctx context.Context, t table.Table, rows []moved, deleteStale bool) error {
	w := batch.New(t)
	written := make(map[string]struct{}, len(rows))
	partitions := make(map[string]struct{})
	for _, m := range rows {
		e := m.to.Entity()
		w.UpsertEntity(e, table.Replace)
		written[e.Key()] = struct{}{}
		partitions[e.PartitionKey] = struct{}{}
	}

	var later []*table.Entity
	if deleteStale {
		for _, m := range rows {
			if _, ok := written[m.from.Key()]; ok {
				continue
			}
			if _, ok := partitions[m.from.PartitionKey]; ok {
				w.DeleteEntity(m.from)
				continue
			}
			later = append(later, m.from)
		}
	}
	if err := submit(ctx, w); err != nil {
		return err
	}
	if len(later) == 0 {
		return nil
	}
	for _, e := range later {
		w.DeleteEntity(e)
	}
	if err := submit(ctx, w); err != nil {
		return fmt.Errorf("delete stale rows: %w", err)
	}
	logger.Debug("migration_stale_deleted", "table", t.Name(), "rows", len(later))
	return nil
}

// submit flushes w and names the failing entity when the store reports one.
func submit(ctx context.Context, w *batch.Writer) error {
	_, err := w.SubmitBatch(ctx)
	if err == nil {
		return nil
	}
	if failed, ok := w.TryGetFailedEntity(err); ok {
		return fmt.Errorf("write %s: %w", failed.Key(), err)
	}
	return err
}

func upsertIndex(ctx context.Context, t table.Table, recs []*models.IndexRecord) error {
	if len(recs) == 0 {
		return nil
	}
	w := batch.New(t)
	for _, x := range recs {
		w.UpsertEntity(x.Entity(), table.Replace)
	}
	return submit(ctx, w)
}
