package sources

import (
	"context"
	"iter"
	"log/slog"

	"recordimport/internal/etl"
)

// ── Key-Value Source ───────────────────────────────────────
// Each key resolves to a stored list of records. Keys that fail, are
// absent, or hold anything other than a list are skipped. A list element
// that is not an object is passed on as an empty record.

type keyValueSource struct {
	client KeyValueClient
	logger *slog.Logger
}

func (s *keyValueSource) Kind() etl.SourceKind { return etl.SourceKeyValue }

func (s *keyValueSource) Read(ctx context.Context, desc etl.SourceDescriptor) iter.Seq2[etl.Record, error] {
	return func(yield func(etl.Record, error) bool) {
		if s.client == nil {
			yield(etl.Record{}, errNoClient(etl.SourceKeyValue))
			return
		}
		for _, key := range desc.Keys {
			rec, err := s.client.GetRecord(ctx, desc.StoreID, key)
			if err != nil {
				s.logger.Warn("cannot import records from store", "storeId", desc.StoreID, "key", key, "error", err)
				continue
			}
			if rec == nil {
				s.logger.Warn("cannot import records from store: key not found", "storeId", desc.StoreID, "key", key)
				continue
			}
			records, ok := toRecords(rec.Body)
			if !ok {
				s.logger.Warn("cannot import records from store: value is not a list",
					"storeId", desc.StoreID, "key", key, "contentType", rec.ContentType)
				continue
			}
			for _, r := range records {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}
