package sources

import (
	"context"
	"fmt"
	"iter"

	"recordimport/internal/etl"
)

// ── Dataset Source ─────────────────────────────────────────
// Walks a paginated dataset with an offset cursor. Only one page is held
// in memory. The first empty page ends the walk; a failed fetch is fatal.

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 10000

// DatasetSource reads etl.SourceDataset descriptors.
type DatasetSource struct {
	Client   DatasetClient
	PageSize int // zero means DefaultPageSize
}

func (s *DatasetSource) Kind() etl.SourceKind { return etl.SourceDataset }

func (s *DatasetSource) Read(ctx context.Context, desc etl.SourceDescriptor) iter.Seq2[etl.Record, error] {
	limit := s.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return func(yield func(etl.Record, error) bool) {
		if s.Client == nil {
			yield(etl.Record{}, errNoClient(etl.SourceDataset))
			return
		}
		for offset := 0; ; offset += limit {
			page, err := s.Client.FetchPage(ctx, desc.DatasetID, offset, limit)
			if err != nil {
				yield(etl.Record{}, fmt.Errorf("fetch page at offset %d: %w", offset, err))
				return
			}
			if len(page) == 0 {
				return
			}
			for _, item := range page {
				if !yield(etl.NewRecord(item), nil) {
					return
				}
			}
		}
	}
}
