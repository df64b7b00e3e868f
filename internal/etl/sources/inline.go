package sources

import (
	"context"
	"iter"
	"maps"

	"recordimport/internal/etl"
)

// ── Inline Source ──────────────────────────────────────────
// Records supplied directly in the input, yielded in order. Each record
// is a shallow copy so repeated runs see the input unchanged.

type inlineSource struct{}

func (s *inlineSource) Kind() etl.SourceKind { return etl.SourceInline }

func (s *inlineSource) Read(_ context.Context, desc etl.SourceDescriptor) iter.Seq2[etl.Record, error] {
	return func(yield func(etl.Record, error) bool) {
		for _, r := range desc.Records {
			if !yield(etl.NewRecord(maps.Clone(r.Data)), nil) {
				return
			}
		}
	}
}
