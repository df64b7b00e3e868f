package etl

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source produces a lazy, finite sequence of records for one
// descriptor. Implementations live in etl/sources/, one file per kind.

// SourceKind tags a SourceDescriptor.
type SourceKind string

const (
	SourceInline   SourceKind = "inline"
	SourceKeyValue SourceKind = "keyValue"
	SourceDataset  SourceKind = "dataset"
)

// sourceOrder is the fixed order in which configured sources are drained.
var sourceOrder = map[SourceKind]int{
	SourceInline:   0,
	SourceKeyValue: 1,
	SourceDataset:  2,
}

// SourceDescriptor selects exactly one source kind and carries its input.
type SourceDescriptor struct {
	Kind SourceKind `json:"kind"`

	// inline
	Records []Record `json:"records,omitempty"`

	// keyValue
	StoreID string   `json:"storeId,omitempty"`
	Keys    []string `json:"keys,omitempty"`

	// dataset
	DatasetID string `json:"datasetId,omitempty"`
}

// Label identifies the descriptor in log lines and errors.
func (d SourceDescriptor) Label() string {
	switch d.Kind {
	case SourceKeyValue:
		return fmt.Sprintf("%s(%s)", d.Kind, d.StoreID)
	case SourceDataset:
		return fmt.Sprintf("%s(%s)", d.Kind, d.DatasetID)
	default:
		return string(d.Kind)
	}
}

// SortDescriptors orders descriptors inline → keyValue → dataset.
// Descriptors of the same kind keep their declaration order.
func SortDescriptors(descs []SourceDescriptor) []SourceDescriptor {
	out := make([]SourceDescriptor, len(descs))
	copy(out, descs)
	sort.SliceStable(out, func(i, j int) bool {
		return sourceOrder[out[i].Kind] < sourceOrder[out[j].Kind]
	})
	return out
}

// Source is the interface every source kind implements.
type Source interface {
	// Kind returns the descriptor kind this source reads.
	Kind() SourceKind

	// Read yields records in deterministic order. A non-nil error ends the
	// sequence and is fatal for the run.
	Read(ctx context.Context, desc SourceDescriptor) iter.Seq2[Record, error]
}

// ── Source Registry ────────────────────────────────────────

// Registry maps source kinds to their readers.
type Registry struct {
	mu      sync.RWMutex
	sources map[SourceKind]Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[SourceKind]Source{}}
}

// Register installs s under its kind, replacing any previous reader.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Kind()] = s
}

// Get returns the reader for kind, or an error if none is registered.
func (r *Registry) Get(kind SourceKind) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[kind]
	if !ok {
		return nil, fmt.Errorf("unknown source kind: %q", kind)
	}
	return s, nil
}

// Kinds lists the registered kinds in drain order.
func (r *Registry) Kinds() []SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]SourceKind, 0, len(r.sources))
	for k := range r.sources {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return sourceOrder[kinds[i]] < sourceOrder[kinds[j]] })
	return kinds
}
