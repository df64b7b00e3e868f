// Package sources implements the three record sources: inline lists,
// key-value batches and paginated datasets.
package sources

import (
	"context"
	"fmt"
	"log/slog"

	"recordimport/internal/etl"
)

// DatasetClient fetches one page of a paginated dataset.
// An empty page signals the end of the dataset.
type DatasetClient interface {
	FetchPage(ctx context.Context, datasetID string, offset, limit int) ([]map[string]any, error)
}

// KeyValueRecord is a value stored under a key. Body is the decoded value.
type KeyValueRecord struct {
	Body        any
	ContentType string
}

// KeyValueClient looks up single keys. A nil record means the key is absent.
type KeyValueClient interface {
	GetRecord(ctx context.Context, storeID, key string) (*KeyValueRecord, error)
}

// Clients carries the external services the sources read from.
// Either may be nil; the matching source then fails when used.
type Clients struct {
	Datasets  DatasetClient
	KeyValues KeyValueClient
	Logger    *slog.Logger
}

// Register installs all source kinds into reg.
func Register(reg *etl.Registry, c Clients) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg.Register(&inlineSource{})
	reg.Register(&keyValueSource{client: c.KeyValues, logger: logger})
	reg.Register(&DatasetSource{Client: c.Datasets})
}

// NewRegistry returns a registry with all source kinds installed.
func NewRegistry(c Clients) *etl.Registry {
	reg := etl.NewRegistry()
	Register(reg, c)
	return reg
}

// toRecords converts a decoded value into records. It reports false only if
// v is not a list. Elements that are not objects become records with nil
// Data, which the engine counts as failed.
func toRecords(v any) ([]etl.Record, bool) {
	switch list := v.(type) {
	case []map[string]any:
		out := make([]etl.Record, len(list))
		for i, m := range list {
			out[i] = etl.NewRecord(m)
		}
		return out, true
	case []any:
		out := make([]etl.Record, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok || m == nil {
				out = append(out, etl.Record{})
				continue
			}
			out = append(out, etl.NewRecord(m))
		}
		return out, true
	default:
		return nil, false
	}
}

func errNoClient(kind etl.SourceKind) error {
	return fmt.Errorf("%s source: no client configured", kind)
}
