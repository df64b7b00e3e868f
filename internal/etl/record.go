package etl

import "encoding/json"

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// All sources emit Records, the transform stage reshapes them and the
// sink writes them into the target collection. No fixed schema.

// Record is a single document flowing through the pipeline. A Record with
// nil Data stands for a source element that was not an object.
type Record struct {
	Data map[string]any `json:"data"`
}

// NewRecord wraps a field map. A nil map becomes an empty record.
func NewRecord(data map[string]any) Record {
	if data == nil {
		data = map[string]any{}
	}
	return Record{Data: data}
}

// Pick projects the record onto the given fields, in order.
// Returns the projection and the first field that is missing, if any.
func (r Record) Pick(fields []string) (map[string]any, string) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := r.Data[f]
		if !ok {
			return out, f
		}
		out[f] = v
	}
	return out, ""
}

// String renders the record as JSON for log lines.
func (r Record) String() string {
	b, err := json.Marshal(r.Data)
	if err != nil {
		return "<unprintable record>"
	}
	return string(b)
}

// ── Stored Record ──────────────────────────────────────────

// StoredRecord is an entry already present in the target collection.
type StoredRecord struct {
	ID   any            `json:"id"`
	Data map[string]any `json:"data"`
}
