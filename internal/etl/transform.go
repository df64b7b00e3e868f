package etl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers reshape records between source and sink. Each takes a
// record and returns a (possibly modified) record and whether to keep it.
// keep == false drops the record: it never reaches the sink and is not
// counted. A non-nil error marks the record failed.

// Transformer processes a single record.
type Transformer interface {
	Transform(ctx context.Context, r Record) (Record, bool, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(ctx context.Context, r Record) (Record, bool, error)

func (f TransformerFunc) Transform(ctx context.Context, r Record) (Record, bool, error) {
	return f(ctx, r)
}

// Identity keeps every record unchanged.
var Identity Transformer = TransformerFunc(func(_ context.Context, r Record) (Record, bool, error) {
	return r, true, nil
})

// Hooks are the batch-scoped callbacks run once per import.
type Hooks interface {
	BeforeImport(ctx context.Context) error
	AfterImport(ctx context.Context) error
}

type noHooks struct{}

func (noHooks) BeforeImport(context.Context) error { return nil }
func (noHooks) AfterImport(context.Context) error  { return nil }

// NoHooks does nothing before or after the import.
var NoHooks Hooks = noHooks{}

// ── Transform Stage ────────────────────────────────────────

// Stage applies the user transform followed by declarative steps,
// uniformly for every record from every source.
type Stage struct {
	transformers []Transformer
}

// NewStage builds a stage from a user transform (nil means identity)
// and any declarative steps.
func NewStage(user Transformer, steps ...Transformer) *Stage {
	if user == nil {
		user = Identity
	}
	return &Stage{transformers: append([]Transformer{user}, steps...)}
}

// Apply runs the chain on r. It stops at the first drop or error.
func (s *Stage) Apply(ctx context.Context, r Record) (Record, bool, error) {
	for _, t := range s.transformers {
		var (
			keep bool
			err  error
		)
		r, keep, err = t.Transform(ctx, r)
		if err != nil {
			return r, false, fmt.Errorf("%w: transform: %w", ErrRecord, err)
		}
		if !keep {
			return r, false, nil
		}
		if r.Data == nil {
			r.Data = map[string]any{}
		}
	}
	return r, true, nil
}

// ── Declarative Steps ──────────────────────────────────────

// TransformConfig is a declarative step definition from the input.
type TransformConfig struct {
	Type   string         `json:"type" yaml:"type"` // "filter" | "rename" | "select" | "type_cast"
	Config map[string]any `json:"config" yaml:"config"`
}

// BuildSteps converts declarative configs into transformers.
// Unknown or incomplete steps are configuration errors.
func BuildSteps(configs []TransformConfig) ([]Transformer, error) {
	var ts []Transformer
	for i, tc := range configs {
		switch tc.Type {
		case "filter":
			field, _ := tc.Config["field"].(string)
			op, _ := tc.Config["op"].(string)
			if field == "" || op == "" {
				return nil, fmt.Errorf("%w: transforms[%d]: filter needs field and op", ErrConfig, i)
			}
			ts = append(ts, &FilterStep{Field: field, Op: op, Value: tc.Config["value"]})

		case "rename":
			mapping, ok := tc.Config["mapping"].(map[string]any)
			if !ok || len(mapping) == 0 {
				return nil, fmt.Errorf("%w: transforms[%d]: rename needs mapping", ErrConfig, i)
			}
			m := make(map[string]string, len(mapping))
			for k, v := range mapping {
				m[k] = fmt.Sprint(v)
			}
			ts = append(ts, &RenameStep{Mapping: m})

		case "select":
			fields, ok := tc.Config["fields"].([]any)
			if !ok || len(fields) == 0 {
				return nil, fmt.Errorf("%w: transforms[%d]: select needs fields", ErrConfig, i)
			}
			ff := make([]string, 0, len(fields))
			for _, f := range fields {
				ff = append(ff, fmt.Sprint(f))
			}
			ts = append(ts, &SelectStep{Fields: ff})

		case "type_cast":
			field, _ := tc.Config["field"].(string)
			castType, _ := tc.Config["castType"].(string)
			if field == "" || castType == "" {
				return nil, fmt.Errorf("%w: transforms[%d]: type_cast needs field and castType", ErrConfig, i)
			}
			ts = append(ts, &TypeCastStep{Field: field, CastType: castType})

		default:
			return nil, fmt.Errorf("%w: transforms[%d]: unknown type %q", ErrConfig, i, tc.Type)
		}
	}
	return ts, nil
}

// FilterStep drops records where the field does not satisfy Op against Value.
// A missing field never matches.
type FilterStep struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains"
	Value any
}

func (t *FilterStep) Transform(_ context.Context, r Record) (Record, bool, error) {
	v, ok := r.Data[t.Field]
	if !ok {
		return r, false, nil
	}
	switch t.Op {
	case "eq":
		return r, fmt.Sprint(v) == fmt.Sprint(t.Value), nil
	case "neq":
		return r, fmt.Sprint(v) != fmt.Sprint(t.Value), nil
	case "contains":
		return r, strings.Contains(fmt.Sprint(v), fmt.Sprint(t.Value)), nil
	case "gt":
		return r, toFloat(v) > toFloat(t.Value), nil
	case "lt":
		return r, toFloat(v) < toFloat(t.Value), nil
	default:
		return r, false, fmt.Errorf("unknown filter op %q", t.Op)
	}
}

// RenameStep renames fields.
type RenameStep struct {
	Mapping map[string]string // old → new
}

func (t *RenameStep) Transform(_ context.Context, r Record) (Record, bool, error) {
	for from, to := range t.Mapping {
		if v, ok := r.Data[from]; ok {
			delete(r.Data, from)
			r.Data[to] = v
		}
	}
	return r, true, nil
}

// SelectStep keeps only the listed fields.
type SelectStep struct {
	Fields []string
}

func (t *SelectStep) Transform(_ context.Context, r Record) (Record, bool, error) {
	kept := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := r.Data[f]; ok {
			kept[f] = v
		}
	}
	r.Data = kept
	return r, true, nil
}

// TypeCastStep converts a field to "number", "string" or "bool".
type TypeCastStep struct {
	Field    string
	CastType string
}

func (t *TypeCastStep) Transform(_ context.Context, r Record) (Record, bool, error) {
	v, ok := r.Data[t.Field]
	if !ok {
		return r, true, nil
	}
	switch t.CastType {
	case "number":
		f, ok := toFloatSafe(v)
		if !ok {
			return r, false, fmt.Errorf("field %q: cannot cast %v to number", t.Field, v)
		}
		r.Data[t.Field] = f
	case "string":
		r.Data[t.Field] = fmt.Sprint(v)
	case "bool":
		r.Data[t.Field] = toBool(v)
	default:
		return r, false, fmt.Errorf("unknown cast type %q", t.CastType)
	}
	return r, true, nil
}

// ── Helpers ────────────────────────────────────────────────

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	default:
		f, ok := toFloatSafe(v)
		return ok && f != 0
	}
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatSafe(v)
	return f
}
