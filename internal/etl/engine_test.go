package etl_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordimport/internal/etl"
	"recordimport/internal/etl/sources"
)

func inline(records ...map[string]any) etl.SourceDescriptor {
	d := etl.SourceDescriptor{Kind: etl.SourceInline}
	for _, r := range records {
		d.Records = append(d.Records, etl.NewRecord(r))
	}
	return d
}

type recordingHooks struct {
	calls     []string
	beforeErr error
	afterErr  error
}

func (h *recordingHooks) BeforeImport(context.Context) error {
	h.calls = append(h.calls, "before")
	return h.beforeErr
}

func (h *recordingHooks) AfterImport(context.Context) error {
	h.calls = append(h.calls, "after")
	return h.afterErr
}

type fakeKV map[string]*sources.KeyValueRecord

func (f fakeKV) GetRecord(_ context.Context, _, key string) (*sources.KeyValueRecord, error) {
	if key == "broken" {
		return nil, errors.New("unreachable")
	}
	return f[key], nil
}

type fakeDataset struct {
	items   []map[string]any
	offsets []int
	failAt  int
}

func (f *fakeDataset) FetchPage(_ context.Context, _ string, offset, limit int) ([]map[string]any, error) {
	f.offsets = append(f.offsets, offset)
	if f.failAt > 0 && offset >= f.failAt {
		return nil, errors.New("service unavailable")
	}
	if offset >= len(f.items) {
		return nil, nil
	}
	return f.items[offset:min(offset+limit, len(f.items))], nil
}

func newEngine(store etl.Store, c sources.Clients) *etl.Engine {
	return &etl.Engine{Sources: sources.NewRegistry(c), Store: store}
}

func TestEngine_InlineWithoutKeys(t *testing.T) {
	store := &memStore{}
	e := newEngine(store, sources.Clients{})

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{inline(map[string]any{"a": 1}, map[string]any{"a": 2})},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, etl.ImportStats{Imported: 2}, res.Stats)
	assert.Len(t, store.docs, 2)
	assert.Equal(t, etl.StateDone, e.State())
}

func TestEngine_RerunUpdatesInPlace(t *testing.T) {
	store := &memStore{}
	e := newEngine(store, sources.Clients{})
	job := &etl.ImportJob{
		UniqueKeys: []string{"id"},
		Sources:    []etl.SourceDescriptor{inline(map[string]any{"id": 1, "v": "x"})},
	}

	first, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{Imported: 1}, first.Stats)

	second, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{Updated: 1}, second.Stats)

	require.Len(t, store.docs, 1)
	assert.Equal(t, "x", store.docs[0]["v"])
}

func TestEngine_TransformFailureIsIsolated(t *testing.T) {
	store := &memStore{}
	e := newEngine(store, sources.Clients{})
	e.Transform = etl.TransformerFunc(func(_ context.Context, r etl.Record) (etl.Record, bool, error) {
		d, ok := r.Data["d"].(int)
		if !ok || d == 0 {
			return r, false, errors.New("division by zero")
		}
		r.Data["q"] = 10 / d
		return r, true, nil
	})

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{inline(
			map[string]any{"d": 2},
			map[string]any{"x": 1},
			map[string]any{"d": 5},
		)},
	})
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{Imported: 2, Failed: 1}, res.Stats)
	assert.Equal(t, int64(3), res.RecordsRead)
}

func TestEngine_DroppedRecordsAreNotCounted(t *testing.T) {
	store := &memStore{}
	e := newEngine(store, sources.Clients{})
	e.Transform = etl.TransformerFunc(func(_ context.Context, r etl.Record) (etl.Record, bool, error) {
		return r, r.Data["keep"] == true, nil
	})

	var records []map[string]any
	for i := range 10 {
		records = append(records, map[string]any{"n": i, "keep": i%3 == 0})
	}
	res, err := e.Run(context.Background(), &etl.ImportJob{Sources: []etl.SourceDescriptor{inline(records...)}})
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.Stats.Total())
	assert.Equal(t, int64(6), res.Dropped)
	assert.Equal(t, 4, store.inserts)
}

func TestEngine_DryRunLeavesStoreUntouched(t *testing.T) {
	store := &memStore{}
	e := newEngine(store, sources.Clients{})
	e.Transform = etl.TransformerFunc(func(_ context.Context, r etl.Record) (etl.Record, bool, error) {
		if r.Data["bad"] == true {
			return r, false, errors.New("bad record")
		}
		return r, true, nil
	})

	res, err := e.Run(context.Background(), &etl.ImportJob{
		DryRun:     true,
		UniqueKeys: []string{"a"},
		Sources:    []etl.SourceDescriptor{inline(map[string]any{"a": 1}, map[string]any{"a": 2, "bad": true})},
	})
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{}, res.Stats)
	assert.Empty(t, store.docs)
}

func TestEngine_SourcesDrainInFixedOrder(t *testing.T) {
	store := &memStore{}
	kv := fakeKV{"k": {Body: []any{map[string]any{"from": "kv"}}}}
	ds := &fakeDataset{items: []map[string]any{{"from": "dataset"}}}
	e := newEngine(store, sources.Clients{KeyValues: kv, Datasets: ds})

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{
			{Kind: etl.SourceDataset, DatasetID: "ds"},
			{Kind: etl.SourceKeyValue, StoreID: "s", Keys: []string{"k"}},
			inline(map[string]any{"from": "inline"}),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{Imported: 3}, res.Stats)

	var order []any
	for _, d := range store.docs {
		order = append(order, d["from"])
	}
	assert.Equal(t, []any{"inline", "kv", "dataset"}, order)
}

func TestEngine_KeyValueBadKeySkipped(t *testing.T) {
	store := &memStore{}
	kv := fakeKV{
		"scalar": {Body: "not a list"},
		"good":   {Body: []any{map[string]any{"n": 1}, map[string]any{"n": 2}}},
	}
	e := newEngine(store, sources.Clients{KeyValues: kv})

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{{
			Kind: etl.SourceKeyValue, StoreID: "s",
			Keys: []string{"scalar", "missing", "broken", "good"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{Imported: 2}, res.Stats)
}

func TestEngine_NonObjectListElementsCountAsFailed(t *testing.T) {
	store := &memStore{}
	kv := fakeKV{"mixed": {Body: []any{map[string]any{"a": 1}, 5, map[string]any{"a": 2}}}}
	e := newEngine(store, sources.Clients{KeyValues: kv})

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{{Kind: etl.SourceKeyValue, StoreID: "s", Keys: []string{"mixed"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, etl.ImportStats{Imported: 2, Failed: 1}, res.Stats)
	assert.Equal(t, int64(3), res.RecordsRead)
	assert.Len(t, store.docs, 2)
}

func TestEngine_NoSourcesIsConfigError(t *testing.T) {
	hooks := &recordingHooks{}
	e := newEngine(&memStore{}, sources.Clients{})
	e.Hooks = hooks

	res, err := e.Run(context.Background(), &etl.ImportJob{})
	require.ErrorIs(t, err, etl.ErrConfig)
	assert.Equal(t, "error", res.Status)
	assert.Empty(t, hooks.calls)
	assert.Equal(t, etl.StateFailed, e.State())
}

func TestEngine_HooksRunOnceAroundEmptySources(t *testing.T) {
	hooks := &recordingHooks{}
	e := newEngine(&memStore{}, sources.Clients{})
	e.Hooks = hooks

	res, err := e.Run(context.Background(), &etl.ImportJob{Sources: []etl.SourceDescriptor{inline()}})
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, hooks.calls)
	assert.Equal(t, etl.ImportStats{}, res.Stats)
}

func TestEngine_EmptyKeyListStillRunsHooks(t *testing.T) {
	hooks := &recordingHooks{}
	e := newEngine(&memStore{}, sources.Clients{KeyValues: fakeKV{}})
	e.Hooks = hooks

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{{Kind: etl.SourceKeyValue, StoreID: "s"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, hooks.calls)
	assert.Equal(t, etl.ImportStats{}, res.Stats)
}

func TestEngine_HookErrorsAbort(t *testing.T) {
	t.Run("before", func(t *testing.T) {
		store := &memStore{}
		e := newEngine(store, sources.Clients{})
		e.Hooks = &recordingHooks{beforeErr: errors.New("nope")}

		_, err := e.Run(context.Background(), &etl.ImportJob{Sources: []etl.SourceDescriptor{inline(map[string]any{"a": 1})}})
		require.ErrorIs(t, err, etl.ErrHook)
		assert.Empty(t, store.docs)
	})
	t.Run("after", func(t *testing.T) {
		store := &memStore{}
		e := newEngine(store, sources.Clients{})
		e.Hooks = &recordingHooks{afterErr: errors.New("nope")}

		res, err := e.Run(context.Background(), &etl.ImportJob{Sources: []etl.SourceDescriptor{inline(map[string]any{"a": 1})}})
		require.ErrorIs(t, err, etl.ErrHook)
		assert.Equal(t, etl.ImportStats{Imported: 1}, res.Stats)
	})
}

func TestEngine_DatasetFailureIsFatal(t *testing.T) {
	store := &memStore{}
	var items []map[string]any
	for i := range 25 {
		items = append(items, map[string]any{"n": i})
	}
	ds := &fakeDataset{items: items, failAt: 20}
	reg := sources.NewRegistry(sources.Clients{})
	reg.Register(&sources.DatasetSource{Client: ds, PageSize: 10})
	hooks := &recordingHooks{}
	e := &etl.Engine{Sources: reg, Store: store, Hooks: hooks}

	res, err := e.Run(context.Background(), &etl.ImportJob{
		Sources: []etl.SourceDescriptor{{Kind: etl.SourceDataset, DatasetID: "ds"}},
	})
	require.ErrorIs(t, err, etl.ErrSource)
	assert.Contains(t, err.Error(), "offset 20")
	assert.Equal(t, etl.ImportStats{Imported: 20}, res.Stats)
	assert.Equal(t, []string{"before"}, hooks.calls)
}

func TestEngine_CountsAddUp(t *testing.T) {
	for _, n := range []int{0, 1, 7, 30} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			store := &memStore{failInsert: func(f map[string]any) error {
				if f["n"].(int)%5 == 4 {
					return errors.New("rejected")
				}
				return nil
			}}
			e := newEngine(store, sources.Clients{})
			e.Transform = etl.TransformerFunc(func(_ context.Context, r etl.Record) (etl.Record, bool, error) {
				return r, r.Data["n"].(int)%2 == 0, nil
			})
			var records []map[string]any
			for i := range n {
				records = append(records, map[string]any{"n": i, "k": i % 3})
			}
			job := &etl.ImportJob{UniqueKeys: []string{"k"}, Sources: []etl.SourceDescriptor{inline(records...)}}

			res, err := e.Run(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, res.RecordsRead-res.Dropped, res.Stats.Total())
		})
	}
}
