package etl_test

import (
	"context"
	"errors"
	"maps"
	"reflect"

	"recordimport/internal/etl"
)

// memStore is an in-memory etl.Store for tests.
type memStore struct {
	docs   []map[string]any
	nextID int

	inserts int
	updates int

	failInsert func(fields map[string]any) error
	failFind   error
}

func (m *memStore) FindOne(_ context.Context, filter map[string]any) (*etl.StoredRecord, error) {
	if m.failFind != nil {
		return nil, m.failFind
	}
	for _, d := range m.docs {
		if matches(d, filter) {
			data := maps.Clone(d)
			delete(data, "_id")
			return &etl.StoredRecord{ID: d["_id"], Data: data}, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateOne(_ context.Context, id any, fields map[string]any) error {
	for i, d := range m.docs {
		if d["_id"] == id {
			doc := maps.Clone(fields)
			doc["_id"] = id
			m.docs[i] = doc
			m.updates++
			return nil
		}
	}
	return errors.New("no document with that id")
}

func (m *memStore) InsertOne(_ context.Context, fields map[string]any) (any, error) {
	if m.failInsert != nil {
		if err := m.failInsert(fields); err != nil {
			return nil, err
		}
	}
	m.nextID++
	doc := maps.Clone(fields)
	doc["_id"] = m.nextID
	m.docs = append(m.docs, doc)
	m.inserts++
	return m.nextID, nil
}

func matches(doc, filter map[string]any) bool {
	for k, v := range filter {
		dv, ok := doc[k]
		if !ok || !reflect.DeepEqual(dv, v) {
			return false
		}
	}
	return true
}
