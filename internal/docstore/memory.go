package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same merge and containment
// semantics as the Postgres implementation. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Kind]map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Kind]map[string]Document)}
}

func (s *MemoryStore) Collection(kind Kind) Collection {
	return &memCollection{store: s, kind: kind}
}

// collection lazily creates the per-kind map; callers must hold the write
// lock. Readers use view, which never mutates.
func (s *MemoryStore) collection(kind Kind) map[string]Document {
	col, ok := s.data[kind]
	if !ok {
		col = make(map[string]Document)
		s.data[kind] = col
	}
	return col
}

func (s *MemoryStore) view(kind Kind) map[string]Document {
	return s.data[kind]
}

type memCollection struct {
	store *MemoryStore
	kind  Kind
}

func (c *memCollection) FindOne(_ context.Context, id string) (Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	doc, ok := c.store.view(c.kind)[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(doc), nil
}

func (c *memCollection) UpdateOne(_ context.Context, id string, set Document, upsert bool) (Result, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	col := c.store.collection(c.kind)
	existing, ok := col[id]
	if !ok && !upsert {
		return Result{Acknowledged: true, Matched: 0}, nil
	}
	merged := Clone(existing)
	if merged == nil {
		merged = make(Document, len(set)+1)
	}
	for k, v := range set {
		merged[k] = cloneValue(v)
	}
	merged["_id"] = id
	col[id] = merged
	res := Result{Acknowledged: true, Matched: 1}
	if !ok {
		res.UpsertedID = id
	}
	return res, nil
}

func (c *memCollection) InsertMany(_ context.Context, docs []Document) (Result, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	col := c.store.collection(c.kind)
	for _, doc := range docs {
		id := ID(doc)
		if id == "" {
			return Result{}, ErrNotFound
		}
		col[id] = Clone(doc)
	}
	return Result{Acknowledged: true, Matched: int64(len(docs))}, nil
}

func (c *memCollection) Find(_ context.Context, filter Document) (Cursor, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	col := c.store.view(c.kind)
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]Document, 0, len(col))
	for _, id := range ids {
		doc := col[id]
		if len(filter) == 0 || contains(doc, filter) {
			docs = append(docs, Clone(doc))
		}
	}
	return &memCursor{docs: docs, idx: -1}, nil
}

func (c *memCollection) DeleteOne(_ context.Context, id string) (Result, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	col := c.store.collection(c.kind)
	if _, ok := col[id]; !ok {
		return Result{Acknowledged: true, Matched: 0}, nil
	}
	delete(col, id)
	return Result{Acknowledged: true, Matched: 1}, nil
}

// contains mirrors JSONB @> containment: objects must contain all filter
// keys recursively, arrays must contain every filter element, scalars must
// be equal.
func contains(value, filter any) bool {
	switch f := filter.(type) {
	case map[string]any:
		v, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for key, fv := range f {
			vv, ok := v[key]
			if !ok || !contains(vv, fv) {
				return false
			}
		}
		return true
	case []any:
		v, ok := value.([]any)
		if !ok {
			return false
		}
		for _, fe := range f {
			found := false
			for _, ve := range v {
				if contains(ve, fe) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return scalarEqual(value, filter)
	}
}

// scalarEqual tolerates the int/float64 split that JSON decoding introduces.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

type memCursor struct {
	docs []Document
	idx  int
}

func (c *memCursor) Next(_ context.Context) bool {
	c.idx++
	return c.idx < len(c.docs)
}

func (c *memCursor) Document() Document {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return nil
	}
	return c.docs[c.idx]
}

func (c *memCursor) Err() error   { return nil }
func (c *memCursor) Close() error { return nil }
