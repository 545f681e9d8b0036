package keys

import (
	"context"
	"iter"
	"sort"
	"sync"

	"sigtool.dev/sigtool/sigerr"
)

// MemStore is an in-memory Store. Records are copied on the way in and out.
type MemStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]Record)}
}

func (m *MemStore) Insert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return sigerr.Wrap(sigerr.KindTimeout, err, "insert key %q", rec.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.Name]; ok {
		return sigerr.New(sigerr.KindDuplicateName, "key %q already exists", rec.Name)
	}
	m.recs[rec.Name] = rec.Clone()
	return nil
}

func (m *MemStore) Get(ctx context.Context, name string) (Record, error) {
	if err := CheckKeyName(name); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[name]
	if !ok {
		return Record{}, sigerr.New(sigerr.KindNotFound, "key %q not found", name)
	}
	return rec.Clone(), nil
}

// List snapshots the set of names when iteration starts.
func (m *MemStore) List(ctx context.Context) iter.Seq2[Identity, error] {
	return func(yield func(Identity, error) bool) {
		m.mu.RLock()
		ids := make([]Identity, 0, len(m.recs))
		for _, rec := range m.recs {
			ids = append(ids, rec.Identity())
		}
		m.mu.RUnlock()
		sort.Slice(ids, func(i, j int) bool { return ids[i].Name < ids[j].Name })

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(Identity{}, sigerr.Wrap(sigerr.KindTimeout, err, "list keys"))
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}
