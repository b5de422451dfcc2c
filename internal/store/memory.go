package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

type memRow struct {
	key  *Key
	data []byte
}

type memRows map[string]memRow

func rowID(k *Key) string {
	return fmt.Sprintf("%s\x00%d\x00%s", k.Kind, k.ID, k.Name)
}

// Memory is an in-process Store. Writes are serialised; each transaction
// works on a private copy of the rows that replaces the live set on commit.
type Memory struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	rows   memRows
	nextID atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{rows: make(memRows)}
}

func (m *Memory) snapshot() memRows {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(memRows, len(m.rows))
	for id, r := range m.rows {
		cp[id] = r
	}
	return cp
}

func (m *Memory) RunInTransaction(ctx context.Context, fn TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{rows: m.snapshot(), ids: &m.nextID}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.rows = tx.rows
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key *Key) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memGet(m.rows, key)
}

func (m *Memory) Put(ctx context.Context, key *Key, data []byte) error {
	return m.RunInTransaction(ctx, func(ctx context.Context, tx DB) error {
		return tx.Put(ctx, key, data)
	})
}

func (m *Memory) Insert(ctx context.Context, key *Key, data []byte) error {
	return m.RunInTransaction(ctx, func(ctx context.Context, tx DB) error {
		return tx.Insert(ctx, key, data)
	})
}

func (m *Memory) Delete(ctx context.Context, key *Key) error {
	return m.RunInTransaction(ctx, func(ctx context.Context, tx DB) error {
		return tx.Delete(ctx, key)
	})
}

func (m *Memory) AllocateID(context.Context) (int64, error) {
	return m.nextID.Add(1), nil
}

func (m *Memory) Run(ctx context.Context, q Query) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memRun(m.rows, q)
}

func (m *Memory) Count(ctx context.Context, q Query) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memCount(m.rows, q)
}

func (m *Memory) Ping(context.Context) error  { return nil }
func (m *Memory) Close(context.Context) error { return nil }

type memTx struct {
	rows memRows
	ids  *atomic.Int64
}

func (t *memTx) Get(_ context.Context, key *Key) (*Entity, error) {
	return memGet(t.rows, key)
}

func (t *memTx) Put(_ context.Context, key *Key, data []byte) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	if !json.Valid(data) {
		return fmt.Errorf("store: put %s: invalid JSON document", key)
	}
	t.rows[rowID(key)] = memRow{key: key.clone(), data: append([]byte(nil), data...)}
	return nil
}

func (t *memTx) Insert(ctx context.Context, key *Key, data []byte) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	if _, ok := t.rows[rowID(key)]; ok {
		return ErrEntityExists
	}
	return t.Put(ctx, key, data)
}

func (t *memTx) Delete(_ context.Context, key *Key) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	delete(t.rows, rowID(key))
	return nil
}

func (t *memTx) AllocateID(context.Context) (int64, error) {
	return t.ids.Add(1), nil
}

func (t *memTx) Run(_ context.Context, q Query) (Page, error) {
	return memRun(t.rows, q)
}

func (t *memTx) Count(_ context.Context, q Query) (int, error) {
	return memCount(t.rows, q)
}

func memGet(rows memRows, key *Key) (*Entity, error) {
	if key.Incomplete() {
		return nil, ErrIncompleteKey
	}
	r, ok := rows[rowID(key)]
	if !ok {
		return nil, ErrNoSuchEntity
	}
	return &Entity{Key: r.key.clone(), Data: append(json.RawMessage(nil), r.data...)}, nil
}

func memMatch(rows memRows, q Query) ([]memRow, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	var out []memRow
	for _, r := range rows {
		if r.key.Kind != q.Kind {
			continue
		}
		if q.Ancestor != nil && !q.Ancestor.Equal(r.key.Parent) {
			continue
		}
		ok, err := matchFilters(r.data, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.ID != out[j].key.ID {
			return out[i].key.ID < out[j].key.ID
		}
		return out[i].key.Name < out[j].key.Name
	})
	return out, nil
}

func memRun(rows memRows, q Query) (Page, error) {
	matched, err := memMatch(rows, q)
	if err != nil {
		return Page{}, err
	}
	if q.Offset >= len(matched) {
		return Page{}, nil
	}
	matched = matched[q.Offset:]

	var page Page
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
		page.More = true
	}
	page.Entities = make([]Entity, 0, len(matched))
	for _, r := range matched {
		page.Entities = append(page.Entities, Entity{Key: r.key.clone(), Data: append(json.RawMessage(nil), r.data...)})
	}
	return page, nil
}

func memCount(rows memRows, q Query) (int, error) {
	q.Offset, q.Limit = 0, 0
	matched, err := memMatch(rows, q)
	return len(matched), err
}

func matchFilters(data []byte, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("store: decode document: %w", err)
	}
	for _, f := range filters {
		v, _ := doc[f.Field].(string)
		if v != f.Value {
			return false, nil
		}
	}
	return true, nil
}
