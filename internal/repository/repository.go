package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flicky/marketplace-api/internal/store"
)

const (
	KindUsers    = "Users"
	KindProducts = "Products"
	KindOrders   = "Orders"
)

// Repositories bundles typed access over one store handle, which may be a
// transaction.
type Repositories struct {
	Users    UserRepository
	Products ProductRepository
	Orders   OrderRepository
}

func New(db store.DB) *Repositories {
	return &Repositories{
		Users:    NewUserRepository(db),
		Products: NewProductRepository(db),
		Orders:   NewOrderRepository(db),
	}
}

func UserKey(id string) *store.Key {
	return store.NameKey(KindUsers, id, nil)
}

func ProductKey(id int64) *store.Key {
	return store.IDKey(KindProducts, id, nil)
}

func OrderKey(id int64, owner string) *store.Key {
	var parent *store.Key
	if owner != "" {
		parent = UserKey(owner)
	}
	return store.IDKey(KindOrders, id, parent)
}

// getDoc loads key into v. A missing entity yields (false, nil).
func getDoc(ctx context.Context, db store.DB, key *store.Key, v any) (bool, error) {
	e, err := db.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNoSuchEntity) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putDoc(ctx context.Context, db store.DB, key *store.Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return db.Put(ctx, key, data)
}

// insertDoc fails with store.ErrEntityExists when key is taken.
func insertDoc(ctx context.Context, db store.DB, key *store.Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return db.Insert(ctx, key, data)
}

func decodePage[T any](entities []store.Entity, setKey func(*T, *store.Key)) ([]T, error) {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		var v T
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		setKey(&v, e.Key)
		out = append(out, v)
	}
	return out, nil
}
