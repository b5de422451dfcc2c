// Package store is a small kind/key document store. Entities are JSON
// documents addressed by a Key, grouped by kind and optionally parented
// under another key. Backends: Postgres (JSONB), MongoDB and in-memory.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrNoSuchEntity  = errors.New("store: no such entity")
	ErrIncompleteKey = errors.New("store: incomplete key")
	ErrEntityExists  = errors.New("store: entity already exists")
)

// Key identifies an entity by (Kind, ID, Name). Parent records lineage for
// ancestor queries and does not take part in lookups.
type Key struct {
	Kind   string
	ID     int64
	Name   string
	Parent *Key
}

func IDKey(kind string, id int64, parent *Key) *Key {
	return &Key{Kind: kind, ID: id, Parent: parent}
}

func NameKey(kind, name string, parent *Key) *Key {
	return &Key{Kind: kind, Name: name, Parent: parent}
}

func (k *Key) Incomplete() bool {
	return k == nil || k.Kind == "" || (k.ID == 0 && k.Name == "")
}

func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.Kind == o.Kind && k.ID == o.ID && k.Name == o.Name
}

func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	s := k.Kind + ","
	if k.Name != "" {
		s += strconv.Quote(k.Name)
	} else {
		s += strconv.FormatInt(k.ID, 10)
	}
	if k.Parent != nil {
		return k.Parent.String() + "/" + s
	}
	return s
}

func (k *Key) clone() *Key {
	if k == nil {
		return nil
	}
	c := *k
	c.Parent = k.Parent.clone()
	return &c
}

type Entity struct {
	Key  *Key
	Data json.RawMessage
}

// Filter is an equality match on a top-level string field of the document.
type Filter struct {
	Field string
	Value string
}

// Query selects entities of one kind. Limit 0 means unbounded. Results are
// ordered by (ID, Name).
type Query struct {
	Kind     string
	Ancestor *Key
	Filters  []Filter
	Offset   int
	Limit    int
}

func NewQuery(kind string) Query {
	return Query{Kind: kind}
}

func (q Query) WithAncestor(k *Key) Query {
	q.Ancestor = k
	return q
}

func (q Query) Filter(field, value string) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

func (q Query) Page(limit, offset int) Query {
	q.Limit = limit
	q.Offset = offset
	return q
}

// Page is one window of query results. More reports whether rows exist past
// the window.
type Page struct {
	Entities []Entity
	More     bool
}

// DB is the per-entity surface shared by a Store and its transactions.
type DB interface {
	Get(ctx context.Context, key *Key) (*Entity, error)
	Put(ctx context.Context, key *Key, data []byte) error
	// Insert writes only if key is absent, else returns ErrEntityExists.
	Insert(ctx context.Context, key *Key, data []byte) error
	Delete(ctx context.Context, key *Key) error
	AllocateID(ctx context.Context) (int64, error)
	Run(ctx context.Context, q Query) (Page, error)
	Count(ctx context.Context, q Query) (int, error)
}

// TxFunc runs inside a transaction. Its ctx must be used for every call on
// tx; a returned error rolls the transaction back.
type TxFunc func(ctx context.Context, tx DB) error

type Store interface {
	DB
	RunInTransaction(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func validateQuery(q Query) error {
	if q.Kind == "" {
		return fmt.Errorf("store: query without kind")
	}
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("store: negative offset or limit")
	}
	return nil
}
