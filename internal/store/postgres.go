package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxTxAttempts = 3

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps every entity in one JSONB table. Transactions lock the rows
// they read, so callers must read in a consistent kind order.
type Postgres struct {
	pgDB
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pgDB: pgDB{q: pool}, pool: pool}
}

func (p *Postgres) RunInTransaction(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			return fn(ctx, &pgDB{q: tx, forUpdate: true})
		})
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("store: transaction failed after %d attempts: %w", maxTxAttempts, err)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type pgDB struct {
	q         querier
	forUpdate bool
}

func parentCols(k *Key) (string, int64, string) {
	if k == nil || k.Parent == nil {
		return "", 0, ""
	}
	return k.Parent.Kind, k.Parent.ID, k.Parent.Name
}

func (d *pgDB) Get(ctx context.Context, key *Key) (*Entity, error) {
	if key.Incomplete() {
		return nil, ErrIncompleteKey
	}
	query := `SELECT parent_kind, parent_id, parent_name, data FROM entities
			  WHERE kind = $1 AND id = $2 AND name = $3`
	if d.forUpdate {
		query += " FOR UPDATE"
	}

	var (
		pKind, pName string
		pID          int64
		data         []byte
	)
	err := d.q.QueryRow(ctx, query, key.Kind, key.ID, key.Name).Scan(&pKind, &pID, &pName, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSuchEntity
		}
		return nil, fmt.Errorf("get entity %s: %w", key, err)
	}

	k := &Key{Kind: key.Kind, ID: key.ID, Name: key.Name}
	if pKind != "" {
		k.Parent = &Key{Kind: pKind, ID: pID, Name: pName}
	}
	return &Entity{Key: k, Data: data}, nil
}

func (d *pgDB) Put(ctx context.Context, key *Key, data []byte) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	pKind, pID, pName := parentCols(key)
	_, err := d.q.Exec(ctx,
		`INSERT INTO entities (kind, id, name, parent_kind, parent_id, parent_name, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, NOW())
		 ON CONFLICT (kind, id, name) DO UPDATE
		 SET parent_kind = EXCLUDED.parent_kind, parent_id = EXCLUDED.parent_id,
		     parent_name = EXCLUDED.parent_name, data = EXCLUDED.data, updated_at = NOW()`,
		key.Kind, key.ID, key.Name, pKind, pID, pName, string(data),
	)
	if err != nil {
		return fmt.Errorf("put entity %s: %w", key, err)
	}
	return nil
}

// Insert relies on ON CONFLICT DO NOTHING, which waits for a concurrent
// uncommitted insert of the same key before deciding.
func (d *pgDB) Insert(ctx context.Context, key *Key, data []byte) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	pKind, pID, pName := parentCols(key)
	tag, err := d.q.Exec(ctx,
		`INSERT INTO entities (kind, id, name, parent_kind, parent_id, parent_name, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, NOW())
		 ON CONFLICT (kind, id, name) DO NOTHING`,
		key.Kind, key.ID, key.Name, pKind, pID, pName, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityExists
	}
	return nil
}

func (d *pgDB) Delete(ctx context.Context, key *Key) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	_, err := d.q.Exec(ctx, `DELETE FROM entities WHERE kind = $1 AND id = $2 AND name = $3`,
		key.Kind, key.ID, key.Name)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", key, err)
	}
	return nil
}

func (d *pgDB) AllocateID(ctx context.Context) (int64, error) {
	var id int64
	if err := d.q.QueryRow(ctx, `SELECT nextval('entity_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate id: %w", err)
	}
	return id, nil
}

func whereClause(q Query) (string, []any) {
	conds := []string{"kind = $1"}
	args := []any{q.Kind}
	if q.Ancestor != nil {
		conds = append(conds, fmt.Sprintf("parent_kind = $%d AND parent_id = $%d AND parent_name = $%d",
			len(args)+1, len(args)+2, len(args)+3))
		args = append(args, q.Ancestor.Kind, q.Ancestor.ID, q.Ancestor.Name)
	}
	for _, f := range q.Filters {
		conds = append(conds, fmt.Sprintf("data->>$%d = $%d", len(args)+1, len(args)+2))
		args = append(args, f.Field, f.Value)
	}
	return strings.Join(conds, " AND "), args
}

func (d *pgDB) Run(ctx context.Context, q Query) (Page, error) {
	if err := validateQuery(q); err != nil {
		return Page{}, err
	}
	where, args := whereClause(q)
	query := `SELECT id, name, parent_kind, parent_id, parent_name, data FROM entities WHERE ` +
		where + ` ORDER BY id, name`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit+1)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query %s: %w", q.Kind, err)
	}
	defer rows.Close()

	var page Page
	for rows.Next() {
		var (
			e                  Entity
			id, pID            int64
			name, pKind, pName string
			data               []byte
		)
		if err := rows.Scan(&id, &name, &pKind, &pID, &pName, &data); err != nil {
			return Page{}, fmt.Errorf("scan %s: %w", q.Kind, err)
		}
		e.Key = &Key{Kind: q.Kind, ID: id, Name: name}
		if pKind != "" {
			e.Key.Parent = &Key{Kind: pKind, ID: pID, Name: pName}
		}
		e.Data = data
		page.Entities = append(page.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("query %s: %w", q.Kind, err)
	}

	if q.Limit > 0 && len(page.Entities) > q.Limit {
		page.Entities = page.Entities[:q.Limit]
		page.More = true
	}
	return page, nil
}

func (d *pgDB) Count(ctx context.Context, q Query) (int, error) {
	if err := validateQuery(q); err != nil {
		return 0, err
	}
	where, args := whereClause(q)
	var n int
	if err := d.q.QueryRow(ctx, `SELECT COUNT(*) FROM entities WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Kind, err)
	}
	return n, nil
}
