package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/repository"
	"github.com/flicky/marketplace-api/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e model.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	st       store.Store
	repos    *repository.Repositories
	pub      *recordingPublisher
	orders   *OrderService
	products *ProductService
	users    *UserService
	audit    *AuditService
	cleanup  *CleanupService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t *testing.T, st store.Store) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := &recordingPublisher{}
	f := &fixture{
		st:       st,
		repos:    repository.New(st),
		pub:      pub,
		orders:   NewOrderService(st, nil, pub, log),
		products: NewProductService(st, nil, pub, log),
		users:    NewUserService(st),
		audit:    NewAuditService(st),
		cleanup:  NewCleanupService(st, nil, log),
	}
	f.orders.now = func() time.Time { return testNow }
	return f
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func (f *fixture) user(t *testing.T, sub string) {
	t.Helper()
	_, err := f.users.EnsureUser(context.Background(), sub, sub, sub+"@example.com")
	require.NoError(t, err)
}

func (f *fixture) product(t *testing.T, name, price string, stock int) model.Product {
	t.Helper()
	created, err := f.products.Create(context.Background(), []dto.ProductInput{{
		Name: strPtr(name), Description: strPtr(name + " description"), Price: decPtr(price), Stock: intPtr(stock),
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func (f *fixture) order(t *testing.T, sub string) *model.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), sub, &dto.OrderInput{BillingAddress: strPtr("1 Main St")})
	require.NoError(t, err)
	return o
}

func (f *fixture) loadProduct(t *testing.T, id int64) *model.Product {
	t.Helper()
	p, err := f.repos.Products.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) loadOrder(t *testing.T, id int64) *model.Order {
	t.Helper()
	o, err := f.repos.Orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (f *fixture) mirror(t *testing.T, sub string, orderID int64) *model.Order {
	t.Helper()
	u, err := f.repos.Users.GetByID(context.Background(), sub)
	require.NoError(t, err)
	require.NotNil(t, u)
	i := u.OrderIndex(orderID)
	require.GreaterOrEqual(t, i, 0, "order %d missing from %s mirror", orderID, sub)
	return &u.Orders[i]
}

func (f *fixture) requireNoDrift(t *testing.T) {
	t.Helper()
	drift, err := f.audit.AuditAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, drift)
}

var errInjected = errors.New("injected write failure")

// failingStore fails every write of failKind made inside a transaction.
type failingStore struct {
	*store.Memory
	failKind string
}

func (s *failingStore) RunInTransaction(ctx context.Context, fn store.TxFunc) error {
	return s.Memory.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		return fn(ctx, &failingDB{DB: tx, failKind: s.failKind})
	})
}

type failingDB struct {
	store.DB
	failKind string
}

func (d *failingDB) Put(ctx context.Context, key *store.Key, data []byte) error {
	if key.Kind == d.failKind {
		return errInjected
	}
	return d.DB.Put(ctx, key, data)
}
