package repository

import (
	"context"
	"fmt"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/store"
)

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	Update(ctx context.Context, order *model.Order) error
	Delete(ctx context.Context, id int64) error
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Order, bool, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	All(ctx context.Context) ([]model.Order, error)
}

type orderRepo struct{ db store.DB }

func NewOrderRepository(db store.DB) OrderRepository {
	return &orderRepo{db: db}
}

func setOrderKey(o *model.Order, k *store.Key) { o.ID = k.ID }

// Create allocates an id and stores the order under its owner's key.
func (r *orderRepo) Create(ctx context.Context, order *model.Order) error {
	id, err := r.db.AllocateID(ctx)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	order.ID = id
	if order.Products == nil {
		order.Products = []model.LineItem{}
	}
	if err := putDoc(ctx, r.db, OrderKey(id, order.User), order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	o := &model.Order{}
	found, err := getDoc(ctx, r.db, OrderKey(id, ""), o)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !found {
		return nil, nil
	}
	o.ID = id
	if o.Products == nil {
		o.Products = []model.LineItem{}
	}
	return o, nil
}

func (r *orderRepo) Update(ctx context.Context, order *model.Order) error {
	if order.Products == nil {
		order.Products = []model.LineItem{}
	}
	if err := putDoc(ctx, r.db, OrderKey(order.ID, order.User), order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (r *orderRepo) Delete(ctx context.Context, id int64) error {
	if err := r.db.Delete(ctx, OrderKey(id, "")); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func (r *orderRepo) run(ctx context.Context, q store.Query) ([]model.Order, bool, error) {
	page, err := r.db.Run(ctx, q)
	if err != nil {
		return nil, false, fmt.Errorf("list orders: %w", err)
	}
	orders, err := decodePage(page.Entities, setOrderKey)
	if err != nil {
		return nil, false, fmt.Errorf("list orders: %w", err)
	}
	return orders, page.More, nil
}

func (r *orderRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Order, bool, error) {
	return r.run(ctx, store.NewQuery(KindOrders).WithAncestor(UserKey(userID)).Page(limit, offset))
}

func (r *orderRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	n, err := r.db.Count(ctx, store.NewQuery(KindOrders).WithAncestor(UserKey(userID)))
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *orderRepo) ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	orders, _, err := r.run(ctx, store.NewQuery(KindOrders).Filter("status", string(status)))
	return orders, err
}

func (r *orderRepo) All(ctx context.Context) ([]model.Order, error) {
	orders, _, err := r.run(ctx, store.NewQuery(KindOrders))
	return orders, err
}
