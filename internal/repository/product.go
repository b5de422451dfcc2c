package repository

import (
	"context"
	"fmt"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/store"
)

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int) ([]model.Product, bool, error)
	All(ctx context.Context) ([]model.Product, error)
	Count(ctx context.Context) (int, error)
}

type productRepo struct{ db store.DB }

func NewProductRepository(db store.DB) ProductRepository {
	return &productRepo{db: db}
}

func setProductKey(p *model.Product, k *store.Key) { p.ID = k.ID }

func (r *productRepo) Create(ctx context.Context, product *model.Product) error {
	id, err := r.db.AllocateID(ctx)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	product.ID = id
	if product.Orders == nil {
		product.Orders = []model.ProductOrder{}
	}
	if err := putDoc(ctx, r.db, ProductKey(id), product); err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	p := &model.Product{}
	found, err := getDoc(ctx, r.db, ProductKey(id), p)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if !found {
		return nil, nil
	}
	p.ID = id
	return p, nil
}

func (r *productRepo) Update(ctx context.Context, product *model.Product) error {
	if product.Orders == nil {
		product.Orders = []model.ProductOrder{}
	}
	if err := putDoc(ctx, r.db, ProductKey(product.ID), product); err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

func (r *productRepo) Delete(ctx context.Context, id int64) error {
	if err := r.db.Delete(ctx, ProductKey(id)); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (r *productRepo) List(ctx context.Context, limit, offset int) ([]model.Product, bool, error) {
	page, err := r.db.Run(ctx, store.NewQuery(KindProducts).Page(limit, offset))
	if err != nil {
		return nil, false, fmt.Errorf("list products: %w", err)
	}
	products, err := decodePage(page.Entities, setProductKey)
	if err != nil {
		return nil, false, fmt.Errorf("list products: %w", err)
	}
	return products, page.More, nil
}

func (r *productRepo) All(ctx context.Context) ([]model.Product, error) {
	products, _, err := r.List(ctx, 0, 0)
	return products, err
}

func (r *productRepo) Count(ctx context.Context) (int, error) {
	n, err := r.db.Count(ctx, store.NewQuery(KindProducts))
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}
