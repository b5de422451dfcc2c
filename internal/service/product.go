package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/flicky/marketplace-api/internal/cache"
	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/repository"
	"github.com/flicky/marketplace-api/internal/store"
)

type ProductService struct {
	store  store.Store
	repos  *repository.Repositories
	cache  *cache.ProductCache
	events events
}

func NewProductService(st store.Store, productCache *cache.ProductCache, pub Publisher, log *slog.Logger) *ProductService {
	return &ProductService{
		store:  st,
		repos:  repository.New(st),
		cache:  productCache,
		events: events{pub: pub, log: log},
	}
}

// Create stores every input in one transaction. Inputs must already be
// validated for creation.
func (s *ProductService) Create(ctx context.Context, inputs []dto.ProductInput) ([]model.Product, error) {
	if len(inputs) == 0 {
		return nil, ErrInvalidBody
	}

	var created []model.Product
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		created = created[:0]
		for _, in := range inputs {
			if in.Name == nil || in.Description == nil || in.Price == nil {
				return ErrInvalidBody
			}
			p := &model.Product{
				Name:        *in.Name,
				Description: *in.Description,
				Price:       *in.Price,
				Orders:      []model.ProductOrder{},
			}
			if in.Stock != nil {
				p.Stock = *in.Stock
			}
			if err := repos.Products.Create(ctx, p); err != nil {
				return err
			}
			created = append(created, *p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create products: %w", err)
	}
	return created, nil
}

func (s *ProductService) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	if p, ok := s.cache.Get(ctx, id); ok {
		return p, nil
	}

	version := s.cache.Version(ctx)
	p, err := s.repos.Products.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	s.cache.Set(ctx, p, version)
	return p, nil
}

func (s *ProductService) List(ctx context.Context, limit, offset int) (Page[model.Product], error) {
	products, more, err := s.repos.Products.List(ctx, limit, offset)
	if err != nil {
		return Page[model.Product]{}, err
	}
	total, err := s.repos.Products.Count(ctx)
	if err != nil {
		return Page[model.Product]{}, err
	}
	return Page[model.Product]{Items: products, Total: total, More: more}, nil
}

// Update applies the set fields of in, then rewrites the product's snapshot
// in every pending order and every pending mirrored copy.
func (s *ProductService) Update(ctx context.Context, id int64, in *dto.ProductInput) (*model.Product, error) {
	var updated *model.Product
	var touched []model.Order
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		p, err := repos.Products.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProductNotFound
		}

		if in.Name != nil {
			p.Name = *in.Name
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.Price != nil {
			p.Price = *in.Price
		}
		if in.Stock != nil {
			p.Stock = *in.Stock
		}
		if err := repos.Products.Update(ctx, p); err != nil {
			return err
		}

		touched, err = rewritePendingOrders(ctx, repos, p.ID, func(o *model.Order) bool {
			return o.RefreshLineItem(p)
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.cache.Invalidate(ctx, id)
	for _, o := range touched {
		s.events.emit(ctx, model.EventProductUpdated, o.ID, o.User, id)
	}
	return updated, nil
}

// Delete strips the product from every pending order and mirrored copy and
// removes it. Stock held by those orders is not returned anywhere.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	var touched []model.Order
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		p, err := repos.Products.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProductNotFound
		}

		touched, err = rewritePendingOrders(ctx, repos, id, func(o *model.Order) bool {
			_, ok := o.RemoveLineItem(id)
			return ok
		})
		if err != nil {
			return err
		}
		return repos.Products.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.cache.Invalidate(ctx, id)
	for _, o := range touched {
		s.events.emit(ctx, model.EventProductDeleted, o.ID, o.User, id)
	}
	return nil
}

// rewritePendingOrders applies change to every pending order entity that
// holds productID, then to every pending copy in user mirrors. Totals of
// changed orders are recomputed. It returns the changed order entities.
func rewritePendingOrders(ctx context.Context, repos *repository.Repositories, productID int64, change func(*model.Order) bool) ([]model.Order, error) {
	pending, err := repos.Orders.ListByStatus(ctx, model.OrderStatusPending)
	if err != nil {
		return nil, err
	}

	var touched []model.Order
	for _, candidate := range pending {
		if candidate.LineItemIndex(productID) < 0 {
			continue
		}
		// Re-read to take the row lock before writing.
		o, err := repos.Orders.GetByID(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		if o == nil || !o.IsPending() || !change(o) {
			continue
		}
		o.RecomputeTotal()
		if err := repos.Orders.Update(ctx, o); err != nil {
			return nil, err
		}
		touched = append(touched, *o)
	}

	users, err := repos.Users.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, candidate := range users {
		if !holdsPending(candidate.Orders, productID) {
			continue
		}
		u, err := repos.Users.GetByID(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		changed := false
		for i := range u.Orders {
			o := &u.Orders[i]
			if o.IsPending() && change(o) {
				o.RecomputeTotal()
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := repos.Users.Save(ctx, u); err != nil {
			return nil, err
		}
	}
	return touched, nil
}

func holdsPending(orders []model.Order, productID int64) bool {
	for _, o := range orders {
		if o.IsPending() && o.LineItemIndex(productID) >= 0 {
			return true
		}
	}
	return false
}

// lineTotal sums price times quantity over items.
func lineTotal(items []model.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Subtotal())
	}
	return total
}
