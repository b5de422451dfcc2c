package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flicky/marketplace-api/internal/cache"
	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/repository"
	"github.com/flicky/marketplace-api/internal/store"
)

// OrderService owns orders and keeps each order, its owner's mirrored copy
// and the products' back-references in step. Multi-entity writes run in one
// transaction and read products before orders before users.
type OrderService struct {
	store  store.Store
	repos  *repository.Repositories
	cache  *cache.ProductCache
	events events
	now    func() time.Time
}

func NewOrderService(st store.Store, productCache *cache.ProductCache, pub Publisher, log *slog.Logger) *OrderService {
	return &OrderService{
		store:  st,
		repos:  repository.New(st),
		cache:  productCache,
		events: events{pub: pub, log: log},
		now:    nowUTC,
	}
}

func (s *OrderService) CreateOrder(ctx context.Context, userID string, in *dto.OrderInput) (*model.Order, error) {
	if in.BillingAddress == nil || *in.BillingAddress == "" {
		return nil, ErrInvalidBody
	}

	var created *model.Order
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		owner, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if owner == nil {
			return ErrUserNotFound
		}

		now := s.now()
		order := &model.Order{
			User:           userID,
			Status:         model.OrderStatusPending,
			BillingAddress: *in.BillingAddress,
			Total:          decimal.Zero,
			Products:       []model.LineItem{},
			DateCreated:    now,
			DateModified:   now,
		}
		if in.Status != nil {
			order.Status = model.OrderStatus(*in.Status)
		}
		if in.PaymentMethod != nil {
			pm := model.PaymentMethod(*in.PaymentMethod)
			order.PaymentMethod = &pm
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			return err
		}

		owner.Orders = append(owner.Orders, *order)
		if err := repos.Users.Save(ctx, owner); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.events.emit(ctx, model.EventOrderCreated, created.ID, userID, 0)
	return created, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID string, limit, offset int) (Page[model.Order], error) {
	orders, more, err := s.repos.Orders.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return Page[model.Order]{}, err
	}
	total, err := s.repos.Orders.CountByUserID(ctx, userID)
	if err != nil {
		return Page[model.Order]{}, err
	}
	return Page[model.Order]{Items: orders, Total: total, More: more}, nil
}

func (s *OrderService) GetByID(ctx context.Context, orderID int64, userID string) (*model.Order, error) {
	order, _, err := loadOwned(ctx, s.repos, orderID, userID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrder applies the set fields of in. A non-pending order keeps its
// status.
func (s *OrderService) UpdateOrder(ctx context.Context, orderID int64, userID string, in *dto.OrderInput) (*model.Order, error) {
	var updated *model.Order
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		order, owner, err := loadOwned(ctx, repos, orderID, userID)
		if err != nil {
			return err
		}

		if in.Status != nil {
			status := model.OrderStatus(*in.Status)
			if !order.IsPending() && status != order.Status {
				return ErrStatusFrozen
			}
			order.Status = status
		}
		if in.BillingAddress != nil {
			order.BillingAddress = *in.BillingAddress
		}
		if in.PaymentMethod != nil {
			pm := model.PaymentMethod(*in.PaymentMethod)
			order.PaymentMethod = &pm
		}
		if order.BillingAddress == "" {
			return ErrInvalidBody
		}
		order.DateModified = s.now()

		if err := writeOrder(ctx, repos, order, owner); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	s.events.emit(ctx, model.EventOrderUpdated, orderID, userID, 0)
	return updated, nil
}

// DeleteOrder removes the order and its mirrored copy. Stock and product
// back-references are left as they are.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID int64, userID string) error {
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		_, owner, err := loadOwned(ctx, repos, orderID, userID)
		if err != nil {
			return err
		}
		owner.RemoveOrder(orderID)
		if err := repos.Users.Save(ctx, owner); err != nil {
			return err
		}
		return repos.Orders.Delete(ctx, orderID)
	})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	s.events.emit(ctx, model.EventOrderDeleted, orderID, userID, 0)
	return nil
}

// AttachProduct moves quantity units of a product into a pending order.
func (s *OrderService) AttachProduct(ctx context.Context, orderID int64, userID string, productID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		product, err := repos.Products.GetByID(ctx, productID)
		if err != nil {
			return err
		}
		order, owner, err := loadOwned(ctx, repos, orderID, userID)
		if err != nil {
			return err
		}
		if !order.IsPending() {
			return ErrOrderNotPending
		}
		if product == nil {
			return ErrProductNotFound
		}
		if product.Stock <= 0 || product.Stock < quantity {
			return ErrOutOfStock
		}
		if order.LineItemIndex(productID) >= 0 {
			return ErrProductAlreadyInOrder
		}

		item := product.Snapshot(quantity)
		product.Stock -= quantity
		product.Orders = append(product.Orders, model.ProductOrder{ID: orderID, Quantity: quantity})
		order.Products = append(order.Products, item)
		order.Total = order.Total.Add(item.Subtotal())
		order.DateModified = s.now()

		if err := repos.Products.Update(ctx, product); err != nil {
			return err
		}
		return writeOrder(ctx, repos, order, owner)
	})
	if err != nil {
		return fmt.Errorf("attach product: %w", err)
	}

	s.cache.Invalidate(ctx, productID)
	s.events.emit(ctx, model.EventOrderProductAttached, orderID, userID, productID)
	return nil
}

// DetachProduct reverses AttachProduct for one line item.
func (s *OrderService) DetachProduct(ctx context.Context, orderID int64, userID string, productID int64) error {
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		product, err := repos.Products.GetByID(ctx, productID)
		if err != nil {
			return err
		}
		order, owner, err := loadOwned(ctx, repos, orderID, userID)
		if err != nil {
			return err
		}
		if !order.IsPending() {
			return ErrOrderNotPending
		}
		if product == nil {
			return ErrProductNotFound
		}
		item, ok := order.RemoveLineItem(productID)
		if !ok {
			return ErrProductNotInOrder
		}

		product.Stock += item.Quantity
		product.RemoveOrderRef(orderID)
		order.Total = order.Total.Sub(item.Subtotal())
		order.DateModified = s.now()

		if err := repos.Products.Update(ctx, product); err != nil {
			return err
		}
		return writeOrder(ctx, repos, order, owner)
	})
	if err != nil {
		return fmt.Errorf("detach product: %w", err)
	}

	s.cache.Invalidate(ctx, productID)
	s.events.emit(ctx, model.EventOrderProductDetached, orderID, userID, productID)
	return nil
}

// loadOwned returns the order and its owner, failing when the caller does
// not own it or the owner's mirror has lost it.
func loadOwned(ctx context.Context, repos *repository.Repositories, orderID int64, userID string) (*model.Order, *model.User, error) {
	order, err := repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	if order.User != userID {
		return nil, nil, ErrOrderAccessDenied
	}
	owner, err := repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		return nil, nil, ErrUserNotFound
	}
	if owner.OrderIndex(orderID) < 0 {
		return nil, nil, ErrOrderNotMirrored
	}
	return order, owner, nil
}

func writeOrder(ctx context.Context, repos *repository.Repositories, order *model.Order, owner *model.User) error {
	if err := repos.Orders.Update(ctx, order); err != nil {
		return err
	}
	if !owner.ReplaceOrder(*order) {
		return fmt.Errorf("order %d missing from user %s mirror", order.ID, owner.ID)
	}
	return repos.Users.Save(ctx, owner)
}
