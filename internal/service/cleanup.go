package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flicky/marketplace-api/internal/cache"
	"github.com/flicky/marketplace-api/internal/repository"
	"github.com/flicky/marketplace-api/internal/store"
)

// CleanupService wipes products and orders and empties every user's orders.
// Users themselves are kept.
type CleanupService struct {
	store store.Store
	cache *cache.ProductCache
	log   *slog.Logger
}

func NewCleanupService(st store.Store, productCache *cache.ProductCache, log *slog.Logger) *CleanupService {
	return &CleanupService{store: st, cache: productCache, log: log}
}

func (s *CleanupService) Cleanup(ctx context.Context) error {
	var products, orders, users int
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		products, orders, users = 0, 0, 0

		all, err := repos.Products.All(ctx)
		if err != nil {
			return err
		}
		for _, p := range all {
			if err := repos.Products.Delete(ctx, p.ID); err != nil {
				return err
			}
			products++
		}

		allOrders, err := repos.Orders.All(ctx)
		if err != nil {
			return err
		}
		for _, o := range allOrders {
			if err := repos.Orders.Delete(ctx, o.ID); err != nil {
				return err
			}
			orders++
		}

		allUsers, err := repos.Users.All(ctx)
		if err != nil {
			return err
		}
		for i := range allUsers {
			u := &allUsers[i]
			if len(u.Orders) == 0 {
				continue
			}
			u.Orders = nil
			if err := repos.Users.Save(ctx, u); err != nil {
				return err
			}
			users++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	s.cache.Flush(ctx)
	s.log.Info("cleanup complete", "products", products, "orders", orders, "users_reset", users)
	return nil
}
