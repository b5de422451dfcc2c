package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/repository"
	"github.com/flicky/marketplace-api/internal/store"
)

type UserService struct {
	store store.Store
	repos *repository.Repositories
}

func NewUserService(st store.Store) *UserService {
	return &UserService{store: st, repos: repository.New(st)}
}

// EnsureUser returns the user for sub, creating it on first contact.
func (s *UserService) EnsureUser(ctx context.Context, sub, name, email string) (*model.User, error) {
	user, err := s.repos.Users.GetByID(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	err = s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.DB) error {
		repos := repository.New(tx)
		existing, err := repos.Users.GetByID(ctx, sub)
		if err != nil {
			return err
		}
		if existing != nil {
			user = existing
			return nil
		}
		user = &model.User{ID: sub, Name: name, Email: email, Orders: []model.Order{}}
		return repos.Users.Create(ctx, user)
	})
	if errors.Is(err, store.ErrEntityExists) {
		// A concurrent first request created it.
		user, err = s.repos.Users.GetByID(ctx, sub)
		if err == nil && user == nil {
			err = store.ErrNoSuchEntity
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, limit, offset int) (Page[model.User], error) {
	users, more, err := s.repos.Users.List(ctx, limit, offset)
	if err != nil {
		return Page[model.User]{}, err
	}
	total, err := s.repos.Users.Count(ctx)
	if err != nil {
		return Page[model.User]{}, err
	}
	return Page[model.User]{Items: users, Total: total, More: more}, nil
}
