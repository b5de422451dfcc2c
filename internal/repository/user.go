package repository

import (
	"context"
	"fmt"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/store"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Save(ctx context.Context, user *model.User) error
	List(ctx context.Context, limit, offset int) ([]model.User, bool, error)
	All(ctx context.Context) ([]model.User, error)
	Count(ctx context.Context) (int, error)
}

type userRepo struct{ db store.DB }

func NewUserRepository(db store.DB) UserRepository {
	return &userRepo{db: db}
}

func setUserKey(u *model.User, k *store.Key) { u.ID = k.Name }

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	found, err := getDoc(ctx, r.db, UserKey(id), user)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !found {
		return nil, nil
	}
	user.ID = id
	if user.Orders == nil {
		user.Orders = []model.Order{}
	}
	return user, nil
}

// Create stores a new user and fails with store.ErrEntityExists if the id is
// taken.
func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	if user.Orders == nil {
		user.Orders = []model.Order{}
	}
	if err := insertDoc(ctx, r.db, UserKey(user.ID), user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepo) Save(ctx context.Context, user *model.User) error {
	if user.Orders == nil {
		user.Orders = []model.Order{}
	}
	if err := putDoc(ctx, r.db, UserKey(user.ID), user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]model.User, bool, error) {
	page, err := r.db.Run(ctx, store.NewQuery(KindUsers).Page(limit, offset))
	if err != nil {
		return nil, false, fmt.Errorf("list users: %w", err)
	}
	users, err := decodePage(page.Entities, setUserKey)
	if err != nil {
		return nil, false, fmt.Errorf("list users: %w", err)
	}
	return users, page.More, nil
}

func (r *userRepo) All(ctx context.Context) ([]model.User, error) {
	users, _, err := r.List(ctx, 0, 0)
	return users, err
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	n, err := r.db.Count(ctx, store.NewQuery(KindUsers))
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
