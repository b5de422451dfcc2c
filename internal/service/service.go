package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flicky/marketplace-api/internal/model"
)

// Page is one slice of a listing plus the total row count.
type Page[T any] struct {
	Items []T
	Total int
	More  bool
}

// Publisher delivers order events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, event model.OrderEvent) error
}

// events publishes best-effort; a nil publisher drops events.
type events struct {
	pub Publisher
	log *slog.Logger
}

func (e events) emit(ctx context.Context, typ string, orderID int64, userID string, productID int64) {
	if e.pub == nil {
		return
	}
	event := model.OrderEvent{
		ID:         uuid.New(),
		Type:       typ,
		OrderID:    orderID,
		UserID:     userID,
		ProductID:  productID,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.pub.Publish(ctx, event); err != nil {
		e.log.Error("publish event", "type", typ, "order_id", orderID, "product_id", productID, "error", err)
	}
}

func nowUTC() time.Time { return time.Now().UTC() }
