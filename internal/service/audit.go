package service

import (
	"context"
	"fmt"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/repository"
	"github.com/flicky/marketplace-api/internal/store"
)

const (
	ViewOrder   = "order"
	ViewMirror  = "mirror"
	ViewProduct = "product"
	ViewUser    = "user"
)

// Drift is one disagreement between the stored views of an order.
type Drift struct {
	OrderID int64
	UserID  string
	View    string
	Detail  string
}

func (d Drift) String() string {
	return fmt.Sprintf("order %d (user %s) %s: %s", d.OrderID, d.UserID, d.View, d.Detail)
}

// AuditService reports drift between orders, user mirrors and product
// back-references. It never repairs anything.
type AuditService struct {
	repos *repository.Repositories
}

func NewAuditService(db store.DB) *AuditService {
	return &AuditService{repos: repository.New(db)}
}

// AuditOrder checks one order. userID may be empty when only the order id is
// known.
func (s *AuditService) AuditOrder(ctx context.Context, orderID int64, userID string) ([]Drift, error) {
	order, err := s.repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("audit order: %w", err)
	}
	if userID == "" && order != nil {
		userID = order.User
	}
	var owner *model.User
	if userID != "" {
		if owner, err = s.repos.Users.GetByID(ctx, userID); err != nil {
			return nil, fmt.Errorf("audit order: %w", err)
		}
	}

	d := drifts{orderID: orderID, userID: userID}
	if order == nil {
		if owner != nil && owner.OrderIndex(orderID) >= 0 {
			d.add(ViewMirror, "mirror lists an order that does not exist")
		}
		return d.list, nil
	}

	if !order.Total.Equal(lineTotal(order.Products)) {
		d.add(ViewOrder, fmt.Sprintf("total %s does not match line items %s", order.Total, lineTotal(order.Products)))
	}

	if owner == nil {
		d.add(ViewUser, "owner does not exist")
	} else if i := owner.OrderIndex(orderID); i < 0 {
		d.add(ViewMirror, "order missing from owner's orders")
	} else {
		compareMirror(&d, order, &owner.Orders[i])
	}

	if order.IsPending() {
		for _, li := range order.Products {
			p, err := s.repos.Products.GetByID(ctx, li.ID)
			if err != nil {
				return nil, fmt.Errorf("audit order: %w", err)
			}
			if p == nil {
				d.add(ViewProduct, fmt.Sprintf("line item references missing product %d", li.ID))
				continue
			}
			if q, ok := backRefQuantity(p, orderID); !ok {
				d.add(ViewProduct, fmt.Sprintf("product %d has no back-reference", li.ID))
			} else if q != li.Quantity {
				d.add(ViewProduct, fmt.Sprintf("product %d back-reference quantity %d, line item %d", li.ID, q, li.Quantity))
			}
		}
	}
	return d.list, nil
}

// AuditProduct audits every order the product refers to.
func (s *AuditService) AuditProduct(ctx context.Context, productID int64) ([]Drift, error) {
	p, err := s.repos.Products.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("audit product: %w", err)
	}
	if p == nil {
		return nil, nil
	}

	var out []Drift
	for _, ref := range p.Orders {
		order, err := s.repos.Orders.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("audit product: %w", err)
		}
		// Deleted orders leave their back-references behind.
		if order == nil {
			continue
		}
		if order.IsPending() && order.LineItemIndex(productID) < 0 {
			out = append(out, Drift{OrderID: ref.ID, UserID: order.User, View: ViewProduct,
				Detail: fmt.Sprintf("product %d references an order without its line item", productID)})
		}
		found, err := s.AuditOrder(ctx, ref.ID, order.User)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// AuditAll sweeps every order entity and every mirrored copy.
func (s *AuditService) AuditAll(ctx context.Context) ([]Drift, error) {
	orders, err := s.repos.Orders.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit all: %w", err)
	}
	seen := make(map[int64]bool, len(orders))
	var out []Drift
	for _, o := range orders {
		seen[o.ID] = true
		found, err := s.AuditOrder(ctx, o.ID, o.User)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	users, err := s.repos.Users.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit all: %w", err)
	}
	for _, u := range users {
		for _, m := range u.Orders {
			if !seen[m.ID] {
				out = append(out, Drift{OrderID: m.ID, UserID: u.ID, View: ViewMirror,
					Detail: "mirror lists an order that does not exist"})
			}
		}
	}
	return out, nil
}

type drifts struct {
	orderID int64
	userID  string
	list    []Drift
}

func (d *drifts) add(view, detail string) {
	d.list = append(d.list, Drift{OrderID: d.orderID, UserID: d.userID, View: view, Detail: detail})
}

func compareMirror(d *drifts, order, mirror *model.Order) {
	if mirror.Status != order.Status {
		d.add(ViewMirror, fmt.Sprintf("status %q, order has %q", mirror.Status, order.Status))
	}
	if !mirror.Total.Equal(order.Total) {
		d.add(ViewMirror, fmt.Sprintf("total %s, order has %s", mirror.Total, order.Total))
	}
	if mirror.BillingAddress != order.BillingAddress {
		d.add(ViewMirror, "billing address differs")
	}
	if len(mirror.Products) != len(order.Products) {
		d.add(ViewMirror, fmt.Sprintf("%d line items, order has %d", len(mirror.Products), len(order.Products)))
		return
	}
	for _, li := range order.Products {
		i := mirror.LineItemIndex(li.ID)
		if i < 0 {
			d.add(ViewMirror, fmt.Sprintf("line item %d missing", li.ID))
			continue
		}
		m := mirror.Products[i]
		if m.Quantity != li.Quantity || !m.Price.Equal(li.Price) || m.Name != li.Name || m.Description != li.Description {
			d.add(ViewMirror, fmt.Sprintf("line item %d differs", li.ID))
		}
	}
}

func backRefQuantity(p *model.Product, orderID int64) (int, bool) {
	for _, ref := range p.Orders {
		if ref.ID == orderID {
			return ref.Quantity, true
		}
	}
	return 0, false
}
