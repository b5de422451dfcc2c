package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
)

type PaymentMethod string

const (
	PaymentCredit PaymentMethod = "credit"
	PaymentDebit  PaymentMethod = "debit"
	PaymentCash   PaymentMethod = "cash"
)

// User is keyed by the identity provider subject. Orders holds a full copy of
// every order the user owns.
type User struct {
	ID     string  `json:"-"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Orders []Order `json:"orders"`
}

type Product struct {
	ID          int64           `json:"-"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Orders      []ProductOrder  `json:"orders"`
}

// ProductOrder is a back-reference from a product to an order holding it.
type ProductOrder struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

// LineItem is a product snapshot inside an order.
type LineItem struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type Order struct {
	ID             int64           `json:"id"`
	User           string          `json:"user"`
	Status         OrderStatus     `json:"status"`
	BillingAddress string          `json:"billingAddress"`
	PaymentMethod  *PaymentMethod  `json:"paymentMethod"`
	Total          decimal.Decimal `json:"total"`
	Products       []LineItem      `json:"products"`
	DateCreated    time.Time       `json:"dateCreated"`
	DateModified   time.Time       `json:"dateModified"`
}

func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

func (o *Order) LineItemIndex(productID int64) int {
	for i, li := range o.Products {
		if li.ID == productID {
			return i
		}
	}
	return -1
}

// RemoveLineItem drops the line item for productID and returns it.
func (o *Order) RemoveLineItem(productID int64) (LineItem, bool) {
	i := o.LineItemIndex(productID)
	if i < 0 {
		return LineItem{}, false
	}
	li := o.Products[i]
	o.Products = append(o.Products[:i:i], o.Products[i+1:]...)
	return li, true
}

// RefreshLineItem copies the product's display fields into its line item.
// It reports whether anything changed.
func (o *Order) RefreshLineItem(p *Product) bool {
	i := o.LineItemIndex(p.ID)
	if i < 0 {
		return false
	}
	li := &o.Products[i]
	if li.Name == p.Name && li.Description == p.Description && li.Price.Equal(p.Price) {
		return false
	}
	li.Name = p.Name
	li.Description = p.Description
	li.Price = p.Price
	return true
}

func (o *Order) RecomputeTotal() {
	total := decimal.Zero
	for _, li := range o.Products {
		total = total.Add(li.Subtotal())
	}
	o.Total = total
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (u *User) OrderIndex(orderID int64) int {
	for i, o := range u.Orders {
		if o.ID == orderID {
			return i
		}
	}
	return -1
}

// ReplaceOrder overwrites the mirrored copy of o. It never appends.
func (u *User) ReplaceOrder(o Order) bool {
	i := u.OrderIndex(o.ID)
	if i < 0 {
		return false
	}
	u.Orders[i] = o
	return true
}

func (u *User) RemoveOrder(orderID int64) bool {
	i := u.OrderIndex(orderID)
	if i < 0 {
		return false
	}
	u.Orders = append(u.Orders[:i:i], u.Orders[i+1:]...)
	return true
}

// Snapshot returns the line item recorded when quantity units are attached.
func (p *Product) Snapshot(quantity int) LineItem {
	return LineItem{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Quantity:    quantity,
	}
}

func (p *Product) RemoveOrderRef(orderID int64) bool {
	for i, ref := range p.Orders {
		if ref.ID == orderID {
			p.Orders = append(p.Orders[:i:i], p.Orders[i+1:]...)
			return true
		}
	}
	return false
}

const (
	EventOrderCreated         = "order.created"
	EventOrderUpdated         = "order.updated"
	EventOrderDeleted         = "order.deleted"
	EventOrderProductAttached = "order.product_attached"
	EventOrderProductDetached = "order.product_detached"
	EventProductUpdated       = "product.updated"
	EventProductDeleted       = "product.deleted"
)

// OrderEvent is published after a mutation commits.
type OrderEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	OrderID    int64     `json:"order_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	ProductID  int64     `json:"product_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
