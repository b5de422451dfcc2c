package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/marketplace-api/internal/auth"
	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/model"
)

const (
	alice = "tok:auth0|alice"
	bob   = "tok:auth0|bob"
)

func TestOrders_RequireToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, call{method: http.MethodGet, path: "/orders"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.CodeNoAuthHeader, decode[map[string]string](t, w)["code"])

	w = s.do(t, call{method: http.MethodGet, path: "/orders", token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.CodeInvalidHeader, decode[map[string]string](t, w)["code"])
}

func TestCreateOrder(t *testing.T) {
	s := newTestServer(t)

	o := s.createOrder(t, alice)
	assert.Equal(t, "auth0|alice", o.User)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, "1 Main St", o.BillingAddress)
	assert.Nil(t, o.PaymentMethod)
	assert.True(t, o.Total.IsZero())
	assert.Empty(t, o.Products)
	assert.Equal(t, fmt.Sprintf("http://api.test/orders/%d", o.ID), o.Self)

	w := s.do(t, call{method: http.MethodPost, path: "/orders", token: alice, body: `{"status":"pending"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.MalformedMessage, errorBody(t, w))

	w = s.do(t, call{method: http.MethodGet, path: "/users"})
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[dto.UserListResponse](t, w)
	require.Equal(t, 1, users.TotalItems)
	assert.Equal(t, "http://api.test/users/auth0%7Calice", users.Users[0].Self)
	require.Len(t, users.Users[0].Orders, 1)
	assert.Equal(t, o.ID, users.Users[0].Orders[0].ID)
}

func TestOrder_Ownership(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t, alice)
	path := fmt.Sprintf("/orders/%d", o.ID)

	w := s.do(t, call{method: http.MethodGet, path: path, token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, o.ID, decode[dto.OrderResponse](t, w).ID)

	w = s.do(t, call{method: http.MethodGet, path: path, token: bob})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "You do not have access to this order", errorBody(t, w))

	w = s.do(t, call{method: http.MethodDelete, path: path, token: bob})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, call{method: http.MethodGet, path: "/orders/9999", token: alice})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No order with this order_id exists", errorBody(t, w))
}

func TestListOrders_ScopedToCaller(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 6; i++ {
		s.createOrder(t, alice)
	}
	s.createOrder(t, bob)

	w := s.do(t, call{method: http.MethodGet, path: "/orders", token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.OrderListResponse](t, w)
	assert.Len(t, page.Orders, 5)
	assert.Equal(t, 6, page.TotalItems)
	assert.Equal(t, "http://api.test/orders?limit=5&offset=5", page.Next)
	for _, o := range page.Orders {
		assert.Equal(t, "auth0|alice", o.User)
	}

	w = s.do(t, call{method: http.MethodGet, path: "/orders", token: bob})
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[dto.OrderListResponse](t, w)
	assert.Equal(t, 1, page.TotalItems)
	assert.Empty(t, page.Next)
}

func TestUpdateOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t, alice)
	path := fmt.Sprintf("/orders/%d", o.ID)

	w := s.do(t, call{method: http.MethodPatch, path: path, token: alice, body: `{"paymentMethod":"cash"}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	patched := decode[dto.OrderResponse](t, w)
	require.NotNil(t, patched.PaymentMethod)
	assert.Equal(t, model.PaymentCash, *patched.PaymentMethod)

	w = s.do(t, call{method: http.MethodPut, path: path, token: alice, body: `{"billingAddress":"2 Side St"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, call{method: http.MethodPut, path: path, token: alice,
		body: `{"status":"completed","billingAddress":"2 Side St","paymentMethod":"debit"}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.OrderStatusCompleted, decode[dto.OrderResponse](t, w).Status)

	w = s.do(t, call{method: http.MethodPatch, path: path, token: alice, body: `{"status":"pending"}`})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Order status can no longer be changed", errorBody(t, w))
}

func TestAttachAndDetachProduct(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, `{"name":"Lamp","description":"Desk lamp","price":12.5,"stock":3}`)
	o := s.createOrder(t, alice)
	line := fmt.Sprintf("/orders/%d/products/%d", o.ID, p.ID)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing quantity", line, http.StatusBadRequest},
		{"non numeric", line + "?quantity=two", http.StatusBadRequest},
		{"zero", line + "?quantity=0", http.StatusBadRequest},
		{"beyond stock", line + "?quantity=4", http.StatusForbidden},
		{"unknown product", fmt.Sprintf("/orders/%d/products/9999?quantity=1", o.ID), http.StatusNotFound},
		{"bad product id", fmt.Sprintf("/orders/%d/products/x?quantity=1", o.ID), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, call{method: http.MethodPut, path: tt.path, token: alice})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := s.do(t, call{method: http.MethodPut, path: line + "?quantity=2", token: alice})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, call{method: http.MethodPut, path: line + "?quantity=1", token: alice})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "This product is already in this order", errorBody(t, w))

	w = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/orders/%d", o.ID), token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[dto.OrderResponse](t, w)
	assert.Equal(t, "25", got.Total.String())
	require.Len(t, got.Products, 1)
	assert.Equal(t, 2, got.Products[0].Quantity)
	assert.Equal(t, p.Self, got.Products[0].Self)

	w = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/products/%d", p.ID)})
	require.Equal(t, http.StatusOK, w.Code)
	prod := decode[dto.ProductResponse](t, w)
	assert.Equal(t, 1, prod.Stock)
	require.Len(t, prod.Orders, 1)
	assert.Equal(t, o.Self, prod.Orders[0].Self)

	w = s.do(t, call{method: http.MethodPut, path: line + "?quantity=1", token: bob})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, call{method: http.MethodDelete, path: line, token: alice})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, call{method: http.MethodDelete, path: line, token: alice})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "This product is not in this order", errorBody(t, w))

	w = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/products/%d", p.ID)})
	require.Equal(t, http.StatusOK, w.Code)
	prod = decode[dto.ProductResponse](t, w)
	assert.Equal(t, 3, prod.Stock)
	assert.Empty(t, prod.Orders)
}

func TestOrder_MoneyIsNumeric(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, `{"name":"Lamp","description":"Desk lamp","price":10.00,"stock":5}`)
	o := s.createOrder(t, alice)

	w := s.do(t, call{method: http.MethodPut, path: fmt.Sprintf("/orders/%d/products/%d?quantity=3", o.ID, p.ID), token: alice})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/orders/%d", o.ID), token: alice})
	require.Equal(t, http.StatusOK, w.Code)
	order := decode[map[string]any](t, w)
	assert.Equal(t, float64(30), order["total"])
	items := order["products"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(10), items[0].(map[string]any)["price"])

	w = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/products/%d", p.ID)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), decode[map[string]any](t, w)["price"])

	w = s.do(t, call{method: http.MethodGet, path: "/users"})
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[map[string]any](t, w)["users"].([]any)
	require.Len(t, users, 1)
	mirrored := users[0].(map[string]any)["orders"].([]any)
	require.Len(t, mirrored, 1)
	assert.Equal(t, float64(30), mirrored[0].(map[string]any)["total"])
}

func TestDeleteOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.createOrder(t, alice)
	path := fmt.Sprintf("/orders/%d", o.ID)

	w := s.do(t, call{method: http.MethodDelete, path: path, token: alice})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, call{method: http.MethodGet, path: path, token: alice})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, call{method: http.MethodGet, path: "/users"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.UserListResponse](t, w).Users[0].Orders)
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t)
	s.createProduct(t, `{"name":"Lamp","description":"Desk lamp","price":1}`)
	s.createOrder(t, alice)

	w := s.do(t, call{method: http.MethodDelete, path: "/cleanup"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, call{method: http.MethodGet, path: "/products"})
	assert.Equal(t, 0, decode[dto.ProductListResponse](t, w).TotalItems)
	w = s.do(t, call{method: http.MethodGet, path: "/orders", token: alice})
	assert.Equal(t, 0, decode[dto.OrderListResponse](t, w).TotalItems)
	w = s.do(t, call{method: http.MethodGet, path: "/users"})
	users := decode[dto.UserListResponse](t, w)
	require.Equal(t, 1, users.TotalItems)
	assert.Empty(t, users.Users[0].Orders)
}
