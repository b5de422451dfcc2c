package handler

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/service"
)

// maxPageLimit caps limit so limit+1 lookahead cannot overflow.
const maxPageLimit = 1000

var errInvalidPage = &service.Error{Kind: service.ErrValidation, Message: "limit and offset must be positive integers"}

// baseURL is the scheme and host the client used to reach us.
func baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	switch proto := c.GetHeader("X-Forwarded-Proto"); proto {
	case "http", "https":
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

// parsePage reads limit and offset. limit must be positive and offset
// non-negative. limit is clamped to maxPageLimit.
func parsePage(c *gin.Context, defaultLimit int) (int, int, error) {
	limit, offset := defaultLimit, 0
	if v, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, errInvalidPage
		}
		limit = min(n, maxPageLimit)
	}
	if v, ok := c.GetQuery("offset"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errInvalidPage
		}
		offset = n
	}
	return limit, offset, nil
}

func nextURL(c *gin.Context, more bool, limit, offset int) string {
	if !more {
		return ""
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset+limit))
	return baseURL(c) + c.Request.URL.Path + "?" + q.Encode()
}

func orderURL(base string, id int64) string   { return fmt.Sprintf("%s/orders/%d", base, id) }
func productURL(base string, id int64) string { return fmt.Sprintf("%s/products/%d", base, id) }
func userURL(base, id string) string          { return base + "/users/" + url.PathEscape(id) }

func toOrderResponse(base string, o *model.Order) dto.OrderResponse {
	items := make([]dto.LineItemResponse, 0, len(o.Products))
	for _, li := range o.Products {
		items = append(items, dto.LineItemResponse{
			ID:          li.ID,
			Name:        li.Name,
			Description: li.Description,
			Price:       li.Price,
			Quantity:    li.Quantity,
			Self:        productURL(base, li.ID),
		})
	}
	return dto.OrderResponse{
		ID:             o.ID,
		User:           o.User,
		Status:         o.Status,
		BillingAddress: o.BillingAddress,
		PaymentMethod:  o.PaymentMethod,
		Total:          o.Total,
		Products:       items,
		DateCreated:    o.DateCreated,
		DateModified:   o.DateModified,
		Self:           orderURL(base, o.ID),
	}
}

func toProductResponse(base string, p *model.Product) dto.ProductResponse {
	orders := make([]dto.ProductOrderResponse, 0, len(p.Orders))
	for _, ref := range p.Orders {
		orders = append(orders, dto.ProductOrderResponse{ID: ref.ID, Quantity: ref.Quantity, Self: orderURL(base, ref.ID)})
	}
	return dto.ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Orders:      orders,
		Self:        productURL(base, p.ID),
	}
}

func toUserResponse(base string, u *model.User) dto.UserResponse {
	orders := make([]dto.OrderResponse, 0, len(u.Orders))
	for i := range u.Orders {
		orders = append(orders, toOrderResponse(base, &u.Orders[i]))
	}
	return dto.UserResponse{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Orders: orders,
		Self:   userURL(base, u.ID),
	}
}
