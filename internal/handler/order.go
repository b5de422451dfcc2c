package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/middleware"
	"github.com/flicky/marketplace-api/internal/service"
)

type OrderHandler struct {
	orderService *service.OrderService
	pageLimit    int
}

func NewOrderHandler(orderService *service.OrderService, pageLimit int) *OrderHandler {
	return &OrderHandler{orderService: orderService, pageLimit: pageLimit}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, err)
		return
	}
	in, err := dto.DecodeOrder(body, dto.ModeCreate)
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(baseURL(c), order))
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, offset, err := parsePage(c, h.pageLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.orderService.ListByUserID(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	base := baseURL(c)
	items := make([]dto.OrderResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, toOrderResponse(base, &page.Items[i]))
	}
	c.JSON(http.StatusOK, dto.OrderListResponse{
		Orders:     items,
		TotalItems: page.Total,
		Next:       nextURL(c, page.More, limit, offset),
	})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.orderService.GetByID(c.Request.Context(), orderID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(baseURL(c), order))
}

// ReplaceOrder handles PUT, which must carry every attribute.
func (h *OrderHandler) ReplaceOrder(c *gin.Context) { h.updateOrder(c, dto.ModeReplace) }

// PatchOrder handles PATCH, which may carry any subset.
func (h *OrderHandler) PatchOrder(c *gin.Context) { h.updateOrder(c, dto.ModePatch) }

func (h *OrderHandler) updateOrder(c *gin.Context, mode dto.Mode) {
	orderID, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, err)
		return
	}
	in, err := dto.DecodeOrder(body, mode)
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.orderService.UpdateOrder(c.Request.Context(), orderID, middleware.GetUserID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(baseURL(c), order))
}

func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.orderService.DeleteOrder(c.Request.Context(), orderID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) AttachProduct(c *gin.Context) {
	orderID, productID, ok := h.lineItemIDs(c)
	if !ok {
		return
	}
	quantity, err := strconv.Atoi(c.Query("quantity"))
	if err != nil {
		respondError(c, service.ErrInvalidQuantity)
		return
	}

	err = h.orderService.AttachProduct(c.Request.Context(), orderID, middleware.GetUserID(c), productID, quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) DetachProduct(c *gin.Context) {
	orderID, productID, ok := h.lineItemIDs(c)
	if !ok {
		return
	}

	err := h.orderService.DetachProduct(c.Request.Context(), orderID, middleware.GetUserID(c), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) lineItemIDs(c *gin.Context) (int64, int64, bool) {
	orderID, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return 0, 0, false
	}
	productID, err := parseID(c, "product_id")
	if err != nil {
		respondError(c, err)
		return 0, 0, false
	}
	return orderID, productID, true
}
