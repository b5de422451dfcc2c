package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/service"
)

type ProductHandler struct {
	productService *service.ProductService
	pageLimit      int
}

func NewProductHandler(productService *service.ProductService, pageLimit int) *ProductHandler {
	return &ProductHandler{productService: productService, pageLimit: pageLimit}
}

// Create accepts one product object or an array of them. The reply mirrors
// the shape of what was created.
func (h *ProductHandler) Create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, err)
		return
	}
	inputs, err := dto.DecodeProducts(body)
	if err != nil {
		respondError(c, err)
		return
	}

	created, err := h.productService.Create(c.Request.Context(), inputs)
	if err != nil {
		respondError(c, err)
		return
	}

	base := baseURL(c)
	if len(created) == 1 {
		c.JSON(http.StatusCreated, toProductResponse(base, &created[0]))
		return
	}
	resp := make([]dto.ProductResponse, 0, len(created))
	for i := range created {
		resp = append(resp, toProductResponse(base, &created[i]))
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *ProductHandler) GetByID(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	p, err := h.productService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toProductResponse(baseURL(c), p))
}

func (h *ProductHandler) List(c *gin.Context) {
	limit, offset, err := parsePage(c, h.pageLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.productService.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	base := baseURL(c)
	items := make([]dto.ProductResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, toProductResponse(base, &page.Items[i]))
	}
	c.JSON(http.StatusOK, dto.ProductListResponse{
		Products:   items,
		TotalItems: page.Total,
		Next:       nextURL(c, page.More, limit, offset),
	})
}

func (h *ProductHandler) Replace(c *gin.Context) { h.update(c, dto.ModeReplace) }

func (h *ProductHandler) Patch(c *gin.Context) { h.update(c, dto.ModePatch) }

func (h *ProductHandler) update(c *gin.Context, mode dto.Mode) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, err)
		return
	}
	in, err := dto.DecodeProduct(body, mode)
	if err != nil {
		respondError(c, err)
		return
	}

	p, err := h.productService.Update(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toProductResponse(baseURL(c), p))
}

func (h *ProductHandler) Delete(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.productService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
